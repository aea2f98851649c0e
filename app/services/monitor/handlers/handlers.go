// Package handlers manages the different versions of the API.
package handlers

import (
	"context"
	"expvar"
	"net/http"
	"net/http/pprof"
	"os"

	"github.com/ardanlabs/minernet/app/services/monitor/handlers/v1/viewergrp"
	"github.com/ardanlabs/minernet/business/web/mid"
	"github.com/ardanlabs/minernet/foundation/blockchain/monitor"
	"github.com/ardanlabs/minernet/foundation/events"
	"github.com/ardanlabs/minernet/foundation/web"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const version = "v1"

// MuxConfig contains all the mandatory systems required by handlers.
type MuxConfig struct {
	Shutdown chan os.Signal
	Log      *zap.SugaredLogger
	Monitor  *monitor.Monitor
	Evts     *events.Events
}

// APIMux constructs a http.Handler with all application routes defined.
func APIMux(cfg MuxConfig) http.Handler {

	// Construct the web.App which holds all routes as well as common Middleware.
	app := web.NewApp(
		cfg.Shutdown,
		mid.Logger(cfg.Log),
		mid.Errors(cfg.Log),
		mid.Cors("*"),
		mid.Panics(),
	)

	// Accept CORS 'OPTIONS' preflight requests.
	h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		return nil
	}
	app.Handle(http.MethodOptions, "", "/*", h, mid.Cors("*"))

	vgh := viewergrp.Handlers{
		Log:     cfg.Log,
		Monitor: cfg.Monitor,
		WS:      websocket.Upgrader{},
		Evts:    cfg.Evts,
	}

	app.Handle(http.MethodGet, version, "/blocks/list", vgh.Blocks)
	app.Handle(http.MethodGet, version, "/blocks/list/:id", vgh.Blocks)
	app.Handle(http.MethodGet, version, "/network", vgh.Network)
	app.Handle(http.MethodGet, version, "/events", vgh.Events)

	// Register the page that follows the event stream.
	app.Handle(http.MethodGet, "", "/", indexHandler)

	return app
}

// DebugMux registers the standard library debug endpoints and the metrics
// endpoint into a new mux bypassing the use of the DefaultServerMux.
func DebugMux() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/debug/vars", expvar.Handler())
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}
