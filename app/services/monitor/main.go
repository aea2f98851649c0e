package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/ardanlabs/minernet/app/services/monitor/handlers"
	"github.com/ardanlabs/minernet/foundation/blockchain/genesis"
	"github.com/ardanlabs/minernet/foundation/blockchain/monitor"
	"github.com/ardanlabs/minernet/foundation/events"
	"github.com/ardanlabs/minernet/foundation/ipc"
	"github.com/ardanlabs/minernet/foundation/ipc/posix"
	"github.com/ardanlabs/minernet/foundation/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {
	inbox, stop := posix.Notify(16)
	defer stop()

	// Construct the application logger.
	log, err := logger.New("MONITOR")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log, inbox); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		stop()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger, inbox <-chan ipc.Signal) error {

	// =========================================================================
	// Configuration

	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:10s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			DebugHost       string        `conf:"default:0.0.0.0:7080"`
			APIHost         string        `conf:"default:0.0.0.0:8080"`
		}
		Monitor struct {
			Dir         string `conf:"default:/dev/shm/minernet"`
			GenesisFile string `conf:"default:zblock/genesis.json"`
			LedgerFile  string `conf:"default:zblock/ledger.jsonl"`
			MaxSizeMB   int    `conf:"default:10"`
			MaxBackups  int    `conf:"default:3"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "monitor for the miners of the network",
		},
	}

	const prefix = "MONITOR"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	traceID := uuid.New().String()

	log.Infow("starting service", "version", build, "traceid", traceID)
	defer log.Infow("shutdown complete", "traceid", traceID)

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out, "traceid", traceID)

	// =========================================================================
	// Monitor Support

	gen, err := genesis.Load(cfg.Monitor.GenesisFile)
	if err != nil {
		return fmt.Errorf("loading genesis: %w", err)
	}

	ns, err := posix.New(cfg.Monitor.Dir)
	if err != nil {
		return err
	}

	evts := events.New()
	ev := func(v string, args ...any) {
		log.Infow(fmt.Sprintf(v, args...), "traceid", traceID)
	}

	mon, err := monitor.New(monitor.Config{
		Namespace: ns,
		Signaler:  posix.Signaler{},
		PID:       os.Getpid(),
		Genesis:   gen,
		Ledger:    monitor.NewFileLedger(cfg.Monitor.LedgerFile, cfg.Monitor.MaxSizeMB, cfg.Monitor.MaxBackups),
		Events:    evts,
		EvHandler: ev,
	})
	if err != nil {
		return err
	}
	defer mon.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitorErrors := make(chan error, 1)
	go func() {
		monitorErrors <- mon.Run(ctx)
	}()

	// =========================================================================
	// Start Debug Service

	go func() {
		log.Infow("startup", "status", "debug router started", "host", cfg.Web.DebugHost)
		if err := http.ListenAndServe(cfg.Web.DebugHost, handlers.DebugMux()); err != nil {
			log.Errorw("shutdown", "status", "debug router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Start API Service

	shutdown := make(chan os.Signal, 1)
	serverErrors := make(chan error, 1)

	api := http.Server{
		Addr: cfg.Web.APIHost,
		Handler: handlers.APIMux(handlers.MuxConfig{
			Shutdown: shutdown,
			Log:      log,
			Monitor:  mon,
			Evts:     evts,
		}),
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	go func() {
		log.Infow("startup", "status", "api router started", "host", api.Addr)
		serverErrors <- api.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	for {
		select {
		case err := <-serverErrors:
			return fmt.Errorf("server error: %w", err)

		case err := <-monitorErrors:
			return fmt.Errorf("monitor error: %w", err)

		case sig := <-shutdown:
			log.Infow("shutdown", "status", "integrity shutdown", "signal", sig)
			return stopAPI(log, &api, evts, cfg.Web.ShutdownTimeout)

		case sig := <-inbox:
			if sig != ipc.Abandon {
				continue
			}
			log.Infow("shutdown", "status", "shutdown started", "signal", sig)
			cancel()
			return stopAPI(log, &api, evts, cfg.Web.ShutdownTimeout)
		}
	}
}

func stopAPI(log *zap.SugaredLogger, api *http.Server, evts *events.Events, timeout time.Duration) error {

	// Release any web sockets that are currently active.
	log.Infow("shutdown", "status", "shutdown web socket channels")
	evts.Shutdown()

	// Give outstanding requests a deadline for completion.
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := api.Shutdown(ctx); err != nil {
		api.Close()
		return fmt.Errorf("could not stop api service gracefully: %w", err)
	}

	return nil
}
