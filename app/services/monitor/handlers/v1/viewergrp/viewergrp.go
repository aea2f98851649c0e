// Package viewergrp maintains the group of handlers for viewing what the
// monitor has seen.
package viewergrp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ardanlabs/minernet/business/web/errs"
	"github.com/ardanlabs/minernet/foundation/blockchain/monitor"
	"github.com/ardanlabs/minernet/foundation/events"
	"github.com/ardanlabs/minernet/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handlers manages the set of viewer endpoints.
type Handlers struct {
	Log     *zap.SugaredLogger
	Monitor *monitor.Monitor
	WS      websocket.Upgrader
	Evts    *events.Events
}

// Blocks returns the blocks recently recorded by the monitor, or a single
// one by id.
func (h Handlers) Blocks(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	entries := h.Monitor.Recent()

	idStr := web.Param(r, "id")
	if idStr == "" {
		return web.Respond(ctx, w, entries, http.StatusOK)
	}

	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil {
		return errs.NewTrusted(errors.New("invalid block id"), http.StatusBadRequest)
	}

	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].ID == uint32(id) {
			return web.Respond(ctx, w, entries[i], http.StatusOK)
		}
	}

	return errs.NewTrusted(errors.New("block not found"), http.StatusNotFound)
}

// Network returns the current membership of the network.
func (h Handlers) Network(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	ro, err := h.Monitor.Roster()
	if err != nil {
		return err
	}

	type participant struct {
		Index int    `json:"index"`
		PID   int    `json:"pid"`
		Vote  string `json:"vote"`
	}

	resp := struct {
		Total        int           `json:"total"`
		LastWinner   int           `json:"last_winner"`
		Monitor      int           `json:"monitor"`
		Participants []participant `json:"participants"`
	}{
		Total:      ro.Total,
		LastWinner: ro.LastWinner,
		Monitor:    ro.Monitor,
	}

	for i, pid := range ro.Pids {
		if pid != 0 {
			resp.Participants = append(resp.Participants, participant{Index: i, PID: pid, Vote: ro.Ballots[i].String()})
		}
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case e, wd := <-ch:
			if !wd {
				return nil
			}

			data, err := json.Marshal(e)
			if err != nil {
				return err
			}

			if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
				return err
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}
