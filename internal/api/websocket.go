package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/atlas-desktop/paramtrader/internal/progress"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wsWriteWait and wsPongWait mirror the teacher's websocket.go Client
// pump deadlines (10s write, 60s read with a 54s ping cadence), kept
// unchanged since a single job's event volume is far lower than the
// teacher's multi-channel order/position/trade firehose.
const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = 54 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWS implements GET /jobs/{id}/ws: a websocket alternative to the
// SSE stream for callers that already run a websocket client against
// this system (spec.md §6's "or equivalent" streaming transport).
// Grounded on the teacher's internal/api/websocket.go Hub/Client pump
// pair, narrowed from a multi-channel broadcast hub to a single
// per-job subscription against the same internal/progress.Hub the SSE
// handler reads from — one event source, two transports.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	idStr := mux.Vars(r)["id"]
	job, err := s.store.Get(r.Context(), jobIDOrZero(idStr))
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("api: websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	// Drain and discard anything the client sends; this endpoint is
	// server-push only, but the read loop must keep running for pong
	// handling and disconnect detection.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	}()

	if job.Status.Terminal() {
		writeWSEvent(conn, progress.EventComplete, map[string]any{"job_id": idStr, "status": job.Status})
		return
	}

	events, unsubscribe := s.hub.Subscribe(idStr)
	defer unsubscribe()

	ticker := time.NewTicker(wsPingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeWSEvent(conn, ev.Type, ev); err != nil {
				return
			}
			if ev.Type == progress.EventComplete || ev.Type == progress.EventError {
				return
			}
		}
	}
}

func writeWSEvent(conn *websocket.Conn, eventType progress.EventType, payload any) error {
	body, err := json.Marshal(struct {
		Type progress.EventType `json:"type"`
		Data any                `json:"data"`
	}{Type: eventType, Data: payload})
	if err != nil {
		return nil
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteMessage(websocket.TextMessage, body)
}

// jobIDOrZero parses a route-path job id, returning 0 on malformed
// input so the store lookup fails with a clean not-found rather than
// the handler needing a second error path before the upgrade.
func jobIDOrZero(idStr string) int64 {
	id, err := parseJobID(idStr)
	if err != nil {
		return 0
	}
	return id
}
