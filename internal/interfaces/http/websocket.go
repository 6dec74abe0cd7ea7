package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/persistence"
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1")
	},
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// WatchSession streams status events for one session over a websocket. The
// current status is sent first so late subscribers see the full picture; the
// stream closes after a terminal event.
func (h *Handlers) WatchSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	current, err := h.repos.Sessions.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to read session")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("session_id", id).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	events := h.hub.Subscribe(id)
	defer h.hub.Unsubscribe(id, events)

	first := session.StatusEvent{
		SessionID: current.ID,
		Status:    current.Status,
		Message:   current.ProcessingErrorMessage,
		At:        current.UpdatedAt,
	}
	if err := writeEvent(conn, first); err != nil {
		return
	}
	if current.Terminal() {
		return
	}

	// Reader goroutine: surfaces client disconnects, discards client frames.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pings := time.NewTicker(wsPingInterval)
	defer pings.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-pings.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(conn, ev); err != nil {
				return
			}
			if ev.Status == persistence.StatusCompleted || ev.Status == persistence.StatusFailed {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session terminal"))
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, ev session.StatusEvent) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(ev)
}
