package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	eventsWriteWait = 10 * time.Second
	eventsPongWait  = 60 * time.Second
	eventsPingEvery = (eventsPongWait * 9) / 10

	// eventsBuffer is the per-connection bus subscription size. A
	// client that falls this far behind misses events.
	eventsBuffer = 64
)

var eventsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// handleEvents streams bus events to a WebSocket client as JSON text
// frames. The stream is one-way; inbound messages are read only to
// process control frames and detect disconnects. An optional
// ?source=trace,mcp query limits the stream to those sources.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "event stream not configured")
		return
	}

	// Subscribe before upgrading so no event published after the
	// handshake completes is missed.
	sources := eventSources(r.URL.Query().Get("source"))
	sub := s.bus.Subscribe(eventsBuffer, sources...)
	defer func() {
		if missed := s.bus.Unsubscribe(sub); missed > 0 {
			s.logger.Warn("event stream client missed events", "remote_addr", r.RemoteAddr, "missed", missed)
		}
	}()

	conn, err := eventsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	s.logger.Info("event stream client connected", "remote_addr", r.RemoteAddr, "sources", sources)
	defer s.logger.Info("event stream client disconnected", "remote_addr", r.RemoteAddr)

	if err := conn.SetReadDeadline(time.Now().Add(eventsPongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(eventsPongWait))
	})

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(eventsPingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-readerDone:
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			if err := conn.SetWriteDeadline(time.Now().Add(eventsWriteWait)); err != nil {
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				s.logger.Debug("failed to write event", "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(eventsWriteWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// eventSources splits a comma-separated source filter, dropping blanks.
func eventSources(raw string) []string {
	var out []string
	for part := range strings.SplitSeq(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
