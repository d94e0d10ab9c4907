package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/userforge/userhub/internal/metrics"
	"github.com/userforge/userhub/internal/service"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleEvents streams user-change events over WebSocket.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		s.respondErr(w, http.StatusNotImplemented, "event bus not configured")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	ch, err := s.bus.Subscribe(ctx, service.EventsTopic)
	if err != nil {
		return
	}
	defer func() { _ = s.bus.Unsubscribe(context.Background(), service.EventsTopic, ch) }()

	metrics.EventClientsGauge.Inc()
	defer metrics.EventClientsGauge.Dec()

	// drain the read side so client close frames are noticed
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
