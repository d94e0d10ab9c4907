// Package httpapi exposes the user service over HTTP and a websocket
// event stream.
package httpapi

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/userforge/userhub/internal/bus"
	"github.com/userforge/userhub/internal/service"
)

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to the Pinger interface.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Server routes the HTTP API.
type Server struct {
	svc     *service.UserService
	bus     bus.Bus
	pingers []Pinger
	log     *zap.Logger
	handler http.Handler
}

// NewServer builds the API server. reg may be nil to skip the /metrics
// endpoint; pingers back the /health check.
func NewServer(svc *service.UserService, b bus.Bus, log *zap.Logger, reg *prometheus.Registry, pingers ...Pinger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{svc: svc, bus: b, pingers: pingers, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/users", s.handleCreate)
	mux.HandleFunc("GET /api/v1/users", s.handleList)
	mux.HandleFunc("GET /api/v1/users/batch", s.handleBatch)
	mux.HandleFunc("GET /api/v1/users/{id}", s.handleGet)
	mux.HandleFunc("PATCH /api/v1/users/{id}", s.handleUpdate)
	mux.HandleFunc("DELETE /api/v1/users/{id}", s.handleDelete)
	mux.HandleFunc("PUT /api/v1/users/{id}/activate", s.setActive(true))
	mux.HandleFunc("PUT /api/v1/users/{id}/deactivate", s.setActive(false))
	mux.HandleFunc("GET /api/v1/users/{id}/exists", s.handleExists)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	mux.HandleFunc("GET /health", s.handleHealth)
	if reg != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	s.handler = s.instrument(mux)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
