// Package api exposes the HTTP surface of the interview server.
//
// The versioned endpoints under /v1 cover the interview flow lifecycle
// (create, advance, inspect, delete), standalone answer analysis, and live
// voice call control. Operational endpoints (/healthz, /readyz, /metrics)
// sit outside the version prefix.
package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxprep/voxprep/internal/call"
	"github.com/voxprep/voxprep/internal/flow"
	"github.com/voxprep/voxprep/internal/health"
	"github.com/voxprep/voxprep/internal/observe"
)

// Server holds the handler dependencies. Construct with [New]; the zero value
// is not usable.
type Server struct {
	orch    *flow.Orchestrator
	calls   *call.Manager
	health  *health.Handler
	metrics *observe.Metrics
}

// Option customises a [Server].
type Option func(*Server)

// WithCallManager enables the /v1/calls endpoints. Without one they answer
// 503, which is the shape a deployment without a voice relay runs in.
func WithCallManager(m *call.Manager) Option {
	return func(s *Server) { s.calls = m }
}

// WithHealth mounts the handler's health endpoints on the server mux.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics wraps the mux with request telemetry and serves /metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates a Server that drives interviews through orch.
func New(orch *flow.Orchestrator, opts ...Option) *Server {
	s := &Server{orch: orch}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Routes builds the full request handler, including operational endpoints
// and telemetry middleware.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/flows", s.createFlow)
	mux.HandleFunc("GET /v1/flows/{sessionID}", s.getFlow)
	mux.HandleFunc("POST /v1/flows/{sessionID}/next", s.nextQuestion)
	mux.HandleFunc("DELETE /v1/flows/{sessionID}", s.deleteFlow)
	mux.HandleFunc("POST /v1/analyze", s.analyze)
	mux.HandleFunc("POST /v1/calls/{sessionID}", s.startCall)
	mux.HandleFunc("DELETE /v1/calls/{sessionID}", s.stopCall)

	if s.health != nil {
		s.health.Register(mux)
	}
	mux.Handle("GET /metrics", promhttp.Handler())

	var handler http.Handler = mux
	if s.metrics != nil {
		handler = observe.Middleware(s.metrics)(handler)
	}
	return handler
}
