// Package http provides the HTTP transport layer for epochsync-store.
//
// Routes (Go 1.22+ method-qualified patterns):
//
//	GET    /health
//	GET    /keys/{key}
//	PUT    /keys/{key}
//	DELETE /keys/{key}
//	GET    /keys/{key}/watch
//	GET    /metrics
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/snehjoshi/epochsync/internal/config"
	"github.com/snehjoshi/epochsync/internal/metrics"
	"github.com/snehjoshi/epochsync/internal/store"
	transportws "github.com/snehjoshi/epochsync/internal/transport/websocket"
)

// Backend is the store the server exposes. It must fan out changes to
// watchers, which store.Notifying does for any Store.
type Backend interface {
	store.Store
	store.Watcher
}

// Deps groups what the server needs besides its config.
type Deps struct {
	Store  Backend
	NodeID string
	// Keys reports how many records are stored. Optional.
	Keys    func() (int, error)
	Metrics *metrics.Registry // may be nil
}

// Server wraps the stdlib HTTP server with epochsync-store route wiring.
type Server struct {
	inner *http.Server
}

// New builds a Server.
// The caller is responsible for calling ListenAndServe / Shutdown.
func New(d Deps, cfg *config.Config) *Server {
	h := &Handler{store: d.Store, nodeID: d.NodeID, keys: d.Keys, metrics: d.Metrics}
	ws := &transportws.Handler{Watcher: d.Store, Metrics: d.Metrics}

	mux := http.NewServeMux()

	// Health
	mux.HandleFunc("GET /health", h.health)

	// Records
	mux.HandleFunc("GET /keys/{key}", h.getKey)
	mux.HandleFunc("PUT /keys/{key}", h.putKey)
	mux.HandleFunc("DELETE /keys/{key}", h.deleteKey)

	// WebSocket change feed
	mux.Handle("GET /keys/{key}/watch", ws)

	// Metrics (Prometheus text format)
	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics.Handler())
	}

	// Build middleware chain: cors → body limit → logging → metrics → auth → rate-limit
	var handler http.Handler = mux
	handler = chain(handler,
		CORSMiddleware,
		MaxBodyMiddleware,
		LoggingMiddleware,
		MetricsMiddleware(d.Metrics),
		AuthMiddleware(cfg.Auth.APIKey, cfg.Auth.Enabled),
		RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
	)

	return &Server{
		inner: &http.Server{
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Handler returns the composed http.Handler (useful for testing).
func (s *Server) Handler() http.Handler { return s.inner.Handler }

// ListenAndServe starts the server on the given address (e.g. ":8080").
// It returns when the server stops or encounters an error.
func (s *Server) ListenAndServe(addr string) error {
	s.inner.Addr = addr
	return s.inner.ListenAndServe()
}

// Shutdown gracefully stops the server, waiting up to ctx's deadline for
// in-flight requests to finish. Open watches are hijacked connections and
// are not waited for.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.inner.Shutdown(ctx)
}
