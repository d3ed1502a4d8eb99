package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// DefaultAddr is the default scrape listen address.
const DefaultAddr = ":9090"

// Server serves /metrics in Prometheus exposition format and /health as a
// liveness probe.
type Server struct {
	registry *Registry
	server   *http.Server
	started  time.Time
}

// NewServer creates a scrape server on addr (":9090" when empty).
func NewServer(registry *Registry, addr string) *Server {
	if addr == "" {
		addr = DefaultAddr
	}

	s := &Server{
		registry: registry,
		started:  time.Now(),
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", registry.Handler())
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the full mux for testing.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// ListenAndServe blocks serving scrapes until Shutdown or failure.
// http.ErrServerClosed is swallowed as a clean exit.
func (s *Server) ListenAndServe() error {
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight scrapes and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}
