// Package server is the HTTP surface of the gateway: the unauthenticated
// agent card plus the authenticated JSON-RPC task endpoint.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/agentgate/internal/a2a"
	"github.com/nextlevelbuilder/agentgate/internal/auth"
	"github.com/nextlevelbuilder/agentgate/internal/config"
	"github.com/nextlevelbuilder/agentgate/internal/executor"
	"github.com/nextlevelbuilder/agentgate/internal/session"
	"github.com/nextlevelbuilder/agentgate/internal/task"
)

// Server wires the auth gate, the executor, the task store and the session
// registry behind one http.Handler. It holds no global state; everything is
// injected.
type Server struct {
	cfg      *config.Config
	card     a2a.AgentCard
	gate     *auth.Middleware
	exec     *executor.Executor
	store    task.Store
	sessions *session.Registry
	limiter  *RateLimiter
}

// New creates the server.
func New(cfg *config.Config, gate *auth.Middleware, exec *executor.Executor, store task.Store, sessions *session.Registry) *Server {
	return &Server{
		cfg:      cfg,
		card:     BuildCard(cfg),
		gate:     gate,
		exec:     exec,
		store:    store,
		sessions: sessions,
		limiter:  NewRateLimiter(cfg.RateLimitRPM, cfg.RateLimitBurst),
	}
}

// Card returns the card the server advertises.
func (s *Server) Card() a2a.AgentCard { return s.card }

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(a2a.AgentCardPath, s.handleCard)
	mux.HandleFunc("/", s.handleRPC)
	return s.gate.Wrap(mux)
}

// ListenAndServe runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("gateway listening", "addr", srv.Addr, "auth", string(s.gate.Mode()))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("gateway stopped")
	return nil
}
