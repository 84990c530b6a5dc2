// Package api exposes the chat agent over HTTP.
//
// Endpoints:
//
//	POST /api/chat             synchronous turn, JSON response
//	POST /api/chat/stream      streaming turn, Server-Sent Events
//	GET  /api/threads          list threads
//	GET  /api/threads/{id}/messages
//	                           full thread history
//	POST /api/knowledge        ingest a knowledge-base document
//	GET  /health               liveness probe
//	GET  /ready                readiness probe (pings the database)
//
// File structure:
//   - server.go: server setup and lifecycle
//   - middleware.go: recovery and request logging
//   - ratelimit.go: per-IP token bucket limiting
//   - chat.go: chat endpoints and SSE relay
//   - threads.go: thread listing and history
//   - knowledge.go: knowledge-base ingestion
//   - health.go: probes
//   - response.go: JSON helpers
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koopa0/relay/internal/config"
	"github.com/koopa0/relay/internal/knowledge"
	"github.com/koopa0/relay/internal/log"
)

const (
	// ShutdownTimeout is the maximum wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout guards against Slowloris-style header dribbling.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout bounds reading an entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout bounds writing a response. Generous because one SSE turn
	// can span several model and tool calls.
	WriteTimeout = 5 * time.Minute

	// IdleTimeout bounds keep-alive idle connections.
	IdleTimeout = 120 * time.Second
)

// Server is the HTTP server for the chat API.
type Server struct {
	mux    *http.ServeMux
	cfg    config.ServerConfig
	logger log.Logger

	health    *HealthHandler
	chat      *ChatHandler
	threads   *ThreadHandler
	knowledge *KnowledgeHandler
}

// NewServer wires all handlers onto a mux. kb may be nil; ingestion then
// answers 503.
func NewServer(
	cfg config.ServerConfig,
	executor TurnExecutor,
	threadStore ThreadStore,
	kb *knowledge.Store,
	pool *pgxpool.Pool,
	logger log.Logger,
) *Server {
	if logger == nil {
		logger = log.NewNop()
	}
	mux := http.NewServeMux()

	s := &Server{
		mux:       mux,
		cfg:       cfg,
		logger:    logger,
		health:    NewHealthHandler(pool, logger),
		chat:      NewChatHandler(executor, logger),
		threads:   NewThreadHandler(threadStore, logger),
		knowledge: NewKnowledgeHandler(kb, logger),
	}

	s.health.RegisterRoutes(mux)
	s.chat.RegisterRoutes(mux)
	s.threads.RegisterRoutes(mux)
	s.knowledge.RegisterRoutes(mux)

	return s
}

// Handler returns the mux wrapped in middleware.
// Order: recovery -> logging -> rate limit -> handler.
func (s *Server) Handler() http.Handler {
	rl := newRateLimiter(s.cfg.RateLimit, s.cfg.RateBurst)
	return chain(s.mux,
		recoveryMiddleware(s.logger),
		loggingMiddleware(s.logger),
		rateLimitMiddleware(rl, s.cfg.TrustProxy, s.logger),
	)
}

// Run starts the server and blocks until ctx is cancelled or the listener
// fails, shutting down gracefully on cancellation.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
