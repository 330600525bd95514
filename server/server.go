// Package server exposes the catch-up query, job lookups and the push
// stream over HTTP.
//
// Routes:
//
//	GET /v1/events?job_id=&limit=        catch-up query (JSON array)
//	GET /v1/stream?job_id=&format=       WebSocket push stream
//	GET /v1/jobs/active                  active job of the scope
//	GET /v1/jobs/{jobID}                 job record
//	GET /v1/stats                        relay and session counters
//	GET /healthz                         store and relay health
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/beacon"
	"github.com/xraph/beacon/relay"
	"github.com/xraph/beacon/store"
)

// Defaults applied when no option overrides them.
const (
	DefaultHeartbeat    = 5 * time.Second
	DefaultWriteTimeout = 10 * time.Second
)

// Server serves the HTTP and WebSocket surface.
type Server struct {
	store  store.Store
	relay  *relay.Relay
	scope  string
	logger *slog.Logger
	tracer trace.Tracer

	heartbeat    time.Duration
	writeTimeout time.Duration
	catchUpLimit int

	streams atomic.Int64
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

// WithTracer sets the tracer for request spans. The global provider's
// tracer is used otherwise.
func WithTracer(t trace.Tracer) Option { return func(s *Server) { s.tracer = t } }

// WithScope sets the distribution scope whose active job is served.
func WithScope(scope string) Option { return func(s *Server) { s.scope = scope } }

// WithHeartbeat sets the interval between heartbeat frames.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.heartbeat = d
		}
	}
}

// WithWriteTimeout bounds a single frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// WithCatchUpLimit sets the default limit for catch-up queries.
func WithCatchUpLimit(n int) Option { return func(s *Server) { s.catchUpLimit = n } }

// New creates a Server.
func New(st store.Store, r *relay.Relay, opts ...Option) *Server {
	s := &Server{
		store:        st,
		relay:        r,
		scope:        beacon.DefaultScope,
		logger:       slog.Default(),
		tracer:       otel.Tracer(tracerName),
		heartbeat:    DefaultHeartbeat,
		writeTimeout: DefaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the assembled router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(Recover(s.logger), Tracing(s.tracer), Logging(s.logger))

	r.Get("/healthz", s.health)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/events", s.listEvents)
		r.Get("/stream", s.stream)
		r.Get("/jobs/active", s.activeJob)
		r.Get("/jobs/{jobID}", s.getJob)
		r.Get("/stats", s.stats)
	})
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// within shutdownTimeout. Open streams end when the relay stops.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("beacon/server: listen: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("beacon/server: shutdown: %w", err)
	}
	return nil
}
