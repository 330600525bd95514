// Package redis implements store.Store on Redis. Each job's event log is
// a capped List with key expiry, job records are Hashes, and the
// per-scope active pointer is a plain string key.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client, redisstore.WithMaxEvents(100))
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/beacon"
	"github.com/xraph/beacon/event"
	"github.com/xraph/beacon/job"
)

// Compile-time interface checks.
var (
	_ event.Store = (*Store)(nil)
	_ job.Store   = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMaxEvents sets N, the number of events retained per job.
func WithMaxEvents(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxEvents = n
		}
	}
}

// WithTTL sets the retention TTL for event logs and finished jobs.
func WithTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithFingerprintBucket sets the time bucket used to drop duplicates
// from query results.
func WithFingerprintBucket(d time.Duration) Option {
	return func(s *Store) { s.bucket = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store implements the composite store.Store interface backed by Redis.
type Store struct {
	client    redis.Cmdable
	logger    *slog.Logger
	maxEvents int
	ttl       time.Duration
	bucket    time.Duration
	now       func() time.Time
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:    client,
		logger:    slog.Default(),
		maxEvents: 100,
		ttl:       24 * time.Hour,
		bucket:    event.DefaultBucket,
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() redis.Cmdable { return s.client }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close is a no-op; the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }

// unavailable wraps a backend failure so callers can match
// beacon.ErrStoreUnavailable.
func unavailable(op string, err error) error {
	return fmt.Errorf("beacon/redis: %s: %w: %w", op, beacon.ErrStoreUnavailable, err)
}
