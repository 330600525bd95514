package reconcile

import (
	"log/slog"
	"time"

	"github.com/xraph/beacon"
	"github.com/xraph/beacon/backoff"
)

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// WithJob pins the reconciler to one job instead of following the
// server's active job.
func WithJob(jobID string) Option {
	return func(r *Reconciler) { r.jobID = jobID }
}

// WithPollInterval sets the fallback polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// WithHeartbeatTimeout sets how long the stream may stay silent before
// it is treated as lost.
func WithHeartbeatTimeout(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.heartbeatTimeout = d
		}
	}
}

// WithFollowInterval sets how often the server's active job is checked
// when no job is pinned.
func WithFollowInterval(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.followInterval = d
		}
	}
}

// WithCatchUpLimit sets the page size of catch-up pulls.
func WithCatchUpLimit(n int) Option {
	return func(r *Reconciler) { r.catchUpLimit = n }
}

// WithSeenCache sizes the seen-cache bridging push and poll. ttl is
// measured in event time and should cover the store's retention.
func WithSeenCache(capacity int, ttl time.Duration) Option {
	return func(r *Reconciler) {
		r.seenCapacity = capacity
		if ttl > 0 {
			r.seenTTL = ttl
		}
	}
}

// WithBackoff sets the push reconnect strategy and the number of failed
// attempts before StateOffline.
func WithBackoff(s backoff.Strategy, maxAttempts int) Option {
	return func(r *Reconciler) {
		r.backoff = s
		if maxAttempts > 0 {
			r.maxAttempts = maxAttempts
		}
	}
}

// WithFingerprintBucket sets the time bucket folded into fingerprints.
func WithFingerprintBucket(d time.Duration) Option {
	return func(r *Reconciler) { r.bucket = d }
}

// WithClock overrides the time source for poll bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// OptionsFromConfig maps configuration onto reconciler options.
func OptionsFromConfig(cfg beacon.Config) []Option {
	return []Option{
		WithPollInterval(cfg.Client.PollInterval),
		WithHeartbeatTimeout(cfg.Client.HeartbeatTimeout),
		WithCatchUpLimit(cfg.Client.CatchUpLimit),
		WithSeenCache(cfg.Client.SeenCapacity, max(cfg.Client.SeenTTL, cfg.Retention.TTL)),
		WithFingerprintBucket(cfg.Relay.FingerprintBucket),
		WithBackoff(
			backoff.NewExponentialWithJitter(cfg.Reconnect.Initial, cfg.Reconnect.Max),
			cfg.Reconnect.MaxAttempts,
		),
	}
}
