package relay

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/beacon"
	"github.com/xraph/beacon/backoff"
	"github.com/xraph/beacon/event"
)

// Option configures a Relay.
type Option func(*Relay)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) { r.logger = l }
}

// WithChannels restricts the relay to the given channels.
func WithChannels(chs ...event.Channel) Option {
	return func(r *Relay) { r.channels = chs }
}

// WithBatchSize flushes a batch once it holds n events.
func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithBatchDelay flushes a batch d after its first event.
func WithBatchDelay(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.batchDelay = d
		}
	}
}

// WithRateLimit sets the per-channel token bucket. A zero rate disables
// limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(r *Relay) {
		r.rateLimit = perSecond
		r.rateBurst = burst
	}
}

// WithDedupWindow sets how long a fingerprint suppresses repeats and how
// many fingerprints are remembered.
func WithDedupWindow(window time.Duration, capacity int) Option {
	return func(r *Relay) {
		r.dedupWindow = window
		r.dedupCapacity = capacity
	}
}

// WithFingerprintBucket sets the time bucket folded into fingerprints.
func WithFingerprintBucket(d time.Duration) Option {
	return func(r *Relay) { r.bucket = d }
}

// WithSessionBuffer sets the per-session frame queue size.
func WithSessionBuffer(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.sessionBuffer = n
		}
	}
}

// WithBackoff sets the resubscribe delay strategy.
func WithBackoff(s backoff.Strategy) Option {
	return func(r *Relay) { r.backoff = s }
}

// WithMeter records metrics on the given meter instead of the global
// MeterProvider.
func WithMeter(m metric.Meter) Option {
	return func(r *Relay) { r.meter = m }
}

// WithClock overrides the time source used by the limiter and dedup.
func WithClock(now func() time.Time) Option {
	return func(r *Relay) { r.now = now }
}

// OptionsFromConfig maps configuration onto relay options.
func OptionsFromConfig(cfg beacon.Config) []Option {
	rc, rec := cfg.Relay, cfg.Reconnect
	return []Option{
		WithBatchSize(rc.BatchSize),
		WithBatchDelay(rc.BatchDelay),
		WithRateLimit(rc.RateLimit, rc.RateBurst),
		WithDedupWindow(rc.DedupWindow, 0),
		WithFingerprintBucket(rc.FingerprintBucket),
		WithSessionBuffer(rc.SessionBuffer),
		WithBackoff(backoff.NewExponentialWithJitter(rec.Initial, rec.Max)),
	}
}
