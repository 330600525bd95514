// Package recorder is the writer-side entry point of the pipeline. A job
// worker hands each event to a Recorder, which appends it to the event
// store with a bounded retry and then publishes it on the bus. Failures
// are logged and counted; they never reach the worker.
package recorder

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/beacon/backoff"
	"github.com/xraph/beacon/bus"
	"github.com/xraph/beacon/event"
)

// meterName is the instrumentation scope name for recorder metrics.
const meterName = "github.com/xraph/beacon/recorder"

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the diagnostics logger. Records it emits carry the
// internal marker, so routing it through a Handler is safe.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// WithWriteTimeout bounds each store append and bus publish.
func WithWriteTimeout(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.writeTimeout = d
		}
	}
}

// WithRetries sets how many extra append attempts are made before an
// event is dropped.
func WithRetries(n int) Option {
	return func(r *Recorder) {
		if n >= 0 {
			r.retries = n
		}
	}
}

// WithBackoff sets the delay strategy between append attempts.
func WithBackoff(s backoff.Strategy) Option {
	return func(r *Recorder) { r.backoff = s }
}

// WithMeter records counters on the given meter instead of the global
// MeterProvider.
func WithMeter(m metric.Meter) Option {
	return func(r *Recorder) { r.meter = m }
}

// Recorder writes events to the store and the bus.
type Recorder struct {
	store        event.Store
	bus          bus.Bus
	logger       *slog.Logger
	writeTimeout time.Duration
	retries      int
	backoff      backoff.Strategy
	meter        metric.Meter

	outcomes metric.Int64Counter

	recorded      atomic.Int64
	malformed     atomic.Int64
	stored        atomic.Int64
	dropped       atomic.Int64
	published     atomic.Int64
	publishFailed atomic.Int64
}

// New creates a Recorder. Either store or bus may be nil, in which case
// that leg is skipped.
func New(st event.Store, b bus.Bus, opts ...Option) *Recorder {
	r := &Recorder{
		store:        st,
		bus:          b,
		logger:       slog.Default(),
		writeTimeout: 2 * time.Second,
		retries:      2,
		backoff:      backoff.NewExponentialWithJitter(50*time.Millisecond, time.Second),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.meter == nil {
		r.meter = otel.Meter(meterName)
	}
	r.outcomes, _ = r.meter.Int64Counter( //nolint:errcheck // noop fallback guaranteed by OTel API contract
		"beacon.recorder.events",
		metric.WithDescription("Events handled by the recorder, by outcome"),
		metric.WithUnit("{event}"),
	)
	return r
}

// Record stores and publishes evt. It blocks for at most the configured
// retry budget and never fails: errors are logged and counted.
// Cancellation of ctx does not abort the write, so a worker's final
// status update survives its context ending.
func (r *Recorder) Record(ctx context.Context, evt event.Event) {
	ctx = Internal(context.WithoutCancel(ctx))
	r.recorded.Add(1)

	if err := evt.Validate(); err != nil {
		r.malformed.Add(1)
		r.count(ctx, "malformed")
		r.logger.WarnContext(ctx, "recorder: dropping malformed event",
			"job_id", evt.JobID,
			"error", err,
		)
		return
	}

	if r.store != nil {
		r.append(ctx, evt)
	}
	if r.bus != nil {
		r.publish(ctx, evt)
	}
}

func (r *Recorder) append(ctx context.Context, evt event.Event) {
	var err error
	for attempt := 0; attempt <= r.retries; attempt++ {
		if attempt > 0 {
			backoff.Sleep(ctx, r.backoff.Delay(attempt))
		}
		wctx, cancel := context.WithTimeout(ctx, r.writeTimeout)
		err = r.store.AppendEvent(wctx, evt)
		cancel()
		if err == nil {
			r.stored.Add(1)
			r.count(ctx, "stored")
			return
		}
		r.logger.DebugContext(ctx, "recorder: append failed",
			"job_id", evt.JobID,
			"attempt", attempt+1,
			"error", err,
		)
	}

	r.dropped.Add(1)
	r.count(ctx, "dropped")
	r.logger.WarnContext(ctx, "recorder: dropping event after retries",
		"job_id", evt.JobID,
		"kind", string(evt.Kind()),
		"attempts", r.retries+1,
		"error", err,
	)
}

func (r *Recorder) publish(ctx context.Context, evt event.Event) {
	raw, err := event.Encode(evt)
	if err == nil {
		pctx, cancel := context.WithTimeout(ctx, r.writeTimeout)
		err = r.bus.Publish(pctx, evt.Channel(), raw)
		cancel()
	}
	if err != nil {
		r.publishFailed.Add(1)
		r.count(ctx, "publish_failed")
		r.logger.WarnContext(ctx, "recorder: publish failed",
			"job_id", evt.JobID,
			"channel", string(evt.Channel()),
			"error", err,
		)
		return
	}
	r.published.Add(1)
	r.count(ctx, "published")
}

func (r *Recorder) count(ctx context.Context, outcome string) {
	r.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// Stats is a snapshot of recorder counters.
type Stats struct {
	Recorded      int64 `json:"recorded"`
	Malformed     int64 `json:"malformed"`
	Stored        int64 `json:"stored"`
	Dropped       int64 `json:"dropped"`
	Published     int64 `json:"published"`
	PublishFailed int64 `json:"publish_failed"`
}

// Stats returns the current counters.
func (r *Recorder) Stats() Stats {
	return Stats{
		Recorded:      r.recorded.Load(),
		Malformed:     r.malformed.Load(),
		Stored:        r.stored.Load(),
		Dropped:       r.dropped.Load(),
		Published:     r.published.Load(),
		PublishFailed: r.publishFailed.Load(),
	}
}

// ── Context markers ─────────────────────────────────

type internalKey struct{}

type jobKey struct{}

// Internal marks ctx as belonging to the pipeline itself. Log records
// carrying the mark are never turned into events.
func Internal(ctx context.Context) context.Context {
	return context.WithValue(ctx, internalKey{}, true)
}

// IsInternal reports whether ctx carries the pipeline marker.
func IsInternal(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	v, _ := ctx.Value(internalKey{}).(bool) //nolint:errcheck // absent key yields false
	return v
}

// WithJob attaches the job a worker is executing, for Handler.
func WithJob(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobKey{}, jobID)
}

// JobFromContext returns the job attached by WithJob.
func JobFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(jobKey{}).(string)
	return id, ok && id != ""
}
