// Package relay moves envelopes from the bus to client sessions.
//
// One consumer goroutine per channel reads raw envelopes in order and
// runs each through the pipeline: parse and validate, per-channel rate
// limit, soft dedup by fingerprint, then batching by size or delay,
// whichever comes first. Each flushed batch is routed to every session
// whose job filter matches. Order is preserved within a channel only.
//
// When a bus subscription drops the relay reports StateDegraded to
// sessions and retries with capped exponential backoff. Messages
// published during the outage are not replayed; clients recover them
// from the event store.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/beacon"
	"github.com/xraph/beacon/backoff"
	"github.com/xraph/beacon/bus"
	"github.com/xraph/beacon/event"
	"github.com/xraph/beacon/id"
	"github.com/xraph/beacon/wire"
)

// State is the relay's connection state as seen by clients.
type State string

const (
	StateLive     State = wire.StateLive
	StateDegraded State = wire.StateDegraded
)

// Defaults applied when no option overrides them.
const (
	DefaultBatchSize     = 50
	DefaultBatchDelay    = 50 * time.Millisecond
	DefaultDedupWindow   = 500 * time.Millisecond
	DefaultSessionBuffer = 64
)

// Relay fans envelopes out from the bus to sessions.
type Relay struct {
	bus      bus.Bus
	logger   *slog.Logger
	channels []event.Channel

	batchSize     int
	batchDelay    time.Duration
	bucket        time.Duration
	sessionBuffer int
	backoff       backoff.Strategy
	now           func() time.Time

	limiter *Limiter
	dedup   *event.Deduper
	hub     *hub
	metrics *metrics
	meter   metric.Meter

	dedupWindow   time.Duration
	dedupCapacity int
	rateLimit     float64
	rateBurst     int

	stateMu sync.Mutex
	down    map[event.Channel]bool
	state   atomic.Value // State

	received   atomic.Int64
	malformed  atomic.Int64
	throttled  atomic.Int64
	duplicates atomic.Int64
	forwarded  atomic.Int64
	batches    atomic.Int64
	dropped    atomic.Int64
	reconnects atomic.Int64
}

// New creates a Relay reading from b.
func New(b bus.Bus, opts ...Option) *Relay {
	r := &Relay{
		bus:           b,
		logger:        slog.Default(),
		channels:      event.Channels(),
		batchSize:     DefaultBatchSize,
		batchDelay:    DefaultBatchDelay,
		bucket:        event.DefaultBucket,
		sessionBuffer: DefaultSessionBuffer,
		backoff:       backoff.DefaultStrategy(),
		now:           time.Now,
		dedupWindow:   DefaultDedupWindow,
		rateLimit:     200,
		rateBurst:     400,
		hub:           newHub(),
		down:          make(map[event.Channel]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.limiter = NewLimiter(r.rateLimit, r.rateBurst)
	r.dedup = event.NewDeduper(r.dedupWindow, r.dedupCapacity)
	r.metrics = newMetrics(r.meter)
	r.state.Store(StateLive)
	return r
}

// Limiter exposes the per-channel rate limiter for reconfiguration.
func (r *Relay) Limiter() *Limiter { return r.limiter }

// State returns the current connection state.
func (r *Relay) State() State {
	return r.state.Load().(State) //nolint:errcheck // always stores State
}

// ──────────────────────────────────────────────────
// Sessions
// ──────────────────────────────────────────────────

// Attach creates a session following jobID ("" follows every job). The
// session's first frame announces the current state.
func (r *Relay) Attach(jobID string) *Session {
	s := newSession(jobID, r.sessionBuffer)
	s.enqueue(wire.NewStateFrame(string(r.State())))
	r.hub.add(s)
	r.logger.Debug("relay: session attached",
		"session_id", s.ID(),
		"job_id", jobID,
	)
	return s
}

// Detach removes a session and discards its queued frames.
func (r *Relay) Detach(s *Session) {
	r.hub.remove(s)
	r.logger.Debug("relay: session detached",
		"session_id", s.ID(),
		"delivered", s.delivered.Load(),
		"dropped", s.dropped.Load(),
	)
}

// Sessions returns per-session counters.
func (r *Relay) Sessions() []SessionStats {
	sessions := r.hub.snapshot()
	out := make([]SessionStats, len(sessions))
	for i, s := range sessions {
		out[i] = s.Stats()
	}
	return out
}

// ──────────────────────────────────────────────────
// Run loop
// ──────────────────────────────────────────────────

// Run consumes every channel until ctx is cancelled or the bus closes.
// Sessions are detached when Run returns.
func (r *Relay) Run(ctx context.Context) error {
	defer r.hub.closeAll()

	g, gctx := errgroup.WithContext(ctx)
	for _, ch := range r.channels {
		g.Go(func() error { return r.consume(gctx, ch) })
	}
	err := g.Wait()
	if errors.Is(err, beacon.ErrBusClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// consume keeps one subscription on ch alive, resubscribing with
// backoff after every drop.
func (r *Relay) consume(ctx context.Context, ch event.Channel) error {
	attempt := 0
	for {
		sub, err := r.bus.Subscribe(ctx, ch)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, beacon.ErrBusClosed) {
				return err
			}
			r.markDown(ch)
			attempt++
			delay := r.backoff.Delay(attempt)
			r.logger.Warn("relay: subscribe failed",
				"channel", string(ch),
				"attempt", attempt,
				"retry_in", delay,
				"error", err,
			)
			if !backoff.Sleep(ctx, delay) {
				return nil
			}
			continue
		}

		if attempt > 0 {
			r.reconnects.Add(1)
		}
		attempt = 0
		r.markUp(ch)

		r.pump(ctx, ch, sub)
		cause := sub.Err()
		_ = sub.Close()

		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(cause, beacon.ErrBusClosed) {
			return cause
		}
		r.markDown(ch)
		r.logger.Warn("relay: subscription lost",
			"channel", string(ch),
			"error", cause,
		)
	}
}

// pump reads sub until it ends, batching admitted envelopes. A pending
// batch is flushed before returning.
func (r *Relay) pump(ctx context.Context, ch event.Channel, sub bus.Subscription) {
	var (
		pending []event.Event
		timer   *time.Timer
		timerC  <-chan time.Time
	)
	flush := func() {
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
		if len(pending) == 0 {
			return
		}
		r.route(ch, pending)
		pending = nil
	}
	defer flush()

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-sub.Messages():
			if !ok {
				return
			}
			evt, ok := r.admit(ch, raw)
			if !ok {
				continue
			}
			pending = append(pending, evt)
			if len(pending) >= r.batchSize {
				flush()
				continue
			}
			if timer == nil {
				timer = time.NewTimer(r.batchDelay)
				timerC = timer.C
			}
		case <-timerC:
			timer, timerC = nil, nil
			flush()
		}
	}
}

// admit runs one raw envelope through validation, rate limiting and
// dedup.
func (r *Relay) admit(ch event.Channel, raw []byte) (event.Event, bool) {
	r.received.Add(1)
	r.metrics.add(r.metrics.received, ch, 1)

	evt, err := event.Decode(raw)
	if err == nil && evt.Channel() != ch {
		err = errWrongChannel
	}
	if err != nil {
		r.malformed.Add(1)
		r.metrics.add(r.metrics.malformed, ch, 1)
		r.logger.Warn("relay: dropping malformed envelope",
			"channel", string(ch),
			"error", err,
		)
		return event.Event{}, false
	}

	now := r.now()
	if !r.limiter.AllowAt(ch, now) {
		r.throttled.Add(1)
		r.metrics.add(r.metrics.throttled, ch, 1)
		return event.Event{}, false
	}

	if r.dedup.Seen(event.FingerprintOf(evt, r.bucket), now) {
		r.duplicates.Add(1)
		r.metrics.add(r.metrics.duplicates, ch, 1)
		return event.Event{}, false
	}
	return evt, true
}

var errWrongChannel = errors.New("relay: envelope kind does not belong to channel")

func (r *Relay) route(ch event.Channel, events []event.Event) {
	batchID := id.NewBatchID().String()
	_, dropped := r.hub.route(batchID, ch, events)

	r.batches.Add(1)
	r.forwarded.Add(int64(len(events)))
	r.dropped.Add(int64(dropped))
	r.metrics.add(r.metrics.batches, ch, 1)
	r.metrics.add(r.metrics.forwarded, ch, len(events))
	r.metrics.add(r.metrics.dropped, ch, dropped)
}

// ──────────────────────────────────────────────────
// State tracking
// ──────────────────────────────────────────────────

func (r *Relay) markDown(ch event.Channel) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	if r.down[ch] {
		return
	}
	r.down[ch] = true
	if len(r.down) == 1 {
		r.setStateLocked(StateDegraded)
	}
}

func (r *Relay) markUp(ch event.Channel) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	if !r.down[ch] {
		return
	}
	delete(r.down, ch)
	if len(r.down) == 0 {
		r.setStateLocked(StateLive)
	}
}

func (r *Relay) setStateLocked(s State) {
	r.state.Store(s)
	dropped := r.hub.broadcast(wire.NewStateFrame(string(s)))
	r.dropped.Add(int64(dropped))
	r.logger.Info("relay: state changed", "state", string(s))
}

// ──────────────────────────────────────────────────
// Stats
// ──────────────────────────────────────────────────

// Stats is a snapshot of relay counters.
type Stats struct {
	State      State `json:"state"`
	Sessions   int   `json:"sessions"`
	Received   int64 `json:"received"`
	Malformed  int64 `json:"malformed"`
	Throttled  int64 `json:"throttled"`
	Duplicates int64 `json:"duplicates"`
	Forwarded  int64 `json:"forwarded"`
	Batches    int64 `json:"batches"`
	Dropped    int64 `json:"dropped"`
	Reconnects int64 `json:"reconnects"`
}

// Stats returns the current counters.
func (r *Relay) Stats() Stats {
	return Stats{
		State:      r.State(),
		Sessions:   r.hub.count(),
		Received:   r.received.Load(),
		Malformed:  r.malformed.Load(),
		Throttled:  r.throttled.Load(),
		Duplicates: r.duplicates.Load(),
		Forwarded:  r.forwarded.Load(),
		Batches:    r.batches.Load(),
		Dropped:    r.dropped.Load(),
		Reconnects: r.reconnects.Load(),
	}
}
