// Package reconcile keeps one client's view of a job consistent across
// push and poll.
//
// On every connect the Reconciler pulls a catch-up page, then consumes
// the push stream. Every event passes through a seen-cache keyed by
// fingerprint before it is rendered, so events arriving through both
// paths render once. When the stream drops, goes silent past the
// heartbeat timeout, or the relay reports itself degraded, the
// Reconciler polls the catch-up query at a fixed interval while it
// retries push with exponential backoff. After the configured number of
// failed attempts it reports StateOffline, keeps polling, and retries
// push at the capped interval.
//
// Without a pinned job the Reconciler follows the server's active job:
// it re-resolves the target periodically and whenever the followed job
// reaches a terminal status, and reopens the stream when it changes.
//
// The seen-cache ages entries by event time rather than wall time, so a
// fingerprint is remembered as long as its event can still be returned
// by a catch-up query.
package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/beacon/backoff"
	"github.com/xraph/beacon/event"
	"github.com/xraph/beacon/wire"
)

// State is the client's connectivity as shown to the user.
type State string

const (
	// StateConnecting is the state before the first stream opens.
	StateConnecting State = "connecting"
	// StateLive means events arrive by push.
	StateLive State = "live"
	// StateDegraded means push is unavailable and events arrive by poll.
	StateDegraded State = "degraded"
	// StateOffline means push reconnection exhausted its attempts.
	StateOffline State = "offline"
)

// Mode is the transport an event was rendered through.
type Mode string

const (
	ModeCatchUp Mode = "catch_up"
	ModePush    Mode = "push"
	ModePoll    Mode = "poll"
)

// Reconciler drives one client's catch-up, push and poll fallback.
type Reconciler struct {
	src    Source
	jobID  string
	logger *slog.Logger
	now    func() time.Time

	pollInterval     time.Duration
	heartbeatTimeout time.Duration
	followInterval   time.Duration
	catchUpLimit     int
	bucket           time.Duration
	backoff          backoff.Strategy
	maxAttempts      int
	seenTTL          time.Duration
	seenCapacity     int

	seen      *event.Deduper
	view      *View
	observers *Registry

	stateMu sync.Mutex
	state   State

	lastPoll time.Time // owned by the Run goroutine

	rendered   atomic.Int64
	duplicates atomic.Int64
	polls      atomic.Int64
	pullErrors atomic.Int64
	reconnects atomic.Int64
}

// New creates a Reconciler reading from src.
func New(src Source, opts ...Option) *Reconciler {
	r := &Reconciler{
		src:              src,
		logger:           slog.Default(),
		now:              time.Now,
		pollInterval:     2 * time.Second,
		heartbeatTimeout: 15 * time.Second,
		followInterval:   time.Second,
		catchUpLimit:     100,
		bucket:           event.DefaultBucket,
		backoff:          backoff.NewExponentialWithJitter(500*time.Millisecond, 30*time.Second),
		maxAttempts:      8,
		seenTTL:          24 * time.Hour,
		seenCapacity:     4096,
		view:             NewView(),
		state:            StateConnecting,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.seen = event.NewDeduper(r.seenTTL, r.seenCapacity)
	r.observers = NewRegistry(r.logger)
	return r
}

// Observe registers an observer. Lower priorities are notified first.
func (r *Reconciler) Observe(o Observer, priority int) {
	r.observers.Register(o, priority)
}

// View returns the derived job state.
func (r *Reconciler) View() *View { return r.view }

// State returns the current connectivity state.
func (r *Reconciler) State() State {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.state
}

// Run reconciles until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	attempt := 0
	for {
		jobID := r.target(ctx)
		s, err := r.src.Stream(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			attempt++
			delay := r.backoff.Delay(attempt)
			r.logger.Warn("reconcile: stream unavailable",
				slog.Int("attempt", attempt),
				slog.Duration("retry_in", delay),
				slog.String("error", err.Error()),
			)
			if attempt >= r.maxAttempts {
				r.setState(ctx, StateOffline)
			} else {
				r.setState(ctx, StateDegraded)
			}
			if !r.pollFor(ctx, delay) {
				return nil
			}
			continue
		}

		if attempt > 0 {
			r.reconnects.Add(1)
		}
		attempt = 0

		r.pull(ctx, jobID, ModeCatchUp)
		reason, switched := r.consume(ctx, s, jobID)
		_ = s.Close()
		if ctx.Err() != nil {
			return nil
		}
		if switched {
			r.logger.Info("reconcile: following new active job", slog.String("previous", jobID))
			continue
		}

		r.logger.Warn("reconcile: push lost", slog.String("reason", reason))
		r.setState(ctx, StateDegraded)
		attempt = 1
		if !r.pollFor(ctx, r.backoff.Delay(attempt)) {
			return nil
		}
	}
}

// consume renders pushed frames until the stream ends, goes silent, or
// the followed active job changes; switched reports the last case.
// Polling runs alongside while the relay reports itself degraded.
func (r *Reconciler) consume(ctx context.Context, s Stream, jobID string) (reason string, switched bool) {
	hb := time.NewTimer(r.heartbeatTimeout)
	defer hb.Stop()

	var followC <-chan time.Time
	if r.jobID == "" {
		follow := time.NewTicker(r.followInterval)
		defer follow.Stop()
		followC = follow.C
	}

	var (
		poll  *time.Ticker
		pollC <-chan time.Time
	)
	stopPoll := func() {
		if poll != nil {
			poll.Stop()
			poll, pollC = nil, nil
		}
	}
	defer stopPoll()

	r.setState(ctx, StateLive)
	for {
		select {
		case <-ctx.Done():
			return "context done", false

		case f, ok := <-s.Frames():
			if !ok {
				if err := s.Err(); err != nil {
					return err.Error(), false
				}
				return "stream closed", false
			}
			hb.Reset(r.heartbeatTimeout)

			switch f.Type {
			case wire.FrameBatch:
				r.render(ctx, f.EventList(), ModePush)
				if followC != nil && f.Channel == event.ChannelStatus && r.followedTerminal(jobID) && r.activeChanged(ctx, jobID) {
					return "active job changed", true
				}
			case wire.FrameState:
				switch f.State {
				case wire.StateDegraded:
					if poll == nil {
						poll = time.NewTicker(r.pollInterval)
						pollC = poll.C
					}
					r.setState(ctx, StateDegraded)
				case wire.StateLive:
					if poll != nil {
						stopPoll()
						r.pull(ctx, jobID, ModeCatchUp)
					}
					r.setState(ctx, StateLive)
				}
			case wire.FrameErr:
				if f.Error != nil {
					r.logger.Warn("reconcile: server error frame",
						slog.Int("code", f.Error.Code),
						slog.String("message", f.Error.Message),
					)
				}
			}

		case <-pollC:
			r.pull(ctx, jobID, ModePoll)

		case <-followC:
			if r.activeChanged(ctx, jobID) {
				return "active job changed", true
			}

		case <-hb.C:
			return "heartbeat timeout", false
		}
	}
}

func (r *Reconciler) followedTerminal(jobID string) bool {
	jv, ok := r.view.Job(jobID)
	return ok && jv.Terminal()
}

// activeChanged reports whether the server now points at a different
// active job. A cleared pointer keeps the current job on screen.
func (r *Reconciler) activeChanged(ctx context.Context, jobID string) bool {
	next, err := r.src.ActiveJob(ctx)
	if err != nil {
		r.logger.Debug("reconcile: active job lookup failed", slog.String("error", err.Error()))
		return false
	}
	return next != "" && next != jobID
}

// pollFor polls at the poll interval for d, then returns true. It
// returns false if ctx ends first.
func (r *Reconciler) pollFor(ctx context.Context, d time.Duration) bool {
	if r.now().Sub(r.lastPoll) >= r.pollInterval {
		r.pull(ctx, r.target(ctx), ModePoll)
	}

	deadline := time.NewTimer(d)
	defer deadline.Stop()
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return true
		case <-ticker.C:
			r.pull(ctx, r.target(ctx), ModePoll)
		}
	}
}

// pull fetches a catch-up page and renders it.
func (r *Reconciler) pull(ctx context.Context, jobID string, via Mode) {
	if jobID == "" {
		return
	}
	if via == ModePoll {
		r.polls.Add(1)
		r.lastPoll = r.now()
	}

	events, err := r.src.CatchUp(ctx, jobID, r.catchUpLimit)
	if err != nil {
		r.pullErrors.Add(1)
		r.logger.Debug("reconcile: catch-up failed",
			slog.String("job_id", jobID),
			slog.String("mode", string(via)),
			slog.String("error", err.Error()),
		)
		return
	}
	r.render(ctx, events, via)
}

// render passes events through the seen-cache, folds the survivors into
// the view and notifies observers.
func (r *Reconciler) render(ctx context.Context, events []event.Event, via Mode) {
	for _, e := range events {
		if r.seen.Seen(event.FingerprintOf(e, r.bucket), e.OccurredAt) {
			r.duplicates.Add(1)
			continue
		}
		r.rendered.Add(1)

		changed := r.view.Apply(e)
		r.observers.emitEvent(ctx, e, via)
		if changed {
			if jv, ok := r.view.Job(e.JobID); ok {
				r.observers.emitJob(ctx, jv)
			}
		}
	}
}

// target returns the job to follow: the pinned job, else the server's
// active job.
func (r *Reconciler) target(ctx context.Context) string {
	if r.jobID != "" {
		return r.jobID
	}
	jobID, err := r.src.ActiveJob(ctx)
	if err != nil {
		r.logger.Debug("reconcile: active job lookup failed", slog.String("error", err.Error()))
		return ""
	}
	return jobID
}

func (r *Reconciler) setState(ctx context.Context, to State) {
	r.stateMu.Lock()
	from := r.state
	r.state = to
	r.stateMu.Unlock()

	if from == to {
		return
	}
	r.logger.Info("reconcile: state changed",
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
	r.observers.emitState(ctx, from, to)
}

// ──────────────────────────────────────────────────
// Stats
// ──────────────────────────────────────────────────

// Stats is a snapshot of reconciler counters.
type Stats struct {
	State      State
	Rendered   int64
	Duplicates int64
	Polls      int64
	PullErrors int64
	Reconnects int64
}

// Stats returns the current counters.
func (r *Reconciler) Stats() Stats {
	return Stats{
		State:      r.State(),
		Rendered:   r.rendered.Load(),
		Duplicates: r.duplicates.Load(),
		Polls:      r.polls.Load(),
		PullErrors: r.pullErrors.Load(),
		Reconnects: r.reconnects.Load(),
	}
}
