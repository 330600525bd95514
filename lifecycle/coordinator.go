// Package lifecycle tracks job records and the per-scope active job.
//
// The Coordinator is the single writer of job status. It enforces the
// forward-only state machine, supersedes the previous active job when a
// new one starts, and emits the matching status and phase events through
// the recorder. Readers get the active job and per-job records from
// immutable snapshots and never block on a writer, even while it waits on
// store or bus I/O.
//
// Finished records stay in memory for the retention period, then are
// pruned; the store remains the record of truth.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/beacon"
	"github.com/xraph/beacon/event"
	"github.com/xraph/beacon/job"
)

// Emitter accepts events for storage and distribution.
// *recorder.Recorder implements it.
type Emitter interface {
	Record(ctx context.Context, evt event.Event)
}

// Component is the component name stamped on coordinator events.
const Component = "lifecycle"

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithScope sets the distribution scope the coordinator manages.
func WithScope(scope string) Option {
	return func(c *Coordinator) { c.scope = scope }
}

// WithRetention sets how long finished records stay in memory.
func WithRetention(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.retention = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator owns the job registry for one distribution scope.
// At most one job is active at a time.
type Coordinator struct {
	store  job.Store
	emit   Emitter
	logger *slog.Logger
	scope  string
	now    func() time.Time

	retention time.Duration

	// mu serializes writers so each job's events are emitted in
	// transition order.
	mu   sync.Mutex
	jobs map[string]*job.Record

	snapshots sync.Map                  // job ID -> immutable *job.Record
	active    atomic.Pointer[job.Record] // immutable snapshot
}

// DefaultRetention matches the default event retention.
const DefaultRetention = 24 * time.Hour

// New creates a Coordinator. st may be nil for a purely in-process
// registry; emit may be nil to suppress events.
func New(st job.Store, emit Emitter, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:  st,
		emit:   emit,
		logger: slog.Default(),
		scope:  beacon.DefaultScope,
		now:       time.Now,
		retention: DefaultRetention,
		jobs:      make(map[string]*job.Record),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Scope returns the distribution scope.
func (c *Coordinator) Scope() string { return c.scope }

// ActiveJob returns a snapshot of the active job, or nil.
func (c *Coordinator) ActiveJob() *job.Record {
	if r := c.active.Load(); r != nil {
		return r.Clone()
	}
	return nil
}

// Job returns a snapshot of a known job. Finished jobs are forgotten once
// the retention period has passed.
func (c *Coordinator) Job(jobID string) (*job.Record, bool) {
	v, ok := c.snapshots.Load(jobID)
	if !ok {
		return nil, false
	}
	return v.(*job.Record).Clone(), true //nolint:errcheck // map holds *job.Record only
}

// ──────────────────────────────────────────────────
// Transitions
// ──────────────────────────────────────────────────

// EnqueueJob registers a pending job. It returns
// beacon.ErrJobAlreadyExists if the ID is known.
func (c *Coordinator) EnqueueJob(ctx context.Context, jobID string) error {
	if jobID == "" {
		return fmt.Errorf("%w: empty job id", beacon.ErrMalformedEnvelope)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now().UTC()
	c.pruneLocked(now)
	if _, ok := c.jobs[jobID]; ok {
		return beacon.ErrJobAlreadyExists
	}
	r := &job.Record{ID: jobID, Scope: c.scope, Status: job.StatusPending, CreatedAt: now}
	c.jobs[jobID] = r
	c.snapshotLocked(r)
	c.persist(ctx, r, true)
	c.emitStatus(ctx, r, "job queued")
	return nil
}

// StartJob moves the job to running and makes it the active job,
// superseding the previous one. Unknown jobs are created as running.
// Starting a running or finished job is a logged no-op.
func (c *Coordinator) StartJob(ctx context.Context, jobID string) error {
	if jobID == "" {
		return fmt.Errorf("%w: empty job id", beacon.ErrMalformedEnvelope)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now().UTC()
	c.pruneLocked(now)
	r, known := c.jobs[jobID]
	switch {
	case !known:
		r = &job.Record{ID: jobID, Scope: c.scope, Status: job.StatusPending, CreatedAt: now}
		c.jobs[jobID] = r
	case r.Status != job.StatusPending:
		c.logger.Warn("lifecycle: start ignored",
			"job_id", jobID,
			"status", string(r.Status),
		)
		return nil
	}
	if err := r.Transition(job.StatusRunning, now); err != nil {
		return err
	}
	c.snapshotLocked(r)

	if prev := c.active.Load(); prev != nil && prev.ID != jobID {
		c.supersedeLocked(ctx, prev.ID, now)
	}

	c.persist(ctx, r, !known)
	c.setActiveLocked(ctx, r)
	c.emitStatus(ctx, r, "job started")
	return nil
}

// AdvancePhase records that a running job entered phase.
func (c *Coordinator) AdvancePhase(ctx context.Context, jobID, phase, message string) error {
	if phase == "" {
		return fmt.Errorf("%w: empty phase", beacon.ErrMalformedEnvelope)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.runningLocked(jobID, "advance phase")
	if !ok {
		return nil
	}
	r.CurrentPhase = phase
	c.snapshotLocked(r)
	c.persist(ctx, r, false)
	c.refreshActiveLocked(r)
	c.record(ctx, jobID, event.Phase{Phase: phase, Message: message})
	return nil
}

// ReportProgress emits a progress update for a running job.
func (c *Coordinator) ReportProgress(ctx context.Context, jobID string, current, total int64, message string) error {
	p := event.Progress{Current: current, Total: total, Message: message}
	if err := (event.Event{JobID: jobID, Payload: p}).Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.runningLocked(jobID, "report progress"); !ok {
		return nil
	}
	c.record(ctx, jobID, p)
	return nil
}

// CompleteJob finishes a running job with a terminal outcome and clears
// the active pointer if it pointed at the job. A non-terminal outcome
// returns beacon.ErrInvalidTransition.
func (c *Coordinator) CompleteJob(ctx context.Context, jobID string, outcome job.Status, message string) error {
	if !outcome.Terminal() {
		return fmt.Errorf("lifecycle: complete %s with %q: %w", jobID, outcome, beacon.ErrInvalidTransition)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.runningLocked(jobID, "complete")
	if !ok {
		return nil
	}
	if err := r.Transition(outcome, c.now().UTC()); err != nil {
		return err
	}
	c.snapshotLocked(r)
	c.persist(ctx, r, false)
	if a := c.active.Load(); a != nil && a.ID == jobID {
		c.clearActiveLocked(ctx, jobID)
	}
	c.emitStatus(ctx, r, message)
	return nil
}

// Log emits a log line for a job. Logs are accepted in any state; late
// lines for a finished job are still stored.
func (c *Coordinator) Log(ctx context.Context, jobID, component string, level event.Level, message string, data map[string]any) {
	evt := event.Event{
		JobID:      jobID,
		OccurredAt: c.now().UTC(),
		Component:  component,
		Payload:    event.Log{Level: level, Message: message},
		Data:       data,
	}
	if c.emit != nil {
		c.emit.Record(ctx, evt)
	}
}

// Restore loads the scope's active job from the store after a restart.
// A record found in running state becomes the active job again.
func (c *Coordinator) Restore(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	id, err := c.store.ActiveJob(ctx, c.scope)
	if err != nil || id == "" {
		return err
	}
	r, err := c.store.GetJob(ctx, id)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs[r.ID] = r
	c.snapshotLocked(r)
	if r.Status == job.StatusRunning {
		c.active.Store(r.Clone())
	}
	return nil
}

// ──────────────────────────────────────────────────
// Helpers (callers hold mu)
// ──────────────────────────────────────────────────

func (c *Coordinator) runningLocked(jobID, op string) (*job.Record, bool) {
	r, ok := c.jobs[jobID]
	if !ok {
		c.logger.Warn("lifecycle: "+op+" on unknown job", "job_id", jobID)
		return nil, false
	}
	if r.Status != job.StatusRunning {
		c.logger.Warn("lifecycle: "+op+" ignored",
			"job_id", jobID,
			"status", string(r.Status),
		)
		return nil, false
	}
	return r, true
}

func (c *Coordinator) supersedeLocked(ctx context.Context, prevID string, now time.Time) {
	prev, ok := c.jobs[prevID]
	if !ok || prev.Status.Terminal() {
		return
	}
	if err := prev.Transition(job.StatusFailure, now); err != nil {
		return
	}
	prev.Reason = job.ReasonSuperseded
	c.snapshotLocked(prev)
	c.persist(ctx, prev, false)
	c.emitStatus(ctx, prev, "job superseded")
	c.logger.Info("lifecycle: job superseded", "job_id", prevID)
}

func (c *Coordinator) snapshotLocked(r *job.Record) {
	c.snapshots.Store(r.ID, r.Clone())
}

// pruneLocked forgets records that finished more than the retention
// period ago.
func (c *Coordinator) pruneLocked(now time.Time) {
	for id, r := range c.jobs {
		if r.CompletedAt != nil && now.Sub(*r.CompletedAt) >= c.retention {
			delete(c.jobs, id)
			c.snapshots.Delete(id)
		}
	}
}

func (c *Coordinator) setActiveLocked(ctx context.Context, r *job.Record) {
	c.active.Store(r.Clone())
	if c.store == nil {
		return
	}
	if err := c.store.SetActiveJob(ctx, c.scope, r.ID); err != nil {
		c.logger.Warn("lifecycle: persist active job failed", "job_id", r.ID, "error", err)
	}
}

func (c *Coordinator) refreshActiveLocked(r *job.Record) {
	if a := c.active.Load(); a != nil && a.ID == r.ID {
		c.active.Store(r.Clone())
	}
}

func (c *Coordinator) clearActiveLocked(ctx context.Context, jobID string) {
	c.active.Store(nil)
	if c.store == nil {
		return
	}
	if err := c.store.ClearActiveJob(ctx, c.scope, jobID); err != nil {
		c.logger.Warn("lifecycle: clear active job failed", "job_id", jobID, "error", err)
	}
}

// persist writes r through to the store. Failures are logged; the
// in-memory registry stays authoritative.
func (c *Coordinator) persist(ctx context.Context, r *job.Record, create bool) {
	if c.store == nil {
		return
	}
	var err error
	if create {
		err = c.store.CreateJob(ctx, r)
	} else {
		err = c.store.UpdateJob(ctx, r)
		if errors.Is(err, beacon.ErrJobNotFound) {
			err = c.store.CreateJob(ctx, r)
		}
	}
	if err != nil {
		c.logger.Warn("lifecycle: persist job failed",
			"job_id", r.ID,
			"status", string(r.Status),
			"error", err,
		)
	}
}

func (c *Coordinator) emitStatus(ctx context.Context, r *job.Record, message string) {
	c.record(ctx, r.ID, event.Status{Status: r.Status, Message: message, Reason: r.Reason})
}

func (c *Coordinator) record(ctx context.Context, jobID string, p event.Payload) {
	if c.emit == nil {
		return
	}
	c.emit.Record(ctx, event.Event{
		JobID:      jobID,
		OccurredAt: c.now().UTC(),
		Component:  Component,
		Payload:    p,
	})
}
