package reconcile

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/xraph/beacon/event"
)

// Observer is the base interface all observers implement. Hooks are
// separate interfaces so observers opt in only to what they need.
type Observer interface {
	// Name identifies the observer in logs.
	Name() string
}

// EventRendered is called once per event that passes dedup.
type EventRendered interface {
	OnEvent(ctx context.Context, evt event.Event, via Mode) error
}

// JobChanged is called after an event changes a job's status, phase or
// progress.
type JobChanged interface {
	OnJobChange(ctx context.Context, jv JobView) error
}

// StateChanged is called on connection state transitions.
type StateChanged interface {
	OnStateChange(ctx context.Context, from, to State) error
}

// ──────────────────────────────────────────────────
// Registry
// ──────────────────────────────────────────────────

type entry[H any] struct {
	name     string
	priority int
	seq      int
	hook     H
}

// Registry dispatches reconciler signals to observers. Lower priority
// values run first; equal priorities run in registration order.
type Registry struct {
	logger *slog.Logger

	mu       sync.RWMutex
	seq      int
	rendered []entry[EventRendered]
	jobs     []entry[JobChanged]
	states   []entry[StateChanged]
}

// NewRegistry creates an observer registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds o at the given priority, caching each hook it
// implements.
func (r *Registry) Register(o Observer, priority int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	name := o.Name()
	if h, ok := o.(EventRendered); ok {
		r.rendered = insert(r.rendered, entry[EventRendered]{name, priority, r.seq, h})
	}
	if h, ok := o.(JobChanged); ok {
		r.jobs = insert(r.jobs, entry[JobChanged]{name, priority, r.seq, h})
	}
	if h, ok := o.(StateChanged); ok {
		r.states = insert(r.states, entry[StateChanged]{name, priority, r.seq, h})
	}
}

// insert returns a sorted copy so emitters may keep iterating the old
// slice without the lock.
func insert[H any](list []entry[H], e entry[H]) []entry[H] {
	out := make([]entry[H], 0, len(list)+1)
	out = append(out, list...)
	out = append(out, e)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].priority != out[j].priority {
			return out[i].priority < out[j].priority
		}
		return out[i].seq < out[j].seq
	})
	return out
}

func (r *Registry) emitEvent(ctx context.Context, evt event.Event, via Mode) {
	r.mu.RLock()
	hooks := r.rendered
	r.mu.RUnlock()
	for _, e := range hooks {
		if err := e.hook.OnEvent(ctx, evt, via); err != nil {
			r.logHookError("OnEvent", e.name, err)
		}
	}
}

func (r *Registry) emitJob(ctx context.Context, jv JobView) {
	r.mu.RLock()
	hooks := r.jobs
	r.mu.RUnlock()
	for _, e := range hooks {
		if err := e.hook.OnJobChange(ctx, jv); err != nil {
			r.logHookError("OnJobChange", e.name, err)
		}
	}
}

func (r *Registry) emitState(ctx context.Context, from, to State) {
	r.mu.RLock()
	hooks := r.states
	r.mu.RUnlock()
	for _, e := range hooks {
		if err := e.hook.OnStateChange(ctx, from, to); err != nil {
			r.logHookError("OnStateChange", e.name, err)
		}
	}
}

func (r *Registry) logHookError(hook, name string, err error) {
	r.logger.Warn("observer hook failed",
		slog.String("hook", hook),
		slog.String("observer", name),
		slog.String("error", err.Error()),
	)
}

// ──────────────────────────────────────────────────
// Func adapters
// ──────────────────────────────────────────────────

// EventFunc adapts a function into an EventRendered observer.
type EventFunc func(ctx context.Context, evt event.Event, via Mode) error

// Name implements Observer.
func (f EventFunc) Name() string { return "event-func" }

// OnEvent implements EventRendered.
func (f EventFunc) OnEvent(ctx context.Context, evt event.Event, via Mode) error {
	return f(ctx, evt, via)
}
