package reconcile

import (
	"sync"
	"time"

	"github.com/xraph/beacon/event"
	"github.com/xraph/beacon/job"
)

// JobView is a job's state as derived from rendered events.
type JobView struct {
	JobID       string
	Status      job.Status
	Reason      string
	Phase       string
	Current     int64
	Total       int64
	LastMessage string
	Events      int
	UpdatedAt   time.Time
}

// Terminal reports whether the job has reached success or failure.
func (v JobView) Terminal() bool { return v.Status.Terminal() }

// View folds rendered events into per-job state. A job's status only
// moves forward: once terminal, later running or pending updates for the
// same job are ignored. It is safe for concurrent use.
type View struct {
	mu   sync.RWMutex
	jobs map[string]*JobView
}

// NewView creates an empty View.
func NewView() *View {
	return &View{jobs: make(map[string]*JobView)}
}

// Apply folds e into the view and reports whether the job's status,
// phase or progress changed.
func (v *View) Apply(e event.Event) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	jv, ok := v.jobs[e.JobID]
	if !ok {
		jv = &JobView{JobID: e.JobID}
		v.jobs[e.JobID] = jv
	}
	jv.Events++
	if e.OccurredAt.After(jv.UpdatedAt) {
		jv.UpdatedAt = e.OccurredAt
	}
	if text := e.Payload.Text(); text != "" {
		jv.LastMessage = text
	}

	switch p := e.Payload.(type) {
	case event.Status:
		if jv.Status != "" && !job.CanTransition(jv.Status, p.Status) {
			return false
		}
		jv.Status = p.Status
		jv.Reason = p.Reason
		return true

	case event.Phase:
		if jv.Terminal() || jv.Phase == p.Phase {
			return false
		}
		jv.Phase = p.Phase
		if jv.Status == "" {
			jv.Status = job.StatusRunning
		}
		return true

	case event.Progress:
		if jv.Terminal() {
			return false
		}
		jv.Current, jv.Total = p.Current, p.Total
		return true
	}
	return false
}

// Job returns a copy of the job's view.
func (v *View) Job(jobID string) (JobView, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	jv, ok := v.jobs[jobID]
	if !ok {
		return JobView{}, false
	}
	return *jv, true
}

// Jobs returns copies of every job's view.
func (v *View) Jobs() []JobView {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]JobView, 0, len(v.jobs))
	for _, jv := range v.jobs {
		out = append(out, *jv)
	}
	return out
}
