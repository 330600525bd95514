package job

import (
	"time"

	"github.com/xraph/beacon"
)

// Status represents the lifecycle status of an observed job.
type Status string

const (
	// StatusPending means the job is known but its worker has not started.
	StatusPending Status = "pending"
	// StatusRunning means a worker is executing the job.
	StatusRunning Status = "running"
	// StatusSuccess means the job finished successfully.
	StatusSuccess Status = "success"
	// StatusFailure means the job failed or was superseded.
	StatusFailure Status = "failure"
)

// ReasonSuperseded is recorded on a job forced terminal because another
// job became active in its scope.
const ReasonSuperseded = "superseded"

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusSuccess, StatusFailure:
		return true
	}
	return false
}

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

// CanTransition reports whether a job may move from one status to
// another. Status only moves forward; a terminal job never runs again
// under the same ID.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusFailure
	case StatusRunning:
		return to.Terminal()
	default:
		return false
	}
}

// Record is the coordinator's view of one job.
type Record struct {
	ID           string     `json:"job_id"`
	Scope        string     `json:"scope"`
	Status       Status     `json:"status"`
	CurrentPhase string     `json:"current_phase,omitempty"`
	Reason       string     `json:"reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Transition moves the record to the given status, stamping start and
// completion times. It returns beacon.ErrInvalidTransition when the
// move would go backwards.
func (r *Record) Transition(to Status, at time.Time) error {
	if !CanTransition(r.Status, to) {
		return beacon.ErrInvalidTransition
	}
	r.Status = to
	switch {
	case to == StatusRunning:
		t := at
		r.StartedAt = &t
	case to.Terminal():
		t := at
		r.CompletedAt = &t
	}
	return nil
}

// Clone returns a deep copy safe to hand to another goroutine.
func (r *Record) Clone() *Record {
	cp := *r
	if r.StartedAt != nil {
		t := *r.StartedAt
		cp.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
