package job

import "context"

// Store defines the persistence contract for job records and the
// per-scope active-job pointer.
type Store interface {
	// CreateJob persists a new record. Returns beacon.ErrJobAlreadyExists
	// if the ID is taken.
	CreateJob(ctx context.Context, r *Record) error

	// GetJob retrieves a record by ID. Returns beacon.ErrJobNotFound for
	// unknown or expired jobs.
	GetJob(ctx context.Context, jobID string) (*Record, error)

	// UpdateJob persists changes to an existing record.
	UpdateJob(ctx context.Context, r *Record) error

	// SetActiveJob points the scope's active pointer at jobID.
	SetActiveJob(ctx context.Context, scope, jobID string) error

	// ActiveJob returns the scope's active job ID, or "" if none.
	ActiveJob(ctx context.Context, scope string) (string, error)

	// ClearActiveJob clears the scope's pointer only if it still refers
	// to jobID.
	ClearActiveJob(ctx context.Context, scope, jobID string) error
}
