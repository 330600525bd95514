package event

import "context"

// Store defines the persistence contract for the bounded per-job event
// log. Implementations keep at most N events per job and evict entries
// older than the retention TTL, whichever fires first.
type Store interface {
	// AppendEvent atomically appends evt to its job's log, trims the log
	// to N entries and refreshes the TTL. Backend failures wrap
	// beacon.ErrStoreUnavailable.
	AppendEvent(ctx context.Context, evt Event) error

	// QueryEvents returns the most recent limit retained events for the
	// job in chronological order, without duplicates. Unknown or expired
	// jobs yield an empty slice and no error. A limit outside (0, N]
	// means N.
	QueryEvents(ctx context.Context, jobID string, limit int) ([]Event, error)
}
