package reconcile

import (
	"context"

	"github.com/xraph/beacon/client"
	"github.com/xraph/beacon/event"
	"github.com/xraph/beacon/wire"
)

// Source is where a Reconciler pulls catch-up data and opens push
// streams. client.Client serves as one through FromClient.
type Source interface {
	// ActiveJob returns the active job ID, or "" when none.
	ActiveJob(ctx context.Context) (string, error)

	// CatchUp returns the most recent limit events for jobID in
	// chronological order.
	CatchUp(ctx context.Context, jobID string, limit int) ([]event.Event, error)

	// Stream opens a push stream for jobID ("" for every job).
	Stream(ctx context.Context, jobID string) (Stream, error)
}

// Stream is an open push stream.
type Stream interface {
	// Frames yields frames until the stream ends, then is closed.
	Frames() <-chan *wire.Frame

	// Err reports why the stream ended.
	Err() error

	Close() error
}

// FromClient adapts a client.Client into a Source.
func FromClient(c *client.Client) Source {
	return clientSource{c: c}
}

type clientSource struct {
	c *client.Client
}

func (s clientSource) ActiveJob(ctx context.Context) (string, error) {
	a, err := s.c.ActiveJob(ctx)
	if err != nil {
		return "", err
	}
	return a.JobID, nil
}

func (s clientSource) CatchUp(ctx context.Context, jobID string, limit int) ([]event.Event, error) {
	return s.c.CatchUp(ctx, jobID, limit)
}

func (s clientSource) Stream(ctx context.Context, jobID string) (Stream, error) {
	return s.c.Stream(ctx, jobID)
}
