// Package store defines the aggregate persistence interface. The event
// log and the job records each define their own store interface; the
// composite Store composes them. Backends: Memory and Redis.
package store

import (
	"context"

	"github.com/xraph/beacon/event"
	"github.com/xraph/beacon/job"
)

// Store is the aggregate persistence interface.
// A single backend implements both subsystem stores.
type Store interface {
	event.Store
	job.Store

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}
