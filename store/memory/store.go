package memory

import (
	"context"
	"sync"
	"time"

	"github.com/xraph/beacon"
	"github.com/xraph/beacon/event"
	"github.com/xraph/beacon/job"
)

// Ensure Store implements the subsystem stores at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ event.Store = (*Store)(nil)
	_ job.Store   = (*Store)(nil)
)

// Defaults applied when no option overrides them.
const (
	DefaultMaxEvents = 100
	DefaultTTL       = 24 * time.Hour
)

// Option configures a Store.
type Option func(*Store)

// WithMaxEvents sets N, the number of events retained per job.
func WithMaxEvents(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxEvents = n
		}
	}
}

// WithTTL sets how long events and finished job records are retained.
func WithTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithFingerprintBucket sets the time bucket used to drop duplicate
// events from query results.
func WithFingerprintBucket(d time.Duration) Option {
	return func(s *Store) { s.bucket = d }
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

type storedEvent struct {
	evt      event.Event
	storedAt time.Time
}

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access.
type Store struct {
	maxEvents int
	ttl       time.Duration
	bucket    time.Duration
	now       func() time.Time

	mu     sync.RWMutex
	closed bool
	events map[string][]storedEvent // per job, oldest first
	jobs   map[string]*job.Record
	active map[string]string // scope -> job ID
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		maxEvents: DefaultMaxEvents,
		ttl:       DefaultTTL,
		bucket:    event.DefaultBucket,
		now:       time.Now,
		events:    make(map[string][]storedEvent),
		jobs:      make(map[string]*job.Record),
		active:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ──────────────────────────────────────────────────
// Lifecycle: Ping / Close
// ──────────────────────────────────────────────────

// Ping reports ErrStoreClosed after Close.
func (m *Store) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return beacon.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Later calls fail with ErrStoreClosed.
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// Event Store
// ──────────────────────────────────────────────────

// AppendEvent appends evt to its job's log and trims the log to N.
func (m *Store) AppendEvent(_ context.Context, evt event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return beacon.ErrStoreClosed
	}

	now := m.now()
	log := m.live(m.events[evt.JobID], now)
	log = append(log, storedEvent{evt: evt, storedAt: now})
	if over := len(log) - m.maxEvents; over > 0 {
		// Copy so the dropped prefix can be collected.
		log = append([]storedEvent(nil), log[over:]...)
	}
	m.events[evt.JobID] = log
	return nil
}

// QueryEvents returns up to limit of the most recent live events for the
// job, oldest first and without duplicates.
func (m *Store) QueryEvents(_ context.Context, jobID string, limit int) ([]event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, beacon.ErrStoreClosed
	}
	if limit <= 0 || limit > m.maxEvents {
		limit = m.maxEvents
	}

	log := m.live(m.events[jobID], m.now())
	if len(log) > limit {
		log = log[len(log)-limit:]
	}

	out := make([]event.Event, len(log))
	for i, se := range log {
		out[i] = se.evt
	}
	out = event.Unique(out, m.bucket)
	event.SortChronological(out)
	return out, nil
}

// live returns the suffix of log whose entries have not expired. The
// log is ordered by storage time so expired entries form a prefix.
func (m *Store) live(log []storedEvent, now time.Time) []storedEvent {
	cutoff := now.Add(-m.ttl)
	i := 0
	for i < len(log) && !log[i].storedAt.After(cutoff) {
		i++
	}
	return log[i:]
}

// Sweep drops expired events and finished job records older than the
// TTL. It returns the number of events removed. The store also evicts
// lazily, so Sweep only bounds memory held by idle jobs.
func (m *Store) Sweep(_ context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for jobID, log := range m.events {
		kept := m.live(log, now)
		removed += len(log) - len(kept)
		if len(kept) == 0 {
			delete(m.events, jobID)
			continue
		}
		if len(kept) != len(log) {
			m.events[jobID] = append([]storedEvent(nil), kept...)
		}
	}

	cutoff := now.Add(-m.ttl)
	for jobID, r := range m.jobs {
		if r.CompletedAt != nil && r.CompletedAt.Before(cutoff) {
			delete(m.jobs, jobID)
		}
	}
	return removed
}

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// CreateJob persists a new record.
func (m *Store) CreateJob(_ context.Context, r *job.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return beacon.ErrStoreClosed
	}
	if _, exists := m.jobs[r.ID]; exists {
		return beacon.ErrJobAlreadyExists
	}
	m.jobs[r.ID] = r.Clone()
	return nil
}

// GetJob retrieves a record by ID.
func (m *Store) GetJob(_ context.Context, jobID string) (*job.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, beacon.ErrStoreClosed
	}
	r, ok := m.jobs[jobID]
	if !ok {
		return nil, beacon.ErrJobNotFound
	}
	return r.Clone(), nil
}

// UpdateJob replaces an existing record.
func (m *Store) UpdateJob(_ context.Context, r *job.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return beacon.ErrStoreClosed
	}
	if _, ok := m.jobs[r.ID]; !ok {
		return beacon.ErrJobNotFound
	}
	m.jobs[r.ID] = r.Clone()
	return nil
}

// SetActiveJob points the scope at jobID.
func (m *Store) SetActiveJob(_ context.Context, scope, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return beacon.ErrStoreClosed
	}
	m.active[scope] = jobID
	return nil
}

// ActiveJob returns the scope's active job ID, or "".
func (m *Store) ActiveJob(_ context.Context, scope string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return "", beacon.ErrStoreClosed
	}
	return m.active[scope], nil
}

// ClearActiveJob clears the scope only while it still points at jobID.
func (m *Store) ClearActiveJob(_ context.Context, scope, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return beacon.ErrStoreClosed
	}
	if m.active[scope] == jobID {
		delete(m.active, scope)
	}
	return nil
}
