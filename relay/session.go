package relay

import (
	"sync"
	"sync/atomic"

	"github.com/xraph/beacon/event"
	"github.com/xraph/beacon/id"
	"github.com/xraph/beacon/wire"
)

// Session is one client's view of the relay. Frames are queued in a
// bounded buffer; when it is full the oldest frame is discarded so a slow
// client never stalls the channel consumers. A single writer drains the
// queue.
type Session struct {
	id        id.ID
	jobFilter string
	capacity  int

	mu     sync.Mutex
	queue  []*wire.Frame
	closed bool

	ready chan struct{} // signalled when the queue becomes non-empty
	done  chan struct{}

	enqueued  atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
}

func newSession(jobFilter string, capacity int) *Session {
	if capacity <= 0 {
		capacity = 1
	}
	return &Session{
		id:        id.NewSessionID(),
		jobFilter: jobFilter,
		capacity:  capacity,
		ready:     make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id.String() }

// JobFilter returns the job the session follows, or "" for every job.
func (s *Session) JobFilter() string { return s.jobFilter }

// Matches reports whether events of jobID are routed to this session.
func (s *Session) Matches(jobID string) bool {
	return s.jobFilter == "" || s.jobFilter == jobID
}

// Ready is signalled after frames are queued.
func (s *Session) Ready() <-chan struct{} { return s.ready }

// Done is closed when the session is detached.
func (s *Session) Done() <-chan struct{} { return s.done }

// Drain removes and returns every queued frame, oldest first.
func (s *Session) Drain() []*wire.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.queue
	s.queue = nil
	s.delivered.Add(int64(len(out)))
	return out
}

// Len returns the number of queued frames.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// enqueue appends f without blocking. It reports how many frames were
// discarded to make room.
func (s *Session) enqueue(f *wire.Frame) (dropped int, ok bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, false
	}
	for len(s.queue) >= s.capacity {
		s.queue[0] = nil
		s.queue = s.queue[1:]
		dropped++
	}
	s.queue = append(s.queue, f)
	s.mu.Unlock()

	s.enqueued.Add(1)
	s.dropped.Add(int64(dropped))
	select {
	case s.ready <- struct{}{}:
	default:
	}
	return dropped, true
}

// filter returns the subset of events routed to this session.
func (s *Session) filter(events []event.Event) []event.Event {
	if s.jobFilter == "" {
		return events
	}
	var out []event.Event
	for _, e := range events {
		if e.JobID == s.jobFilter {
			out = append(out, e)
		}
	}
	return out
}

// close discards queued frames. Safe to call multiple times.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.queue = nil
	close(s.done)
}

// SessionStats contains per-session counters.
type SessionStats struct {
	ID        string `json:"id"`
	JobFilter string `json:"job_filter,omitempty"`
	Queued    int    `json:"queued"`
	Enqueued  int64  `json:"enqueued"`
	Delivered int64  `json:"delivered"`
	Dropped   int64  `json:"dropped"`
}

// Stats returns the session counters.
func (s *Session) Stats() SessionStats {
	return SessionStats{
		ID:        s.ID(),
		JobFilter: s.jobFilter,
		Queued:    s.Len(),
		Enqueued:  s.enqueued.Load(),
		Delivered: s.delivered.Load(),
		Dropped:   s.dropped.Load(),
	}
}
