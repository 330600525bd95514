package relay

import (
	"sync"

	"github.com/xraph/beacon/event"
	"github.com/xraph/beacon/wire"
)

// hub tracks attached sessions. It is safe for concurrent use.
type hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session // session ID → session
}

func newHub() *hub {
	return &hub{sessions: make(map[string]*Session)}
}

func (h *hub) add(s *Session) {
	h.mu.Lock()
	h.sessions[s.ID()] = s
	h.mu.Unlock()
}

func (h *hub) remove(s *Session) {
	h.mu.Lock()
	delete(h.sessions, s.ID())
	h.mu.Unlock()
	s.close()
}

// snapshot copies the session set so sends happen without the lock.
func (h *hub) snapshot() []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	return out
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// route delivers a batch to every session whose filter matches at least
// one event. Each session receives only its matching events, under the
// shared batch ID. It returns the sessions reached and frames dropped.
func (h *hub) route(batchID string, ch event.Channel, events []event.Event) (reached, dropped int) {
	for _, s := range h.snapshot() {
		matched := s.filter(events)
		if len(matched) == 0 {
			continue
		}
		d, ok := s.enqueue(wire.NewBatchFrame(batchID, ch, matched))
		if ok {
			reached++
			dropped += d
		}
	}
	return reached, dropped
}

// broadcast queues f on every session.
func (h *hub) broadcast(f *wire.Frame) (dropped int) {
	for _, s := range h.snapshot() {
		d, _ := s.enqueue(f)
		dropped += d
	}
	return dropped
}

func (h *hub) closeAll() {
	h.mu.Lock()
	sessions := h.sessions
	h.sessions = make(map[string]*Session)
	h.mu.Unlock()
	for _, s := range sessions {
		s.close()
	}
}
