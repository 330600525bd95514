package bus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/xraph/beacon"
	"github.com/xraph/beacon/event"
)

// Compile-time interface check.
var _ Bus = (*Memory)(nil)

// DefaultBufferSize is the default per-subscription message buffer.
const DefaultBufferSize = 1024

// MemoryOption configures a Memory bus.
type MemoryOption func(*Memory)

// WithBufferSize sets the per-subscription buffer. A subscriber whose
// buffer is full misses messages, as with a slow Redis consumer.
func WithBufferSize(n int) MemoryOption {
	return func(m *Memory) {
		if n > 0 {
			m.bufferSize = n
		}
	}
}

// Memory is an in-process Bus. Disconnect and Reconnect simulate a
// transport outage.
type Memory struct {
	bufferSize int

	mu           sync.RWMutex
	subs         map[event.Channel]map[uint64]*memSub // channel → subscription id → subscription
	nextID       uint64
	disconnected bool
	closed       bool

	published atomic.Int64
	dropped   atomic.Int64
}

// NewMemory creates an empty in-process bus.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		bufferSize: DefaultBufferSize,
		subs:       make(map[event.Channel]map[uint64]*memSub),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Publish delivers payload to every subscriber of ch without blocking.
func (m *Memory) Publish(_ context.Context, ch event.Channel, payload []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch {
	case m.closed:
		return beacon.ErrBusClosed
	case m.disconnected:
		return beacon.ErrTransportDisconnected
	}

	m.published.Add(1)
	for _, s := range m.subs[ch] {
		select {
		case s.msgs <- payload:
		default:
			m.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe registers a new subscription on ch.
func (m *Memory) Subscribe(_ context.Context, ch event.Channel) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.closed:
		return nil, beacon.ErrBusClosed
	case m.disconnected:
		return nil, beacon.ErrTransportDisconnected
	}

	m.nextID++
	s := &memSub{
		bus:     m,
		id:      m.nextID,
		channel: ch,
		msgs:    make(chan []byte, m.bufferSize),
		done:    make(chan struct{}),
	}
	subs, ok := m.subs[ch]
	if !ok {
		subs = make(map[uint64]*memSub)
		m.subs[ch] = subs
	}
	subs[s.id] = s
	return s, nil
}

// Disconnect simulates a transport outage: every subscription ends with
// ErrTransportDisconnected and publishes fail until Reconnect.
func (m *Memory) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected = true
	m.endAllLocked(beacon.ErrTransportDisconnected)
}

// Reconnect ends a simulated outage. Subscriptions are not restored;
// consumers must subscribe again.
func (m *Memory) Reconnect() {
	m.mu.Lock()
	m.disconnected = false
	m.mu.Unlock()
}

// Close ends every subscription with ErrBusClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.endAllLocked(beacon.ErrBusClosed)
	return nil
}

// SubscriberCount returns the number of live subscriptions on ch.
func (m *Memory) SubscriberCount(ch event.Channel) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[ch])
}

// Stats returns publish counters.
func (m *Memory) Stats() MemoryStats {
	return MemoryStats{
		Published: m.published.Load(),
		Dropped:   m.dropped.Load(),
	}
}

// MemoryStats contains in-process bus counters.
type MemoryStats struct {
	Published int64 `json:"published"`
	Dropped   int64 `json:"dropped"`
}

func (m *Memory) endAllLocked(cause error) {
	for ch, subs := range m.subs {
		for _, s := range subs {
			s.endLocked(cause)
		}
		delete(m.subs, ch)
	}
}

// memSub is a Memory subscription. Its channels are closed only while
// the bus write lock is held, so Publish never sends on a closed channel.
type memSub struct {
	bus     *Memory
	id      uint64
	channel event.Channel
	msgs    chan []byte
	done    chan struct{}

	ended bool // guarded by bus.mu
	err   atomic.Pointer[error]
}

func (s *memSub) Channel() event.Channel  { return s.channel }
func (s *memSub) Messages() <-chan []byte { return s.msgs }
func (s *memSub) Done() <-chan struct{}   { return s.done }

func (s *memSub) Err() error {
	if p := s.err.Load(); p != nil {
		return *p
	}
	return nil
}

func (s *memSub) Close() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if subs, ok := s.bus.subs[s.channel]; ok {
		delete(subs, s.id)
		if len(subs) == 0 {
			delete(s.bus.subs, s.channel)
		}
	}
	s.endLocked(nil)
	return nil
}

func (s *memSub) endLocked(cause error) {
	if s.ended {
		return
	}
	s.ended = true
	if cause != nil {
		s.err.Store(&cause)
	}
	close(s.msgs)
	close(s.done)
}
