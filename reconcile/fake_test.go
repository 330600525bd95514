package reconcile_test

import (
	"context"
	"sync"
	"time"

	"github.com/xraph/beacon"
	"github.com/xraph/beacon/event"
	"github.com/xraph/beacon/id"
	"github.com/xraph/beacon/reconcile"
	"github.com/xraph/beacon/wire"
)

// fakeSource is an in-process server: events is the store, stream the
// current push connection.
type fakeSource struct {
	mu         sync.Mutex
	events     []event.Event
	active     string
	down       bool
	stream     *fakeStream
	streamJobs []string
	heartbeat  time.Duration
}

func newFakeSource() *fakeSource {
	return &fakeSource{heartbeat: 10 * time.Millisecond}
}

func (s *fakeSource) ActiveJob(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, nil
}

func (s *fakeSource) CatchUp(_ context.Context, jobID string, limit int) ([]event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []event.Event
	for _, e := range s.events {
		if e.JobID == jobID {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *fakeSource) Stream(_ context.Context, jobID string) (reconcile.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return nil, beacon.ErrTransportDisconnected
	}
	s.streamJobs = append(s.streamJobs, jobID)
	st := newFakeStream(s.heartbeat)
	st.send(wire.NewStateFrame(wire.StateLive))
	s.stream = st
	return st, nil
}

// publish stores events and pushes them over the live stream.
func (s *fakeSource) publish(evts ...event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evts...)
	if !s.down && s.stream != nil {
		s.stream.send(batch(evts))
	}
}

// store records events without pushing them.
func (s *fakeSource) store(evts ...event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evts...)
}

// push sends a frame over the live stream without storing anything.
func (s *fakeSource) push(f *wire.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		s.stream.send(f)
	}
}

// drop silences the current stream and refuses new ones.
func (s *fakeSource) drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = true
	if s.stream != nil {
		s.stream.stall()
		s.stream = nil
	}
}

func (s *fakeSource) restore() {
	s.mu.Lock()
	s.down = false
	s.mu.Unlock()
}

func (s *fakeSource) jobsStreamed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.streamJobs...)
}

func batch(evts []event.Event) *wire.Frame {
	ch := event.ChannelLogs
	if len(evts) > 0 {
		ch = evts[0].Channel()
	}
	return wire.NewBatchFrame(id.NewBatchID().String(), ch, evts)
}

// fakeStream heartbeats until stalled. A stalled stream stays open but
// silent, like a dead TCP peer.
type fakeStream struct {
	mu      sync.Mutex
	frames  chan *wire.Frame
	stop    chan struct{}
	stalled bool
}

func newFakeStream(heartbeat time.Duration) *fakeStream {
	st := &fakeStream{
		frames: make(chan *wire.Frame, 256),
		stop:   make(chan struct{}),
	}
	go func() {
		t := time.NewTicker(heartbeat)
		defer t.Stop()
		for {
			select {
			case <-st.stop:
				return
			case <-t.C:
				st.send(wire.NewHeartbeatFrame())
			}
		}
	}()
	return st
}

func (st *fakeStream) send(f *wire.Frame) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.stalled {
		return
	}
	select {
	case st.frames <- f:
	default:
	}
}

func (st *fakeStream) stall() {
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.stalled {
		st.stalled = true
		close(st.stop)
	}
}

func (st *fakeStream) Frames() <-chan *wire.Frame { return st.frames }
func (st *fakeStream) Err() error                 { return nil }
func (st *fakeStream) Close() error               { st.stall(); return nil }
