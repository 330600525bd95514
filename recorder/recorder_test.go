package recorder_test

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/beacon"
	"github.com/xraph/beacon/backoff"
	"github.com/xraph/beacon/bus"
	"github.com/xraph/beacon/event"
	"github.com/xraph/beacon/recorder"
	"github.com/xraph/beacon/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// flakyStore fails the first n appends.
type flakyStore struct {
	*memory.Store
	failures atomic.Int64
	calls    atomic.Int64
}

func (s *flakyStore) AppendEvent(ctx context.Context, evt event.Event) error {
	s.calls.Add(1)
	if s.failures.Add(-1) >= 0 {
		return beacon.ErrStoreUnavailable
	}
	return s.Store.AppendEvent(ctx, evt)
}

// slowStore blocks until the write context expires.
type slowStore struct{ *memory.Store }

func (s slowStore) AppendEvent(ctx context.Context, _ event.Event) error {
	<-ctx.Done()
	return ctx.Err()
}

func newFlaky(failures int64) *flakyStore {
	s := &flakyStore{Store: memory.New()}
	s.failures.Store(failures)
	return s
}

func sample(jobID string) event.Event {
	return event.NewLog(jobID, "worker", event.LevelInfo, "hello")
}

func TestRecordStoresAndPublishes(t *testing.T) {
	st := memory.New()
	b := bus.NewMemory()
	sub, _ := b.Subscribe(context.Background(), event.ChannelLogs)

	rec := recorder.New(st, b, recorder.WithLogger(testLogger()))
	rec.Record(context.Background(), sample("j1"))

	got, _ := st.QueryEvents(context.Background(), "j1", 0)
	if len(got) != 1 {
		t.Fatalf("stored %d events, want 1", len(got))
	}
	select {
	case raw := <-sub.Messages():
		evt, err := event.Decode(raw)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if evt.JobID != "j1" {
			t.Errorf("JobID = %q", evt.JobID)
		}
	case <-time.After(time.Second):
		t.Fatal("nothing published")
	}

	if s := rec.Stats(); s.Stored != 1 || s.Published != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestRecordRetriesThenSucceeds(t *testing.T) {
	st := newFlaky(2)
	rec := recorder.New(st, nil,
		recorder.WithLogger(testLogger()),
		recorder.WithRetries(2),
		recorder.WithBackoff(backoff.NewConstant(time.Millisecond)),
	)
	rec.Record(context.Background(), sample("j1"))

	if st.calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", st.calls.Load())
	}
	if s := rec.Stats(); s.Stored != 1 || s.Dropped != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestRecordDropsAfterRetriesButStillPublishes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	st := newFlaky(10)
	b := bus.NewMemory()
	sub, _ := b.Subscribe(context.Background(), event.ChannelLogs)

	rec := recorder.New(st, b,
		recorder.WithLogger(logger),
		recorder.WithRetries(1),
		recorder.WithBackoff(backoff.NewConstant(time.Millisecond)),
	)
	rec.Record(context.Background(), sample("j1"))

	if st.calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", st.calls.Load())
	}
	if s := rec.Stats(); s.Dropped != 1 || s.Published != 1 {
		t.Errorf("stats = %+v", s)
	}
	if !strings.Contains(buf.String(), "dropping event after retries") {
		t.Errorf("missing drop warning in log: %s", buf.String())
	}
	select {
	case <-sub.Messages():
	case <-time.After(time.Second):
		t.Fatal("event not published after store failure")
	}
}

func TestRecordWriteTimeout(t *testing.T) {
	rec := recorder.New(slowStore{memory.New()}, nil,
		recorder.WithLogger(testLogger()),
		recorder.WithWriteTimeout(20*time.Millisecond),
		recorder.WithRetries(0),
	)

	start := time.Now()
	rec.Record(context.Background(), sample("j1"))
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Record blocked for %v", elapsed)
	}
	if rec.Stats().Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", rec.Stats().Dropped)
	}
}

func TestRecordSurvivesCancelledContext(t *testing.T) {
	st := memory.New()
	rec := recorder.New(st, nil, recorder.WithLogger(testLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.Record(ctx, sample("j1"))

	got, _ := st.QueryEvents(context.Background(), "j1", 0)
	if len(got) != 1 {
		t.Fatalf("stored %d events, want 1", len(got))
	}
}

func TestRecordMalformed(t *testing.T) {
	st := memory.New()
	rec := recorder.New(st, nil, recorder.WithLogger(testLogger()))

	rec.Record(context.Background(), event.Event{JobID: "", Payload: event.Log{Level: event.LevelInfo}})
	rec.Record(context.Background(), event.Event{JobID: "j1"})

	if s := rec.Stats(); s.Malformed != 2 || s.Stored != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestRecordPublishFailureIsCounted(t *testing.T) {
	b := bus.NewMemory()
	b.Disconnect()
	rec := recorder.New(memory.New(), b, recorder.WithLogger(testLogger()))

	rec.Record(context.Background(), sample("j1"))
	if s := rec.Stats(); s.PublishFailed != 1 || s.Stored != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestContextMarkers(t *testing.T) {
	ctx := context.Background()
	if recorder.IsInternal(ctx) {
		t.Error("plain context reported internal")
	}
	if !recorder.IsInternal(recorder.Internal(ctx)) {
		t.Error("marked context not internal")
	}
	if _, ok := recorder.JobFromContext(ctx); ok {
		t.Error("plain context has a job")
	}
	if id, ok := recorder.JobFromContext(recorder.WithJob(ctx, "j9")); !ok || id != "j9" {
		t.Errorf("JobFromContext = %q, %v", id, ok)
	}
}

// Ensure concurrent Record calls are safe.
func TestRecordConcurrent(t *testing.T) {
	st := memory.New(memory.WithMaxEvents(1000))
	rec := recorder.New(st, bus.NewMemory(), recorder.WithLogger(testLogger()))

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			evt := event.NewLog("j1", "worker", event.LevelInfo, strings.Repeat("x", i+1))
			rec.Record(context.Background(), evt)
		}()
	}
	wg.Wait()

	if s := rec.Stats(); s.Stored != 20 {
		t.Errorf("Stored = %d, want 20", s.Stored)
	}
}
