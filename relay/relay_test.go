package relay_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/beacon/backoff"
	"github.com/xraph/beacon/bus"
	"github.com/xraph/beacon/event"
	"github.com/xraph/beacon/relay"
	"github.com/xraph/beacon/wire"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// start runs a relay over b and waits until every channel is subscribed.
func start(t *testing.T, b *bus.Memory, opts ...relay.Option) (*relay.Relay, context.CancelFunc, <-chan error) {
	t.Helper()
	opts = append([]relay.Option{relay.WithLogger(testLogger())}, opts...)
	r := relay.New(b, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	waitFor(t, func() bool {
		for _, ch := range event.Channels() {
			if b.SubscriberCount(ch) != 1 {
				return false
			}
		}
		return true
	})
	t.Cleanup(cancel)
	return r, cancel, errCh
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("timeout waiting for condition")
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func publish(t *testing.T, b *bus.Memory, evt event.Event) {
	t.Helper()
	raw, err := event.Encode(evt)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := b.Publish(context.Background(), evt.Channel(), raw); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}

// collect drains frames from s until done reports true for the
// accumulated frames.
func collect(t *testing.T, s *relay.Session, done func([]*wire.Frame) bool) []*wire.Frame {
	t.Helper()
	var frames []*wire.Frame
	deadline := time.After(2 * time.Second)
	for !done(frames) {
		select {
		case <-s.Ready():
			frames = append(frames, s.Drain()...)
		case <-deadline:
			t.Fatalf("timeout; got %d frames", len(frames))
		}
	}
	return frames
}

func batches(frames []*wire.Frame) []*wire.Frame {
	var out []*wire.Frame
	for _, f := range frames {
		if f.Type == wire.FrameBatch {
			out = append(out, f)
		}
	}
	return out
}

func states(frames []*wire.Frame) []string {
	var out []string
	for _, f := range frames {
		if f.Type == wire.FrameState {
			out = append(out, f.State)
		}
	}
	return out
}

func countEvents(frames []*wire.Frame) int {
	n := 0
	for _, f := range batches(frames) {
		n += len(f.Events)
	}
	return n
}

func TestBurstWithinDelayIsOneBatch(t *testing.T) {
	b := bus.NewMemory()
	r, _, _ := start(t, b, relay.WithBatchDelay(50*time.Millisecond), relay.WithBatchSize(50))
	s := r.Attach("")

	for i := range 5 {
		publish(t, b, event.NewLog("job-1", "worker", event.LevelInfo, fmt.Sprintf("line %d", i)))
		time.Sleep(time.Millisecond)
	}

	frames := collect(t, s, func(fs []*wire.Frame) bool { return countEvents(fs) >= 5 })
	got := batches(frames)
	if len(got) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(got))
	}
	if got[0].ID == "" || got[0].Channel != event.ChannelLogs {
		t.Fatalf("unexpected batch header: id=%q channel=%q", got[0].ID, got[0].Channel)
	}
	for i, env := range got[0].Events {
		want := fmt.Sprintf("line %d", i)
		if env.Payload.Text() != want {
			t.Errorf("event %d: expected %q, got %q", i, want, env.Payload.Text())
		}
	}
}

func TestBatchSizeFlushesEarly(t *testing.T) {
	b := bus.NewMemory()
	r, _, _ := start(t, b, relay.WithBatchDelay(time.Hour), relay.WithBatchSize(3))
	s := r.Attach("")

	for i := range 6 {
		publish(t, b, event.NewLog("job-1", "worker", event.LevelInfo, fmt.Sprintf("line %d", i)))
	}

	frames := collect(t, s, func(fs []*wire.Frame) bool { return countEvents(fs) >= 6 })
	for _, f := range batches(frames) {
		if len(f.Events) != 3 {
			t.Errorf("expected batches of 3, got %d", len(f.Events))
		}
	}
}

func TestDuplicateDeliveredOnce(t *testing.T) {
	b := bus.NewMemory()
	r, _, _ := start(t, b, relay.WithBatchDelay(20*time.Millisecond))
	s := r.Attach("")

	evt := event.NewLog("job-1", "worker", event.LevelWarn, "disk nearly full")
	publish(t, b, evt)
	publish(t, b, evt)
	publish(t, b, event.NewLog("job-1", "worker", event.LevelInfo, "marker"))

	frames := collect(t, s, func(fs []*wire.Frame) bool { return countEvents(fs) >= 2 })
	if n := countEvents(frames); n != 2 {
		t.Fatalf("expected 2 visible events, got %d", n)
	}
	if d := r.Stats().Duplicates; d != 1 {
		t.Fatalf("expected 1 duplicate, got %d", d)
	}
}

func TestMalformedAndMisroutedDropped(t *testing.T) {
	b := bus.NewMemory()
	r, _, _ := start(t, b)

	_ = b.Publish(context.Background(), event.ChannelLogs, []byte("not json"))
	raw, err := event.Encode(event.New("job-1", "", event.Status{Status: "running"}))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	_ = b.Publish(context.Background(), event.ChannelLogs, raw)

	waitFor(t, func() bool { return r.Stats().Malformed == 2 })
	if f := r.Stats().Forwarded; f != 0 {
		t.Fatalf("expected nothing forwarded, got %d", f)
	}
}

func TestRateLimitThrottles(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	b := bus.NewMemory()
	r, _, _ := start(t, b,
		relay.WithRateLimit(1, 2),
		relay.WithBatchDelay(10*time.Millisecond),
		relay.WithMeter(mp.Meter("test")),
	)

	for i := range 5 {
		publish(t, b, event.NewLog("job-1", "worker", event.LevelInfo, fmt.Sprintf("line %d", i)))
	}
	waitFor(t, func() bool { return r.Stats().Received == 5 })
	waitFor(t, func() bool { return r.Stats().Forwarded == 2 })

	if th := r.Stats().Throttled; th != 3 {
		t.Fatalf("expected 3 throttled, got %d", th)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if got := sumCounter(rm, "beacon.relay.throttled"); got != 3 {
		t.Fatalf("expected throttled metric 3, got %d", got)
	}
}

func sumCounter(rm metricdata.ResourceMetrics, name string) int64 {
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestSlowSessionDropsOldest(t *testing.T) {
	b := bus.NewMemory()
	r, _, _ := start(t, b, relay.WithBatchSize(1), relay.WithSessionBuffer(2))
	s := r.Attach("")

	for i := range 5 {
		publish(t, b, event.NewLog("job-1", "worker", event.LevelInfo, fmt.Sprintf("line %d", i)))
	}
	waitFor(t, func() bool { return r.Stats().Batches == 5 })

	frames := s.Drain()
	if len(frames) != 2 {
		t.Fatalf("expected 2 queued frames, got %d", len(frames))
	}
	if got := frames[1].Events[0].Payload.Text(); got != "line 4" {
		t.Fatalf("expected newest frame kept, got %q", got)
	}
	// state frame + three batches were discarded
	if d := s.Stats().Dropped; d != 4 {
		t.Fatalf("expected 4 dropped, got %d", d)
	}
}

func TestJobFilter(t *testing.T) {
	b := bus.NewMemory()
	r, _, _ := start(t, b, relay.WithBatchDelay(10*time.Millisecond))
	a := r.Attach("job-a")
	all := r.Attach("")

	publish(t, b, event.NewLog("job-b", "worker", event.LevelInfo, "b1"))
	publish(t, b, event.NewLog("job-a", "worker", event.LevelInfo, "a1"))

	frames := collect(t, a, func(fs []*wire.Frame) bool { return countEvents(fs) >= 1 })
	for _, f := range batches(frames) {
		for _, env := range f.Events {
			if env.JobID != "job-a" {
				t.Fatalf("filtered session received %q", env.JobID)
			}
		}
	}
	collect(t, all, func(fs []*wire.Frame) bool { return countEvents(fs) >= 2 })
}

func TestDegradedAndRecovered(t *testing.T) {
	b := bus.NewMemory()
	r, _, _ := start(t, b, relay.WithBackoff(backoff.NewConstant(5*time.Millisecond)))
	s := r.Attach("")

	b.Disconnect()
	frames := collect(t, s, func(fs []*wire.Frame) bool {
		st := states(fs)
		return len(st) >= 2 && st[len(st)-1] == wire.StateDegraded
	})
	if r.State() != relay.StateDegraded {
		t.Fatalf("expected degraded, got %s", r.State())
	}

	b.Reconnect()
	frames = append(frames, collect(t, s, func(fs []*wire.Frame) bool {
		st := states(fs)
		return len(st) > 0 && st[len(st)-1] == wire.StateLive
	})...)

	want := []string{wire.StateLive, wire.StateDegraded, wire.StateLive}
	got := states(frames)
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected states %v, got %v", want, got)
	}
	waitFor(t, func() bool { return r.State() == relay.StateLive && r.Stats().Reconnects >= 1 })

	// Live again: new events flow.
	waitFor(t, func() bool { return b.SubscriberCount(event.ChannelLogs) == 1 })
	publish(t, b, event.NewLog("job-1", "worker", event.LevelInfo, "after"))
	collect(t, s, func(fs []*wire.Frame) bool { return countEvents(fs) >= 1 })
}

func TestRunStopsOnCancel(t *testing.T) {
	b := bus.NewMemory()
	r, cancel, errCh := start(t, b)
	s := r.Attach("")

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	select {
	case <-s.Done():
	default:
		t.Fatal("expected session closed")
	}
}

func TestRunStopsOnBusClose(t *testing.T) {
	b := bus.NewMemory()
	_, _, errCh := start(t, b)

	_ = b.Close()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestDetach(t *testing.T) {
	b := bus.NewMemory()
	r, _, _ := start(t, b)
	s := r.Attach("")
	if r.Stats().Sessions != 1 {
		t.Fatalf("expected 1 session")
	}
	r.Detach(s)
	if r.Stats().Sessions != 0 {
		t.Fatalf("expected 0 sessions")
	}
	if s.Len() != 0 {
		t.Fatalf("expected queue discarded")
	}
}
