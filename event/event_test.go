package event_test

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/xraph/beacon"
	"github.com/xraph/beacon/event"
	"github.com/xraph/beacon/job"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestChannelFor(t *testing.T) {
	tests := []struct {
		kind event.Kind
		want event.Channel
	}{
		{event.KindLog, event.ChannelLogs},
		{event.KindPhase, event.ChannelPhases},
		{event.KindProgress, event.ChannelPhases},
		{event.KindStatus, event.ChannelStatus},
	}
	for _, tt := range tests {
		got, ok := event.ChannelFor(tt.kind)
		if !ok || got != tt.want {
			t.Errorf("ChannelFor(%s) = %q, %v; want %q", tt.kind, got, ok, tt.want)
		}
	}
	if _, ok := event.ChannelFor("bogus"); ok {
		t.Error("ChannelFor(bogus) should not resolve")
	}
}

func TestChannelNamesAreFixed(t *testing.T) {
	want := []event.Channel{"logs", "phase_updates", "status_updates"}
	if got := event.Channels(); !reflect.DeepEqual(got, want) {
		t.Errorf("Channels() = %v, want %v", got, want)
	}
}

func TestRoundTripAllVariants(t *testing.T) {
	events := []event.Event{
		{JobID: "j1", OccurredAt: t0, Component: "crawler", Payload: event.Log{Level: event.LevelWarn, Message: "slow"},
			Data: map[string]any{"url": "https://example.com"}},
		{JobID: "j1", OccurredAt: t0, Payload: event.Phase{Phase: "embed", Message: "embedding"}},
		{JobID: "j1", OccurredAt: t0, Payload: event.Progress{Current: 3, Total: 10, Message: "3 of 10"}},
		{JobID: "j1", OccurredAt: t0, Payload: event.Status{Status: job.StatusFailure, Reason: "superseded"}},
	}
	for _, orig := range events {
		raw, err := event.Encode(orig)
		if err != nil {
			t.Fatalf("Encode(%s): %v", orig.Kind(), err)
		}
		got, err := event.Decode(raw)
		if err != nil {
			t.Fatalf("Decode(%s): %v", orig.Kind(), err)
		}
		if !reflect.DeepEqual(got, orig) {
			t.Errorf("round trip %s:\n got  %#v\n want %#v", orig.Kind(), got, orig)
		}
	}
}

func TestReservedKeysBelongToOwningKind(t *testing.T) {
	tests := []struct {
		name string
		evt  event.Event
		want map[string]any
	}{
		{
			name: "log keeps every key",
			evt: event.Event{JobID: "j1", OccurredAt: t0, Payload: event.Log{Level: event.LevelError, Message: "upstream failed"},
				Data: map[string]any{"phase": 3, "status": 500, "total": "n/a", "reason": "timeout", "current": "x"}},
			want: map[string]any{"phase": float64(3), "status": float64(500), "total": "n/a", "reason": "timeout", "current": "x"},
		},
		{
			name: "status keeps progress keys",
			evt: event.Event{JobID: "j1", OccurredAt: t0, Payload: event.Status{Status: job.StatusRunning},
				Data: map[string]any{"total": "n/a", "phase": 2}},
			want: map[string]any{"total": "n/a", "phase": float64(2)},
		},
		{
			name: "phase keeps status keys",
			evt: event.Event{JobID: "j1", OccurredAt: t0, Payload: event.Phase{Phase: "fetch"},
				Data: map[string]any{"status": "ok"}},
			want: map[string]any{"status": "ok"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := event.Encode(tt.evt)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := event.Decode(raw)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !reflect.DeepEqual(got.Payload, tt.evt.Payload) {
				t.Errorf("payload = %#v, want %#v", got.Payload, tt.evt.Payload)
			}
			if !reflect.DeepEqual(got.Data, tt.want) {
				t.Errorf("data = %#v, want %#v", got.Data, tt.want)
			}
		})
	}
}

func TestWireEnvelopeShape(t *testing.T) {
	e := event.Event{JobID: "j1", OccurredAt: t0, Component: "planner",
		Payload: event.Phase{Phase: "fetch", Message: "fetching"}}
	raw, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	for _, key := range []string{"job_id", "occurred_at", "kind", "component", "message", "structured_data"} {
		if _, ok := m[key]; !ok {
			t.Errorf("envelope missing %q: %s", key, raw)
		}
	}
	if m["kind"] != "phase_update" {
		t.Errorf("kind = %v, want phase_update", m["kind"])
	}
	sd, _ := m["structured_data"].(map[string]any)
	if sd["phase"] != "fetch" {
		t.Errorf("structured_data.phase = %v, want fetch", sd["phase"])
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{{{`},
		{"missing job_id", `{"kind":"log","message":"x"}`},
		{"missing kind", `{"job_id":"j1","message":"x"}`},
		{"unknown kind", `{"job_id":"j1","kind":"telemetry"}`},
		{"phase without phase", `{"job_id":"j1","kind":"phase_update","message":"x"}`},
		{"bad status", `{"job_id":"j1","kind":"status_update","structured_data":{"status":"paused"}}`},
		{"bad level", `{"job_id":"j1","kind":"log","level":"loud"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := event.Decode([]byte(tt.raw))
			if !errors.Is(err, beacon.ErrMalformedEnvelope) {
				t.Errorf("err = %v, want ErrMalformedEnvelope", err)
			}
		})
	}
}

func TestDecodeDefaultsLogLevel(t *testing.T) {
	e, err := event.Decode([]byte(`{"job_id":"j1","kind":"log","message":"hi"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if l, ok := e.Payload.(event.Log); !ok || l.Level != event.LevelInfo {
		t.Errorf("payload = %#v, want info Log", e.Payload)
	}
}

func TestEncodeWithoutPayloadFails(t *testing.T) {
	if _, err := event.Encode(event.Event{JobID: "j1"}); err == nil {
		t.Fatal("expected error encoding an event without payload")
	}
}
