package reconcile

import (
	"testing"
	"time"

	"github.com/xraph/beacon/event"
	"github.com/xraph/beacon/job"
)

func TestViewApply(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	status := func(s job.Status) event.Event {
		e := event.New("job-1", "lifecycle", event.Status{Status: s})
		e.OccurredAt = at
		return e
	}

	tests := []struct {
		name    string
		events  []event.Event
		changed bool
		want    job.Status
	}{
		{"first status", []event.Event{status(job.StatusPending)}, true, job.StatusPending},
		{"forward", []event.Event{status(job.StatusPending), status(job.StatusRunning)}, true, job.StatusRunning},
		{"terminal", []event.Event{status(job.StatusRunning), status(job.StatusSuccess)}, true, job.StatusSuccess},
		{"running after success", []event.Event{status(job.StatusSuccess), status(job.StatusRunning)}, false, job.StatusSuccess},
		{"pending after running", []event.Event{status(job.StatusRunning), status(job.StatusPending)}, false, job.StatusRunning},
		{"failure after success", []event.Event{status(job.StatusSuccess), status(job.StatusFailure)}, false, job.StatusSuccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewView()
			var changed bool
			for _, e := range tt.events {
				changed = v.Apply(e)
			}
			if changed != tt.changed {
				t.Errorf("expected changed=%v, got %v", tt.changed, changed)
			}
			jv, _ := v.Job("job-1")
			if jv.Status != tt.want {
				t.Errorf("expected %s, got %s", tt.want, jv.Status)
			}
			if jv.Events != len(tt.events) {
				t.Errorf("expected %d events counted, got %d", len(tt.events), jv.Events)
			}
		})
	}
}

func TestViewPhaseAndProgress(t *testing.T) {
	v := NewView()
	if !v.Apply(event.New("job-1", "w", event.Phase{Phase: "crawl"})) {
		t.Fatal("expected phase change")
	}
	if v.Apply(event.New("job-1", "w", event.Phase{Phase: "crawl"})) {
		t.Fatal("repeated phase should not change")
	}
	if !v.Apply(event.New("job-1", "w", event.Progress{Current: 1, Total: 4, Message: "1/4"})) {
		t.Fatal("expected progress change")
	}

	jv, _ := v.Job("job-1")
	if jv.Status != job.StatusRunning || jv.Phase != "crawl" || jv.Current != 1 || jv.LastMessage != "1/4" {
		t.Fatalf("unexpected view: %+v", jv)
	}

	v.Apply(event.New("job-1", "w", event.Status{Status: job.StatusSuccess}))
	if v.Apply(event.New("job-1", "w", event.Progress{Current: 2, Total: 4})) {
		t.Fatal("progress after terminal should be ignored")
	}
	if len(v.Jobs()) != 1 {
		t.Fatalf("expected 1 job")
	}
}
