// Package event defines the observability envelope carried from job
// workers to clients, the channels it travels on, its content
// fingerprint, and the store interface for the bounded per-job log.
package event

import (
	"fmt"
	"time"

	"github.com/xraph/beacon"
	"github.com/xraph/beacon/job"
)

// Kind identifies the payload variant of an event.
type Kind string

const (
	KindLog      Kind = "log"
	KindPhase    Kind = "phase_update"
	KindProgress Kind = "progress_update"
	KindStatus   Kind = "status_update"
)

// Level is the severity of a Log event.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	switch l {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return true
	}
	return false
}

// Channel is a named bus partition. Publisher and relay must agree on
// these names exactly; a mismatch silently loses events.
type Channel string

const (
	ChannelLogs   Channel = "logs"
	ChannelPhases Channel = "phase_updates"
	ChannelStatus Channel = "status_updates"
)

// Channels lists every bus channel in a stable order.
func Channels() []Channel {
	return []Channel{ChannelLogs, ChannelPhases, ChannelStatus}
}

// ChannelFor maps an event kind to the channel it is published on.
// Progress updates share the phase channel.
func ChannelFor(k Kind) (Channel, bool) {
	switch k {
	case KindLog:
		return ChannelLogs, true
	case KindPhase, KindProgress:
		return ChannelPhases, true
	case KindStatus:
		return ChannelStatus, true
	}
	return "", false
}

// Payload is the kind-specific part of an event. The concrete types
// are Log, Phase, Progress and Status.
type Payload interface {
	Kind() Kind
	// Text is the human-readable message.
	Text() string

	validate() error
	// fields returns the variant's values that travel in structured_data.
	fields() map[string]any
	// canonical is the payload's contribution to the fingerprint.
	canonical() string
}

// Log is a leveled log line emitted by a job component.
type Log struct {
	Level   Level
	Message string
}

func (p Log) Kind() Kind { return KindLog }
func (p Log) Text() string { return p.Message }
func (p Log) fields() map[string]any { return nil }
func (p Log) canonical() string { return string(p.Level) + "\x00" + p.Message }
func (p Log) validate() error {
	if !p.Level.Valid() {
		return fmt.Errorf("unknown level %q", p.Level)
	}
	return nil
}

// Phase announces that the job entered a named phase.
type Phase struct {
	Phase   string
	Message string
}

func (p Phase) Kind() Kind   { return KindPhase }
func (p Phase) Text() string { return p.Message }
func (p Phase) fields() map[string]any {
	return map[string]any{keyPhase: p.Phase}
}
func (p Phase) canonical() string { return p.Phase + "\x00" + p.Message }
func (p Phase) validate() error {
	if p.Phase == "" {
		return fmt.Errorf("phase update without phase")
	}
	return nil
}

// Progress reports completion of Current out of Total units.
type Progress struct {
	Current int64
	Total   int64
	Message string
}

func (p Progress) Kind() Kind   { return KindProgress }
func (p Progress) Text() string { return p.Message }
func (p Progress) fields() map[string]any {
	return map[string]any{keyCurrent: p.Current, keyTotal: p.Total}
}
func (p Progress) canonical() string {
	return fmt.Sprintf("%d/%d\x00%s", p.Current, p.Total, p.Message)
}
func (p Progress) validate() error {
	if p.Current < 0 || p.Total < 0 {
		return fmt.Errorf("negative progress %d/%d", p.Current, p.Total)
	}
	return nil
}

// Status reports a job status transition.
type Status struct {
	Status  job.Status
	Message string
	Reason  string
}

func (p Status) Kind() Kind   { return KindStatus }
func (p Status) Text() string { return p.Message }
func (p Status) fields() map[string]any {
	f := map[string]any{keyStatus: string(p.Status)}
	if p.Reason != "" {
		f[keyReason] = p.Reason
	}
	return f
}
func (p Status) canonical() string {
	return string(p.Status) + "\x00" + p.Reason + "\x00" + p.Message
}
func (p Status) validate() error {
	if !p.Status.Valid() {
		return fmt.Errorf("unknown status %q", p.Status)
	}
	return nil
}

// Event is one immutable unit of observability data for a job.
type Event struct {
	JobID      string
	OccurredAt time.Time
	Component  string
	Payload    Payload

	// Data is caller-supplied structured data. A variant's own keys
	// (phase; current and total; status and reason) are overwritten on the
	// wire for that variant only.
	Data map[string]any
}

// Kind returns the payload kind, or "" if the event has no payload.
func (e Event) Kind() Kind {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Kind()
}

// Channel returns the bus channel the event is published on.
func (e Event) Channel() Channel {
	ch, _ := ChannelFor(e.Kind())
	return ch
}

// Validate checks the envelope. Failures wrap beacon.ErrMalformedEnvelope.
func (e Event) Validate() error {
	if e.JobID == "" {
		return fmt.Errorf("%w: missing job_id", beacon.ErrMalformedEnvelope)
	}
	if e.Payload == nil {
		return fmt.Errorf("%w: missing kind", beacon.ErrMalformedEnvelope)
	}
	if err := e.Payload.validate(); err != nil {
		return fmt.Errorf("%w: %s: %v", beacon.ErrMalformedEnvelope, e.Kind(), err)
	}
	return nil
}

// New builds an event for jobID stamped with the current time.
func New(jobID, component string, p Payload) Event {
	return Event{
		JobID:      jobID,
		OccurredAt: time.Now().UTC(),
		Component:  component,
		Payload:    p,
	}
}

// NewLog is shorthand for a Log event.
func NewLog(jobID, component string, level Level, msg string) Event {
	return New(jobID, component, Log{Level: level, Message: msg})
}
