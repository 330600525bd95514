package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/beacon"
	"github.com/xraph/beacon/job"
)

// Reserved structured_data keys carrying variant fields.
const (
	keyPhase   = "phase"
	keyCurrent = "current"
	keyTotal   = "total"
	keyStatus  = "status"
	keyReason  = "reason"
)

// ownedKeys lists the reserved keys each kind writes. Other kinds leave
// those keys to the caller's data.
var ownedKeys = map[Kind][]string{
	KindPhase:    {keyPhase},
	KindProgress: {keyCurrent, keyTotal},
	KindStatus:   {keyStatus, keyReason},
}

// envelope is the flat wire form shared by the store, bus and HTTP API.
type envelope struct {
	JobID          string          `json:"job_id"`
	OccurredAt     time.Time       `json:"occurred_at"`
	Kind           Kind            `json:"kind"`
	Level          Level           `json:"level,omitempty"`
	Component      string          `json:"component,omitempty"`
	Message        string          `json:"message"`
	StructuredData json.RawMessage `json:"structured_data,omitempty"`
}

type phaseFields struct {
	Phase string `json:"phase"`
}

type progressFields struct {
	Current int64 `json:"current"`
	Total   int64 `json:"total"`
}

type statusFields struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// MarshalJSON encodes the event as the flat envelope.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("%w: missing kind", beacon.ErrMalformedEnvelope)
	}
	env := envelope{
		JobID:      e.JobID,
		OccurredAt: e.OccurredAt,
		Kind:       e.Payload.Kind(),
		Component:  e.Component,
		Message:    e.Payload.Text(),
	}
	if l, ok := e.Payload.(Log); ok {
		env.Level = l.Level
	}

	data := make(map[string]any, len(e.Data)+2)
	for k, v := range e.Data {
		data[k] = v
	}
	for k, v := range e.Payload.fields() {
		data[k] = v
	}
	if len(data) > 0 {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("event: marshal structured_data: %w", err)
		}
		env.StructuredData = raw
	}
	return json.Marshal(env)
}

// UnmarshalJSON decodes the flat envelope back into the typed payload.
func (e *Event) UnmarshalJSON(b []byte) error {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}

	hasData := len(env.StructuredData) > 0 && string(env.StructuredData) != "null"
	var data map[string]any
	if hasData {
		if err := json.Unmarshal(env.StructuredData, &data); err != nil {
			return fmt.Errorf("structured_data: %w", err)
		}
	}
	fields := func(dst any) error {
		if !hasData {
			return nil
		}
		if err := json.Unmarshal(env.StructuredData, dst); err != nil {
			return fmt.Errorf("structured_data: %w", err)
		}
		return nil
	}

	var p Payload
	switch env.Kind {
	case KindLog:
		lvl := env.Level
		if lvl == "" {
			lvl = LevelInfo
		}
		p = Log{Level: lvl, Message: env.Message}
	case KindPhase:
		var f phaseFields
		if err := fields(&f); err != nil {
			return err
		}
		p = Phase{Phase: f.Phase, Message: env.Message}
	case KindProgress:
		var f progressFields
		if err := fields(&f); err != nil {
			return err
		}
		p = Progress{Current: f.Current, Total: f.Total, Message: env.Message}
	case KindStatus:
		var f statusFields
		if err := fields(&f); err != nil {
			return err
		}
		p = Status{Status: job.Status(f.Status), Message: env.Message, Reason: f.Reason}
	case "":
		p = nil
	default:
		return fmt.Errorf("unknown kind %q", env.Kind)
	}

	for _, k := range ownedKeys[env.Kind] {
		delete(data, k)
	}
	if len(data) == 0 {
		data = nil
	}

	*e = Event{
		JobID:      env.JobID,
		OccurredAt: env.OccurredAt,
		Component:  env.Component,
		Payload:    p,
		Data:       data,
	}
	return nil
}

// Encode serializes an event for the store or the bus.
func Encode(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses and validates a raw envelope. Any failure wraps
// beacon.ErrMalformedEnvelope.
func Decode(raw []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return Event{}, fmt.Errorf("%w: %v", beacon.ErrMalformedEnvelope, err)
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}
