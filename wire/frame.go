// Package wire defines the frames pushed from the relay to clients over
// the streaming transport, and the codecs that serialize them. A stream
// carries batches of event envelopes, periodic heartbeats, relay state
// notices and errors.
package wire

import (
	"time"

	"github.com/xraph/beacon/event"
	"github.com/xraph/beacon/id"
)

// FrameType identifies the frame category.
type FrameType string

const (
	FrameBatch     FrameType = "batch"
	FrameHeartbeat FrameType = "heartbeat"
	FrameState     FrameType = "state"
	FrameErr       FrameType = "error"
)

// Relay states carried by state frames.
const (
	StateLive     = "live"
	StateDegraded = "degraded"
)

// Frame is the push-stream message envelope.
type Frame struct {
	// ID uniquely identifies this frame. Batch frames carry the batch ID.
	ID string `json:"id" msgpack:"id"`

	// Type categorizes the frame.
	Type FrameType `json:"type" msgpack:"type"`

	// Channel is the bus channel a batch came from.
	Channel event.Channel `json:"channel,omitempty" msgpack:"channel,omitempty"`

	// Events holds the batch, in channel order.
	Events []Envelope `json:"events,omitempty" msgpack:"events,omitempty"`

	// State is set on state frames.
	State string `json:"state,omitempty" msgpack:"state,omitempty"`

	// Error carries error details for error frames.
	Error *ErrorDetail `json:"error,omitempty" msgpack:"error,omitempty"`

	// Timestamp records when this frame was created.
	Timestamp time.Time `json:"ts" msgpack:"ts"`
}

// ErrorDetail describes an error in an error frame.
type ErrorDetail struct {
	Code    int    `json:"code" msgpack:"code"`
	Message string `json:"message" msgpack:"message"`
}

// Well-known error codes.
const (
	ErrCodeBadRequest = 400
	ErrCodeNotFound   = 404
	ErrCodeInternal   = 500
)

// ── Constructors ────────────────────────────────────

// NewBatchFrame wraps events from one channel.
func NewBatchFrame(batchID string, ch event.Channel, events []event.Event) *Frame {
	env := make([]Envelope, len(events))
	for i, e := range events {
		env[i] = Envelope{Event: e}
	}
	return &Frame{
		ID:        batchID,
		Type:      FrameBatch,
		Channel:   ch,
		Events:    env,
		Timestamp: time.Now().UTC(),
	}
}

// NewHeartbeatFrame creates a heartbeat.
func NewHeartbeatFrame() *Frame {
	return &Frame{
		ID:        GenerateFrameID(),
		Type:      FrameHeartbeat,
		Timestamp: time.Now().UTC(),
	}
}

// NewStateFrame announces a relay state change.
func NewStateFrame(state string) *Frame {
	return &Frame{
		ID:        GenerateFrameID(),
		Type:      FrameState,
		State:     state,
		Timestamp: time.Now().UTC(),
	}
}

// NewErrorFrame creates an error frame.
func NewErrorFrame(code int, message string) *Frame {
	return &Frame{
		ID:        GenerateFrameID(),
		Type:      FrameErr,
		Error:     &ErrorDetail{Code: code, Message: message},
		Timestamp: time.Now().UTC(),
	}
}

// GenerateFrameID returns a new time-ordered frame ID.
func GenerateFrameID() string {
	return id.NewBatchID().String()
}

// EventList unwraps the batch.
func (f *Frame) EventList() []event.Event {
	out := make([]event.Event, len(f.Events))
	for i, e := range f.Events {
		out[i] = e.Event
	}
	return out
}
