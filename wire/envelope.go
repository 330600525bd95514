package wire

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/beacon/event"
)

// Envelope carries one event inside a frame. In JSON it is the flat
// event envelope; in msgpack it is the same envelope as a native map.
type Envelope struct {
	event.Event
}

var (
	_ msgpack.CustomEncoder = Envelope{}
	_ msgpack.CustomDecoder = (*Envelope)(nil)
)

// MarshalJSON encodes the flat envelope.
func (e Envelope) MarshalJSON() ([]byte, error) { return json.Marshal(e.Event) }

// UnmarshalJSON decodes the flat envelope.
func (e *Envelope) UnmarshalJSON(b []byte) error { return json.Unmarshal(b, &e.Event) }

// EncodeMsgpack writes the envelope as a msgpack map.
func (e Envelope) EncodeMsgpack(enc *msgpack.Encoder) error {
	raw, err := json.Marshal(e.Event)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	return enc.Encode(m)
}

// DecodeMsgpack reads an envelope written by EncodeMsgpack.
func (e *Envelope) DecodeMsgpack(dec *msgpack.Decoder) error {
	m, err := dec.DecodeMap()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("wire: re-encode envelope: %w", err)
	}
	return json.Unmarshal(raw, &e.Event)
}
