package id_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/xraph/beacon/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"SessionID", id.NewSessionID, "sess_"},
		{"BatchID", id.NewBatchID, "batch_"},
		{"ClientID", id.NewClientID, "cli_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	orig := id.NewSessionID()
	parsed, err := id.ParseWithPrefix(orig.String(), id.PrefixSession)
	if err != nil {
		t.Fatalf("ParseWithPrefix: %v", err)
	}
	if parsed.String() != orig.String() || parsed.Prefix() != id.PrefixSession {
		t.Errorf("round trip mismatch: %q != %q", parsed, orig)
	}
}

func TestParseWrongPrefix(t *testing.T) {
	s := id.NewBatchID().String()
	if _, err := id.ParseWithPrefix(s, id.PrefixSession); err == nil {
		t.Fatal("expected prefix mismatch error")
	}
}

func TestParseInvalid(t *testing.T) {
	for _, s := range []string{"", "sess_", "_abc", "sess_not-a-typeid", "Sess_01h2xcejqtf2nbrexx3vqjhp41"} {
		if _, err := id.Parse(s); err == nil {
			t.Errorf("Parse(%q): expected error", s)
		}
	}
}

func TestIDsAreTimeOrdered(t *testing.T) {
	a := id.NewBatchID().String()
	time.Sleep(2 * time.Millisecond)
	b := id.NewBatchID().String()
	if a >= b {
		t.Errorf("expected %q < %q", a, b)
	}
}

func TestJSON(t *testing.T) {
	type wrapper struct {
		ID id.ID `json:"id"`
	}
	w := wrapper{ID: id.NewClientID()}
	data, err := json.Marshal(w)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got wrapper
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.ID.String() != w.ID.String() {
		t.Errorf("got %q, want %q", got.ID, w.ID)
	}

	var empty wrapper
	if err := json.Unmarshal([]byte(`{"id":""}`), &empty); err != nil {
		t.Fatalf("Unmarshal empty: %v", err)
	}
	if !empty.ID.IsNil() {
		t.Error("expected Nil ID for empty string")
	}
}
