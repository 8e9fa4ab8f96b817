package types

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDecodeEvent(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"GOOG","timestamp":"2024-01-01T00:00:05Z","sequence_id":99,"payload":{"price":101.5}}`))
	if err != nil {
		t.Fatalf("DecodeEvent() error = %v, want nil", err)
	}
	if ev.Type != "GOOG" {
		t.Errorf("Type = %q, want GOOG", ev.Type)
	}
	if want := time.Date(2024, 1, 1, 0, 0, 5, 0, time.UTC); !ev.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", ev.Timestamp, want)
	}
	if ev.Payload["price"] != 101.5 {
		t.Errorf("Payload = %v, want price 101.5", ev.Payload)
	}
	if ev.SequenceID != LastSequenceID() {
		t.Errorf("SequenceID = %d, want freshly assigned %d", ev.SequenceID, LastSequenceID())
	}

	noPayload, err := DecodeEvent([]byte(`{"type":"A","timestamp":"2024-01-01T00:00:00Z"}`))
	if err != nil {
		t.Fatalf("DecodeEvent() error = %v, want nil", err)
	}
	if noPayload.Payload == nil {
		t.Error("Payload = nil, want empty map")
	}
}

func TestDecodeEvent_Errors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr error
	}{
		{"missing type", `{"timestamp":"2024-01-01T00:00:00Z"}`, ErrInvalidEvent},
		{"missing timestamp", `{"type":"A"}`, ErrInvalidEvent},
		{"too large", `{"type":"A","payload":{"x":"` + strings.Repeat("x", MaxPayloadSize) + `"}}`, ErrPayloadTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeEvent([]byte(tt.data)); !errors.Is(err, tt.wantErr) {
				t.Errorf("DecodeEvent() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if _, err := DecodeEvent([]byte(`{"type":`)); err == nil {
		t.Error("DecodeEvent() error = nil for truncated JSON")
	}
}

func TestEvent_MarshalJSON(t *testing.T) {
	ts := time.Date(2024, 1, 1, 1, 0, 0, 0, time.FixedZone("CET", 3600))
	ev := NewEvent("A", ts, Payload{"k": "v"})
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal() error = %v, want nil", err)
	}
	back, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent() error = %v, want nil", err)
	}
	if !back.Timestamp.Equal(ts) || back.Timestamp.Location() != time.UTC {
		t.Errorf("Timestamp = %v, want %v in UTC", back.Timestamp, ts)
	}
	if back.SequenceID == ev.SequenceID {
		t.Error("decoded event reused the encoded sequence id")
	}
}

func TestNewEvent_SequenceIDsIncrease(t *testing.T) {
	a := NewEvent("A", time.Now(), nil)
	b := NewEvent("A", time.Now(), nil)
	if b.SequenceID <= a.SequenceID {
		t.Errorf("SequenceID %d then %d, want strictly increasing", a.SequenceID, b.SequenceID)
	}
}

func TestMatchID(t *testing.T) {
	before := time.Now().Add(-time.Second)
	id := NewMatchID()

	parsed, err := ParseMatchID(string(id))
	if err != nil {
		t.Fatalf("ParseMatchID() error = %v, want nil", err)
	}
	if parsed != id {
		t.Errorf("ParseMatchID() = %q, want %q", parsed, id)
	}
	if ts := MatchIDTime(id); ts.Before(before) || ts.After(time.Now().Add(time.Second)) {
		t.Errorf("MatchIDTime() = %v, want about now", ts)
	}

	if _, err := ParseMatchID("not-a-uuid"); err == nil {
		t.Error("ParseMatchID() error = nil for invalid input")
	}
	if !MatchIDTime("not-a-uuid").IsZero() {
		t.Error("MatchIDTime() non-zero for invalid input")
	}
}
