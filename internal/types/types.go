// Package types provides domain models shared across cepwarden components.
//
// Zero-dependency design: types.go and errors.go use only the standard library
// so the engine packages can import them without pulling in storage or
// transport deps. ID utilities in ids.go import uuid but are isolated.
package types

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"
)

// EventType names a class of primitive events (e.g. "GOOG", "login").
type EventType string

// Payload holds the decoded attributes of an event.
// Values follow encoding/json decoding: float64, string, bool, nil,
// []any and map[string]any.
type Payload map[string]any

// sequenceCounter is the process-wide source of Event.SequenceID.
var sequenceCounter atomic.Uint64

// Event is a single primitive event from the input stream.
// Immutable after creation: the engine shares *Event between partial matches.
type Event struct {
	Type       EventType
	Timestamp  time.Time
	Payload    Payload
	SequenceID uint64 // strictly increasing per process, assigned by NewEvent
}

// NewEvent creates an event stamped with the next sequence id.
// SequenceID is the identity used for equality and contiguity checks.
func NewEvent(eventType EventType, ts time.Time, payload Payload) *Event {
	if payload == nil {
		payload = Payload{}
	}
	return &Event{
		Type:       eventType,
		Timestamp:  ts,
		Payload:    payload,
		SequenceID: sequenceCounter.Add(1),
	}
}

// LastSequenceID returns the most recently assigned sequence id.
func LastSequenceID() uint64 {
	return sequenceCounter.Load()
}

// eventJSON is the wire shape of an event in JSONL streams and match output.
type eventJSON struct {
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	SequenceID uint64    `json:"sequence_id,omitempty"`
	Payload    Payload   `json:"payload"`
}

// MarshalJSON implements json.Marshaler.
func (e *Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(eventJSON{
		Type:       e.Type,
		Timestamp:  e.Timestamp.UTC(),
		SequenceID: e.SequenceID,
		Payload:    e.Payload,
	})
}

// DecodeEvent parses one wire-format event and stamps it with a fresh
// sequence id. Any sequence_id in the input is ignored.
func DecodeEvent(data []byte) (*Event, error) {
	if len(data) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(data))
	}
	var raw eventJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if raw.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrInvalidEvent)
	}
	if raw.Timestamp.IsZero() {
		return nil, fmt.Errorf("%w: missing timestamp", ErrInvalidEvent)
	}
	return NewEvent(raw.Type, raw.Timestamp, raw.Payload), nil
}

// Resource limits enforced by the condition language and the input adapters.
const (
	// MaxPathDepth prevents stack overflow during recursive path resolution.
	MaxPathDepth = 16

	// MaxNestedWildcards limits wildcard expansion to prevent combinatorial explosion.
	MaxNestedWildcards = 2

	// MaxInOperatorValues limits IN operator list size.
	MaxInOperatorValues = 64

	// MaxPayloadSize limits a single encoded event accepted by input adapters.
	MaxPayloadSize = 1024 * 1024

	// MaxPatternEvents bounds the number of primitive events in one pattern.
	// Partial-match merges are quadratic in pattern width.
	MaxPatternEvents = 64
)
