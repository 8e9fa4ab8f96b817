// Package tree implements the evaluation tree: partial-match storage, the
// node hierarchy joining partial matches under a sliding window, and the
// builder that instantiates a tree from a pattern and a tree plan.
package tree

import (
	"time"

	"github.com/solatis/cepwarden/internal/types"
)

// PartialMatch is an immutable ordered list of events. Leaves[i] is the
// pattern leaf index Events[i] is bound to.
type PartialMatch struct {
	Events []*types.Event
	Leaves []int
	First  time.Time
	Last   time.Time
}

// NewPartialMatch builds a partial match. events must be non-empty; the
// slices are owned by the match afterwards.
func NewPartialMatch(events []*types.Event, leaves []int) *PartialMatch {
	pm := &PartialMatch{Events: events, Leaves: leaves, First: events[0].Timestamp, Last: events[0].Timestamp}
	for _, ev := range events[1:] {
		if ev.Timestamp.Before(pm.First) {
			pm.First = ev.Timestamp
		}
		if ev.Timestamp.After(pm.Last) {
			pm.Last = ev.Timestamp
		}
	}
	return pm
}

// Contains reports whether the event with sequence id seq is in pm.
func (pm *PartialMatch) Contains(seq uint64) bool {
	for _, ev := range pm.Events {
		if ev.SequenceID == seq {
			return true
		}
	}
	return false
}

// Span is the distance between the earliest and latest event.
func (pm *PartialMatch) Span() time.Duration { return pm.Last.Sub(pm.First) }
