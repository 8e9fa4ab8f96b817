package tree

import (
	"sort"
	"time"

	"github.com/solatis/cepwarden/internal/rules"
)

/*
 * Partial-match storage.
 *
 * Unsorted storage keeps arrival order and returns its whole buffer from
 * Get. Sorted storage keeps entries ordered by a key function and answers
 * Get(v) with the contiguous range satisfying the stored relation:
 *
 *   SideLeft:  key <op> v
 *   SideRight: v <op> key   (answered as key <flip(op)> v)
 *
 *   <   [0, lower(v))        <=  [0, upper(v))
 *   >   [upper(v), n)        >=  [lower(v), n)
 *   ==  [lower(v), upper(v)) !=  [0, lower(v)) ++ [upper(v), n)
 *
 * Clean-up is amortized: only every cleanUpInterval-th TryCleanExpired call
 * scans. Nodes attempt a clean-up once per handled match, so the interval
 * counts additions along the join path. Stale entries can therefore still
 * be returned by Get; every join re-checks the window.
 */

// Side selects which side of the relation the stored key is on.
type Side int

const (
	SideLeft Side = iota
	SideRight
)

// KeyFunc extracts a sort key from a partial match. ok is false when the
// match has no usable key.
type KeyFunc func(pm *PartialMatch) (key any, ok bool)

// Storage holds the partial matches of one node.
type Storage interface {
	// Add stores pm. It returns false when pm has no key and was not stored.
	Add(pm *PartialMatch) bool
	// Get returns the stored matches compatible with a query value produced
	// by the sibling storage's Key. Unsorted storage ignores v.
	Get(v any) []*PartialMatch
	// Key computes the query value for pm, or ok=false when pm cannot be
	// keyed (no candidates exist for it).
	Key(pm *PartialMatch) (any, bool)
	// TryCleanExpired drops matches whose first event is before cutoff on
	// every cleanUpInterval-th call. Returns the number dropped.
	TryCleanExpired(cutoff time.Time) int
	// RemoveIf drops every match for which fn returns true.
	RemoveIf(fn func(*PartialMatch) bool) int
	Len() int
	All() []*PartialMatch
	Sorted() bool
	String() string
}

// UnsortedStorage keeps matches in arrival order.
type UnsortedStorage struct {
	items    []*PartialMatch
	interval int
	attempts int
}

// NewUnsortedStorage returns an unsorted storage. interval must be > 0.
func NewUnsortedStorage(cleanUpInterval int) *UnsortedStorage {
	return &UnsortedStorage{interval: cleanUpInterval}
}

func (s *UnsortedStorage) Add(pm *PartialMatch) bool {
	s.items = append(s.items, pm)
	return true
}

func (s *UnsortedStorage) Get(any) []*PartialMatch { return s.items }

func (s *UnsortedStorage) Key(*PartialMatch) (any, bool) { return nil, true }

func (s *UnsortedStorage) TryCleanExpired(cutoff time.Time) int {
	if s.attempts++; s.attempts < s.interval {
		return 0
	}
	s.attempts = 0
	return s.RemoveIf(func(pm *PartialMatch) bool { return pm.First.Before(cutoff) })
}

func (s *UnsortedStorage) RemoveIf(fn func(*PartialMatch) bool) int {
	kept := s.items[:0]
	for _, pm := range s.items {
		if !fn(pm) {
			kept = append(kept, pm)
		}
	}
	removed := len(s.items) - len(kept)
	clear(s.items[len(kept):])
	s.items = kept
	return removed
}

func (s *UnsortedStorage) Len() int             { return len(s.items) }
func (s *UnsortedStorage) All() []*PartialMatch { return s.items }
func (s *UnsortedStorage) Sorted() bool         { return false }
func (s *UnsortedStorage) String() string       { return "unsorted" }

type sortedEntry struct {
	key any
	pm  *PartialMatch
}

// SortedStorage keeps matches ordered by key and answers range queries.
type SortedStorage struct {
	entries  []sortedEntry
	keyFn    KeyFunc
	op       rules.Operator // relation with the stored key on the left
	interval int
	attempts int
	// byFirst means the key is the first timestamp: expired entries form a
	// prefix.
	byFirst bool
	desc    string
}

// NewSortedStorage returns storage keyed by keyFn answering "key op v" for
// SideLeft and "v op key" for SideRight.
func NewSortedStorage(keyFn KeyFunc, op rules.Operator, side Side, cleanUpInterval int) *SortedStorage {
	if side == SideRight {
		op = op.Flip()
	}
	return &SortedStorage{keyFn: keyFn, op: op, interval: cleanUpInterval}
}

// NewTimestampStorage returns storage keyed by the first (byFirst) or last
// timestamp of each match.
func NewTimestampStorage(byFirst bool, op rules.Operator, side Side, cleanUpInterval int) *SortedStorage {
	keyFn := func(pm *PartialMatch) (any, bool) { return pm.Last, true }
	if byFirst {
		keyFn = func(pm *PartialMatch) (any, bool) { return pm.First, true }
	}
	s := NewSortedStorage(keyFn, op, side, cleanUpInterval)
	s.byFirst = byFirst
	return s
}

func (s *SortedStorage) Add(pm *PartialMatch) bool {
	key, ok := s.keyFn(pm)
	if !ok {
		return false
	}
	n := len(s.entries)
	if n == 0 || rules.CompareKeys(s.entries[n-1].key, key) <= 0 {
		s.entries = append(s.entries, sortedEntry{key: key, pm: pm})
		return true
	}
	// insert after equal keys to keep insertion order stable
	i := s.upper(key)
	s.entries = append(s.entries, sortedEntry{})
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = sortedEntry{key: key, pm: pm}
	return true
}

func (s *SortedStorage) Key(pm *PartialMatch) (any, bool) { return s.keyFn(pm) }

func (s *SortedStorage) Get(v any) []*PartialMatch {
	if v == nil {
		return nil
	}
	switch s.op {
	case rules.OpLt:
		return s.slice(0, s.lower(v))
	case rules.OpLte:
		return s.slice(0, s.upper(v))
	case rules.OpGt:
		return s.slice(s.upper(v), len(s.entries))
	case rules.OpGte:
		return s.slice(s.lower(v), len(s.entries))
	case rules.OpEq:
		return s.slice(s.lower(v), s.upper(v))
	case rules.OpNeq:
		lo, hi := s.lower(v), s.upper(v)
		return append(s.slice(0, lo), s.slice(hi, len(s.entries))...)
	default:
		return s.All()
	}
}

// lower is the first index whose key is >= v.
func (s *SortedStorage) lower(v any) int {
	return sort.Search(len(s.entries), func(i int) bool {
		return rules.CompareKeys(s.entries[i].key, v) >= 0
	})
}

// upper is the first index whose key is > v.
func (s *SortedStorage) upper(v any) int {
	return sort.Search(len(s.entries), func(i int) bool {
		return rules.CompareKeys(s.entries[i].key, v) > 0
	})
}

func (s *SortedStorage) slice(from, to int) []*PartialMatch {
	if from >= to {
		return nil
	}
	out := make([]*PartialMatch, 0, to-from)
	for _, e := range s.entries[from:to] {
		out = append(out, e.pm)
	}
	return out
}

func (s *SortedStorage) TryCleanExpired(cutoff time.Time) int {
	if s.attempts++; s.attempts < s.interval {
		return 0
	}
	s.attempts = 0
	if !s.byFirst {
		return s.RemoveIf(func(pm *PartialMatch) bool { return pm.First.Before(cutoff) })
	}
	n := s.lower(cutoff)
	if n == 0 {
		return 0
	}
	clear(s.entries[:n])
	s.entries = s.entries[n:]
	return n
}

func (s *SortedStorage) RemoveIf(fn func(*PartialMatch) bool) int {
	kept := s.entries[:0]
	for _, e := range s.entries {
		if !fn(e.pm) {
			kept = append(kept, e)
		}
	}
	removed := len(s.entries) - len(kept)
	clear(s.entries[len(kept):])
	s.entries = kept
	return removed
}

func (s *SortedStorage) Len() int { return len(s.entries) }

func (s *SortedStorage) All() []*PartialMatch { return s.slice(0, len(s.entries)) }

func (s *SortedStorage) Sorted() bool { return true }

func (s *SortedStorage) String() string {
	if s.desc == "" {
		return "sorted(key " + s.op.String() + " v)"
	}
	return "sorted(" + s.desc + ")"
}
