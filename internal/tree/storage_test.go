package tree

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/solatis/cepwarden/internal/rules"
	"github.com/solatis/cepwarden/internal/types"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return epoch.Add(time.Duration(sec) * time.Second) }

func pmAt(sec int, payload types.Payload) *PartialMatch {
	ev := types.NewEvent("T", at(sec), payload)
	return NewPartialMatch([]*types.Event{ev}, []int{0})
}

func valueKey(pm *PartialMatch) (any, bool) {
	v, ok := pm.Events[0].Payload["v"]
	if !ok {
		return nil, false
	}
	return v, true
}

func TestPartialMatch_Timestamps(t *testing.T) {
	a := types.NewEvent("A", at(5), nil)
	b := types.NewEvent("B", at(2), nil)
	c := types.NewEvent("C", at(9), nil)
	pm := NewPartialMatch([]*types.Event{a, b, c}, []int{0, 1, 2})

	if !pm.First.Equal(at(2)) || !pm.Last.Equal(at(9)) {
		t.Errorf("First, Last = %v, %v; want %v, %v", pm.First, pm.Last, at(2), at(9))
	}
	if pm.Span() != 7*time.Second {
		t.Errorf("Span() = %v, want 7s", pm.Span())
	}
	if !pm.Contains(b.SequenceID) || pm.Contains(b.SequenceID+1000) {
		t.Error("Contains() reported wrong membership")
	}
}

func TestStorage_Idempotence(t *testing.T) {
	storages := map[string]Storage{
		"unsorted":      NewUnsortedStorage(1),
		"sorted":        NewSortedStorage(valueKey, rules.OpLte, SideLeft, 1),
		"by first":      NewTimestampStorage(true, rules.OpLte, SideRight, 1),
		"by last":       NewTimestampStorage(false, rules.OpLte, SideLeft, 1),
		"interval four": NewUnsortedStorage(4),
	}
	for name, s := range storages {
		t.Run(name, func(t *testing.T) {
			pm := pmAt(10, types.Payload{"v": 1.0})
			s.Add(pm)
			s.Add(pm)

			s.TryCleanExpired(at(5))
			if got := count(s.All(), pm); got != 2 {
				t.Fatalf("after early clean-up: %d copies, want 2", got)
			}
			for i := 0; i < 4; i++ {
				s.TryCleanExpired(at(11))
			}
			if got := count(s.All(), pm); got != 0 {
				t.Errorf("after late clean-up: %d copies, want 0", got)
			}
		})
	}
}

func count(pms []*PartialMatch, want *PartialMatch) int {
	n := 0
	for _, pm := range pms {
		if pm == want {
			n++
		}
	}
	return n
}

func TestStorage_AmortizedCleanUp(t *testing.T) {
	s := NewUnsortedStorage(3)
	s.Add(pmAt(1, nil))
	s.Add(pmAt(2, nil))

	if n := s.TryCleanExpired(at(10)); n != 0 {
		t.Fatalf("first attempt dropped %d, want 0", n)
	}
	if n := s.TryCleanExpired(at(10)); n != 0 {
		t.Fatalf("second attempt dropped %d, want 0", n)
	}
	if n := s.TryCleanExpired(at(10)); n != 2 {
		t.Fatalf("third attempt dropped %d, want 2", n)
	}
}

func TestSortedStorage_RangeQueries(t *testing.T) {
	tests := []struct {
		op   rules.Operator
		side Side
		want []float64
	}{
		{rules.OpLt, SideLeft, []float64{1}},
		{rules.OpLte, SideLeft, []float64{1, 2, 2}},
		{rules.OpGt, SideLeft, []float64{3, 5}},
		{rules.OpGte, SideLeft, []float64{2, 2, 3, 5}},
		{rules.OpEq, SideLeft, []float64{2, 2}},
		{rules.OpNeq, SideLeft, []float64{1, 3, 5}},
		{rules.OpLt, SideRight, []float64{3, 5}},
		{rules.OpGte, SideRight, []float64{1, 2, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			s := NewSortedStorage(valueKey, tt.op, tt.side, 1)
			for i, v := range []float64{5, 2, 1, 3, 2} {
				s.Add(pmAt(i, types.Payload{"v": v}))
			}
			got := s.Get(2.0)
			if len(got) != len(tt.want) {
				t.Fatalf("Get(2) returned %d matches, want %d", len(got), len(tt.want))
			}
			for i, pm := range got {
				if v := pm.Events[0].Payload["v"]; v != tt.want[i] {
					t.Errorf("Get(2)[%d] = %v, want %v", i, v, tt.want[i])
				}
			}
		})
	}
}

func TestSortedStorage_StableInsertAndUnkeyed(t *testing.T) {
	s := NewSortedStorage(valueKey, rules.OpEq, SideLeft, 1)
	first := pmAt(1, types.Payload{"v": 2.0})
	second := pmAt(2, types.Payload{"v": 2.0})
	s.Add(pmAt(3, types.Payload{"v": 7.0}))
	s.Add(first)
	s.Add(second)

	got := s.Get(2.0)
	if len(got) != 2 || got[0] != first || got[1] != second {
		t.Errorf("equal keys not kept in insertion order")
	}
	if s.Add(pmAt(4, types.Payload{"other": 1.0})) {
		t.Error("Add() of unkeyed match = true, want false")
	}
	if s.Len() != 3 {
		t.Errorf("Len() = %d, want 3", s.Len())
	}
	if s.Get(nil) != nil {
		t.Error("Get(nil) returned matches")
	}
}

func TestTimestampStorage_PrefixExpiration(t *testing.T) {
	s := NewTimestampStorage(true, rules.OpLte, SideRight, 1)
	for sec := 1; sec <= 5; sec++ {
		s.Add(pmAt(sec, nil))
	}
	if n := s.TryCleanExpired(at(3)); n != 2 {
		t.Fatalf("TryCleanExpired() = %d, want 2", n)
	}
	got := s.Get(at(4))
	if len(got) != 2 {
		t.Errorf("Get(v <= first) with v=4s returned %d, want 2", len(got))
	}
}

func TestSortedStorage_PropertyMatchesLinearScan(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	ops := []rules.Operator{rules.OpLt, rules.OpLte, rules.OpGt, rules.OpGte, rules.OpEq, rules.OpNeq}

	properties.Property("range query equals linear filter", prop.ForAll(
		func(keys []int, query int, opIdx int, right bool) bool {
			op := ops[opIdx]
			side := SideLeft
			if right {
				side = SideRight
			}
			s := NewSortedStorage(valueKey, op, side, 1)
			for i, k := range keys {
				s.Add(pmAt(i, types.Payload{"v": float64(k)}))
			}

			want := 0
			for _, k := range keys {
				l, r := float64(k), float64(query)
				if right {
					l, r = r, l
				}
				if rules.Compare(op, l, r) {
					want++
				}
			}
			got := s.Get(float64(query))
			if len(got) != want {
				return false
			}
			for _, pm := range got {
				l, r := pm.Events[0].Payload["v"].(float64), float64(query)
				if right {
					l, r = r, l
				}
				if !rules.Compare(op, l, r) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 10)),
		gen.IntRange(-1, 11),
		gen.IntRange(0, len(ops)-1),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
