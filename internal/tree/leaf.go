package tree

import (
	"github.com/solatis/cepwarden/internal/pattern"
	"github.com/solatis/cepwarden/internal/rules"
	"github.com/solatis/cepwarden/internal/types"
)

// LeafNode admits events of one primitive event type into the tree.
type LeafNode struct {
	node
	def pattern.PrimitiveEventDefinition
}

func newLeafNode(t *Tree, def pattern.PrimitiveEventDefinition) *LeafNode {
	return &LeafNode{node: newNode(t, KindLeaf, []int{def.LeafIndex}), def: def}
}

func (l *LeafNode) Children() []Node { return nil }

// EventType is the type of event the leaf accepts.
func (l *LeafNode) EventType() types.EventType { return l.def.Type }

// EventName is the pattern name the leaf binds events to.
func (l *LeafNode) EventName() string { return l.def.Name }

// LeafIndex is the leaf's index in the full pattern structure.
func (l *LeafNode) LeafIndex() int { return l.def.LeafIndex }

// HandleEvent expires stale matches, checks ev against the leaf condition
// and, if it holds, stores ev as a one-event match and notifies the parent.
// It reports whether ev was accepted.
func (l *LeafNode) HandleEvent(ev *types.Event) bool {
	l.cleanExpired(ev.Timestamp)
	if _, consumed := l.filtered[ev.SequenceID]; consumed {
		return false
	}
	pm := NewPartialMatch([]*types.Event{ev}, []int{l.def.LeafIndex})
	if !rules.Satisfied(l.cond, l.bindings(pm)) {
		l.tree.stats.RejectedCondition++
		return false
	}
	l.addAndPropagate(pm, true)
	return true
}
