package tree

import (
	"github.com/solatis/cepwarden/internal/types"
)

// BinaryNode joins matches of two subtrees (AND or SEQ).
type BinaryNode struct {
	node
	left, right Node
}

func newBinaryNode(t *Tree, kind Kind, left, right Node) *BinaryNode {
	leaves := append(append([]int(nil), left.base().leaves...), right.base().leaves...)
	b := &BinaryNode{node: newNode(t, kind, leaves), left: left, right: right}
	left.base().parent = b
	right.base().parent = b
	return b
}

func (b *BinaryNode) Children() []Node { return []Node{b.left, b.right} }

func (b *BinaryNode) handleNewPartialMatch(source *node, expire bool) {
	fromLeft := source == b.left.base()
	other := b.right.base()
	if !fromLeft {
		other = b.left.base()
	}

	pm := source.popUnhandled()
	if expire {
		other.cleanExpired(pm.Last)
	}

	key, ok := source.storage.Key(pm)
	if !ok {
		return
	}
	candidates := other.storage.Get(key)

	if expire && !b.root {
		b.cleanExpired(pm.Last)
	}

	for _, c := range candidates {
		merged := b.merge(pm, c, fromLeft)
		if b.validate(merged) {
			b.addAndPropagate(merged, expire)
		}
	}
}

// merge combines a new match with a candidate from the sibling. SEQ merges
// stably by leaf index; AND concatenates left then right.
func (b *BinaryNode) merge(pm, candidate *PartialMatch, fromLeft bool) *PartialMatch {
	left, right := pm, candidate
	if !fromLeft {
		left, right = candidate, pm
	}
	n := len(left.Events) + len(right.Events)
	events := make([]*types.Event, 0, n)
	leaves := make([]int, 0, n)

	if b.kind == KindAnd {
		events = append(append(events, left.Events...), right.Events...)
		leaves = append(append(leaves, left.Leaves...), right.Leaves...)
		return NewPartialMatch(events, leaves)
	}

	i, j := 0, 0
	for i < len(left.Events) && j < len(right.Events) {
		if right.Leaves[j] < left.Leaves[i] {
			events = append(events, right.Events[j])
			leaves = append(leaves, right.Leaves[j])
			j++
			continue
		}
		events = append(events, left.Events[i])
		leaves = append(leaves, left.Leaves[i])
		i++
	}
	events = append(append(events, left.Events[i:]...), right.Events[j:]...)
	leaves = append(append(leaves, left.Leaves[i:]...), right.Leaves[j:]...)
	return NewPartialMatch(events, leaves)
}
