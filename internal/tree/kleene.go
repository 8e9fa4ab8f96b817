package tree

import (
	"github.com/solatis/cepwarden/internal/types"
)

// KleeneClosureNode combines the newest match of its child with subsets of
// the child's other buffered matches. Max == 0 means unbounded.
type KleeneClosureNode struct {
	node
	child    Node
	min, max int
}

func newKleeneClosureNode(t *Tree, child Node, min, max int) *KleeneClosureNode {
	k := &KleeneClosureNode{
		node:  newNode(t, KindKleeneClosure, append([]int(nil), child.base().leaves...)),
		child: child,
		min:   min,
		max:   max,
	}
	child.base().parent = k
	return k
}

func (k *KleeneClosureNode) Children() []Node { return []Node{k.child} }

// Bounds returns the minimum and maximum number of iterations.
func (k *KleeneClosureNode) Bounds() (min, max int) { return k.min, k.max }

func (k *KleeneClosureNode) handleNewPartialMatch(source *node, expire bool) {
	pm := source.popUnhandled()
	if expire {
		source.cleanExpired(pm.Last)
	}

	window := k.tree.pattern.Window
	var others []*PartialMatch
	for _, c := range source.storage.All() {
		if c == pm {
			continue
		}
		first, last := c.First, c.Last
		if pm.First.Before(first) {
			first = pm.First
		}
		if pm.Last.After(last) {
			last = pm.Last
		}
		if last.Sub(first) <= window {
			others = append(others, c)
		}
	}

	if expire && !k.root {
		k.cleanExpired(pm.Last)
	}

	limit := len(others)
	if k.max > 0 && k.max-1 < limit {
		limit = k.max - 1
	}
	k.subsets(others, 0, make([]*PartialMatch, 0, limit), limit, func(subset []*PartialMatch) {
		if len(subset)+1 < k.min {
			return
		}
		merged := flatten(subset, pm)
		if k.validate(merged) {
			k.addAndPropagate(merged, expire)
		}
	})
}

// subsets calls fn for every subset of items[from:] extending prefix, with
// at most limit elements, in storage order. The empty subset comes first.
func (k *KleeneClosureNode) subsets(items []*PartialMatch, from int, prefix []*PartialMatch, limit int, fn func([]*PartialMatch)) {
	fn(prefix)
	if len(prefix) == limit {
		return
	}
	for i := from; i < len(items); i++ {
		k.subsets(items, i+1, append(prefix, items[i]), limit, fn)
	}
}

func flatten(subset []*PartialMatch, last *PartialMatch) *PartialMatch {
	n := len(last.Events)
	for _, pm := range subset {
		n += len(pm.Events)
	}
	events := make([]*types.Event, 0, n)
	leaves := make([]int, 0, n)
	for _, pm := range subset {
		events = append(events, pm.Events...)
		leaves = append(leaves, pm.Leaves...)
	}
	events = append(events, last.Events...)
	leaves = append(leaves, last.Leaves...)
	return NewPartialMatch(events, leaves)
}
