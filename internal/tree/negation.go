package tree

import (
	"time"

	"github.com/solatis/cepwarden/internal/types"
)

/*
 * Negation nodes.
 *
 * The left child produces positive matches, the right child is a leaf for
 * the negative event. A positive match is dropped when any stored negative
 * event combines validly with it (window, declared order, node condition).
 *
 * Unbounded negative events can still arrive after the positive match is
 * complete. The deepest unbounded node in the chain parks such matches in
 * a pending list; negative arrivals at any unbounded node remove the
 * pending matches they invalidate, and Tree.Advance releases matches whose
 * window has closed. Released matches propagate with expiration disabled.
 */

// NegationNode implements NAND and NSEQ over one negative event.
type NegationNode struct {
	node
	positive, negative Node
	bounded            bool

	// deepest is the lowest unbounded negation node in the chain; only it
	// holds pending matches.
	deepest *NegationNode
	pending []*PartialMatch
}

func newNegationNode(t *Tree, kind Kind, positive Node, negative *LeafNode, bounded bool) *NegationNode {
	leaves := append(append([]int(nil), positive.base().leaves...), negative.leaves...)
	n := &NegationNode{node: newNode(t, kind, leaves), positive: positive, negative: negative, bounded: bounded}
	positive.base().parent = n
	negative.parent = n
	return n
}

func (n *NegationNode) Children() []Node { return []Node{n.positive, n.negative} }

// Bounded reports whether the negative event is decided by a later
// positive event.
func (n *NegationNode) Bounded() bool { return n.bounded }

// Pending returns the matches parked at this node.
func (n *NegationNode) Pending() []*PartialMatch { return n.pending }

func (n *NegationNode) handleNewPartialMatch(source *node, expire bool) {
	if source == n.negative.base() {
		neg := source.popUnhandled()
		if n.bounded || n.deepest == nil {
			return
		}
		d := n.deepest
		kept := d.pending[:0]
		for _, pm := range d.pending {
			if n.invalidates(pm, neg) {
				n.tree.stats.RejectedNegation++
				continue
			}
			kept = append(kept, pm)
		}
		clear(d.pending[len(kept):])
		d.pending = kept
		return
	}

	pm := source.popUnhandled()
	negatives := n.negative.base()
	if expire {
		negatives.cleanExpired(pm.Last)
	}
	for _, neg := range negatives.storage.All() {
		if n.invalidates(pm, neg) {
			n.tree.stats.RejectedNegation++
			return
		}
	}
	if expire && !n.root {
		n.cleanExpired(pm.Last)
	}
	if n.deepest == n {
		if n.invalidatedAbove(pm) {
			n.tree.stats.RejectedNegation++
			return
		}
		n.pending = append(n.pending, pm)
		return
	}
	n.addAndPropagate(pm, expire)
}

// invalidatedAbove reports whether a negative event already stored by a
// negation node above n invalidates pm. The upper leaves may expire those
// events before pm is released, so they are checked when pm is parked.
func (n *NegationNode) invalidatedAbove(pm *PartialMatch) bool {
	for p := n.parent; p != nil; p = p.base().parent {
		up, ok := p.(*NegationNode)
		if !ok {
			return false
		}
		for _, neg := range up.negative.base().storage.All() {
			if up.invalidates(pm, neg) {
				return true
			}
		}
	}
	return false
}

// invalidates reports whether negative match neg combines validly with
// positive match pm.
func (n *NegationNode) invalidates(pm, neg *PartialMatch) bool {
	events := make([]*types.Event, 0, len(pm.Events)+len(neg.Events))
	leaves := make([]int, 0, len(pm.Leaves)+len(neg.Leaves))
	events = append(append(events, pm.Events...), neg.Events...)
	leaves = append(append(leaves, pm.Leaves...), neg.Leaves...)
	combined := NewPartialMatch(events, leaves)

	if combined.Span() > n.tree.pattern.Window {
		return false
	}
	if !n.ordered(combined) {
		return false
	}
	return n.satisfied(combined)
}

func (n *NegationNode) satisfied(pm *PartialMatch) bool {
	if n.cond == nil {
		return true
	}
	ok, err := n.cond.Eval(n.bindings(pm))
	return err == nil && ok
}

// release propagates pending matches selected by fn, in arrival order,
// with expiration disabled.
func (n *NegationNode) release(fn func(*PartialMatch) bool) int {
	var released []*PartialMatch
	kept := n.pending[:0]
	for _, pm := range n.pending {
		if fn(pm) {
			released = append(released, pm)
			continue
		}
		kept = append(kept, pm)
	}
	clear(n.pending[len(kept):])
	n.pending = kept
	for _, pm := range released {
		if n.consumed(pm) {
			continue
		}
		n.addAndPropagate(pm, false)
	}
	return len(released)
}

// releaseBefore releases pending matches whose window closed before ts.
func (n *NegationNode) releaseBefore(ts time.Time) int {
	w := n.tree.pattern.Window
	return n.release(func(pm *PartialMatch) bool { return pm.First.Add(w).Before(ts) })
}

func (n *NegationNode) consumed(pm *PartialMatch) bool {
	for _, ev := range pm.Events {
		if _, ok := n.filtered[ev.SequenceID]; ok {
			return true
		}
	}
	return false
}

func (n *NegationNode) consume(seq uint64, ts time.Time) {
	n.node.consume(seq, ts)
	kept := n.pending[:0]
	for _, pm := range n.pending {
		if !pm.Contains(seq) {
			kept = append(kept, pm)
		}
	}
	clear(n.pending[len(kept):])
	n.pending = kept
}
