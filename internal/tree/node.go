package tree

import (
	"fmt"
	"time"

	"github.com/solatis/cepwarden/internal/rules"
)

// Kind is the variant of a tree node.
type Kind int

const (
	KindLeaf Kind = iota
	KindAnd
	KindSeq
	KindNegativeAnd
	KindNegativeSeq
	KindKleeneClosure
)

func (k Kind) String() string {
	switch k {
	case KindLeaf:
		return "leaf"
	case KindAnd:
		return "and"
	case KindSeq:
		return "seq"
	case KindNegativeAnd:
		return "nand"
	case KindNegativeSeq:
		return "nseq"
	case KindKleeneClosure:
		return "kleene"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Node is a vertex of the evaluation tree.
type Node interface {
	Kind() Kind
	Children() []Node
	// Condition is the part of the pattern condition evaluated here.
	Condition() rules.Condition
	// Storage holds the node's partial matches for its parent to join.
	Storage() Storage
	// Names returns the event names bound in the node's subtree.
	Names() []string

	base() *node
}

// parentNode is implemented by nodes that receive matches from children.
type parentNode interface {
	Node
	handleNewPartialMatch(source *node, expire bool)
}

// node is the state shared by every variant. The parent owns its children;
// parent is only used to notify it of new matches.
type node struct {
	kind      Kind
	tree      *Tree
	parent    parentNode
	root      bool
	cond      rules.Condition
	storage   Storage
	leaves    []int
	names     []string
	multi     map[int]bool
	unhandled []*PartialMatch
	latest    time.Time

	// filtered holds events consumed under single selection; used holds
	// events already in a match stored here under next selection. Both map
	// sequence id to event timestamp and are pruned with the window.
	filtered map[uint64]time.Time
	used     map[uint64]time.Time
}

func newNode(t *Tree, kind Kind, leaves []int) node {
	n := node{
		kind:     kind,
		tree:     t,
		leaves:   leaves,
		multi:    t.pattern.KleeneLeaves(leaves),
		filtered: map[uint64]time.Time{},
		used:     map[uint64]time.Time{},
	}
	for _, leaf := range leaves {
		n.names = append(n.names, t.pattern.Events()[leaf].Name)
	}
	return n
}

func (n *node) Kind() Kind                 { return n.kind }
func (n *node) Condition() rules.Condition { return n.cond }
func (n *node) Storage() Storage           { return n.storage }
func (n *node) Names() []string            { return n.names }
func (n *node) base() *node                { return n }

func (n *node) hasLeaf(leaf int) bool {
	for _, l := range n.leaves {
		if l == leaf {
			return true
		}
	}
	return false
}

// popUnhandled removes the oldest match not yet handled by the parent.
func (n *node) popUnhandled() *PartialMatch {
	pm := n.unhandled[0]
	n.unhandled[0] = nil
	n.unhandled = n.unhandled[1:]
	return pm
}

// cleanExpired drops stored matches outside the window, relative to the
// latest timestamp this node has seen.
func (n *node) cleanExpired(ts time.Time) {
	if ts.After(n.latest) {
		n.latest = ts
	}
	cutoff := n.latest.Add(-n.tree.pattern.Window)
	if dropped := n.storage.TryCleanExpired(cutoff); dropped > 0 {
		n.tree.stats.Expired += uint64(dropped)
	}
	pruneBefore(n.filtered, cutoff)
	pruneBefore(n.used, cutoff)
}

func pruneBefore(m map[uint64]time.Time, cutoff time.Time) {
	for seq, ts := range m {
		if ts.Before(cutoff) {
			delete(m, seq)
		}
	}
}

// bindings maps event names to the events of pm. Names under a Kleene
// closure inside this subtree bind every iteration.
func (n *node) bindings(pm *PartialMatch) rules.Bindings {
	b := make(rules.Bindings, len(n.names))
	defs := n.tree.pattern.Events()
	for i, ev := range pm.Events {
		leaf := pm.Leaves[i]
		name := defs[leaf].Name
		binding := b[name]
		binding.Multi = n.multi[leaf]
		binding.Events = append(binding.Events, ev)
		b[name] = binding
	}
	return b
}

// validate checks a newly merged match: window, distinct events, declared
// SEQ order, consumption state, then the node condition (fail closed).
func (n *node) validate(pm *PartialMatch) bool {
	if pm.Span() > n.tree.pattern.Window {
		n.tree.stats.RejectedWindow++
		return false
	}
	seen := make(map[uint64]struct{}, len(pm.Events))
	for _, ev := range pm.Events {
		if _, dup := seen[ev.SequenceID]; dup {
			n.tree.stats.RejectedDuplicate++
			return false
		}
		seen[ev.SequenceID] = struct{}{}
		if _, ok := n.filtered[ev.SequenceID]; ok {
			n.tree.stats.RejectedConsumed++
			return false
		}
		if _, ok := n.used[ev.SequenceID]; ok {
			n.tree.stats.RejectedConsumed++
			return false
		}
	}
	if !n.ordered(pm) {
		n.tree.stats.RejectedOrder++
		return false
	}
	if !rules.Satisfied(n.cond, n.bindings(pm)) {
		n.tree.stats.RejectedCondition++
		return false
	}
	return true
}

// ordered reports whether every pair of events respects the declared
// sequence order of their leaves.
func (n *node) ordered(pm *PartialMatch) bool {
	p := n.tree.pattern
	for i := range pm.Events {
		for j := i + 1; j < len(pm.Events); j++ {
			li, lj := pm.Leaves[i], pm.Leaves[j]
			ti, tj := pm.Events[i].Timestamp, pm.Events[j].Timestamp
			if p.Precedes(li, lj) && ti.After(tj) {
				return false
			}
			if p.Precedes(lj, li) && tj.After(ti) {
				return false
			}
		}
	}
	return true
}

// addAndPropagate stores pm and notifies the parent, or hands pm to the
// tree when this node is the root.
func (n *node) addAndPropagate(pm *PartialMatch, expire bool) {
	n.tree.stats.PartialMatches++
	if n.tree.nextSelection {
		for _, ev := range pm.Events {
			n.used[ev.SequenceID] = ev.Timestamp
		}
	}
	if n.root {
		n.tree.unreported = append(n.tree.unreported, pm)
		return
	}
	n.storage.Add(pm)
	n.unhandled = append(n.unhandled, pm)
	n.parent.handleNewPartialMatch(n, expire)
}

// consume marks seq as used by an emitted match and purges every stored
// match containing it.
func (n *node) consume(seq uint64, ts time.Time) {
	n.filtered[seq] = ts
	contains := func(pm *PartialMatch) bool { return pm.Contains(seq) }
	n.storage.RemoveIf(contains)
	kept := n.unhandled[:0]
	for _, pm := range n.unhandled {
		if !contains(pm) {
			kept = append(kept, pm)
		}
	}
	n.unhandled = kept
}
