package tree

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/solatis/cepwarden/internal/pattern"
	"github.com/solatis/cepwarden/internal/rules"
)

// Stats counts tree activity since construction.
type Stats struct {
	PartialMatches    uint64
	Expired           uint64
	RejectedWindow    uint64
	RejectedDuplicate uint64
	RejectedOrder     uint64
	RejectedCondition uint64
	RejectedConsumed  uint64
	RejectedNegation  uint64
	Released          uint64
}

// Tree is a live evaluation tree for one pattern.
type Tree struct {
	pattern *pattern.Pattern
	params  StorageParameters
	log     *slog.Logger

	root    Node
	leaves  []*LeafNode
	nodes   []Node // post-order
	deepest *NegationNode

	unreported    []*PartialMatch
	unused        []rules.Condition
	nextSelection bool
	stats         Stats
}

// Option configures a Tree.
type Option func(*Tree)

// WithLogger sets the logger used for build-time diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tree) { t.log = l }
}

// Build instantiates the evaluation tree for p following plan. Errors are
// structural (invalid parameters or plan); no partially built tree is
// returned.
func Build(plan pattern.TreePlan, p *pattern.Pattern, params StorageParameters, opts ...Option) (*Tree, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := p.ValidatePlan(plan); err != nil {
		return nil, err
	}

	t := &Tree{
		pattern:       p,
		params:        params,
		log:           slog.Default(),
		nextSelection: p.Consumption.NextSelection(),
	}
	for _, opt := range opts {
		opt(t)
	}

	root, err := t.buildPositive(plan.Root)
	if err != nil {
		return nil, err
	}
	root = t.buildNegation(root)
	root.base().root = true
	t.root = root

	t.collect(root)
	t.distribute()
	root.base().storage = NewUnsortedStorage(params.CleanUpInterval)
	t.assignStorage(root)

	t.log.Info("evaluation tree built",
		"pattern", p.Name,
		"plan", plan.String(),
		"nodes", len(t.nodes),
		"leaves", len(t.leaves))
	return t, nil
}

func (t *Tree) buildPositive(n *pattern.PlanNode) (Node, error) {
	switch {
	case n.Leaf != nil:
		def := t.pattern.Events()[t.pattern.PositiveLeaf(*n.Leaf)]
		leaf := newLeafNode(t, def)
		t.leaves = append(t.leaves, leaf)
		return leaf, nil

	case n.Kleene != nil:
		child, err := t.buildPositive(n.Kleene)
		if err != nil {
			return nil, err
		}
		kc := t.pattern.KleeneCovering(child.base().leaves)
		if kc == nil {
			return nil, fmt.Errorf("kleene plan node over %v matches no kleene closure", child.base().leaves)
		}
		return newKleeneClosureNode(t, child, kc.Min, kc.Max), nil

	default:
		left, err := t.buildPositive(n.Join[0])
		if err != nil {
			return nil, err
		}
		right, err := t.buildPositive(n.Join[1])
		if err != nil {
			return nil, err
		}
		leaves := append(append([]int(nil), left.base().leaves...), right.base().leaves...)
		op, err := t.pattern.PlanOperator(leaves)
		if err != nil {
			return nil, err
		}
		kind := KindAnd
		if op == pattern.KindSeq {
			kind = KindSeq
		}
		return newBinaryNode(t, kind, left, right), nil
	}
}

// buildNegation layers the negative events over the positive tree as a
// left-deep chain in declared order.
func (t *Tree) buildNegation(root Node) Node {
	kind := KindNegativeAnd
	if t.pattern.IsSequence() {
		kind = KindNegativeSeq
	}
	var chain []*NegationNode
	for _, neg := range t.pattern.Negative() {
		leaf := newLeafNode(t, neg.PrimitiveEventDefinition)
		t.leaves = append(t.leaves, leaf)
		nn := newNegationNode(t, kind, root, leaf, neg.Bounded)
		if !neg.Bounded && t.deepest == nil {
			t.deepest = nn
		}
		chain = append(chain, nn)
		root = nn
	}
	for _, nn := range chain {
		nn.deepest = t.deepest
	}
	return root
}

func (t *Tree) collect(n Node) {
	for _, c := range n.Children() {
		t.collect(c)
	}
	t.nodes = append(t.nodes, n)
}

// distribute hands each conjunct of the pattern condition to the lowest
// node binding all of its names. Nodes are visited in post-order.
func (t *Tree) distribute() {
	d := rules.NewDistributor(t.pattern.Condition, t.pattern.ExtraConditions()...)
	for _, n := range t.nodes {
		n.base().cond = d.Take(n.Names(), n.Kind() == KindKleeneClosure)
	}
	t.unused = d.Remaining()
	for _, c := range t.unused {
		t.log.Warn("condition not assigned to any tree node", "pattern", t.pattern.Name, "condition", c.String())
	}
}

// assignStorage creates each node's storage from its parent's kind: the
// children of a binary node may share a sort key, everything else is
// unsorted.
func (t *Tree) assignStorage(n Node) {
	interval := t.params.CleanUpInterval
	switch v := n.(type) {
	case *BinaryNode:
		t.binaryStorage(v)
	default:
		for _, c := range n.Children() {
			c.base().storage = NewUnsortedStorage(interval)
		}
	}
	for _, c := range n.Children() {
		t.assignStorage(c)
	}
}

type keyCandidate struct {
	cmp         *rules.Comparison
	left, right rules.Term
	op          rules.Operator // left <op> right
}

func (t *Tree) binaryStorage(b *BinaryNode) {
	interval := t.params.CleanUpInterval
	left, right := b.left.base(), b.right.base()
	left.storage = NewUnsortedStorage(interval)
	right.storage = NewUnsortedStorage(interval)
	if !t.params.SortStorage {
		return
	}

	var earlier, later *node
	if b.kind == KindSeq {
		switch {
		case t.allPrecede(left.leaves, right.leaves):
			earlier, later = left, right
		case t.allPrecede(right.leaves, left.leaves):
			earlier, later = right, left
		}
	}
	cand, ambiguous := t.conditionKey(b)
	if ambiguous {
		t.log.Warn("ambiguous storage sort key; set attributes_priorities to choose one",
			"pattern", t.pattern.Name, "node", strings.Join(b.names, ","))
	}

	switch {
	case earlier != nil && (t.params.PrioritizeSortingByTimestamp || cand == nil):
		es := NewTimestampStorage(false, rules.OpLte, SideLeft, interval)
		es.desc = "last_timestamp <= v"
		ls := NewTimestampStorage(true, rules.OpLte, SideRight, interval)
		ls.desc = "v <= first_timestamp"
		earlier.storage, later.storage = es, ls
	case cand != nil:
		ft := cand.cmp.FieldType
		lk, rk := cand.left, cand.right
		ls := NewSortedStorage(func(pm *PartialMatch) (any, bool) {
			return rules.TermKey(lk, ft, left.bindings(pm))
		}, cand.op, SideLeft, interval)
		ls.desc = fmt.Sprintf("%s %s v", lk, cand.op)
		rs := NewSortedStorage(func(pm *PartialMatch) (any, bool) {
			return rules.TermKey(rk, ft, right.bindings(pm))
		}, cand.op, SideRight, interval)
		rs.desc = fmt.Sprintf("v %s %s", cand.op, rk)
		left.storage, right.storage = ls, rs
	}
}

// conditionKey picks a comparison of b's condition relating one attribute
// term of each subtree. ambiguous is true when several qualify and
// attribute priorities do not single one out.
func (t *Tree) conditionKey(b *BinaryNode) (*keyCandidate, bool) {
	left, right := b.left.base(), b.right.base()
	var cands []keyCandidate
	for _, c := range rules.Comparisons(b.cond) {
		if c.Right == nil || !sortable(c) {
			continue
		}
		ln, rn := c.Left.Names(), c.Right.Names()
		if len(ln) == 0 || len(rn) == 0 || b.bindsMulti(ln) || b.bindsMulti(rn) {
			continue
		}
		switch {
		case subset(ln, left.names) && subset(rn, right.names):
			cands = append(cands, keyCandidate{cmp: c, left: c.Left, right: c.Right, op: c.Op})
		case subset(ln, right.names) && subset(rn, left.names):
			cands = append(cands, keyCandidate{cmp: c, left: c.Right, right: c.Left, op: c.Op.Flip()})
		}
	}

	switch len(cands) {
	case 0:
		return nil, false
	case 1:
		return &cands[0], false
	}
	best, bestScore, tie := -1, 0, false
	for i, c := range cands {
		score := t.priority(c.left) + t.priority(c.right)
		switch {
		case best < 0 || score > bestScore:
			best, bestScore, tie = i, score, false
		case score == bestScore:
			tie = true
		}
	}
	if tie {
		return nil, true
	}
	return &cands[best], false
}

func sortable(c *rules.Comparison) bool {
	if c.OnMissing != rules.OnMissingSkip || c.OnCoercion != rules.OnCoercionSkip {
		return false
	}
	switch c.Op {
	case rules.OpLt, rules.OpLte, rules.OpGt, rules.OpGte:
		return c.FieldType == rules.FieldTypeNumeric
	case rules.OpEq, rules.OpNeq:
		switch c.FieldType {
		case rules.FieldTypeNumeric, rules.FieldTypeText, rules.FieldTypeBoolean:
			return true
		}
	}
	return false
}

// priority is the highest attributes_priorities entry among the
// attributes of term, by attribute reference then event name.
func (t *Tree) priority(term rules.Term) int {
	best := 0
	var walk func(rules.Term)
	walk = func(term rules.Term) {
		switch v := term.(type) {
		case rules.Attr:
			if p, ok := t.params.AttributesPriorities[v.String()]; ok && p > best {
				best = p
			} else if p, ok := t.params.AttributesPriorities[v.Name]; ok && p > best {
				best = p
			}
		case rules.Arith:
			walk(v.Left)
			walk(v.Right)
		}
	}
	walk(term)
	return best
}

func (t *Tree) allPrecede(a, b []int) bool {
	for _, i := range a {
		for _, j := range b {
			if !t.pattern.Precedes(i, j) {
				return false
			}
		}
	}
	return true
}

func (n *node) bindsMulti(names []string) bool {
	defs := n.tree.pattern.Events()
	for leaf := range n.multi {
		for _, name := range names {
			if defs[leaf].Name == name {
				return true
			}
		}
	}
	return false
}

func subset(names, of []string) bool {
	for _, n := range names {
		found := false
		for _, o := range of {
			if n == o {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Root returns the root node.
func (t *Tree) Root() Node { return t.root }

// Leaves returns every leaf, positive leaves in plan order followed by the
// negative leaves.
func (t *Tree) Leaves() []*LeafNode { return t.leaves }

// Nodes returns every node in post-order.
func (t *Tree) Nodes() []Node { return t.nodes }

// Pattern returns the pattern the tree evaluates.
func (t *Tree) Pattern() *pattern.Pattern { return t.pattern }

// UnusedConditions returns conjuncts no node could evaluate.
func (t *Tree) UnusedConditions() []rules.Condition { return t.unused }

// Stats returns activity counters.
func (t *Tree) Stats() Stats { return t.stats }

// Matches drains the full matches completed at the root, in completion
// order. Under single selection a match reusing an event consumed by an
// earlier match is dropped, and every returned match consumes its events.
func (t *Tree) Matches() []*PartialMatch {
	if len(t.unreported) == 0 {
		return nil
	}
	drained := t.unreported
	t.unreported = nil

	out := drained[:0]
	for _, pm := range drained {
		if t.consumed(pm) {
			t.stats.RejectedConsumed++
			continue
		}
		t.consume(pm)
		out = append(out, pm)
	}
	return out
}

// Advance releases pending matches of unbounded negation whose window
// closed before ts. Call it before dispatching an event with timestamp ts.
func (t *Tree) Advance(ts time.Time) {
	if t.deepest == nil {
		return
	}
	t.stats.Released += uint64(t.deepest.releaseBefore(ts))
}

// Flush releases every pending match; used at end of stream.
func (t *Tree) Flush() {
	if t.deepest == nil {
		return
	}
	t.stats.Released += uint64(t.deepest.release(func(*PartialMatch) bool { return true }))
}

// Pending returns the number of matches waiting on unbounded negation.
func (t *Tree) Pending() int {
	if t.deepest == nil {
		return 0
	}
	return len(t.deepest.pending)
}

func (t *Tree) consumed(pm *PartialMatch) bool {
	root := t.root.base()
	for _, ev := range pm.Events {
		if _, ok := root.filtered[ev.SequenceID]; ok {
			return true
		}
	}
	return false
}

// consume applies single selection to the events of an emitted match.
func (t *Tree) consume(pm *PartialMatch) {
	policy := t.pattern.Consumption
	if policy == nil {
		return
	}
	defs := t.pattern.Events()
	for i, ev := range pm.Events {
		leaf := pm.Leaves[i]
		if !policy.SingleFor(defs[leaf].Name) {
			continue
		}
		for _, n := range t.nodes {
			if !n.base().hasLeaf(leaf) {
				continue
			}
			if nn, ok := n.(*NegationNode); ok {
				nn.consume(ev.SequenceID, ev.Timestamp)
				continue
			}
			n.base().consume(ev.SequenceID, ev.Timestamp)
		}
	}
}

// Describe renders the tree, one node per line.
func (t *Tree) Describe() string {
	var b strings.Builder
	t.describe(&b, t.root, 0)
	return b.String()
}

func (t *Tree) describe(b *strings.Builder, n Node, depth int) {
	base := n.base()
	fmt.Fprintf(b, "%s%s [%s]", strings.Repeat("  ", depth), n.Kind(), strings.Join(base.names, " "))
	switch v := n.(type) {
	case *KleeneClosureNode:
		lo, hi := v.Bounds()
		fmt.Fprintf(b, " min=%d max=%d", lo, hi)
	case *NegationNode:
		fmt.Fprintf(b, " bounded=%t", v.bounded)
	}
	if !base.root {
		fmt.Fprintf(b, " storage=%s", base.storage)
	}
	if base.cond != nil {
		fmt.Fprintf(b, " condition=%s", base.cond)
	}
	b.WriteByte('\n')
	for _, c := range n.Children() {
		t.describe(b, c, depth+1)
	}
}
