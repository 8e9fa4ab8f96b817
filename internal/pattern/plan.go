package pattern

import (
	"fmt"
	"sort"
	"strings"

	"github.com/solatis/cepwarden/internal/types"
)

// PlanNode is one node of a tree plan. Exactly one field is set:
// Leaf (a positive event ordinal), Join (two subplans) or Kleene (one
// subplan covering a Kleene closure).
type PlanNode struct {
	Leaf   *int        `yaml:"leaf,omitempty" json:"leaf,omitempty"`
	Join   []*PlanNode `yaml:"join,omitempty" json:"join,omitempty"`
	Kleene *PlanNode   `yaml:"kleene,omitempty" json:"kleene,omitempty"`
}

// TreePlan is the order and shape of the evaluation tree over the positive
// events of a pattern. It is produced outside the engine.
type TreePlan struct {
	Root *PlanNode `yaml:"plan" json:"plan"`
}

// PlanLeaf returns a leaf plan node for positive ordinal i.
func PlanLeaf(i int) *PlanNode { return &PlanNode{Leaf: &i} }

// PlanJoin returns a binary plan node.
func PlanJoin(left, right *PlanNode) *PlanNode { return &PlanNode{Join: []*PlanNode{left, right}} }

// PlanKleene returns a unary plan node.
func PlanKleene(child *PlanNode) *PlanNode { return &PlanNode{Kleene: child} }

// IsLeaf reports whether n is a leaf node.
func (n *PlanNode) IsLeaf() bool { return n.Leaf != nil }

// Ordinals returns the positive ordinals under n in plan order.
func (n *PlanNode) Ordinals() []int {
	switch {
	case n.Leaf != nil:
		return []int{*n.Leaf}
	case n.Kleene != nil:
		return n.Kleene.Ordinals()
	default:
		var out []int
		for _, c := range n.Join {
			out = append(out, c.Ordinals()...)
		}
		return out
	}
}

func (n *PlanNode) String() string {
	switch {
	case n == nil:
		return "<nil>"
	case n.Leaf != nil:
		return fmt.Sprintf("%d", *n.Leaf)
	case n.Kleene != nil:
		return "KC(" + n.Kleene.String() + ")"
	default:
		parts := make([]string, len(n.Join))
		for i, c := range n.Join {
			parts[i] = c.String()
		}
		return "(" + strings.Join(parts, " ") + ")"
	}
}

func (t TreePlan) String() string { return t.Root.String() }

// PlanOperator reports the operator a binary plan node over leaves
// evaluates: SEQ or AND, taken from the lowest common pattern operator.
func (p *Pattern) PlanOperator(leaves []int) (Kind, error) {
	op, _ := p.lowestCommon(leaves)
	if op == nil {
		return KindPrimitive, fmt.Errorf("%w: leaves %v are not in the pattern", types.ErrInvalidPlan, leaves)
	}
	return op.Kind(), nil
}

// ValidatePlan checks plan against the positive structure: every positive
// event appears exactly once, every join aligns with whole arguments of
// the lowest common operator, and every Kleene closure has exactly one
// unary node covering precisely its events.
func (p *Pattern) ValidatePlan(plan TreePlan) error {
	if plan.Root == nil {
		return fmt.Errorf("%w: empty plan", types.ErrInvalidPlan)
	}
	seen := make([]bool, p.PositiveCount())
	covered := map[*KleeneClosure]int{}
	if _, err := p.validateNode(plan.Root, seen, covered); err != nil {
		return err
	}
	for i, ok := range seen {
		if !ok {
			return fmt.Errorf("%w: positive event %d missing from plan", types.ErrInvalidPlan, i)
		}
	}
	for _, kc := range p.kleene {
		if covered[kc] != 1 {
			return fmt.Errorf("%w: %s needs exactly one kleene plan node, found %d", types.ErrInvalidPlan, kc, covered[kc])
		}
	}
	return nil
}

func (p *Pattern) validateNode(n *PlanNode, seen []bool, covered map[*KleeneClosure]int) ([]int, error) {
	set := 0
	if n.Leaf != nil {
		set++
	}
	if len(n.Join) > 0 {
		set++
	}
	if n.Kleene != nil {
		set++
	}
	if set != 1 {
		return nil, fmt.Errorf("%w: plan node must be exactly one of leaf, join, kleene", types.ErrInvalidPlan)
	}

	switch {
	case n.Leaf != nil:
		i := *n.Leaf
		if i < 0 || i >= len(seen) {
			return nil, fmt.Errorf("%w: leaf %d out of range [0, %d)", types.ErrInvalidPlan, i, len(seen))
		}
		if seen[i] {
			return nil, fmt.Errorf("%w: leaf %d appears twice", types.ErrInvalidPlan, i)
		}
		seen[i] = true
		return []int{p.posLeaf[i]}, nil

	case n.Kleene != nil:
		leaves, err := p.validateNode(n.Kleene, seen, covered)
		if err != nil {
			return nil, err
		}
		kc := p.KleeneCovering(leaves)
		if kc == nil {
			return nil, fmt.Errorf("%w: kleene node over %v matches no kleene closure", types.ErrInvalidPlan, leaves)
		}
		covered[kc]++
		return leaves, nil

	default:
		if len(n.Join) != 2 {
			return nil, fmt.Errorf("%w: join needs two children, got %d", types.ErrInvalidPlan, len(n.Join))
		}
		left, err := p.validateNode(n.Join[0], seen, covered)
		if err != nil {
			return nil, err
		}
		right, err := p.validateNode(n.Join[1], seen, covered)
		if err != nil {
			return nil, err
		}
		leaves := append(append([]int(nil), left...), right...)
		if err := p.validateJoin(leaves); err != nil {
			return nil, err
		}
		return leaves, nil
	}
}

func (p *Pattern) validateJoin(leaves []int) error {
	op, branches := p.lowestCommon(leaves)
	switch op.(type) {
	case *Seq, *And:
	default:
		return fmt.Errorf("%w: join over %v falls inside %v; use a kleene node", types.ErrInvalidPlan, leaves, op)
	}
	for _, b := range branches {
		arg := op.Args()[b]
		if !containsAll(leaves, setOf(p.leaves[arg])) {
			return fmt.Errorf("%w: join over %v splits %s", types.ErrInvalidPlan, leaves, arg)
		}
	}
	return nil
}

// KleeneCovering returns the Kleene closure covering exactly leaves, or nil.
func (p *Pattern) KleeneCovering(leaves []int) *KleeneClosure {
	want := append([]int(nil), leaves...)
	sort.Ints(want)
	for _, kc := range p.kleene {
		have := append([]int(nil), p.leaves[kc]...)
		sort.Ints(have)
		if equalInts(want, have) {
			return kc
		}
	}
	return nil
}

// KleeneLeaves returns, for a set of leaves, the leaves covered by some
// Kleene closure fully contained in the set.
func (p *Pattern) KleeneLeaves(leaves []int) map[int]bool {
	in := setOf(leaves)
	out := map[int]bool{}
	for _, kc := range p.kleene {
		kl := p.leaves[kc]
		if containsAll(leaves, setOf(kl)) {
			for _, l := range kl {
				if in[l] {
					out[l] = true
				}
			}
		}
	}
	return out
}

// LeftDeepPlan builds the declared-order plan: arguments of every SEQ/AND
// joined left to right, one unary node per Kleene closure.
func (p *Pattern) LeftDeepPlan() TreePlan {
	ordinal := make(map[int]int, len(p.posLeaf))
	for i, leaf := range p.posLeaf {
		ordinal[leaf] = i
	}
	return TreePlan{Root: p.leftDeep(p.positive, ordinal)}
}

func (p *Pattern) leftDeep(op Operator, ordinal map[int]int) *PlanNode {
	switch o := op.(type) {
	case *Primitive:
		return PlanLeaf(ordinal[p.leaves[op][0]])
	case *KleeneClosure:
		return PlanKleene(p.leftDeep(o.Operand, ordinal))
	default:
		var acc *PlanNode
		for _, arg := range op.Args() {
			next := p.leftDeep(arg, ordinal)
			if acc == nil {
				acc = next
				continue
			}
			acc = PlanJoin(acc, next)
		}
		return acc
	}
}

func setOf(xs []int) map[int]bool {
	m := make(map[int]bool, len(xs))
	for _, x := range xs {
		m[x] = true
	}
	return m
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
