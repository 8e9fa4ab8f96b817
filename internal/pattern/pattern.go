package pattern

import (
	"fmt"
	"time"

	"github.com/solatis/cepwarden/internal/rules"
	"github.com/solatis/cepwarden/internal/types"
)

// PrimitiveEventDefinition is the static metadata of one pattern event.
// LeafIndex is unique across the full structure (positive and negative
// events, declared order) and stable for the lifetime of the pattern.
type PrimitiveEventDefinition struct {
	Type      types.EventType
	Name      string
	LeafIndex int
}

// NegativeEvent is a primitive event wrapped in NOT at the top level.
type NegativeEvent struct {
	PrimitiveEventDefinition
	// Bounded is true when a positive event follows it in a top-level SEQ,
	// so its absence is decided as soon as that positive event arrives.
	Bounded bool
}

type step struct {
	op  Operator
	arg int
}

// Pattern is a validated CEP pattern, decomposed into its positive
// structure and top-level negative events.
type Pattern struct {
	Name        string
	Structure   Operator
	Condition   rules.Condition
	Window      time.Duration
	Consumption *ConsumptionPolicy

	events   []PrimitiveEventDefinition
	byName   map[string]int
	positive Operator
	posLeaf  []int
	negative []NegativeEvent
	paths    [][]step
	leaves   map[Operator][]int
	depth    map[Operator]int
	kleene   []*KleeneClosure
	extra    []rules.Condition
}

// New validates structure and decomposes it. window must be positive.
func New(name string, structure Operator, cond rules.Condition, window time.Duration, policy *ConsumptionPolicy) (*Pattern, error) {
	if window <= 0 {
		return nil, fmt.Errorf("%w: %s", types.ErrInvalidWindow, window)
	}
	if structure == nil {
		return nil, types.ErrNoPositiveEvents
	}

	p := &Pattern{
		Name:        name,
		Structure:   structure,
		Condition:   cond,
		Window:      window,
		Consumption: policy,
		byName:      map[string]int{},
		leaves:      map[Operator][]int{},
		depth:       map[Operator]int{},
	}
	if err := p.index(structure, nil, true); err != nil {
		return nil, err
	}
	if len(p.events) > types.MaxPatternEvents {
		return nil, fmt.Errorf("%w: %d > %d", types.ErrTooManyEvents, len(p.events), types.MaxPatternEvents)
	}
	if err := p.decompose(); err != nil {
		return nil, err
	}
	if err := p.applyConsumption(); err != nil {
		return nil, err
	}
	return p, nil
}

// index assigns leaf indices in declared order and validates operators.
func (p *Pattern) index(op Operator, path []step, top bool) error {
	p.depth[op] = len(path)
	switch o := op.(type) {
	case *Primitive:
		if o.Name == "" {
			return fmt.Errorf("%w: event of type %q has no name", types.ErrDuplicateEventName, o.Type)
		}
		if _, dup := p.byName[o.Name]; dup {
			return fmt.Errorf("%w: %s", types.ErrDuplicateEventName, o.Name)
		}
		idx := len(p.events)
		p.byName[o.Name] = idx
		p.events = append(p.events, PrimitiveEventDefinition{Type: o.Type, Name: o.Name, LeafIndex: idx})
		p.paths = append(p.paths, append([]step(nil), path...))
		p.leaves[op] = []int{idx}
		return nil

	case *Seq, *And:
		args := op.Args()
		if len(args) == 0 {
			return fmt.Errorf("%w: empty %s", types.ErrUnsupportedOperator, op.Kind())
		}
		for i, arg := range args {
			if n, ok := arg.(*Not); ok {
				if !top {
					return fmt.Errorf("%w: NOT is only supported directly under the top-level operator", types.ErrUnsupportedOperator)
				}
				if _, ok := n.Operand.(*Primitive); !ok {
					return fmt.Errorf("%w: NOT must wrap a primitive event", types.ErrUnsupportedOperator)
				}
			}
			if err := p.index(arg, append(path, step{op: op, arg: i}), false); err != nil {
				return err
			}
		}

	case *Not:
		if top {
			return types.ErrNoPositiveEvents
		}
		if err := p.index(o.Operand, append(path, step{op: op, arg: 0}), false); err != nil {
			return err
		}

	case *KleeneClosure:
		if o.Min < 1 || (o.Max != 0 && o.Max < o.Min) {
			return fmt.Errorf("%w: min=%d max=%d", types.ErrInvalidKleeneBounds, o.Min, o.Max)
		}
		if len(Primitives(o.Operand)) == 0 {
			return fmt.Errorf("%w: empty kleene closure", types.ErrUnsupportedOperator)
		}
		if err := p.index(o.Operand, append(path, step{op: op, arg: 0}), false); err != nil {
			return err
		}
		p.kleene = append(p.kleene, o)

	default:
		return fmt.Errorf("%w: %T", types.ErrUnsupportedOperator, op)
	}

	var all []int
	for _, arg := range op.Args() {
		all = append(all, p.leaves[arg]...)
	}
	p.leaves[op] = all
	return nil
}

// decompose splits the top-level operator into positive structure and
// negative events, classifying each negative event as bounded or not.
func (p *Pattern) decompose() error {
	var top []Operator
	switch p.Structure.(type) {
	case *Seq, *And:
		top = p.Structure.Args()
	default:
		p.positive = p.Structure
		for _, def := range p.events {
			p.posLeaf = append(p.posLeaf, def.LeafIndex)
		}
		return nil
	}

	_, isSeq := p.Structure.(*Seq)
	var positive []Operator
	for i, arg := range top {
		n, ok := arg.(*Not)
		if !ok {
			positive = append(positive, arg)
			continue
		}
		prim := n.Operand.(*Primitive)
		bounded := false
		if isSeq {
			for _, later := range top[i+1:] {
				if _, neg := later.(*Not); !neg {
					bounded = true
					break
				}
			}
		}
		p.negative = append(p.negative, NegativeEvent{
			PrimitiveEventDefinition: p.events[p.byName[prim.Name]],
			Bounded:                  bounded,
		})
	}
	if len(positive) == 0 {
		return types.ErrNoPositiveEvents
	}

	if len(p.negative) == 0 {
		p.positive = p.Structure
	} else if isSeq {
		p.positive = &Seq{Operands: positive}
	} else {
		p.positive = &And{Operands: positive}
	}
	// the rebuilt top shares leaf indices with the original
	var posLeaves []int
	for _, arg := range positive {
		posLeaves = append(posLeaves, p.leaves[arg]...)
	}
	p.leaves[p.positive] = posLeaves
	p.posLeaf = posLeaves
	return nil
}

func (p *Pattern) applyConsumption() error {
	if p.Consumption == nil {
		return nil
	}
	for _, name := range p.Consumption.names() {
		if _, ok := p.byName[name]; !ok {
			return fmt.Errorf("consumption policy references unknown event %q", name)
		}
	}
	for _, group := range p.Consumption.Contiguous {
		if len(group) < 2 {
			continue
		}
		p.extra = append(p.extra, &rules.Contiguity{Order: append([]string(nil), group...)})
	}
	return nil
}

// Events returns every primitive event definition, indexed by leaf index.
func (p *Pattern) Events() []PrimitiveEventDefinition { return p.events }

// Event returns the definition bound to name.
func (p *Pattern) Event(name string) (PrimitiveEventDefinition, bool) {
	idx, ok := p.byName[name]
	if !ok {
		return PrimitiveEventDefinition{}, false
	}
	return p.events[idx], true
}

// Positive returns the structure with top-level negations removed.
func (p *Pattern) Positive() Operator { return p.positive }

// PositiveCount returns the number of positive primitive events.
func (p *Pattern) PositiveCount() int { return len(p.posLeaf) }

// PositiveLeaf maps a positive ordinal (plan leaf) to its leaf index.
func (p *Pattern) PositiveLeaf(ordinal int) int { return p.posLeaf[ordinal] }

// Negative returns the top-level negative events in declared order.
func (p *Pattern) Negative() []NegativeEvent { return p.negative }

// IsSequence reports whether the top-level operator is SEQ.
func (p *Pattern) IsSequence() bool {
	_, ok := p.Structure.(*Seq)
	return ok
}

// Leaves returns the leaf indices covered by op.
func (p *Pattern) Leaves(op Operator) []int { return p.leaves[op] }

// ExtraConditions returns conditions derived from the consumption policy.
func (p *Pattern) ExtraConditions() []rules.Condition { return p.extra }

// Precedes reports whether leaf i must not occur after leaf j: their lowest
// common operator is SEQ and i is declared in an earlier argument.
func (p *Pattern) Precedes(i, j int) bool {
	a, b := p.paths[i], p.paths[j]
	for d := 0; d < len(a) && d < len(b); d++ {
		if a[d].op != b[d].op {
			return false
		}
		if a[d].arg != b[d].arg {
			_, seq := a[d].op.(*Seq)
			return seq && a[d].arg < b[d].arg
		}
	}
	return false
}

// lowestCommon returns the lowest operator covering every leaf in set and the
// argument positions of that operator the set intersects.
func (p *Pattern) lowestCommon(set []int) (Operator, []int) {
	in := make(map[int]bool, len(set))
	for _, leaf := range set {
		in[leaf] = true
	}

	var best Operator
	for op, leaves := range p.leaves {
		if !containsAll(leaves, in) {
			continue
		}
		if best == nil || len(leaves) < len(p.leaves[best]) ||
			(len(leaves) == len(p.leaves[best]) && p.depth[op] > p.depth[best]) {
			best = op
		}
	}
	if best == nil {
		return nil, nil
	}

	var branches []int
	for i, arg := range best.Args() {
		for _, leaf := range p.leaves[arg] {
			if in[leaf] {
				branches = append(branches, i)
				break
			}
		}
	}
	return best, branches
}

func containsAll(leaves []int, set map[int]bool) bool {
	have := 0
	for _, leaf := range leaves {
		if set[leaf] {
			have++
		}
	}
	return have == len(set)
}
