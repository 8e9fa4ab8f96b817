// internal/rules/condition.go
package rules

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/solatis/cepwarden/internal/types"
)

/*
 * Conditions over bound pattern events.
 *
 * A pattern condition is evaluated against Bindings: event name -> the event
 * (or, for names under a Kleene closure, every iteration's event).
 *
 * Condition kinds:
 *   - Comparison: Left <op> Right with coercion and missing/coercion policies
 *   - All / Any / Not: conjunction, disjunction, negation
 *   - KleeneCondition: constraint across the iterations of one Kleene name
 *   - Contiguity: strictly consecutive stream positions across names
 *
 * Conjunctions are the unit of distribution: Atomics() flattens nested All
 * nodes so each conjunct can be assigned to the lowest tree node whose
 * event names cover it. All evaluates its members in ascending cost order
 * (stable), so cheap checks short-circuit expensive ones.
 *
 * Errors returned by Eval are structural (unbound name, non-numeric
 * arithmetic). Callers in the tree treat any error as "not satisfied".
 */

// Binding is the set of events bound to one pattern event name.
type Binding struct {
	Events []*types.Event
	Multi  bool // name is under a Kleene closure; Events holds each iteration
}

// Bindings maps pattern event names to bound events.
type Bindings map[string]Binding

// Condition is an evaluable predicate over bindings.
type Condition interface {
	Eval(b Bindings) (bool, error)
	// Names returns the sorted set of event names the condition reads.
	Names() []string
	String() string
}

// Satisfied evaluates c and folds errors into false (fail closed).
// A nil condition is always satisfied.
func Satisfied(c Condition, b Bindings) bool {
	if c == nil {
		return true
	}
	ok, err := c.Eval(b)
	return err == nil && ok
}

// OnMissingField selects the result when an operand resolves to nothing.
type OnMissingField int

const (
	OnMissingSkip OnMissingField = iota // condition not satisfied
	OnMissingMatch
	OnMissingFail
)

// OnCoercionPolicy selects the result when an operand cannot be coerced.
type OnCoercionPolicy int

const (
	OnCoercionSkip OnCoercionPolicy = iota // condition not satisfied
	OnCoercionMatch
	OnCoercionError
)

// Comparison is the atomic condition: Left Op Right.
// For OpIn the right side is Values; for OpExists/OpIsNull it is ignored.
type Comparison struct {
	Left       Term
	Op         Operator
	Right      Term
	Values     []any
	FieldType  FieldType
	OnMissing  OnMissingField
	OnCoercion OnCoercionPolicy
}

// NewComparison validates operand shape and resource limits.
func NewComparison(left Term, op Operator, right Term, ft FieldType) (*Comparison, error) {
	if left == nil {
		return nil, fmt.Errorf("%w: comparison has no left operand", types.ErrInvalidOperator)
	}
	switch op {
	case OpExists, OpIsNull:
	case OpIn:
		c, ok := right.(Const)
		if !ok {
			return nil, fmt.Errorf("%w: in requires a constant list", types.ErrInvalidOperator)
		}
		values, ok := c.Value.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: in requires a constant list", types.ErrInvalidOperator)
		}
		if len(values) > types.MaxInOperatorValues {
			return nil, types.ErrTooManyInValues
		}
		return &Comparison{Left: left, Op: op, Values: values, FieldType: ft}, nil
	case OpUnspecified:
		return nil, types.ErrInvalidOperator
	default:
		if right == nil {
			return nil, fmt.Errorf("%w: %s requires a right operand", types.ErrInvalidOperator, op)
		}
	}
	return &Comparison{Left: left, Op: op, Right: right, FieldType: ft}, nil
}

// Eval holds iff the comparison holds for every combination of operand values.
// An operand skipped by the missing or coercion policy yields false with a
// non-nil error, so an enclosing Not cannot turn it into a match.
func (c *Comparison) Eval(b Bindings) (bool, error) {
	lv, err := c.Left.Values(b)
	if err != nil {
		if errors.Is(err, types.ErrFieldNotFound) {
			return c.missing(err)
		}
		return false, err
	}

	var rv []any
	switch {
	case c.Op == OpIn:
		rv = []any{c.Values}
	case c.Right == nil:
		rv = []any{nil}
	default:
		rv, err = c.Right.Values(b)
		if err != nil {
			if errors.Is(err, types.ErrFieldNotFound) {
				return c.missing(err)
			}
			return false, err
		}
	}

	for _, l := range lv {
		left, decided, result, err := c.coerce(l)
		if decided {
			if !result {
				return false, err
			}
			continue
		}
		for _, r := range rv {
			target := r
			if c.Op != OpIn && c.Right != nil {
				right, decided, result, err := c.coerce(r)
				if decided {
					if !result {
						return false, err
					}
					continue
				}
				target = right
			}
			if !Compare(c.Op, left, target) {
				return false, nil
			}
		}
	}
	return true, nil
}

// coerce converts one operand value. decided reports that a policy already
// produced the comparison result for this operand; err is set when that
// result is a skip.
func (c *Comparison) coerce(v any) (value any, decided, result bool, err error) {
	if c.Op == OpExists || c.Op == OpIsNull {
		return v, false, false, nil
	}
	res, err := Coerce(v, c.FieldType)
	if err != nil {
		if c.OnCoercion == OnCoercionMatch {
			return nil, true, true, nil
		}
		return nil, true, false, err
	}
	if res.IsNull {
		result, err = c.missing(types.ErrFieldNotFound)
		return nil, true, result, err
	}
	return res.Value, false, false, nil
}

// missing applies the missing-field policy. A skip is reported as cause.
func (c *Comparison) missing(cause error) (bool, error) {
	switch c.Op {
	case OpIsNull:
		return true, nil
	case OpExists:
		return false, nil
	}
	if c.OnMissing == OnMissingMatch {
		return true, nil
	}
	return false, cause
}

func (c *Comparison) Names() []string {
	names := c.Left.Names()
	if c.Right != nil {
		names = mergeNames(names, c.Right.Names())
	}
	return mergeNames(names, nil)
}

func (c *Comparison) String() string {
	switch {
	case c.Op == OpIn:
		return fmt.Sprintf("%s in %v", c.Left, c.Values)
	case c.Right == nil:
		return fmt.Sprintf("%s %s", c.Left, c.Op)
	default:
		return fmt.Sprintf("%s %s %s", c.Left, c.Op, c.Right)
	}
}

// All is a conjunction. Members are kept in ascending cost order.
type All struct {
	Conditions []Condition
}

// NewAll builds a conjunction, flattening nested conjunctions and ordering
// members by evaluation cost (stable for equal cost).
func NewAll(conds ...Condition) *All {
	flat := make([]Condition, 0, len(conds))
	for _, c := range conds {
		flat = append(flat, Atomics(c)...)
	}
	sort.SliceStable(flat, func(i, j int) bool {
		return ConditionCost(flat[i]) < ConditionCost(flat[j])
	})
	return &All{Conditions: flat}
}

func (a *All) Eval(b Bindings) (bool, error) {
	for _, c := range a.Conditions {
		ok, err := c.Eval(b)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (a *All) Names() []string {
	var names []string
	for _, c := range a.Conditions {
		names = mergeNames(names, c.Names())
	}
	return names
}

func (a *All) String() string { return joinConditions(a.Conditions, " and ") }

// Any is a disjunction; it short-circuits on the first satisfied member.
// A member that errors counts as unsatisfied.
type Any struct {
	Conditions []Condition
}

func (a *Any) Eval(b Bindings) (bool, error) {
	for _, c := range a.Conditions {
		if Satisfied(c, b) {
			return true, nil
		}
	}
	return false, nil
}

func (a *Any) Names() []string {
	var names []string
	for _, c := range a.Conditions {
		names = mergeNames(names, c.Names())
	}
	return names
}

func (a *Any) String() string { return joinConditions(a.Conditions, " or ") }

// Not negates a condition. Errors propagate so a malformed operand never
// turns into a match.
type Not struct {
	Condition Condition
}

func (n *Not) Eval(b Bindings) (bool, error) {
	ok, err := n.Condition.Eval(b)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

func (n *Not) Names() []string { return n.Condition.Names() }
func (n *Not) String() string  { return "not (" + n.Condition.String() + ")" }

// KleeneCondition constrains the iterations bound to a Kleene-closure name.
// With Value nil it compares every adjacent pair (item[i] Op item[i+1]);
// otherwise it compares every item against Value.
type KleeneCondition struct {
	Name      string
	Path      []types.PathSegment
	Op        Operator
	FieldType FieldType
	Value     any
}

func (k *KleeneCondition) Eval(b Bindings) (bool, error) {
	binding, ok := b[k.Name]
	if !ok {
		return false, fmt.Errorf("%w: %s", types.ErrUnboundName, k.Name)
	}
	values := make([]any, 0, len(binding.Events))
	for _, ev := range binding.Events {
		res, err := Resolve(k.Path, map[string]any(ev.Payload))
		if err != nil {
			return false, err
		}
		coerced, err := Coerce(res.Value, k.FieldType)
		if err != nil {
			return false, err
		}
		if coerced.IsNull {
			return false, types.ErrFieldNotFound
		}
		values = append(values, coerced.Value)
	}
	if k.Value != nil {
		target, err := Coerce(k.Value, k.FieldType)
		if err != nil || target.IsNull {
			return false, nil
		}
		for _, v := range values {
			if !Compare(k.Op, v, target.Value) {
				return false, nil
			}
		}
		return true, nil
	}
	for i := 0; i+1 < len(values); i++ {
		if !Compare(k.Op, values[i], values[i+1]) {
			return false, nil
		}
	}
	return true, nil
}

func (k *KleeneCondition) Names() []string { return []string{k.Name} }

func (k *KleeneCondition) String() string {
	attr := Attr{Name: k.Name, Path: k.Path}.String()
	if k.Value != nil {
		return fmt.Sprintf("each %s %s %v", attr, k.Op, k.Value)
	}
	return fmt.Sprintf("adjacent %s %s", attr, k.Op)
}

// Kleene marks the condition for routing to Kleene-closure nodes.
func (k *KleeneCondition) Kleene() bool { return true }

// Contiguity requires the events bound to Names, in order, to occupy
// consecutive stream positions (sequence ids differing by exactly one).
type Contiguity struct {
	Order []string
}

func (c *Contiguity) Eval(b Bindings) (bool, error) {
	var prev uint64
	first := true
	for _, name := range c.Order {
		binding, ok := b[name]
		if !ok {
			return false, fmt.Errorf("%w: %s", types.ErrUnboundName, name)
		}
		for _, ev := range binding.Events {
			if !first && ev.SequenceID != prev+1 {
				return false, nil
			}
			prev = ev.SequenceID
			first = false
		}
	}
	return true, nil
}

func (c *Contiguity) Names() []string { return mergeNames(c.Order, nil) }
func (c *Contiguity) String() string  { return "contiguous(" + strings.Join(c.Order, ", ") + ")" }

// IsKleene reports whether c must be evaluated by a Kleene-closure node.
func IsKleene(c Condition) bool {
	k, ok := c.(interface{ Kleene() bool })
	return ok && k.Kleene()
}

// Atomics flattens nested conjunctions (extract_atomic_formulas).
func Atomics(c Condition) []Condition {
	if c == nil {
		return nil
	}
	all, ok := c.(*All)
	if !ok {
		return []Condition{c}
	}
	var out []Condition
	for _, member := range all.Conditions {
		out = append(out, Atomics(member)...)
	}
	return out
}

// Comparisons returns the top-level comparisons of c.
func Comparisons(c Condition) []*Comparison {
	var out []*Comparison
	for _, a := range Atomics(c) {
		if cmp, ok := a.(*Comparison); ok {
			out = append(out, cmp)
		}
	}
	return out
}

func mergeNames(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, n := range a {
		set[n] = struct{}{}
	}
	for _, n := range b {
		set[n] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func joinConditions(conds []Condition, sep string) string {
	parts := make([]string, len(conds))
	for i, c := range conds {
		parts[i] = c.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}
