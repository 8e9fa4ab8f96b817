// internal/rules/terms.go
package rules

import (
	"fmt"
	"strings"

	"github.com/solatis/cepwarden/internal/types"
)

/*
 * Terms: the operands of a comparison.
 *
 * A term evaluates to one value per binding combination. Attribute terms
 * bound to a Kleene-closure name yield one value per iteration; constants
 * always yield exactly one value. Arithmetic terms combine the cartesian
 * product of their operands.
 */

// Term is an operand evaluated against bindings.
type Term interface {
	Values(b Bindings) ([]any, error)
	Names() []string
	String() string
}

// Attr references an attribute of a bound event: Name.Path.
type Attr struct {
	Name string
	Path []types.PathSegment
}

// ParseAttr parses "name.path.to.field". The first segment is the event name.
func ParseAttr(s string) (Attr, error) {
	name, rest, _ := strings.Cut(strings.TrimSpace(s), ".")
	if name == "" {
		return Attr{}, fmt.Errorf("attribute reference %q has no event name", s)
	}
	path, err := ParsePath(rest)
	if err != nil {
		return Attr{}, err
	}
	return Attr{Name: name, Path: path}, nil
}

// Values resolves the attribute on every event bound to Name.
func (a Attr) Values(b Bindings) ([]any, error) {
	binding, ok := b[a.Name]
	if !ok || len(binding.Events) == 0 {
		return nil, fmt.Errorf("%w: %s", types.ErrUnboundName, a.Name)
	}
	out := make([]any, 0, len(binding.Events))
	for _, ev := range binding.Events {
		res, err := Resolve(a.Path, map[string]any(ev.Payload))
		if err != nil {
			return nil, err
		}
		out = append(out, res.Value)
	}
	return out, nil
}

func (a Attr) Names() []string { return []string{a.Name} }

func (a Attr) String() string {
	if len(a.Path) == 0 {
		return a.Name
	}
	return a.Name + "." + FormatPath(a.Path)
}

// Const is a literal operand.
type Const struct {
	Value any
}

func (c Const) Values(Bindings) ([]any, error) { return []any{c.Value}, nil }
func (c Const) Names() []string                { return nil }
func (c Const) String() string                 { return fmt.Sprintf("%v", c.Value) }

// ArithOp is an arithmetic operator for Arith terms.
type ArithOp byte

const (
	ArithAdd ArithOp = '+'
	ArithSub ArithOp = '-'
	ArithMul ArithOp = '*'
	ArithDiv ArithOp = '/'
)

// Arith combines two numeric terms.
type Arith struct {
	Op          ArithOp
	Left, Right Term
}

func (t Arith) Values(b Bindings) ([]any, error) {
	lv, err := t.Left.Values(b)
	if err != nil {
		return nil, err
	}
	rv, err := t.Right.Values(b)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(lv)*len(rv))
	for _, l := range lv {
		lf, err := numeric(l)
		if err != nil {
			return nil, err
		}
		for _, r := range rv {
			rf, err := numeric(r)
			if err != nil {
				return nil, err
			}
			v, err := t.apply(lf, rf)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
	}
	return out, nil
}

func (t Arith) apply(l, r float64) (float64, error) {
	switch t.Op {
	case ArithAdd:
		return l + r, nil
	case ArithSub:
		return l - r, nil
	case ArithMul:
		return l * r, nil
	case ArithDiv:
		if r == 0 {
			return 0, types.ErrDivisionByZero
		}
		return l / r, nil
	default:
		return 0, fmt.Errorf("%w: arithmetic %q", types.ErrInvalidOperator, string(t.Op))
	}
}

func (t Arith) Names() []string { return mergeNames(t.Left.Names(), t.Right.Names()) }

func (t Arith) String() string {
	return fmt.Sprintf("(%s %c %s)", t.Left, t.Op, t.Right)
}

func numeric(v any) (float64, error) {
	res, err := Coerce(v, FieldTypeNumeric)
	if err != nil || res.IsNull {
		return 0, types.ErrNotNumeric
	}
	return res.Value.(float64), nil
}

// TermKey evaluates t to a single coerced value for use as a storage sort
// key. ok is false when the term errors, is null, or yields several values.
func TermKey(t Term, ft FieldType, b Bindings) (key any, ok bool) {
	values, err := t.Values(b)
	if err != nil || len(values) != 1 {
		return nil, false
	}
	res, err := Coerce(values[0], ft)
	if err != nil || res.IsNull {
		return nil, false
	}
	return res.Value, true
}
