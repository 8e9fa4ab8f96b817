// Package pattern models CEP patterns: the operator tree over primitive
// events, the pattern condition and window, consumption policies, and the
// tree plan consumed by the evaluation-tree builder.
package pattern

import (
	"fmt"
	"strings"

	"github.com/solatis/cepwarden/internal/types"
)

// Kind identifies an operator in the pattern structure.
type Kind int

const (
	KindPrimitive Kind = iota
	KindSeq
	KindAnd
	KindNot
	KindKleene
)

func (k Kind) String() string {
	switch k {
	case KindPrimitive:
		return "primitive"
	case KindSeq:
		return "seq"
	case KindAnd:
		return "and"
	case KindNot:
		return "not"
	case KindKleene:
		return "kleene"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Operator is a node of the pattern structure.
type Operator interface {
	Kind() Kind
	Args() []Operator
	String() string
}

// Primitive matches a single event of Type, bound to Name.
type Primitive struct {
	Type types.EventType
	Name string
}

func (p *Primitive) Kind() Kind       { return KindPrimitive }
func (p *Primitive) Args() []Operator { return nil }
func (p *Primitive) String() string   { return fmt.Sprintf("%s:%s", p.Name, p.Type) }

// Seq requires its arguments to occur in declared timestamp order.
type Seq struct {
	Operands []Operator
}

func (s *Seq) Kind() Kind       { return KindSeq }
func (s *Seq) Args() []Operator { return s.Operands }
func (s *Seq) String() string   { return "SEQ(" + joinOperators(s.Operands) + ")" }

// And requires all of its arguments to occur, in any order.
type And struct {
	Operands []Operator
}

func (a *And) Kind() Kind       { return KindAnd }
func (a *And) Args() []Operator { return a.Operands }
func (a *And) String() string   { return "AND(" + joinOperators(a.Operands) + ")" }

// Not requires that its argument does not occur.
type Not struct {
	Operand Operator
}

func (n *Not) Kind() Kind       { return KindNot }
func (n *Not) Args() []Operator { return []Operator{n.Operand} }
func (n *Not) String() string   { return "NOT(" + n.Operand.String() + ")" }

// KleeneClosure matches Min..Max occurrences of its argument.
// Max == 0 means unbounded.
type KleeneClosure struct {
	Operand Operator
	Min     int
	Max     int
}

func (k *KleeneClosure) Kind() Kind       { return KindKleene }
func (k *KleeneClosure) Args() []Operator { return []Operator{k.Operand} }
func (k *KleeneClosure) String() string {
	return fmt.Sprintf("KC(%s, min=%d, max=%d)", k.Operand, k.Min, k.Max)
}

// Primitives returns the primitive events of op in declared order.
func Primitives(op Operator) []*Primitive {
	if p, ok := op.(*Primitive); ok {
		return []*Primitive{p}
	}
	var out []*Primitive
	for _, arg := range op.Args() {
		out = append(out, Primitives(arg)...)
	}
	return out
}

func joinOperators(ops []Operator) string {
	parts := make([]string, len(ops))
	for i, op := range ops {
		parts[i] = op.String()
	}
	return strings.Join(parts, ", ")
}
