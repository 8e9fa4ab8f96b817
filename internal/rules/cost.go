// internal/rules/cost.go
package rules

import "github.com/solatis/cepwarden/internal/types"

/*
 * Cost model for condition evaluation.
 *
 * Conjunction members are evaluated cheapest first so non-matching partial
 * matches are rejected before expensive checks run.
 *
 * Comparison cost: lookup_cost + (operator_cost * type_multiplier * 8^wildcards)
 * summed over attribute operands. Arithmetic adds CostArith per operator.
 * Contiguity only reads sequence ids and is the cheapest condition.
 */

const (
	// Operator base costs
	CostExists = 1
	CostIsNull = 1
	CostEq     = 5
	CostNeq    = 5
	CostLt     = 7
	CostLte    = 7
	CostGt     = 7
	CostGte    = 7
	CostIn     = 8
	CostPrefix = 10
	CostSuffix = 10
	CostArith  = 16

	// Field lookup cost per string component
	CostLookupPerSegment = 128

	// Field type multipliers
	MultiplierInt    = 1
	MultiplierBool   = 1
	MultiplierFloat  = 4
	MultiplierString = 48
	MultiplierAny    = 128

	// Per-iteration factor for Kleene conditions
	KleeneIterationFactor = 8

	CostContiguity = 1
)

// CalculateConditionCost computes cost for a single attribute lookup.
// cost = lookup_cost + (operator_cost * field_type_multiplier * 8^wildcards)
func CalculateConditionCost(path []types.PathSegment, op Operator, fieldType FieldType) int {
	lookupCost := 0
	wildcardCount := 0
	for _, seg := range path {
		if seg.Key != "" {
			lookupCost += CostLookupPerSegment
		}
		if seg.Wildcard {
			wildcardCount++
		}
	}

	execMult := 1
	for i := 0; i < wildcardCount; i++ {
		execMult *= 8
	}

	return lookupCost + (operatorCost(op) * typeMultiplier(fieldType) * execMult)
}

// ConditionCost estimates the evaluation cost of c.
func ConditionCost(c Condition) int {
	switch c := c.(type) {
	case *Comparison:
		cost := termCost(c.Left, c.Op, c.FieldType)
		if c.Right != nil {
			cost += termCost(c.Right, c.Op, c.FieldType)
		}
		return cost
	case *KleeneCondition:
		return CalculateConditionCost(c.Path, c.Op, c.FieldType) * KleeneIterationFactor
	case *Contiguity:
		return CostContiguity
	case *All:
		return sumCost(c.Conditions)
	case *Any:
		return sumCost(c.Conditions)
	case *Not:
		return ConditionCost(c.Condition)
	default:
		return CostLookupPerSegment * MultiplierAny
	}
}

func termCost(t Term, op Operator, ft FieldType) int {
	switch t := t.(type) {
	case Attr:
		return CalculateConditionCost(t.Path, op, ft)
	case Arith:
		return CostArith + termCost(t.Left, op, FieldTypeNumeric) + termCost(t.Right, op, FieldTypeNumeric)
	default:
		return 0
	}
}

func sumCost(conds []Condition) int {
	total := 0
	for _, c := range conds {
		total += ConditionCost(c)
	}
	return total
}

func operatorCost(op Operator) int {
	switch op {
	case OpExists, OpIsNull:
		return CostExists
	case OpEq, OpNeq:
		return CostEq
	case OpLt, OpLte, OpGt, OpGte:
		return CostLt
	case OpIn:
		return CostIn
	case OpPrefix, OpSuffix:
		return CostPrefix
	default:
		return CostEq
	}
}

// typeMultiplier returns cost multiplier based on field type complexity.
func typeMultiplier(ft FieldType) int {
	switch ft {
	case FieldTypeNumeric:
		return MultiplierFloat
	case FieldTypeBoolean:
		return MultiplierBool
	case FieldTypeText:
		return MultiplierString
	default:
		return MultiplierAny
	}
}
