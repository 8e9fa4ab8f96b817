// internal/rules/operators.go
package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/solatis/cepwarden/internal/types"
)

/*
 * Operator comparison logic.
 *
 * Implements the comparison operators of the condition language. Values
 * should already be coerced via Coerce() before reaching Compare().
 *
 * Operators:
 *   - exists/is_null: Null checks (unary, right side ignored)
 *   - eq/neq: Equality with numeric tolerance across int/float
 *   - lt/lte/gt/gte: Numeric comparison only
 *   - prefix/suffix: String prefix/suffix matching
 *   - in: Membership test with equality semantics
 *
 * The six relational operators (eq, neq, lt, lte, gt, gte) are the ones the
 * sorted partial-match storage can answer with a range query; Flip and
 * CompareKeys exist for that storage.
 */

// Operator enumerates condition operators.
type Operator int

const (
	OpUnspecified Operator = iota
	OpEq
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
	OpPrefix
	OpSuffix
	OpIn
	OpExists
	OpIsNull
)

var operatorNames = map[Operator]string{
	OpEq:     "eq",
	OpNeq:    "neq",
	OpLt:     "lt",
	OpLte:    "lte",
	OpGt:     "gt",
	OpGte:    "gte",
	OpPrefix: "prefix",
	OpSuffix: "suffix",
	OpIn:     "in",
	OpExists: "exists",
	OpIsNull: "is_null",
}

var operatorAliases = map[string]Operator{
	"=":  OpEq,
	"==": OpEq,
	"!=": OpNeq,
	"<":  OpLt,
	"<=": OpLte,
	">":  OpGt,
	">=": OpGte,
}

// String returns the canonical lower-case operator name.
func (op Operator) String() string {
	if name, ok := operatorNames[op]; ok {
		return name
	}
	return "unspecified"
}

// ParseOperator accepts canonical names ("lt") and symbolic aliases ("<").
func ParseOperator(s string) (Operator, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if op, ok := operatorAliases[s]; ok {
		return op, nil
	}
	for op, name := range operatorNames {
		if name == s {
			return op, nil
		}
	}
	return OpUnspecified, fmt.Errorf("%w: %q", types.ErrInvalidOperator, s)
}

// IsRelational reports whether op can drive a sorted range query.
func (op Operator) IsRelational() bool {
	switch op {
	case OpEq, OpNeq, OpLt, OpLte, OpGt, OpGte:
		return true
	default:
		return false
	}
}

// Flip returns the operator obtained by swapping operands: a < b <=> b > a.
func (op Operator) Flip() Operator {
	switch op {
	case OpLt:
		return OpGt
	case OpLte:
		return OpGte
	case OpGt:
		return OpLt
	case OpGte:
		return OpLte
	default:
		return op
	}
}

// Compare applies the operator to compare value against target.
// Both values should already be coerced to compatible types.
func Compare(op Operator, value, target any) bool {
	switch op {
	case OpExists:
		return value != nil
	case OpIsNull:
		return value == nil
	case OpEq:
		return compareEqual(value, target)
	case OpNeq:
		return !compareEqual(value, target)
	case OpLt:
		c, ok := compareNumeric(value, target)
		return ok && c < 0
	case OpLte:
		c, ok := compareNumeric(value, target)
		return ok && c <= 0
	case OpGt:
		c, ok := compareNumeric(value, target)
		return ok && c > 0
	case OpGte:
		c, ok := compareNumeric(value, target)
		return ok && c >= 0
	case OpPrefix:
		return comparePrefix(value, target)
	case OpSuffix:
		return compareSuffix(value, target)
	case OpIn:
		return compareIn(value, target)
	default:
		return false
	}
}

// compareEqual performs equality comparison with numeric type coercion.
func compareEqual(a, b any) bool {
	if na, nb, ok := asNumbers(a, b); ok {
		return na == nb
	}
	return a == b
}

// compareNumeric performs three-way numeric comparison (-1/0/1).
// ok is false for incomparable types, so ordering operators fail closed.
func compareNumeric(a, b any) (int, bool) {
	na, nb, ok := asNumbers(a, b)
	if !ok {
		return 0, false
	}
	switch {
	case na < nb:
		return -1, true
	case na > nb:
		return 1, true
	default:
		return 0, true
	}
}

func asNumbers(a, b any) (float64, float64, bool) {
	na, oka := toFloat64(a)
	nb, okb := toFloat64(b)
	return na, nb, oka && okb
}

// toFloat64 converts value to float64 if it's a numeric type.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func comparePrefix(value, prefix any) bool {
	vs, ok1 := value.(string)
	ps, ok2 := prefix.(string)
	if !ok1 || !ok2 {
		return false
	}
	return strings.HasPrefix(vs, ps)
}

func compareSuffix(value, suffix any) bool {
	vs, ok1 := value.(string)
	ss, ok2 := suffix.(string)
	if !ok1 || !ok2 {
		return false
	}
	return strings.HasSuffix(vs, ss)
}

// compareIn checks if value exists in set using equality semantics.
func compareIn(value, set any) bool {
	arr, ok := set.([]any)
	if !ok {
		return false
	}
	for _, elem := range arr {
		if compareEqual(value, elem) {
			return true
		}
	}
	return false
}

// CompareKeys is the total order used by sorted storage.
// Order across kinds: nil < bool < number < string < time. Within a kind the
// natural order applies; numbers compare as float64 so int and float keys mix.
func CompareKeys(a, b any) int {
	ka, kb := keyKind(a), keyKind(b)
	if ka != kb {
		return cmpInt(ka, kb)
	}
	switch ka {
	case kindBool:
		ab, bb := a.(bool), b.(bool)
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		default:
			return 1
		}
	case kindNumber:
		c, _ := compareNumeric(a, b)
		return c
	case kindString:
		return strings.Compare(a.(string), b.(string))
	case kindTime:
		return a.(time.Time).Compare(b.(time.Time))
	default:
		return 0
	}
}

const (
	kindNil = iota
	kindBool
	kindNumber
	kindString
	kindTime
)

func keyKind(v any) int {
	switch v.(type) {
	case nil:
		return kindNil
	case bool:
		return kindBool
	case string:
		return kindString
	case time.Time:
		return kindTime
	}
	if _, ok := toFloat64(v); ok {
		return kindNumber
	}
	return kindNil
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
