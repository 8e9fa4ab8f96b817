// internal/rules/coercion.go
package rules

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/solatis/cepwarden/internal/types"
)

/*
 * Type coercion for condition evaluation.
 *
 * Five-type system (NUMERIC, TEXT, BOOLEAN, ANY, UNSPECIFIED).
 *
 * Null values and coercion failures are reported differently: a nil value
 * yields IsNull (handled by the comparison's on-missing policy), an
 * impossible conversion yields ErrCoercionFailed (on-coercion policy).
 *
 * Type modes:
 *   - NUMERIC: Strict - numeric strings parse to float64, booleans rejected
 *   - TEXT: Lenient - every scalar formats to a string
 *   - BOOLEAN: Strict - booleans only
 *   - ANY: Lenient - value passes through unchanged
 */

// FieldType selects the coercion applied to both sides of a comparison.
type FieldType int

const (
	FieldTypeUnspecified FieldType = iota
	FieldTypeNumeric
	FieldTypeText
	FieldTypeBoolean
	FieldTypeAny
)

// ParseFieldType maps "numeric", "text", "boolean", "any" (or "") to FieldType.
func ParseFieldType(s string) (FieldType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return FieldTypeUnspecified, nil
	case "numeric", "number":
		return FieldTypeNumeric, nil
	case "text", "string":
		return FieldTypeText, nil
	case "boolean", "bool":
		return FieldTypeBoolean, nil
	case "any":
		return FieldTypeAny, nil
	default:
		return FieldTypeUnspecified, fmt.Errorf("unknown field type %q", s)
	}
}

// CoercionResult holds the coerced value or indicates null.
type CoercionResult struct {
	Value  any  // coerced value (valid only if !IsNull)
	IsNull bool // true if input was nil
}

// Coerce attempts to convert value to the expected field type.
// Returns ErrCoercionFailed for impossible coercions.
func Coerce(value any, fieldType FieldType) (CoercionResult, error) {
	if value == nil {
		return CoercionResult{IsNull: true}, nil
	}

	switch fieldType {
	case FieldTypeNumeric:
		return coerceNumeric(value)
	case FieldTypeText:
		return coerceText(value)
	case FieldTypeBoolean:
		if b, ok := value.(bool); ok {
			return CoercionResult{Value: b}, nil
		}
		return CoercionResult{}, types.ErrCoercionFailed
	case FieldTypeAny, FieldTypeUnspecified:
		return CoercionResult{Value: value}, nil
	default:
		return CoercionResult{}, types.ErrCoercionFailed
	}
}

func coerceNumeric(value any) (CoercionResult, error) {
	if f, ok := toFloat64(value); ok {
		return CoercionResult{Value: f}, nil
	}
	s, ok := value.(string)
	if !ok {
		return CoercionResult{}, types.ErrCoercionFailed
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return CoercionResult{}, types.ErrCoercionFailed
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return CoercionResult{}, types.ErrCoercionFailed
	}
	return CoercionResult{Value: f}, nil
}

func coerceText(value any) (CoercionResult, error) {
	switch v := value.(type) {
	case string:
		return CoercionResult{Value: v}, nil
	case float64:
		return CoercionResult{Value: strconv.FormatFloat(v, 'f', -1, 64)}, nil
	case int:
		return CoercionResult{Value: strconv.Itoa(v)}, nil
	case int64:
		return CoercionResult{Value: strconv.FormatInt(v, 10)}, nil
	case bool:
		return CoercionResult{Value: strconv.FormatBool(v)}, nil
	default:
		return CoercionResult{Value: fmt.Sprintf("%v", v)}, nil
	}
}
