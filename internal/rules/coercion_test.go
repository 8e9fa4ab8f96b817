package rules

import (
	"errors"
	"math"
	"testing"

	"github.com/solatis/cepwarden/internal/types"
)

func TestCoerce(t *testing.T) {
	tests := []struct {
		name      string
		value     any
		fieldType FieldType
		wantValue any
		wantNull  bool
		wantErr   error
	}{
		{name: "numeric: string", value: "25", fieldType: FieldTypeNumeric, wantValue: 25.0},
		{name: "numeric: padded string", value: "  42  ", fieldType: FieldTypeNumeric, wantValue: 42.0},
		{name: "numeric: int", value: 100, fieldType: FieldTypeNumeric, wantValue: 100.0},
		{name: "numeric: int64", value: int64(999), fieldType: FieldTypeNumeric, wantValue: 999.0},
		{name: "numeric: float passthrough", value: 42.5, fieldType: FieldTypeNumeric, wantValue: 42.5},
		{name: "numeric: scientific", value: "1e3", fieldType: FieldTypeNumeric, wantValue: 1000.0},
		{name: "numeric: word fails", value: "abc", fieldType: FieldTypeNumeric, wantErr: types.ErrCoercionFailed},
		{name: "numeric: empty fails", value: "   ", fieldType: FieldTypeNumeric, wantErr: types.ErrCoercionFailed},
		{name: "numeric: bool fails", value: true, fieldType: FieldTypeNumeric, wantErr: types.ErrCoercionFailed},
		{name: "numeric: nil is null", value: nil, fieldType: FieldTypeNumeric, wantNull: true},
		{name: "text: int", value: 7, fieldType: FieldTypeText, wantValue: "7"},
		{name: "text: float", value: 2.5, fieldType: FieldTypeText, wantValue: "2.5"},
		{name: "text: bool", value: false, fieldType: FieldTypeText, wantValue: "false"},
		{name: "boolean: passthrough", value: true, fieldType: FieldTypeBoolean, wantValue: true},
		{name: "boolean: string fails", value: "true", fieldType: FieldTypeBoolean, wantErr: types.ErrCoercionFailed},
		{name: "any: passthrough", value: "x", fieldType: FieldTypeAny, wantValue: "x"},
		{name: "unspecified: passthrough", value: 3, fieldType: FieldTypeUnspecified, wantValue: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Coerce(tt.value, tt.fieldType)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Coerce() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			if result.IsNull != tt.wantNull {
				t.Errorf("Coerce() IsNull = %v, want %v", result.IsNull, tt.wantNull)
			}
			if !tt.wantNull && result.Value != tt.wantValue {
				t.Errorf("Coerce() Value = %v (%T), want %v (%T)", result.Value, result.Value, tt.wantValue, tt.wantValue)
			}
		})
	}
}

func TestCoerceNumericSpecialValues(t *testing.T) {
	result, err := Coerce("NaN", FieldTypeNumeric)
	if err != nil || !math.IsNaN(result.Value.(float64)) {
		t.Errorf("Coerce(NaN) = %v, %v; want NaN", result.Value, err)
	}
	result, err = Coerce("-Inf", FieldTypeNumeric)
	if err != nil || !math.IsInf(result.Value.(float64), -1) {
		t.Errorf("Coerce(-Inf) = %v, %v; want -Inf", result.Value, err)
	}
	if _, err := Coerce("1.2.3", FieldTypeNumeric); !errors.Is(err, types.ErrCoercionFailed) {
		t.Errorf("Coerce(1.2.3) error = %v, want ErrCoercionFailed", err)
	}
}

func TestParseFieldType(t *testing.T) {
	tests := map[string]FieldType{
		"":        FieldTypeUnspecified,
		"numeric": FieldTypeNumeric,
		"Number":  FieldTypeNumeric,
		"text":    FieldTypeText,
		"bool":    FieldTypeBoolean,
		"any":     FieldTypeAny,
	}
	for in, want := range tests {
		got, err := ParseFieldType(in)
		if err != nil || got != want {
			t.Errorf("ParseFieldType(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseFieldType("decimal"); err == nil {
		t.Error("ParseFieldType(decimal) error = nil, want error")
	}
}
