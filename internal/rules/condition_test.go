package rules

import (
	"errors"
	"testing"
	"time"

	"github.com/solatis/cepwarden/internal/types"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func bind(evs ...*types.Event) Binding { return Binding{Events: evs} }

func ev(typ string, payload types.Payload) *types.Event {
	return types.NewEvent(types.EventType(typ), t0, payload)
}

func mustAttr(t *testing.T, s string) Attr {
	t.Helper()
	a, err := ParseAttr(s)
	if err != nil {
		t.Fatalf("ParseAttr(%q) error = %v", s, err)
	}
	return a
}

func mustComparison(t *testing.T, left Term, op Operator, right Term, ft FieldType) *Comparison {
	t.Helper()
	c, err := NewComparison(left, op, right, ft)
	if err != nil {
		t.Fatalf("NewComparison() error = %v", err)
	}
	return c
}

func TestComparison_Eval(t *testing.T) {
	a := ev("A", types.Payload{"price": 1000.0, "name": "acme", "qty": "3"})
	b := ev("B", types.Payload{"price": 2000.0, "name": "acme"})
	bindings := Bindings{"a": bind(a), "b": bind(b)}

	tests := []struct {
		name  string
		left  Term
		op    Operator
		right Term
		ft    FieldType
		want  bool
	}{
		{
			name:  "price plus constant",
			left:  mustAttr(t, "a.price"),
			op:    OpLt,
			right: Arith{Op: ArithAdd, Left: mustAttr(t, "b.price"), Right: Const{Value: 2.0}},
			ft:    FieldTypeNumeric,
			want:  true,
		},
		{
			name:  "greater fails",
			left:  mustAttr(t, "a.price"),
			op:    OpGt,
			right: mustAttr(t, "b.price"),
			ft:    FieldTypeNumeric,
			want:  false,
		},
		{
			name:  "text equality across events",
			left:  mustAttr(t, "a.name"),
			op:    OpEq,
			right: mustAttr(t, "b.name"),
			ft:    FieldTypeText,
			want:  true,
		},
		{
			name:  "numeric string coerces",
			left:  mustAttr(t, "a.qty"),
			op:    OpGte,
			right: Const{Value: 3},
			ft:    FieldTypeNumeric,
			want:  true,
		},
		{
			name:  "ratio",
			left:  Arith{Op: ArithDiv, Left: mustAttr(t, "b.price"), Right: mustAttr(t, "a.price")},
			op:    OpEq,
			right: Const{Value: 2.0},
			ft:    FieldTypeNumeric,
			want:  true,
		},
		{
			name: "exists",
			left: mustAttr(t, "a.price"),
			op:   OpExists,
			want: true,
		},
		{
			name:  "prefix",
			left:  mustAttr(t, "a.name"),
			op:    OpPrefix,
			right: Const{Value: "ac"},
			ft:    FieldTypeText,
			want:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := mustComparison(t, tt.left, tt.op, tt.right, tt.ft)
			got, err := c.Eval(bindings)
			if err != nil {
				t.Fatalf("Eval() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Eval() = %v, want %v (%s)", got, tt.want, c)
			}
		})
	}
}

func TestComparison_MissingAndCoercionPolicies(t *testing.T) {
	a := ev("A", types.Payload{"price": "cheap"})
	bindings := Bindings{"a": bind(a)}

	missing := mustComparison(t, mustAttr(t, "a.volume"), OpGt, Const{Value: 1}, FieldTypeNumeric)
	if Satisfied(missing, bindings) {
		t.Error("missing field with skip policy satisfied, want not satisfied")
	}
	missing.OnMissing = OnMissingMatch
	if !Satisfied(missing, bindings) {
		t.Error("missing field with match policy not satisfied")
	}

	isNull := mustComparison(t, mustAttr(t, "a.volume"), OpIsNull, nil, FieldTypeUnspecified)
	if !Satisfied(isNull, bindings) {
		t.Error("is_null on missing field not satisfied")
	}

	bad := mustComparison(t, mustAttr(t, "a.price"), OpGt, Const{Value: 1}, FieldTypeNumeric)
	if Satisfied(bad, bindings) {
		t.Error("coercion failure with skip policy satisfied")
	}
	bad.OnCoercion = OnCoercionMatch
	if !Satisfied(bad, bindings) {
		t.Error("coercion failure with match policy not satisfied")
	}
}

func TestComparison_FailsClosed(t *testing.T) {
	a := ev("A", types.Payload{"price": 0.0})
	c := mustComparison(t, Arith{Op: ArithDiv, Left: Const{Value: 1}, Right: mustAttr(t, "a.price")}, OpGt, Const{Value: 0}, FieldTypeNumeric)
	if _, err := c.Eval(Bindings{"a": bind(a)}); !errors.Is(err, types.ErrDivisionByZero) {
		t.Errorf("Eval() error = %v, want ErrDivisionByZero", err)
	}

	unbound := mustComparison(t, mustAttr(t, "z.price"), OpEq, Const{Value: 1}, FieldTypeNumeric)
	if _, err := unbound.Eval(Bindings{"a": bind(a)}); !errors.Is(err, types.ErrUnboundName) {
		t.Errorf("Eval() error = %v, want ErrUnboundName", err)
	}
	if Satisfied(unbound, Bindings{"a": bind(a)}) {
		t.Error("Satisfied() = true for an erroring condition")
	}
}

func TestNot_SkippedOperandFailsClosed(t *testing.T) {
	a := ev("A", types.Payload{"y": 1.0, "price": "cheap"})
	bindings := Bindings{"a": bind(a)}

	missing := mustComparison(t, mustAttr(t, "a.x"), OpGt, Const{Value: 5}, FieldTypeNumeric)
	if _, err := missing.Eval(bindings); !errors.Is(err, types.ErrFieldNotFound) {
		t.Errorf("Eval() error = %v, want ErrFieldNotFound", err)
	}
	if Satisfied(&Not{Condition: missing}, bindings) {
		t.Error("not over a missing field satisfied")
	}

	bad := mustComparison(t, mustAttr(t, "a.price"), OpGt, Const{Value: 5}, FieldTypeNumeric)
	if _, err := bad.Eval(bindings); !errors.Is(err, types.ErrCoercionFailed) {
		t.Errorf("Eval() error = %v, want ErrCoercionFailed", err)
	}
	if Satisfied(&Not{Condition: bad}, bindings) {
		t.Error("not over an uncoercible field satisfied")
	}

	null := mustComparison(t, mustAttr(t, "a.y"), OpGt, Const{Value: nil}, FieldTypeNumeric)
	if Satisfied(&Not{Condition: null}, bindings) {
		t.Error("not over a null operand satisfied")
	}

	missing.OnMissing = OnMissingMatch
	if Satisfied(&Not{Condition: missing}, bindings) {
		t.Error("not over a match-policy missing field satisfied")
	}

	exists := mustComparison(t, mustAttr(t, "a.x"), OpExists, nil, FieldTypeUnspecified)
	if !Satisfied(&Not{Condition: exists}, bindings) {
		t.Error("not exists on a missing field not satisfied")
	}
}

func TestComparison_MultiBindingHoldsForEveryItem(t *testing.T) {
	items := Binding{Multi: true, Events: []*types.Event{
		ev("A", types.Payload{"v": 1.0}),
		ev("A", types.Payload{"v": 5.0}),
	}}
	c := mustComparison(t, mustAttr(t, "a.v"), OpLt, Const{Value: 10}, FieldTypeNumeric)
	if !Satisfied(c, Bindings{"a": items}) {
		t.Error("all items below limit, want satisfied")
	}
	c = mustComparison(t, mustAttr(t, "a.v"), OpLt, Const{Value: 3}, FieldTypeNumeric)
	if Satisfied(c, Bindings{"a": items}) {
		t.Error("one item above limit, want not satisfied")
	}
}

func TestNewComparison_Validation(t *testing.T) {
	if _, err := NewComparison(mustAttr(t, "a.x"), OpUnspecified, Const{Value: 1}, FieldTypeAny); !errors.Is(err, types.ErrInvalidOperator) {
		t.Errorf("unspecified operator error = %v, want ErrInvalidOperator", err)
	}
	if _, err := NewComparison(mustAttr(t, "a.x"), OpLt, nil, FieldTypeAny); !errors.Is(err, types.ErrInvalidOperator) {
		t.Errorf("missing right operand error = %v, want ErrInvalidOperator", err)
	}
	values := make([]any, types.MaxInOperatorValues+1)
	if _, err := NewComparison(mustAttr(t, "a.x"), OpIn, Const{Value: values}, FieldTypeAny); !errors.Is(err, types.ErrTooManyInValues) {
		t.Errorf("oversized in list error = %v, want ErrTooManyInValues", err)
	}

	in, err := NewComparison(mustAttr(t, "a.x"), OpIn, Const{Value: []any{"red", "blue"}}, FieldTypeText)
	if err != nil {
		t.Fatalf("NewComparison(in) error = %v", err)
	}
	if !Satisfied(in, Bindings{"a": bind(ev("A", types.Payload{"x": "blue"}))}) {
		t.Error("in list member not satisfied")
	}
}

func TestComposites(t *testing.T) {
	bindings := Bindings{"a": bind(ev("A", types.Payload{"v": 4.0}))}
	gt := mustComparison(t, mustAttr(t, "a.v"), OpGt, Const{Value: 3}, FieldTypeNumeric)
	lt := mustComparison(t, mustAttr(t, "a.v"), OpLt, Const{Value: 3}, FieldTypeNumeric)
	broken := mustComparison(t, mustAttr(t, "q.v"), OpLt, Const{Value: 3}, FieldTypeNumeric)

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"all true", NewAll(gt, gt), true},
		{"all one false", NewAll(gt, lt), false},
		{"any one true", &Any{Conditions: []Condition{lt, gt}}, true},
		{"any errors are false", &Any{Conditions: []Condition{broken}}, false},
		{"not", &Not{Condition: lt}, true},
		{"not of error fails closed", &Not{Condition: broken}, false},
		{"nil condition", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Satisfied(tt.cond, bindings); got != tt.want {
				t.Errorf("Satisfied() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKleeneCondition(t *testing.T) {
	rising := Binding{Multi: true, Events: []*types.Event{
		ev("A", types.Payload{"p": 1.0}),
		ev("A", types.Payload{"p": 2.0}),
		ev("A", types.Payload{"p": 7.0}),
	}}
	path, _ := ParsePath("p")

	adjacent := &KleeneCondition{Name: "a", Path: path, Op: OpLt, FieldType: FieldTypeNumeric}
	if !Satisfied(adjacent, Bindings{"a": rising}) {
		t.Error("strictly rising items not satisfied")
	}
	falling := Binding{Multi: true, Events: []*types.Event{rising.Events[2], rising.Events[0]}}
	if Satisfied(adjacent, Bindings{"a": falling}) {
		t.Error("falling items satisfied")
	}

	each := &KleeneCondition{Name: "a", Path: path, Op: OpLte, FieldType: FieldTypeNumeric, Value: 7}
	if !Satisfied(each, Bindings{"a": rising}) {
		t.Error("every item <= 7 not satisfied")
	}
	if !IsKleene(each) || IsKleene(&Contiguity{}) {
		t.Error("IsKleene() misclassified conditions")
	}
}

func TestContiguity(t *testing.T) {
	a := ev("A", nil)
	b := ev("B", nil)
	ev("X", nil)
	c := ev("C", nil)

	cond := &Contiguity{Order: []string{"a", "b"}}
	if !Satisfied(cond, Bindings{"a": bind(a), "b": bind(b)}) {
		t.Error("consecutive events not contiguous")
	}
	cond = &Contiguity{Order: []string{"b", "c"}}
	if Satisfied(cond, Bindings{"b": bind(b), "c": bind(c)}) {
		t.Error("events separated by another event reported contiguous")
	}
}

func TestNamesAndAtomics(t *testing.T) {
	c1 := mustComparison(t, mustAttr(t, "b.x"), OpEq, mustAttr(t, "a.x"), FieldTypeAny)
	c2 := mustComparison(t, mustAttr(t, "c.x"), OpExists, nil, FieldTypeAny)
	all := NewAll(c1, NewAll(c2, &Contiguity{Order: []string{"a", "c"}}))

	if got := len(Atomics(all)); got != 3 {
		t.Fatalf("len(Atomics()) = %d, want 3", got)
	}
	names := all.Names()
	want := []string{"a", "b", "c"}
	if len(names) != len(want) {
		t.Fatalf("Names() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, names[i], want[i])
		}
	}
	if _, ok := all.Conditions[0].(*Contiguity); !ok {
		t.Errorf("cheapest conjunct = %T, want *Contiguity first", all.Conditions[0])
	}
	if len(Comparisons(all)) != 2 {
		t.Errorf("len(Comparisons()) = %d, want 2", len(Comparisons(all)))
	}
}

func TestDistributor(t *testing.T) {
	path, _ := ParsePath("v")
	onA := mustComparison(t, mustAttr(t, "a.v"), OpGt, Const{Value: 0}, FieldTypeNumeric)
	ab := mustComparison(t, mustAttr(t, "a.v"), OpLt, mustAttr(t, "b.v"), FieldTypeNumeric)
	kleene := &KleeneCondition{Name: "a", Path: path, Op: OpLt, FieldType: FieldTypeNumeric}
	orphan := mustComparison(t, mustAttr(t, "z.v"), OpGt, Const{Value: 0}, FieldTypeNumeric)

	d := NewDistributor(NewAll(onA, ab, orphan), kleene)

	if got := d.Take([]string{"a"}, false); got != onA {
		t.Errorf("leaf Take() = %v, want %v", got, onA)
	}
	if got := d.Take([]string{"a"}, true); got != Condition(kleene) {
		t.Errorf("kleene Take() = %v, want %v", got, kleene)
	}
	if got := d.Take([]string{"b"}, false); got != nil {
		t.Errorf("Take(b) = %v, want nil", got)
	}
	if got := d.Take([]string{"a", "b"}, false); got != ab {
		t.Errorf("Take(a, b) = %v, want %v", got, ab)
	}
	if got := d.Take([]string{"a", "b"}, false); got != nil {
		t.Errorf("second Take(a, b) = %v, want nil (already assigned)", got)
	}
	rest := d.Remaining()
	if len(rest) != 1 || rest[0] != orphan {
		t.Errorf("Remaining() = %v, want [%v]", rest, orphan)
	}
}

func TestTermKey(t *testing.T) {
	b := Bindings{"a": bind(ev("A", types.Payload{"price": "12"}))}
	key, ok := TermKey(mustAttr(t, "a.price"), FieldTypeNumeric, b)
	if !ok || key != 12.0 {
		t.Errorf("TermKey() = %v, %v; want 12, true", key, ok)
	}
	if _, ok := TermKey(mustAttr(t, "a.volume"), FieldTypeNumeric, b); ok {
		t.Error("TermKey() on missing field ok = true, want false")
	}
}
