package pattern

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/cepwarden/internal/types"
)

func prim(typ, name string) *Primitive {
	return &Primitive{Type: types.EventType(typ), Name: name}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name      string
		structure Operator
		window    time.Duration
		policy    *ConsumptionPolicy
		wantErr   error
	}{
		{"zero window", &Seq{Operands: []Operator{prim("A", "a")}}, 0, nil, types.ErrInvalidWindow},
		{"duplicate names", &And{Operands: []Operator{prim("A", "a"), prim("B", "a")}}, time.Minute, nil, types.ErrDuplicateEventName},
		{"only negation", &Seq{Operands: []Operator{&Not{Operand: prim("A", "a")}}}, time.Minute, nil, types.ErrNoPositiveEvents},
		{"nested negation", &Seq{Operands: []Operator{prim("A", "a"), &And{Operands: []Operator{prim("B", "b"), &Not{Operand: prim("C", "c")}}}}}, time.Minute, nil, types.ErrUnsupportedOperator},
		{"negated subpattern", &Seq{Operands: []Operator{prim("A", "a"), &Not{Operand: &Seq{Operands: []Operator{prim("B", "b")}}}}}, time.Minute, nil, types.ErrUnsupportedOperator},
		{"kleene min zero", &KleeneClosure{Operand: prim("A", "a"), Min: 0}, time.Minute, nil, types.ErrInvalidKleeneBounds},
		{"kleene max below min", &KleeneClosure{Operand: prim("A", "a"), Min: 3, Max: 2}, time.Minute, nil, types.ErrInvalidKleeneBounds},
		{"empty seq", &Seq{}, time.Minute, nil, types.ErrUnsupportedOperator},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New("p", tt.structure, nil, tt.window, tt.policy)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := New("p", prim("A", "a"), nil, time.Minute, &ConsumptionPolicy{Freeze: []string{"zz"}})
	require.Error(t, err)
}

func TestNew_Decomposition(t *testing.T) {
	structure := &Seq{Operands: []Operator{
		prim("A", "a"),
		&Not{Operand: prim("B", "b")},
		prim("C", "c"),
		&Not{Operand: prim("D", "d")},
	}}
	p, err := New("neg", structure, nil, 5*time.Minute, nil)
	require.NoError(t, err)

	require.Len(t, p.Events(), 4)
	assert.Equal(t, 2, p.PositiveCount())
	assert.Equal(t, 0, p.PositiveLeaf(0))
	assert.Equal(t, 2, p.PositiveLeaf(1))
	assert.Equal(t, "SEQ(a:A, c:C)", p.Positive().String())

	neg := p.Negative()
	require.Len(t, neg, 2)
	assert.Equal(t, "b", neg[0].Name)
	assert.Equal(t, 1, neg[0].LeafIndex)
	assert.True(t, neg[0].Bounded)
	assert.Equal(t, "d", neg[1].Name)
	assert.False(t, neg[1].Bounded)

	assert.True(t, p.Precedes(0, 1))
	assert.True(t, p.Precedes(1, 2))
	assert.False(t, p.Precedes(2, 0))
	assert.True(t, p.IsSequence())
}

func TestNew_AndNegationIsUnbounded(t *testing.T) {
	p, err := New("and", &And{Operands: []Operator{&Not{Operand: prim("B", "b")}, prim("A", "a")}}, nil, time.Minute, nil)
	require.NoError(t, err)
	require.Len(t, p.Negative(), 1)
	assert.False(t, p.Negative()[0].Bounded)
	assert.False(t, p.Precedes(0, 1))
	assert.False(t, p.Precedes(1, 0))
}

func TestPrecedes_Nested(t *testing.T) {
	// SEQ(a, AND(b, c), KC(d))
	p, err := New("nested", &Seq{Operands: []Operator{
		prim("A", "a"),
		&And{Operands: []Operator{prim("B", "b"), prim("C", "c")}},
		&KleeneClosure{Operand: prim("D", "d"), Min: 1},
	}}, nil, time.Minute, nil)
	require.NoError(t, err)

	assert.True(t, p.Precedes(0, 1))
	assert.True(t, p.Precedes(0, 2))
	assert.False(t, p.Precedes(1, 2))
	assert.False(t, p.Precedes(2, 1))
	assert.True(t, p.Precedes(2, 3))
	assert.False(t, p.Precedes(3, 3))
}

func TestPlan_LeftDeepAndValidation(t *testing.T) {
	p, err := New("nested", &Seq{Operands: []Operator{
		prim("A", "a"),
		&And{Operands: []Operator{prim("B", "b"), prim("C", "c")}},
		&KleeneClosure{Operand: prim("D", "d"), Min: 1},
	}}, nil, time.Minute, nil)
	require.NoError(t, err)

	plan := p.LeftDeepPlan()
	assert.Equal(t, "((0 (1 2)) KC(3))", plan.String())
	require.NoError(t, p.ValidatePlan(plan))

	kind, err := p.PlanOperator([]int{1, 2})
	require.NoError(t, err)
	assert.Equal(t, KindAnd, kind)
	kind, err = p.PlanOperator([]int{0, 1, 2})
	require.NoError(t, err)
	assert.Equal(t, KindSeq, kind)

	tests := []struct {
		name string
		plan *PlanNode
	}{
		{"splits AND", PlanJoin(PlanJoin(PlanJoin(PlanLeaf(0), PlanLeaf(1)), PlanLeaf(2)), PlanKleene(PlanLeaf(3)))},
		{"missing kleene node", PlanJoin(PlanJoin(PlanLeaf(0), PlanJoin(PlanLeaf(1), PlanLeaf(2))), PlanLeaf(3))},
		{"duplicate leaf", PlanJoin(PlanJoin(PlanLeaf(0), PlanJoin(PlanLeaf(1), PlanLeaf(1))), PlanKleene(PlanLeaf(3)))},
		{"leaf out of range", PlanJoin(PlanLeaf(0), PlanLeaf(9))},
		{"kleene over non-kleene", PlanJoin(PlanKleene(PlanLeaf(0)), PlanLeaf(1))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, p.ValidatePlan(TreePlan{Root: tt.plan}), types.ErrInvalidPlan)
		})
	}

	// a different order inside the AND and across SEQ arguments is valid
	reordered := TreePlan{Root: PlanJoin(PlanKleene(PlanLeaf(3)), PlanJoin(PlanJoin(PlanLeaf(2), PlanLeaf(1)), PlanLeaf(0)))}
	require.NoError(t, p.ValidatePlan(reordered))
}

func TestKleeneLeaves(t *testing.T) {
	p, err := New("kc", &Seq{Operands: []Operator{
		prim("A", "a"),
		&KleeneClosure{Operand: &Seq{Operands: []Operator{prim("B", "b"), prim("C", "c")}}, Min: 1, Max: 2},
	}}, nil, time.Minute, nil)
	require.NoError(t, err)

	assert.Equal(t, map[int]bool{1: true, 2: true}, p.KleeneLeaves([]int{0, 1, 2}))
	assert.Equal(t, map[int]bool{1: true, 2: true}, p.KleeneLeaves([]int{1, 2}))
	assert.Empty(t, p.KleeneLeaves([]int{1}))

	kind, err := p.PlanOperator([]int{1, 2})
	require.NoError(t, err)
	assert.Equal(t, KindSeq, kind)
	require.NoError(t, p.ValidatePlan(p.LeftDeepPlan()))
}

func TestConsumptionPolicy(t *testing.T) {
	var none *ConsumptionPolicy
	assert.False(t, none.SingleFor("a"))
	assert.False(t, none.HasFreeze())

	c := &ConsumptionPolicy{Selection: SelectionAny, Single: []string{"b"}}
	assert.False(t, c.SingleFor("a"))
	assert.True(t, c.SingleFor("b"))

	c = &ConsumptionPolicy{Selection: SelectionSingle}
	assert.True(t, c.SingleFor("a"))

	sel, err := ParseSelection("NEXT")
	require.NoError(t, err)
	assert.Equal(t, SelectionNext, sel)
	_, err = ParseSelection("sometimes")
	assert.Error(t, err)
}
