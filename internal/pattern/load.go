package pattern

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/solatis/cepwarden/internal/rules"
	"github.com/solatis/cepwarden/internal/types"
)

/*
 * YAML pattern files.
 *
 *   name: rising-goog
 *   window: 1h
 *   structure:
 *     seq:
 *       - {type: GOOG, name: a}
 *       - not: {type: MSFT, name: m}
 *       - kleene: {min: 1, max: 3, of: {type: GOOG, name: b}}
 *   condition:
 *     all:
 *       - {left: a.price, op: "<", right: {add: [b.price, 2]}, type: numeric}
 *       - kleene: {name: b, path: price, op: "<", type: numeric}
 *   consumption:
 *     selection: single
 *     contiguous: [[a, b]]
 *   plan:
 *     join: [{leaf: 0}, {kleene: {leaf: 1}}]
 *
 * Terms: a bare string is an attribute reference ("name.path"), numbers and
 * booleans are constants, {const: v} is any constant, and {add|sub|mul|div:
 * [t, t]} is arithmetic.
 */

// File is the decoded form of a pattern file.
type File struct {
	Name        string           `yaml:"name"`
	Window      string           `yaml:"window"`
	Structure   any              `yaml:"structure"`
	Condition   any              `yaml:"condition,omitempty"`
	Consumption *ConsumptionFile `yaml:"consumption,omitempty"`
	Plan        *PlanNode        `yaml:"plan,omitempty"`
}

// ConsumptionFile is the decoded consumption section.
type ConsumptionFile struct {
	Selection  string     `yaml:"selection"`
	Single     []string   `yaml:"single,omitempty"`
	Contiguous [][]string `yaml:"contiguous,omitempty"`
	Freeze     []string   `yaml:"freeze,omitempty"`
}

// LoadFile reads a pattern file. The returned plan is nil when the file has
// no plan section.
func LoadFile(path string) (*Pattern, *TreePlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read pattern file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a pattern document.
func Parse(data []byte) (*Pattern, *TreePlan, error) {
	var f File
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil {
		return nil, nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return f.Build()
}

// Build converts the decoded file into a validated pattern and optional plan.
func (f *File) Build() (*Pattern, *TreePlan, error) {
	window, err := time.ParseDuration(f.Window)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %q", types.ErrInvalidWindow, f.Window)
	}
	structure, err := decodeOperator(f.Structure)
	if err != nil {
		return nil, nil, fmt.Errorf("structure: %w", err)
	}
	var cond rules.Condition
	if f.Condition != nil {
		cond, err = decodeCondition(f.Condition)
		if err != nil {
			return nil, nil, fmt.Errorf("condition: %w", err)
		}
	}
	var policy *ConsumptionPolicy
	if f.Consumption != nil {
		sel, err := ParseSelection(f.Consumption.Selection)
		if err != nil {
			return nil, nil, fmt.Errorf("consumption: %w", err)
		}
		policy = &ConsumptionPolicy{
			Selection:  sel,
			Single:     f.Consumption.Single,
			Contiguous: f.Consumption.Contiguous,
			Freeze:     f.Consumption.Freeze,
		}
	}

	p, err := New(f.Name, structure, cond, window, policy)
	if err != nil {
		return nil, nil, err
	}
	if f.Plan == nil {
		return p, nil, nil
	}
	plan := &TreePlan{Root: f.Plan}
	if err := p.ValidatePlan(*plan); err != nil {
		return nil, nil, err
	}
	return p, plan, nil
}

// LoadPlanFile reads a standalone plan document ({plan: ...}).
func LoadPlanFile(path string) (*TreePlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	var plan TreePlan
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&plan); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &plan, nil
}

// MarshalPlan renders plan in the plan file format.
func MarshalPlan(plan TreePlan) ([]byte, error) {
	return yaml.Marshal(plan)
}

func singleKey(v any, what string) (string, any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return "", nil, fmt.Errorf("%s must be a mapping, got %T", what, v)
	}
	if len(m) != 1 {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return "", nil, fmt.Errorf("%s must have exactly one key, got %v", what, keys)
	}
	for k, val := range m {
		return k, val, nil
	}
	return "", nil, nil
}

func decodeOperator(v any) (Operator, error) {
	if m, ok := v.(map[string]any); ok {
		if _, isPrim := m["type"]; isPrim {
			return decodePrimitive(m)
		}
	}
	key, val, err := singleKey(v, "operator")
	if err != nil {
		return nil, err
	}
	switch key {
	case "seq", "and":
		items, ok := val.([]any)
		if !ok {
			return nil, fmt.Errorf("%s takes a list of operators", key)
		}
		ops := make([]Operator, 0, len(items))
		for i, item := range items {
			op, err := decodeOperator(item)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
			}
			ops = append(ops, op)
		}
		if key == "seq" {
			return &Seq{Operands: ops}, nil
		}
		return &And{Operands: ops}, nil
	case "not":
		op, err := decodeOperator(val)
		if err != nil {
			return nil, fmt.Errorf("not: %w", err)
		}
		return &Not{Operand: op}, nil
	case "kleene":
		m, ok := val.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("kleene takes {min, max, of}")
		}
		op, err := decodeOperator(m["of"])
		if err != nil {
			return nil, fmt.Errorf("kleene: %w", err)
		}
		kc := &KleeneClosure{Operand: op, Min: 1}
		if n, ok := m["min"].(int); ok {
			kc.Min = n
		}
		if n, ok := m["max"].(int); ok {
			kc.Max = n
		}
		return kc, nil
	default:
		return nil, fmt.Errorf("%w: %q", types.ErrUnsupportedOperator, key)
	}
}

func decodePrimitive(m map[string]any) (Operator, error) {
	typ, _ := m["type"].(string)
	name, _ := m["name"].(string)
	if typ == "" || name == "" {
		return nil, fmt.Errorf("primitive event needs type and name")
	}
	for k := range m {
		if k != "type" && k != "name" {
			return nil, fmt.Errorf("unknown primitive field %q", k)
		}
	}
	return &Primitive{Type: types.EventType(typ), Name: name}, nil
}

func decodeCondition(v any) (rules.Condition, error) {
	if m, ok := v.(map[string]any); ok {
		if _, isCmp := m["left"]; isCmp {
			return decodeComparison(m)
		}
	}
	key, val, err := singleKey(v, "condition")
	if err != nil {
		return nil, err
	}
	switch key {
	case "all", "any":
		items, ok := val.([]any)
		if !ok {
			return nil, fmt.Errorf("%s takes a list of conditions", key)
		}
		conds := make([]rules.Condition, 0, len(items))
		for i, item := range items {
			c, err := decodeCondition(item)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
			}
			conds = append(conds, c)
		}
		if key == "all" {
			return rules.NewAll(conds...), nil
		}
		return &rules.Any{Conditions: conds}, nil
	case "not":
		c, err := decodeCondition(val)
		if err != nil {
			return nil, fmt.Errorf("not: %w", err)
		}
		return &rules.Not{Condition: c}, nil
	case "kleene":
		return decodeKleeneCondition(val)
	case "contiguous":
		items, ok := val.([]any)
		if !ok {
			return nil, fmt.Errorf("contiguous takes a list of event names")
		}
		names := make([]string, 0, len(items))
		for _, item := range items {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("contiguous takes a list of event names")
			}
			names = append(names, s)
		}
		return &rules.Contiguity{Order: names}, nil
	default:
		return nil, fmt.Errorf("unknown condition %q", key)
	}
}

func decodeComparison(m map[string]any) (rules.Condition, error) {
	left, err := decodeTerm(m["left"])
	if err != nil {
		return nil, fmt.Errorf("left: %w", err)
	}
	opName, _ := m["op"].(string)
	op, err := rules.ParseOperator(opName)
	if err != nil {
		return nil, err
	}
	var right rules.Term
	if raw, ok := m["right"]; ok {
		if list, isList := raw.([]any); isList {
			right = rules.Const{Value: list}
		} else if right, err = decodeTerm(raw); err != nil {
			return nil, fmt.Errorf("right: %w", err)
		}
	}
	typeName, _ := m["type"].(string)
	ft, err := rules.ParseFieldType(typeName)
	if err != nil {
		return nil, err
	}
	c, err := rules.NewComparison(left, op, right, ft)
	if err != nil {
		return nil, err
	}
	if s, ok := m["on_missing"].(string); ok {
		switch s {
		case "skip":
			c.OnMissing = rules.OnMissingSkip
		case "match":
			c.OnMissing = rules.OnMissingMatch
		case "fail":
			c.OnMissing = rules.OnMissingFail
		default:
			return nil, fmt.Errorf("unknown on_missing %q", s)
		}
	}
	if s, ok := m["on_coercion"].(string); ok {
		switch s {
		case "skip":
			c.OnCoercion = rules.OnCoercionSkip
		case "match":
			c.OnCoercion = rules.OnCoercionMatch
		case "error":
			c.OnCoercion = rules.OnCoercionError
		default:
			return nil, fmt.Errorf("unknown on_coercion %q", s)
		}
	}
	for k := range m {
		switch k {
		case "left", "op", "right", "type", "on_missing", "on_coercion":
		default:
			return nil, fmt.Errorf("unknown comparison field %q", k)
		}
	}
	return c, nil
}

func decodeKleeneCondition(v any) (rules.Condition, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("kleene condition takes {name, path, op, type, value}")
	}
	name, _ := m["name"].(string)
	if name == "" {
		return nil, fmt.Errorf("kleene condition needs a name")
	}
	pathStr, _ := m["path"].(string)
	path, err := rules.ParsePath(pathStr)
	if err != nil {
		return nil, err
	}
	opName, _ := m["op"].(string)
	op, err := rules.ParseOperator(opName)
	if err != nil {
		return nil, err
	}
	typeName, _ := m["type"].(string)
	ft, err := rules.ParseFieldType(typeName)
	if err != nil {
		return nil, err
	}
	return &rules.KleeneCondition{Name: name, Path: path, Op: op, FieldType: ft, Value: m["value"]}, nil
}

func decodeTerm(v any) (rules.Term, error) {
	switch t := v.(type) {
	case string:
		return rules.ParseAttr(t)
	case int:
		return rules.Const{Value: float64(t)}, nil
	case float64, bool:
		return rules.Const{Value: t}, nil
	case nil:
		return nil, fmt.Errorf("missing term")
	}
	key, val, err := singleKey(v, "term")
	if err != nil {
		return nil, err
	}
	var arith rules.ArithOp
	switch strings.ToLower(key) {
	case "const":
		return rules.Const{Value: val}, nil
	case "add":
		arith = rules.ArithAdd
	case "sub":
		arith = rules.ArithSub
	case "mul":
		arith = rules.ArithMul
	case "div":
		arith = rules.ArithDiv
	default:
		return nil, fmt.Errorf("unknown term %q", key)
	}
	args, ok := val.([]any)
	if !ok || len(args) != 2 {
		return nil, fmt.Errorf("%s takes exactly two terms", key)
	}
	left, err := decodeTerm(args[0])
	if err != nil {
		return nil, err
	}
	right, err := decodeTerm(args[1])
	if err != nil {
		return nil, err
	}
	return rules.Arith{Op: arith, Left: left, Right: right}, nil
}
