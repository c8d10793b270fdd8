// Package cypher renders the statements the mapper issues against a graph
// store and the predicates used by find-by queries.
package cypher

import (
	"fmt"
	"reflect"
	"strings"
)

// Operator represents a comparison operator
type Operator int

const (
	OpEqual Operator = iota
	OpNotEqual
	OpGreaterThan
	OpGreaterThanOrEqual
	OpLessThan
	OpLessThanOrEqual
	OpIn
	OpNotIn
	OpContains
	OpStartsWith
	OpEndsWith
	OpIsNull
	OpIsNotNull
)

// String returns the string representation of the operator
func (o Operator) String() string {
	switch o {
	case OpEqual:
		return "="
	case OpNotEqual:
		return "<>"
	case OpGreaterThan:
		return ">"
	case OpGreaterThanOrEqual:
		return ">="
	case OpLessThan:
		return "<"
	case OpLessThanOrEqual:
		return "<="
	case OpIn:
		return "IN"
	case OpNotIn:
		return "NOT IN"
	case OpContains:
		return "CONTAINS"
	case OpStartsWith:
		return "STARTS WITH"
	case OpEndsWith:
		return "ENDS WITH"
	case OpIsNull:
		return "IS NULL"
	case OpIsNotNull:
		return "IS NOT NULL"
	default:
		return "UNKNOWN"
	}
}

// Condition represents a WHERE condition on one property
type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

// PredicateGroup represents a group of predicates combined with AND/OR
type PredicateGroup struct {
	Conditions []*Condition
	Groups     []*PredicateGroup
	Or         bool // true for OR, false for AND
}

// NewPredicateGroup creates a new predicate group
func NewPredicateGroup(or bool) *PredicateGroup {
	return &PredicateGroup{
		Conditions: make([]*Condition, 0),
		Groups:     make([]*PredicateGroup, 0),
		Or:         or,
	}
}

// AddCondition adds a condition to the group
func (pg *PredicateGroup) AddCondition(cond *Condition) {
	pg.Conditions = append(pg.Conditions, cond)
}

// AddGroup adds a nested group
func (pg *PredicateGroup) AddGroup(group *PredicateGroup) {
	pg.Groups = append(pg.Groups, group)
}

// IsEmpty reports whether the group holds no conditions.
func (pg *PredicateGroup) IsEmpty() bool {
	if pg == nil {
		return true
	}
	if len(pg.Conditions) > 0 {
		return false
	}
	for _, g := range pg.Groups {
		if !g.IsEmpty() {
			return false
		}
	}
	return true
}

// Fields returns every property name the group refers to.
func (pg *PredicateGroup) Fields() []string {
	if pg == nil {
		return nil
	}
	var out []string
	for _, c := range pg.Conditions {
		out = append(out, c.Field)
	}
	for _, g := range pg.Groups {
		out = append(out, g.Fields()...)
	}
	return out
}

// Map returns a copy of the group with every field name passed through fn.
func (pg *PredicateGroup) Map(fn func(string) string) *PredicateGroup {
	if pg == nil {
		return nil
	}
	out := NewPredicateGroup(pg.Or)
	for _, c := range pg.Conditions {
		cc := *c
		cc.Field = fn(c.Field)
		out.AddCondition(&cc)
	}
	for _, g := range pg.Groups {
		out.AddGroup(g.Map(fn))
	}
	return out
}

// ToCypher renders the group against the node variable alias. Values are
// added to params as $p0, $p1, ...
func (pg *PredicateGroup) ToCypher(alias string, paramCounter *int, params map[string]any) (string, error) {
	if pg.IsEmpty() {
		return "", nil
	}

	parts := make([]string, 0)

	for _, cond := range pg.Conditions {
		s, err := conditionToCypher(alias, cond, paramCounter, params)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}

	for _, group := range pg.Groups {
		s, err := group.ToCypher(alias, paramCounter, params)
		if err != nil {
			return "", err
		}
		if s != "" {
			parts = append(parts, fmt.Sprintf("(%s)", s))
		}
	}

	connector := " AND "
	if pg.Or {
		connector = " OR "
	}
	return strings.Join(parts, connector), nil
}

// conditionToCypher converts a condition to Cypher with parameterized values
func conditionToCypher(alias string, cond *Condition, paramCounter *int, params map[string]any) (string, error) {
	prop := alias + "." + Escape(cond.Field)

	switch cond.Operator {
	case OpIsNull, OpIsNotNull:
		return fmt.Sprintf("%s %s", prop, cond.Operator), nil
	case OpIn, OpNotIn:
		if _, ok := asList(cond.Value); !ok {
			return "", fmt.Errorf("%s operator requires a list value", cond.Operator)
		}
	case OpEqual, OpNotEqual, OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual,
		OpContains, OpStartsWith, OpEndsWith:
	default:
		return "", fmt.Errorf("unsupported operator: %v", cond.Operator)
	}

	name := fmt.Sprintf("p%d", *paramCounter)
	*paramCounter++
	params[name] = cond.Value

	if cond.Operator == OpNotIn {
		return fmt.Sprintf("NOT %s IN $%s", prop, name), nil
	}
	return fmt.Sprintf("%s %s $%s", prop, cond.Operator, name), nil
}

// Matches evaluates the group against a property map.
func (pg *PredicateGroup) Matches(props map[string]any) (bool, error) {
	if pg.IsEmpty() {
		return true, nil
	}
	results := make([]bool, 0, len(pg.Conditions)+len(pg.Groups))
	for _, c := range pg.Conditions {
		ok, err := c.Matches(props)
		if err != nil {
			return false, err
		}
		results = append(results, ok)
	}
	for _, g := range pg.Groups {
		if g.IsEmpty() {
			continue
		}
		ok, err := g.Matches(props)
		if err != nil {
			return false, err
		}
		results = append(results, ok)
	}
	for _, ok := range results {
		if pg.Or && ok {
			return true, nil
		}
		if !pg.Or && !ok {
			return false, nil
		}
	}
	return !pg.Or, nil
}

// Matches evaluates the condition against a property map.
func (c *Condition) Matches(props map[string]any) (bool, error) {
	v, present := props[c.Field]
	present = present && v != nil

	switch c.Operator {
	case OpIsNull:
		return !present, nil
	case OpIsNotNull:
		return present, nil
	}
	if !present {
		return false, nil
	}

	switch c.Operator {
	case OpEqual:
		return Equal(v, c.Value), nil
	case OpNotEqual:
		return !Equal(v, c.Value), nil
	case OpIn, OpNotIn:
		list, ok := asList(c.Value)
		if !ok {
			return false, fmt.Errorf("%s operator requires a list value", c.Operator)
		}
		found := false
		for _, item := range list {
			if Equal(v, item) {
				found = true
				break
			}
		}
		return found == (c.Operator == OpIn), nil
	case OpContains, OpStartsWith, OpEndsWith:
		s, ok1 := v.(string)
		sub, ok2 := c.Value.(string)
		if !ok1 || !ok2 {
			return false, nil
		}
		switch c.Operator {
		case OpContains:
			return strings.Contains(s, sub), nil
		case OpStartsWith:
			return strings.HasPrefix(s, sub), nil
		default:
			return strings.HasSuffix(s, sub), nil
		}
	case OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual:
		cmp, ok := Compare(v, c.Value)
		if !ok {
			return false, nil
		}
		switch c.Operator {
		case OpGreaterThan:
			return cmp > 0, nil
		case OpGreaterThanOrEqual:
			return cmp >= 0, nil
		case OpLessThan:
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	}
	return false, fmt.Errorf("unsupported operator: %v", c.Operator)
}

// Equal compares two property values, treating all numbers by value.
func Equal(a, b any) bool {
	if cmp, ok := Compare(a, b); ok {
		return cmp == 0
	}
	return reflect.DeepEqual(a, b)
}

// Compare orders two numbers or two strings.
func Compare(a, b any) (int, bool) {
	if x, ok := number(a); ok {
		y, ok := number(b)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	}
	x, ok1 := a.(string)
	y, ok2 := b.(string)
	if !ok1 || !ok2 {
		return 0, false
	}
	return strings.Compare(x, y), true
}

func number(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

func asList(v any) ([]any, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// PredicateBuilder provides a fluent API for building complex predicates
type PredicateBuilder struct {
	root *PredicateGroup
}

// NewPredicateBuilder creates a new predicate builder
func NewPredicateBuilder() *PredicateBuilder {
	return &PredicateBuilder{
		root: NewPredicateGroup(false), // Default to AND
	}
}

// Where starts a builder with one condition.
func Where(field string, op Operator, value any) *PredicateBuilder {
	return NewPredicateBuilder().And(field, op, value)
}

// Eq starts a builder with an equality condition.
func Eq(field string, value any) *PredicateBuilder {
	return Where(field, OpEqual, value)
}

// And adds a condition to the builder's group
func (pb *PredicateBuilder) And(field string, op Operator, value any) *PredicateBuilder {
	pb.root.AddCondition(&Condition{Field: field, Operator: op, Value: value})
	return pb
}

// AndGroup adds an AND group
func (pb *PredicateBuilder) AndGroup(fn func(*PredicateBuilder)) *PredicateBuilder {
	group := NewPredicateGroup(false)
	fn(&PredicateBuilder{root: group})
	pb.root.AddGroup(group)
	return pb
}

// OrGroup adds an OR group
func (pb *PredicateBuilder) OrGroup(fn func(*PredicateBuilder)) *PredicateBuilder {
	group := NewPredicateGroup(true)
	fn(&PredicateBuilder{root: group})
	pb.root.AddGroup(group)
	return pb
}

// Build returns the predicate group
func (pb *PredicateBuilder) Build() *PredicateGroup {
	return pb.root
}
