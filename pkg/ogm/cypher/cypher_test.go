package cypher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperator_String(t *testing.T) {
	tests := []struct {
		op       Operator
		expected string
	}{
		{OpEqual, "="},
		{OpNotEqual, "<>"},
		{OpGreaterThan, ">"},
		{OpGreaterThanOrEqual, ">="},
		{OpLessThan, "<"},
		{OpLessThanOrEqual, "<="},
		{OpIn, "IN"},
		{OpNotIn, "NOT IN"},
		{OpContains, "CONTAINS"},
		{OpStartsWith, "STARTS WITH"},
		{OpEndsWith, "ENDS WITH"},
		{OpIsNull, "IS NULL"},
		{OpIsNotNull, "IS NOT NULL"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.op.String())
	}
}

func TestConditionToCypher(t *testing.T) {
	tests := []struct {
		name     string
		cond     *Condition
		expected string
		params   map[string]any
	}{
		{
			name:     "equal",
			cond:     &Condition{Field: "status", Operator: OpEqual, Value: "published"},
			expected: "n.status = $p0",
			params:   map[string]any{"p0": "published"},
		},
		{
			name:     "dotted field is escaped",
			cond:     &Condition{Field: "tags.0", Operator: OpEqual, Value: "a"},
			expected: "n.`tags.0` = $p0",
			params:   map[string]any{"p0": "a"},
		},
		{
			name:     "not in",
			cond:     &Condition{Field: "id", Operator: OpNotIn, Value: []int{1, 2}},
			expected: "NOT n.id IN $p0",
			params:   map[string]any{"p0": []int{1, 2}},
		},
		{
			name:     "is null takes no parameter",
			cond:     &Condition{Field: "deleted", Operator: OpIsNull},
			expected: "n.deleted IS NULL",
			params:   map[string]any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter := 0
			params := map[string]any{}
			got, err := conditionToCypher("n", tt.cond, &counter, params)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
			assert.Equal(t, tt.params, params)
		})
	}
}

func TestConditionToCypher_InRequiresList(t *testing.T) {
	counter := 0
	_, err := conditionToCypher("n", &Condition{Field: "id", Operator: OpIn, Value: 3}, &counter, map[string]any{})
	assert.Error(t, err)
}

func TestPredicateGroup_ToCypher(t *testing.T) {
	group := NewPredicateBuilder().
		And("status", OpEqual, "published").
		OrGroup(func(pb *PredicateBuilder) {
			pb.And("views", OpGreaterThan, 100)
			pb.And("featured", OpEqual, true)
		}).
		Build()

	counter := 0
	params := map[string]any{}
	got, err := group.ToCypher("n", &counter, params)
	require.NoError(t, err)

	assert.Equal(t, "n.status = $p0 AND (n.views > $p1 OR n.featured = $p2)", got)
	assert.Equal(t, map[string]any{"p0": "published", "p1": 100, "p2": true}, params)
	assert.Equal(t, 3, counter)
}

func TestPredicateGroup_Matches(t *testing.T) {
	group := NewPredicateBuilder().
		And("status", OpEqual, "published").
		OrGroup(func(pb *PredicateBuilder) {
			pb.And("views", OpGreaterThan, 100)
			pb.And("title", OpStartsWith, "Go")
		}).
		Build()

	tests := []struct {
		name  string
		props map[string]any
		want  bool
	}{
		{"all match", map[string]any{"status": "published", "views": int64(200)}, true},
		{"or branch", map[string]any{"status": "published", "views": int64(3), "title": "Gophers"}, true},
		{"wrong status", map[string]any{"status": "draft", "views": int64(200)}, false},
		{"missing property", map[string]any{"views": int64(200)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := group.Matches(tt.props)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestConditionMatches_Operators(t *testing.T) {
	props := map[string]any{"n": int64(5), "s": "hello", "nothing": nil}

	tests := []struct {
		cond Condition
		want bool
	}{
		{Condition{Field: "n", Operator: OpEqual, Value: 5}, true},
		{Condition{Field: "n", Operator: OpEqual, Value: 5.0}, true},
		{Condition{Field: "n", Operator: OpNotEqual, Value: 5}, false},
		{Condition{Field: "n", Operator: OpLessThanOrEqual, Value: 5}, true},
		{Condition{Field: "n", Operator: OpIn, Value: []any{1, 5}}, true},
		{Condition{Field: "n", Operator: OpNotIn, Value: []any{1, 5}}, false},
		{Condition{Field: "s", Operator: OpContains, Value: "ell"}, true},
		{Condition{Field: "s", Operator: OpEndsWith, Value: "lo"}, true},
		{Condition{Field: "nothing", Operator: OpIsNull}, true},
		{Condition{Field: "absent", Operator: OpIsNull}, true},
		{Condition{Field: "s", Operator: OpIsNotNull}, true},
		{Condition{Field: "s", Operator: OpGreaterThan, Value: 3}, false},
	}
	for _, tt := range tests {
		ok, err := tt.cond.Matches(props)
		require.NoError(t, err)
		assert.Equal(t, tt.want, ok, "%s %s %v", tt.cond.Field, tt.cond.Operator, tt.cond.Value)
	}
}

func TestPredicateGroup_Map(t *testing.T) {
	group := Eq("value", 1).AndGroup(func(pb *PredicateBuilder) {
		pb.And("other", OpEqual, 2)
	}).Build()

	mapped := group.Map(func(s string) string { return "ns_" + s })
	assert.Equal(t, []string{"ns_value", "ns_other"}, mapped.Fields())
	assert.Equal(t, []string{"value", "other"}, group.Fields())
}

func TestEscape(t *testing.T) {
	assert.Equal(t, "Person", Escape("Person"))
	assert.Equal(t, "nsa_Root", Escape("nsa_Root"))
	assert.Equal(t, "`a.b`", Escape("a.b"))
	assert.Equal(t, "`we``ird`", Escape("we`ird"))
	assert.Equal(t, "`1abc`", Escape("1abc"))
	assert.Equal(t, ":A:`b c`", LabelExpr([]string{"A", "", "b c"}))
}

func TestNodeTemplates(t *testing.T) {
	props := map[string]any{"name": "x"}

	create := CreateNode([]string{"Person", "Entity"}, props)
	assert.Equal(t, KindCreateNode, create.Kind)
	assert.Equal(t, "CREATE (n:Person:Entity $properties) RETURN id(n)", create.Text)
	assert.Equal(t, props, create.Params["properties"])

	bulk := CreateNodes([]string{"Person"}, []map[string]any{props, props})
	assert.Equal(t, "UNWIND $nodes as node CREATE (n:Person) SET n = node.properties RETURN id(n)", bulk.Text)
	assert.Len(t, bulk.Params["nodes"], 2)

	update := UpdateNode(4, []string{"Person"}, props)
	assert.Equal(t, "MATCH (n) WHERE id(n) = $id SET n:Person SET n = $properties", update.Text)
	assert.Equal(t, int64(4), update.Params["id"])

	find := FindByID("Person", 7)
	assert.Equal(t, "MATCH (n:Person) WHERE id(n) = $id OPTIONAL MATCH (n)-[r]->(c) "+
		"RETURN {root: n, relationships: collect(distinct r), nodes: collect(distinct c)}", find.Text)
	assert.False(t, find.Kind.Writes())

	assert.Equal(t, "MATCH (n:Person) DETACH DELETE n", DeleteAll("Person").Text)
	assert.Equal(t, "MATCH (n:Person) RETURN count(n)", Count("Person").Text)
	assert.Equal(t, "MATCH (n) WHERE id(n) = $id RETURN labels(n)", Labels(1).Text)
}

func TestFindWhere(t *testing.T) {
	stmt, err := FindWhere("Person", Eq("name", "ann").Build())
	require.NoError(t, err)
	assert.Equal(t, "MATCH (n:Person) WHERE n.name = $p0 OPTIONAL MATCH (n)-[r]->(c) "+
		"RETURN {root: n, relationships: collect(distinct r), nodes: collect(distinct c)}", stmt.Text)
	assert.Equal(t, "ann", stmt.Params["p0"])
	assert.Equal(t, KindFindWhere, stmt.Kind)

	empty, err := FindWhere("Person", nil)
	require.NoError(t, err)
	assert.Equal(t, FindAll("Person").Text, empty.Text)
}

func TestFindSubtree(t *testing.T) {
	root := FindSubtree("Top", 1, 0)
	assert.Equal(t, "MATCH (n:Top) WHERE id(n) = $id RETURN {root: n}", root.Text)

	bounded := FindSubtree("Top", 1, 2, "MIDDLE", "BOTTOM")
	assert.Contains(t, bounded.Text, "OPTIONAL MATCH (n)-[r:MIDDLE|BOTTOM*..2]->(c)")
	assert.Equal(t, []string{"MIDDLE", "BOTTOM"}, bounded.EdgeTypes)
	assert.Equal(t, 2, bounded.Depth)

	unbounded := FindSubtree("Top", 1, -1)
	assert.Contains(t, unbounded.Text, "OPTIONAL MATCH (n)-[r*..]->(c)")
}

func TestEdgeTemplates(t *testing.T) {
	link := Link("KNOWS", 1, 2)
	assert.Equal(t, "MATCH (a), (b) WHERE id(a) = $id1 and id(b) = $id2 MERGE (a)-[r:KNOWS]->(b)", link.Text)
	assert.Equal(t, map[string]any{"id1": int64(1), "id2": int64(2)}, link.Params)

	targets := LinkTargets("KNOWS", 1, []int64{2, 3})
	assert.Equal(t, []any{int64(2), int64(3)}, targets.Params["targets"])

	tuples := LinkTuples("KNOWS", []Tuple{{Source: 1, Target: 2}})
	assert.Equal(t, []any{map[string]any{"source": int64(1), "target": int64(2)}}, tuples.Params["tuples"])

	sources := LinkSources("KNOWS", []Sources{{ID: 1, Targets: []int64{2}}})
	assert.Equal(t, []any{map[string]any{"id": int64(1), "targets": []any{int64(2)}}}, sources.Params["sources"])

	create := CreateEdges("WORKS_AT", []EdgeCreate{{SourceID: 1, TargetID: 2, Properties: map[string]any{"role": "dev"}}})
	assert.Contains(t, create.Text, "UNWIND $relationships as relationship")
	assert.Equal(t, KindCreateEdges, create.Kind)

	update := UpdateEdges("WORKS_AT", []NodeUpdate{{ID: 9, Properties: map[string]any{}}})
	assert.Contains(t, update.Text, "WHERE id(r) = relationship.id")

	where, err := FindEdgesWhere("WORKS_AT", Eq("role", "dev").Build())
	require.NoError(t, err)
	assert.Equal(t, "MATCH (s)-[r:WORKS_AT]->(t) WHERE r.role = $p0 RETURN r, s, t", where.Text)

	assert.Equal(t, "MATCH ()-[r:WORKS_AT]->() DELETE r", DeleteEdges("WORKS_AT").Text)
	assert.True(t, DeleteEdges("WORKS_AT").Kind.Writes())
}

func TestRaw(t *testing.T) {
	raw := Raw("RETURN 1", nil)
	assert.Equal(t, KindRaw, raw.Kind)
	assert.NotNil(t, raw.Params)
	assert.Equal(t, "raw", raw.Kind.String())
}
