package bolt

import (
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/ogm/pkg/ogm/executor"
	"github.com/conduit-lang/ogm/pkg/ogm/graph"
)

func TestValue_ConvertsGraphEntities(t *testing.T) {
	node := neo4j.Node{Id: 4, Labels: []string{"Person"}, Props: map[string]any{"name": "ann"}}
	rel := neo4j.Relationship{Id: 9, StartId: 4, EndId: 5, Type: "KNOWS", Props: map[string]any{"key": "a"}}

	got := Value(map[string]any{
		"root":          node,
		"relationships": []any{rel},
		"nodes":         []any{neo4j.Node{Id: 5, Labels: []string{"Person"}}},
	})

	res := &executor.Result{}
	res.Add(got)
	sgs, err := res.Subgraphs()
	require.NoError(t, err)
	require.Len(t, sgs, 1)

	assert.Equal(t, &graph.Node{ID: 4, Labels: []string{"Person"}, Properties: map[string]any{"name": "ann"}}, sgs[0].Root)
	require.Len(t, sgs[0].Relationships, 1)
	assert.Equal(t, int64(9), sgs[0].Relationships[0].ID)
	assert.Equal(t, int64(4), sgs[0].Relationships[0].StartID)
	assert.Equal(t, int64(5), sgs[0].Relationships[0].EndID)
	assert.Equal(t, "a", sgs[0].Relationships[0].Properties["key"])
	require.Len(t, sgs[0].Nodes, 1)
	assert.Equal(t, int64(5), sgs[0].Nodes[0].ID)
}

func TestValue_PassesScalarsThrough(t *testing.T) {
	assert.Equal(t, int64(3), Value(int64(3)))
	assert.Equal(t, "x", Value("x"))
	assert.Equal(t, []any{"a", int64(1)}, Value([]any{"a", int64(1)}))
}
