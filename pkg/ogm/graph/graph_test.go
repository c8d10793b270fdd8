package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBias(t *testing.T) {
	tests := []struct {
		id     int64
		biased int64
	}{
		{0, -1},
		{1, -2},
		{41, -42},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.biased, Bias(tt.id))
		assert.Equal(t, tt.id, Unbias(tt.biased))
		assert.Equal(t, tt.id, Unbias(tt.id), "node ids pass through")
	}
}

func TestNodeHasLabels(t *testing.T) {
	n := &Node{ID: 1, Labels: []string{"Child", "Parent"}}

	assert.True(t, n.HasLabels("Parent"))
	assert.True(t, n.HasLabels("Child", "Parent"))
	assert.True(t, n.HasLabels())
	assert.False(t, n.HasLabels("Other"))

	var missing *Node
	assert.False(t, missing.HasLabels("Parent"))
}

func TestSubgraphNodeByID(t *testing.T) {
	root := &Node{ID: 1}
	child := &Node{ID: 2}
	sg := &Subgraph{Root: root, Nodes: []*Node{child}}

	assert.Same(t, root, sg.NodeByID(1))
	assert.Same(t, child, sg.NodeByID(2))
	assert.Nil(t, sg.NodeByID(3))
}

func TestSortedKeys(t *testing.T) {
	n := &Node{Properties: map[string]any{"b.1": 1, "a": 2, "b.0": 3}}
	assert.Equal(t, []string{"a", "b.0", "b.1"}, n.SortedKeys())
}

func TestClone(t *testing.T) {
	n := &Node{ID: 3, Labels: []string{"A"}, Properties: map[string]any{"list": []any{1, 2}}}
	c := n.Clone()
	c.Labels[0] = "B"
	c.Properties["list"].([]any)[0] = 9

	assert.Equal(t, "A", n.Labels[0])
	assert.Equal(t, 1, n.Properties["list"].([]any)[0])
}
