package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable(t *testing.T) {
	var buf bytes.Buffer
	table := NewTable(&buf, true, "ID", "LABELS", "PROPERTIES")
	table.AddRow("0", "Top", "value=top")
	table.AddRow("12", "Middle")
	table.Render()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "ID  LABELS  PROPERTIES", lines[0])
	assert.Equal(t, "──  ──────  ──────────", lines[1])
	assert.Equal(t, "0   Top     value=top", lines[2])
	assert.Equal(t, "12  Middle", lines[3])
	assert.Equal(t, 2, table.Len())
}

func TestTable_NoHeaders(t *testing.T) {
	var buf bytes.Buffer
	table := NewTable(&buf, true)
	table.AddRow("x")
	table.Render()
	assert.Empty(t, buf.String())
}

func TestKeyValueTable(t *testing.T) {
	var buf bytes.Buffer
	kv := NewKeyValueTable(&buf, true)
	kv.AddRow("nodes", "3")
	kv.AddRow("edges", "12")
	kv.AddRow("id", "7")
	kv.Render()
	assert.Equal(t, "nodes: 3\nedges: 12\nid:    7\n", buf.String())
}

func TestHeader(t *testing.T) {
	var buf bytes.Buffer
	Header(&buf, "Stats", true)
	assert.Equal(t, "Stats\n─────\n", buf.String())
}

func TestMessage(t *testing.T) {
	msg := ConfigError(`unknown backend "neo5j"`, []string{"neo4j"}, true).Format()
	assert.Contains(t, msg, `✗ CONFIGURATION ERROR: unknown backend "neo5j"`)
	assert.Contains(t, msg, "Did you mean: neo4j?")
	assert.Contains(t, msg, "→ Show the effective settings: ogm config show")

	warn := Message{Level: LevelWarning, Problem: "empty store", NoColor: true}.Format()
	assert.Equal(t, "! empty store\n", warn)

	var buf bytes.Buffer
	NotFound("node 9", nil, true).Write(&buf)
	assert.Contains(t, buf.String(), "NOT FOUND: node 9")
	assert.NotContains(t, buf.String(), "Did you mean")

	buf.Reset()
	Success(&buf, "wrote ogm.yaml", true)
	assert.Equal(t, "✓ wrote ogm.yaml\n", buf.String())
}

func TestDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"neo4j", "neo5j", 1},
		{"größe", "grösse", 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Distance(tt.a, tt.b), "%s -> %s", tt.a, tt.b)
	}
}

func TestFindSimilar(t *testing.T) {
	candidates := []string{"memory", "badger", "sqlite", "neo4j"}
	assert.Equal(t, []string{"neo4j"}, FindSimilar("NEO5J", candidates, 3))
	assert.Equal(t, []string{"sqlite"}, FindSimilar("sqlit", candidates, 3))
	assert.Empty(t, FindSimilar("postgres", candidates, 3))
	assert.Len(t, FindSimilar("x", []string{"a", "b", "c", "d"}, 2), 2)
}
