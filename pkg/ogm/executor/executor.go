// Package executor defines how rendered statements reach a graph store.
//
// A Driver opens transactions; a Tx runs cypher.Statement values and
// returns positional records. Record values are scalars, *graph.Node,
// *graph.Edge, []any lists or map[string]any. Find statements return one
// map per root: {root, relationships, nodes}.
package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/conduit-lang/ogm/pkg/ogm/cypher"
	"github.com/conduit-lang/ogm/pkg/ogm/graph"
)

// ErrUnsupported is returned when an executor cannot run a statement kind.
var ErrUnsupported = errors.New("statement not supported by executor")

// AccessMode selects a read or write transaction.
type AccessMode int

const (
	ReadMode AccessMode = iota
	WriteMode
)

// String returns the string representation of the access mode
func (m AccessMode) String() string {
	switch m {
	case ReadMode:
		return "read"
	case WriteMode:
		return "write"
	default:
		return "unknown"
	}
}

// ModeFor returns the access mode a statement needs.
func ModeFor(stmt cypher.Statement) AccessMode {
	if stmt.Kind.Writes() {
		return WriteMode
	}
	return ReadMode
}

// Driver opens transactions against a graph store.
type Driver interface {
	Begin(ctx context.Context, mode AccessMode) (Tx, error)
	Close(ctx context.Context) error
}

// Tx runs statements inside one transaction.
type Tx interface {
	Run(ctx context.Context, stmt cypher.Statement) (*Result, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Record is one result row.
type Record struct {
	Keys   []string
	Values []any
}

// Get returns the value stored under key.
func (r Record) Get(key string) (any, bool) {
	for i, k := range r.Keys {
		if k == key && i < len(r.Values) {
			return r.Values[i], true
		}
	}
	return nil, false
}

// Result holds every record a statement returned.
type Result struct {
	Keys    []string
	Records []Record
}

// Add appends a row.
func (r *Result) Add(values ...any) {
	r.Records = append(r.Records, Record{Keys: r.Keys, Values: values})
}

// Column returns the first value of every record.
func (r *Result) Column() []any {
	if r == nil {
		return nil
	}
	out := make([]any, 0, len(r.Records))
	for _, rec := range r.Records {
		if len(rec.Values) > 0 {
			out = append(out, rec.Values[0])
		}
	}
	return out
}

// IDs returns the first column as ids, as returned by create statements.
func (r *Result) IDs() ([]int64, error) {
	col := r.Column()
	out := make([]int64, len(col))
	for i, v := range col {
		id, ok := AsInt64(v)
		if !ok {
			return nil, fmt.Errorf("unexpected id value %T", v)
		}
		out[i] = id
	}
	return out, nil
}

// Int64 returns the single integer a count statement returns.
func (r *Result) Int64() (int64, error) {
	col := r.Column()
	if len(col) == 0 {
		return 0, nil
	}
	n, ok := AsInt64(col[0])
	if !ok {
		return 0, fmt.Errorf("unexpected count value %T", col[0])
	}
	return n, nil
}

// Strings returns the single string list a labels statement returns. It is
// nil when the node does not exist.
func (r *Result) Strings() ([]string, error) {
	col := r.Column()
	if len(col) == 0 {
		return nil, nil
	}
	list, ok := col[0].([]any)
	if !ok {
		if s, ok := col[0].([]string); ok {
			return s, nil
		}
		return nil, fmt.Errorf("unexpected list value %T", col[0])
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected list entry %T", v)
		}
		out = append(out, s)
	}
	return out, nil
}

// Subgraphs decodes the {root, relationships, nodes} maps of a find result.
func (r *Result) Subgraphs() ([]*graph.Subgraph, error) {
	col := r.Column()
	out := make([]*graph.Subgraph, 0, len(col))
	for _, v := range col {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("unexpected subgraph value %T", v)
		}
		if sg := SubgraphOf(m); sg != nil {
			out = append(out, sg)
		}
	}
	return out, nil
}

// SubgraphOf decodes one {root, relationships, nodes} map. It returns nil
// when the map has no root.
func SubgraphOf(m map[string]any) *graph.Subgraph {
	root, ok := m["root"].(*graph.Node)
	if !ok || root == nil {
		return nil
	}
	sg := &graph.Subgraph{Root: root}
	if rels, ok := m["relationships"].([]any); ok {
		for _, e := range rels {
			if edge, ok := e.(*graph.Edge); ok && edge != nil {
				sg.Relationships = append(sg.Relationships, edge)
			}
		}
	}
	if nodes, ok := m["nodes"].([]any); ok {
		for _, n := range nodes {
			if node, ok := n.(*graph.Node); ok && node != nil {
				sg.Nodes = append(sg.Nodes, node)
			}
		}
	}
	return sg
}

// EdgeRow is one (relationship, source, target) row of an edge find.
type EdgeRow struct {
	Edge   *graph.Edge
	Source *graph.Node
	Target *graph.Node
}

// EdgeRows decodes the r, s, t rows of an edge find.
func (r *Result) EdgeRows() ([]EdgeRow, error) {
	if r == nil {
		return nil, nil
	}
	out := make([]EdgeRow, 0, len(r.Records))
	for _, rec := range r.Records {
		if len(rec.Values) < 3 {
			return nil, fmt.Errorf("edge row has %d values, want 3", len(rec.Values))
		}
		e, ok1 := rec.Values[0].(*graph.Edge)
		s, ok2 := rec.Values[1].(*graph.Node)
		t, ok3 := rec.Values[2].(*graph.Node)
		if !ok1 || !ok2 || !ok3 {
			return nil, fmt.Errorf("unexpected edge row %T, %T, %T", rec.Values[0], rec.Values[1], rec.Values[2])
		}
		out = append(out, EdgeRow{Edge: e, Source: s, Target: t})
	}
	return out, nil
}

// SubgraphValue builds the map a find statement returns for one root.
// Passing nil edges and nodes yields the depth 0 shape {root}.
func SubgraphValue(root *graph.Node, edges []*graph.Edge, nodes []*graph.Node) map[string]any {
	m := map[string]any{"root": root}
	if edges == nil && nodes == nil {
		return m
	}
	rels := make([]any, len(edges))
	for i, e := range edges {
		rels[i] = e
	}
	ns := make([]any, len(nodes))
	for i, n := range nodes {
		ns[i] = n
	}
	m["relationships"] = rels
	m["nodes"] = ns
	return m
}

// AsInt64 reads an integral number of any width.
func AsInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int16:
		return int64(n), true
	case int8:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}
