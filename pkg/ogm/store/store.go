// Package store provides the property-graph engines the embedded executor
// runs against.
//
// Three engines implement Engine:
//   - MemoryEngine keeps the graph in process memory
//   - BadgerEngine persists to BadgerDB with msgpack encoded records
//   - SQLiteEngine persists to a SQLite database
//
// Node and edge ids are allocated by the engine and never reused. Every
// listing is returned in ascending id order.
package store

import (
	"context"
	"errors"
	"sort"

	"github.com/conduit-lang/ogm/pkg/ogm/graph"
)

var (
	// ErrNotFound is returned when a node or edge does not exist.
	ErrNotFound = errors.New("not found")
	// ErrReadOnly is returned when a read-only transaction tries to write.
	ErrReadOnly = errors.New("transaction is read-only")
	// ErrTxnDone is returned when a committed or rolled back transaction is used.
	ErrTxnDone = errors.New("transaction already finished")
	// ErrClosed is returned when the engine has been closed.
	ErrClosed = errors.New("engine is closed")
)

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Engine is a transactional property-graph store.
type Engine interface {
	// Begin starts a transaction. Read-only transactions reject writes.
	Begin(ctx context.Context, writable bool) (Txn, error)
	Close() error
}

// Txn is a unit of work against an Engine.
type Txn interface {
	Writable() bool

	CreateNode(labels []string, props map[string]any) (int64, error)
	// UpdateNode adds labels and replaces the property map.
	UpdateNode(id int64, labels []string, props map[string]any) error
	Node(id int64) (graph.Node, error)
	NodesByLabel(label string) ([]graph.Node, error)
	// DeleteNode removes a node together with its edges.
	DeleteNode(id int64) error

	CreateEdge(edgeType string, start, end int64, props map[string]any) (int64, error)
	// UpdateEdge replaces the property map of an edge.
	UpdateEdge(id int64, props map[string]any) error
	Edge(id int64) (graph.Edge, error)
	Outgoing(nodeID int64) ([]graph.Edge, error)
	EdgesByType(edgeType string) ([]graph.Edge, error)
	DeleteEdge(id int64) error

	Stats() (Stats, error)

	Commit() error
	Rollback() error
}

// Stats summarizes the content of a store.
type Stats struct {
	Nodes     int64            `json:"nodes" yaml:"nodes"`
	Edges     int64            `json:"edges" yaml:"edges"`
	Labels    map[string]int64 `json:"labels" yaml:"labels"`
	EdgeTypes map[string]int64 `json:"edgeTypes" yaml:"edge_types"`
}

func newStats() Stats {
	return Stats{Labels: map[string]int64{}, EdgeTypes: map[string]int64{}}
}

func (s *Stats) addNode(n graph.Node) {
	s.Nodes++
	for _, l := range n.Labels {
		s.Labels[l]++
	}
}

func (s *Stats) addEdge(e graph.Edge) {
	s.Edges++
	s.EdgeTypes[e.Type]++
}

// mergeLabels returns existing with every label of added not yet present.
func mergeLabels(existing, added []string) []string {
	out := append([]string(nil), existing...)
	seen := make(map[string]struct{}, len(out))
	for _, l := range out {
		seen[l] = struct{}{}
	}
	for _, l := range added {
		if _, ok := seen[l]; ok || l == "" {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}

func sortNodes(nodes []graph.Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
}

func sortEdges(edges []graph.Edge) {
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })
}
