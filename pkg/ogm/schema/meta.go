package schema

import (
	"github.com/conduit-lang/ogm/pkg/ogm/graph"
)

// OverflowEdge is an edge the concrete type has no member for, kept with
// the raw node at its far end.
type OverflowEdge struct {
	Edge *graph.Edge
	Node *graph.Node
}

// Meta carries per-instance state the mapper needs beyond the declared
// members. Embed it in a mapped struct to keep unknown properties, unknown
// edges and keyed edge ids across load/save and casts.
type Meta struct {
	// Sync holds stored properties the type has no member for. Composite
	// entries are grouped by root name as map[string]any of sub-keys.
	Sync map[string]any `json:"-" msgpack:"-"`
	// Extensions holds extension_* properties, keyed without the prefix.
	Extensions map[string]any `json:"-" msgpack:"-"`
	// Overflow holds edges the type has no relationship member for, by edge type.
	Overflow map[string][]OverflowEdge `json:"-" msgpack:"-"`
	// Labels holds the raw labels recorded at load in namespace-aware mode.
	Labels []string `json:"-" msgpack:"-"`
	// KeyedEdges maps, per keyed relationship, the stored key to the edge id.
	KeyedEdges map[string]map[string]int64 `json:"-" msgpack:"-"`
}

// OGMMeta implements MetaCarrier
func (m *Meta) OGMMeta() *Meta {
	return m
}

// MetaCarrier is implemented by every type embedding Meta.
type MetaCarrier interface {
	OGMMeta() *Meta
}

// MetaOf returns the Meta embedded in obj, or nil.
func MetaOf(obj any) *Meta {
	if c, ok := obj.(MetaCarrier); ok {
		return c.OGMMeta()
	}
	return nil
}

// PutSync stores an unknown property. Dotted keys are grouped under their
// root name so composite values can be replayed later.
func (m *Meta) PutSync(key string, value any) {
	if m.Sync == nil {
		m.Sync = make(map[string]any)
	}
	putGrouped(m.Sync, key, value)
}

// PutExtension stores an extension property. The extension_ prefix is stripped.
func (m *Meta) PutExtension(key string, value any) {
	if m.Extensions == nil {
		m.Extensions = make(map[string]any)
	}
	if len(key) > len(graph.ExtensionPrefix) && key[:len(graph.ExtensionPrefix)] == graph.ExtensionPrefix {
		key = key[len(graph.ExtensionPrefix):]
	}
	putGrouped(m.Extensions, key, value)
}

// AddOverflow records an edge the type has no member for.
func (m *Meta) AddOverflow(e *graph.Edge, n *graph.Node) {
	if m.Overflow == nil {
		m.Overflow = make(map[string][]OverflowEdge)
	}
	m.Overflow[e.Type] = append(m.Overflow[e.Type], OverflowEdge{Edge: e, Node: n})
}

// KeyedEdge returns the edge id recorded for key under relationship rel.
func (m *Meta) KeyedEdge(rel, key string) (int64, bool) {
	if m == nil || m.KeyedEdges == nil {
		return 0, false
	}
	id, ok := m.KeyedEdges[rel][key]
	return id, ok
}

// SetKeyedEdge records the edge id for key under relationship rel.
func (m *Meta) SetKeyedEdge(rel, key string, id int64) {
	if m.KeyedEdges == nil {
		m.KeyedEdges = make(map[string]map[string]int64)
	}
	if m.KeyedEdges[rel] == nil {
		m.KeyedEdges[rel] = make(map[string]int64)
	}
	m.KeyedEdges[rel][key] = id
}

func putGrouped(target map[string]any, key string, value any) {
	for i := 0; i < len(key); i++ {
		if key[i] != graph.Separator[0] {
			continue
		}
		root, rest := key[:i], key[i+1:]
		group, ok := target[root].(map[string]any)
		if !ok {
			group = make(map[string]any)
			target[root] = group
		}
		group[rest] = value
		return
	}
	target[key] = value
}
