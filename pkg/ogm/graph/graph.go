// Package graph defines the raw property-graph shapes exchanged between the
// executor and the mapping layer.
//
// A Node carries an id, a label set and a flat property map. Composite Go
// values are flattened into that map with structured key suffixes:
//
//	field.N          ordered sequence entry (N zero padded to the sequence width)
//	field.<size>/<i> fixed-size array entry
//	field.<key>      map entry (nested values continue the suffix)
//	extension_<name> untyped additive property
//	<ns>_<member>    namespace-qualified property
package graph

import (
	"sort"
)

const (
	// Separator splits a property name from its composite sub-key.
	Separator = "."
	// SizeSeparator splits an array size from the element index.
	SizeSeparator = "/"
	// ExtensionPrefix marks untyped additive properties.
	ExtensionPrefix = "extension_"
	// NamespaceSeparator joins a namespace and a member or label name.
	NamespaceSeparator = "_"
	// TypeTagProperty stores the dynamic type tag of a node.
	TypeTagProperty = "__type"
	// KeyProperty stores the key of a keyed (map or array) relationship on its edge.
	KeyProperty = "key"
)

// Node is a raw graph node.
type Node struct {
	ID         int64          `json:"id" msgpack:"id"`
	Labels     []string       `json:"labels" msgpack:"labels"`
	Properties map[string]any `json:"properties" msgpack:"properties"`
}

// Edge is a raw directed, typed relationship between two nodes.
type Edge struct {
	ID         int64          `json:"id" msgpack:"id"`
	Type       string         `json:"type" msgpack:"type"`
	StartID    int64          `json:"startId" msgpack:"start"`
	EndID      int64          `json:"endId" msgpack:"end"`
	Properties map[string]any `json:"properties" msgpack:"properties"`
}

// Subgraph is the {root, relationships, nodes} record shape returned by
// find queries.
type Subgraph struct {
	Root          *Node
	Relationships []*Edge
	Nodes         []*Node
}

// HasLabels reports whether the node carries every label in required.
func (n *Node) HasLabels(required ...string) bool {
	if n == nil {
		return false
	}
	have := make(map[string]struct{}, len(n.Labels))
	for _, l := range n.Labels {
		have[l] = struct{}{}
	}
	for _, l := range required {
		if _, ok := have[l]; !ok {
			return false
		}
	}
	return true
}

// SortedKeys returns the property keys in lexicographic order.
func (n *Node) SortedKeys() []string {
	return SortedKeys(n.Properties)
}

// Clone returns a deep copy of the node's label slice and property map.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	return &Node{
		ID:         n.ID,
		Labels:     append([]string(nil), n.Labels...),
		Properties: CloneProperties(n.Properties),
	}
}

// Clone returns a copy of the edge with its own property map.
func (e *Edge) Clone() *Edge {
	if e == nil {
		return nil
	}
	c := *e
	c.Properties = CloneProperties(e.Properties)
	return &c
}

// NodeByID finds a node in the subgraph's reachable node set.
func (s *Subgraph) NodeByID(id int64) *Node {
	if s == nil {
		return nil
	}
	if s.Root != nil && s.Root.ID == id {
		return s.Root
	}
	for _, n := range s.Nodes {
		if n != nil && n.ID == id {
			return n
		}
	}
	return nil
}

// Bias moves a relationship id into the negative range so it cannot collide
// with node ids inside a single result set.
func Bias(id int64) int64 {
	return -id - 1
}

// Unbias reverses Bias. Non-negative ids are returned unchanged.
func Unbias(id int64) int64 {
	if id >= 0 {
		return id
	}
	return -(id + 1)
}

// SortedKeys returns the keys of m in lexicographic order.
func SortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CloneProperties copies a property map one level deep; slices are copied.
func CloneProperties(props map[string]any) map[string]any {
	if props == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		switch val := v.(type) {
		case []any:
			out[k] = append([]any(nil), val...)
		case []byte:
			out[k] = append([]byte(nil), val...)
		case []string:
			out[k] = append([]string(nil), val...)
		case []int64:
			out[k] = append([]int64(nil), val...)
		default:
			out[k] = v
		}
	}
	return out
}
