package mapping

import (
	"fmt"
	"reflect"

	"github.com/conduit-lang/ogm/pkg/ogm/graph"
	"github.com/conduit-lang/ogm/pkg/ogm/schema"
)

// TagOf returns the dynamic type tag stored on n.
func TagOf(n *graph.Node) (string, bool) {
	if n == nil {
		return "", false
	}
	tag, ok := n.Properties[graph.TypeTagProperty].(string)
	return tag, ok && tag != ""
}

// TaggedType returns the registered type named by the tag on n when a
// pointer to it is assignable to want.
func TaggedType(reg *schema.Registry, n *graph.Node, want reflect.Type) (reflect.Type, bool) {
	tag, ok := TagOf(n)
	if !ok {
		return nil, false
	}
	t, ok := reg.ByTag(tag)
	if !ok {
		return nil, false
	}
	if want != nil && !reflect.PointerTo(t).AssignableTo(want) {
		return nil, false
	}
	return t, true
}

// ResolveDynamic picks the concrete type for the end node of an interface
// valued relationship. The stored type tag wins; without one the registered
// implementation whose labels the node carries, with the most labels, is
// chosen.
func ResolveDynamic(reg *schema.Registry, rel *schema.RelationshipDescriptor, n *graph.Node) (*schema.TypeDescriptor, error) {
	if t, ok := TaggedType(reg, n, rel.Elem); ok {
		return rel.Resolve(t)
	}

	var best *schema.TypeDescriptor
	for _, t := range reg.Types() {
		if !reflect.PointerTo(t).AssignableTo(rel.Elem) {
			continue
		}
		d, err := rel.Resolve(t)
		if err != nil {
			continue
		}
		if !d.CanCast(n.Labels) {
			continue
		}
		if best == nil || len(d.ActiveLabels()) > len(best.ActiveLabels()) {
			best = d
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no registered %s matches node %d with labels %v", rel.Elem, n.ID, n.Labels)
	}
	return best, nil
}
