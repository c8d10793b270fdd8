package repository

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/conduit-lang/ogm/pkg/ogm/cypher"
	"github.com/conduit-lang/ogm/pkg/ogm/graph"
	"github.com/conduit-lang/ogm/pkg/ogm/schema"
)

// Qualify returns the stored name of a property. Outside namespace-aware
// mode, and for names that are already qualified, the name is returned
// as is. Otherwise the first stored name ending in "_<field>" wins.
func (r *NodeRepository) Qualify(field string) (string, error) {
	if !r.desc.NamespaceAware || strings.Contains(field, graph.NamespaceSeparator) {
		return field, nil
	}
	suffix := graph.NamespaceSeparator + field
	for _, f := range r.desc.SortedFields() {
		if strings.HasSuffix(f.Name, suffix) {
			return f.Name, nil
		}
	}
	return "", fmt.Errorf("%w: %s has no property %s", ErrFieldNotFound, r.desc.Name, field)
}

// QualifyRelationship returns the stored edge type for name. Unqualified
// names are searched among the relationships of the type and, recursively,
// of every type reachable from it.
func (r *NodeRepository) QualifyRelationship(name string) (string, error) {
	if !r.desc.NamespaceAware || strings.Contains(name, graph.NamespaceSeparator) {
		return name, nil
	}
	if q, ok := r.searchRelationship(r.desc, graph.NamespaceSeparator+name, map[reflect.Type]bool{}); ok {
		return q, nil
	}
	return "", fmt.Errorf("%w: %s reaches no edge %s", ErrRelationshipNotFound, r.desc.Name, name)
}

func (r *NodeRepository) searchRelationship(desc *schema.TypeDescriptor, suffix string, visited map[reflect.Type]bool) (string, bool) {
	if visited[desc.Type] {
		return "", false
	}
	visited[desc.Type] = true

	rels := desc.SortedRelationships()
	for _, rel := range rels {
		if strings.HasSuffix(rel.Type, suffix) {
			return rel.Type, true
		}
	}
	for _, rel := range rels {
		for _, target := range r.targetsOf(rel) {
			if q, ok := r.searchRelationship(target, suffix, visited); ok {
				return q, true
			}
		}
	}
	return "", false
}

// targetsOf returns the possible target descriptors of rel: the static
// target, or every registered implementation of a dynamic member.
func (r *NodeRepository) targetsOf(rel *schema.RelationshipDescriptor) []*schema.TypeDescriptor {
	if !rel.Dynamic() {
		d, err := rel.Target()
		if err != nil || d == nil {
			return nil
		}
		return []*schema.TypeDescriptor{d}
	}
	var out []*schema.TypeDescriptor
	for _, t := range r.provider.registry.Types() {
		if !reflect.PointerTo(t).AssignableTo(rel.Elem) {
			continue
		}
		if d, err := rel.Resolve(t); err == nil {
			out = append(out, d)
		}
	}
	return out
}

// qualifyPredicate rewrites the property names of where to their stored
// names.
func (r *NodeRepository) qualifyPredicate(where *cypher.PredicateGroup) (*cypher.PredicateGroup, error) {
	if !r.desc.NamespaceAware || where.IsEmpty() {
		return where, nil
	}
	names := make(map[string]string)
	for _, field := range where.Fields() {
		q, err := r.Qualify(field)
		if err != nil {
			return nil, err
		}
		names[field] = q
	}
	return where.Map(func(field string) string { return names[field] }), nil
}
