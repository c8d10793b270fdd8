package schema

import (
	"fmt"
	"path"
	"reflect"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/conduit-lang/ogm/pkg/ogm/graph"
)

var (
	idType          = reflect.TypeOf((*int64)(nil))
	metaCarrierType = reflect.TypeOf((*MetaCarrier)(nil)).Elem()
)

// chainLink is one configuration on the ancestor walk, with the index path
// from the described type down to the configured struct.
type chainLink struct {
	cfg    *Config
	prefix []int
}

// build derives the descriptor of t from its configuration chain.
func (r *Registry) build(t reflect.Type, namespaceAware bool) (*TypeDescriptor, error) {
	root, ok := r.Config(t)
	if !ok {
		return nil, schemaErr(t, "", ErrUnregisteredType)
	}

	chain, err := r.chain(root, nil, map[reflect.Type]bool{})
	if err != nil {
		return nil, err
	}

	d := &TypeDescriptor{
		Signature:      Signature{Type: t},
		Type:           t,
		Name:           root.SimpleName(),
		Namespace:      namespaceOf(root),
		NamespaceAware: namespaceAware,
		Tag:            root.Tag,
		Fields:         make(map[string]*FieldDescriptor),
		Relationships:  make(map[string]*RelationshipDescriptor),
		HasMeta:        reflect.PointerTo(t).Implements(metaCarrierType),
	}

	ownLabel := false
	for i, link := range chain {
		cfg := link.cfg
		ns := namespaceOf(cfg)

		switch cfg.Kind {
		case KindNode:
			if d.Kind == KindRelationship {
				return nil, schemaErr(t, "", ErrDualKind)
			}
			d.Kind = KindNode
			label := cfg.Label
			if label == "" {
				label = cfg.SimpleName()
			}
			d.Labels = append(d.Labels, label)
			d.NSLabels = append(d.NSLabels, ns+graph.NamespaceSeparator+label)
			if i == 0 {
				ownLabel = true
			}
		case KindRelationship:
			if d.Kind == KindNode {
				return nil, schemaErr(t, "", ErrDualKind)
			}
			if d.Kind != KindRelationship {
				d.Kind = KindRelationship
				d.Labels = append(d.Labels, cfg.Label)
				d.NSLabels = append(d.NSLabels, ns+graph.NamespaceSeparator+cfg.Label)
				if i == 0 {
					ownLabel = true
				}
			}
		}

		for _, parent := range cfg.ExtendsLabels {
			d.Labels = append(d.Labels, parent[strings.LastIndex(parent, graph.NamespaceSeparator)+1:])
			d.NSLabels = append(d.NSLabels, parent)
		}

		for _, m := range cfg.Members {
			if err := r.addMember(d, cfg, ns, link.prefix, m); err != nil {
				return nil, err
			}
		}
	}

	if !ownLabel && d.Kind != KindRelationship {
		d.Labels = append([]string{d.Name}, d.Labels...)
		d.NSLabels = append([]string{d.Namespace + graph.NamespaceSeparator + d.Name}, d.NSLabels...)
	}

	if d.ID == nil {
		if err := fallbackID(d); err != nil {
			return nil, err
		}
	}

	if d.Kind == KindUndefined {
		d.Kind = KindNode
	}

	if d.Kind == KindRelationship {
		if _, ok := d.Relationships[SourceEdge]; !ok {
			return nil, schemaErr(t, SourceEdge, fmt.Errorf("%w: relationship has no source", ErrMissingEndpoint))
		}
		if _, ok := d.Relationships[TargetEdge]; !ok {
			return nil, schemaErr(t, TargetEdge, fmt.Errorf("%w: relationship has no target", ErrMissingEndpoint))
		}
	}

	d.index()
	r.logger.Debug("built descriptor",
		zap.String("type", t.String()),
		zap.Bool("namespace_aware", namespaceAware),
		zap.Strings("labels", d.ActiveLabels()),
	)
	return d, nil
}

// chain walks the configuration of cfg and its configured ancestors, the
// described type first.
func (r *Registry) chain(cfg *Config, prefix []int, seen map[reflect.Type]bool) ([]chainLink, error) {
	if seen[cfg.Type] {
		return nil, nil
	}
	seen[cfg.Type] = true

	out := []chainLink{{cfg: cfg, prefix: prefix}}
	for _, a := range cfg.Ancestors {
		acfg, ok := r.Config(a.Type)
		if !ok {
			return nil, schemaErr(cfg.Type, a.Field, fmt.Errorf("%w: ancestor %s", ErrUnregisteredType, a.Type))
		}
		sub, err := r.chain(acfg, joinIndex(prefix, a.index), seen)
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
	}
	return out, nil
}

func (r *Registry) addMember(d *TypeDescriptor, cfg *Config, ns string, prefix []int, m MemberConfig) error {
	field := FieldDescriptor{
		Name:      m.Name,
		Member:    m.Name,
		GoName:    m.Field,
		Index:     joinIndex(prefix, m.index),
		Declaring: cfg.Type,
		Type:      m.typ,
		IsMap:     m.typ.Kind() == reflect.Map,
	}

	switch m.Role {
	case RoleTransient:
		return nil

	case RoleID:
		if d.ID != nil && !d.ID.SameField(&field) {
			return schemaErr(d.Type, m.Field, fmt.Errorf("%w: %s already holds the id", ErrDuplicateID, d.ID.GoName))
		}
		d.ID = &field
		return nil

	case RoleProperty, RoleExtension:
		if d.NamespaceAware {
			field.Name = ns + graph.NamespaceSeparator + m.Name
			if m.Role == RoleExtension {
				field.Name = graph.ExtensionPrefix + m.Name
			}
		}
		field.Extension = m.Role == RoleExtension
		field.Converter = r.converters.ConverterFor(m.typ, m.Overrides)
		if existing, ok := d.Fields[field.Name]; ok && !existing.SameField(&field) {
			return schemaErr(d.Type, m.Field, fmt.Errorf("%w: property %s", ErrDuplicateEdge, field.Name))
		}
		d.Fields[field.Name] = &field
		return nil

	case RoleRelationship, RoleStart, RoleEnd:
		edge := m.EdgeType
		if edge == "" {
			edge = m.Name
		}
		if d.NamespaceAware && m.Role == RoleRelationship && !strings.Contains(edge, graph.NamespaceSeparator) {
			edge = ns + graph.NamespaceSeparator + edge
		}
		if d.NamespaceAware {
			field.Name = ns + graph.NamespaceSeparator + m.Name
		}

		rel, err := r.relationship(d, field, edge, m)
		if err != nil {
			return err
		}
		if existing, ok := d.Relationships[edge]; ok && !existing.SameField(&rel.FieldDescriptor) {
			return schemaErr(d.Type, m.Field, fmt.Errorf("%w: edge %s", ErrDuplicateEdge, edge))
		}
		d.Relationships[edge] = rel
		return nil
	}
	return schemaErr(d.Type, m.Field, fmt.Errorf("%w: role %s", ErrUnknownMember, m.Role))
}

// relationship classifies the member type: pointers are single edges,
// slices bulk edges, arrays and maps keyed edges.
func (r *Registry) relationship(d *TypeDescriptor, field FieldDescriptor, edge string, m MemberConfig) (*RelationshipDescriptor, error) {
	rel := &RelationshipDescriptor{
		FieldDescriptor: field,
		Type:            edge,
		Direction:       m.Direction,
		registry:        r,
		namespaceAware:  d.NamespaceAware,
	}
	bad := func(why string) error {
		return schemaErr(d.Type, m.Field, fmt.Errorf("%w: %s %s", ErrUnknownMember, m.typ, why))
	}

	t := m.typ
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface:
		rel.Elem = t
	case reflect.Slice:
		rel.Elem = t.Elem()
		rel.Bulk = true
		if m.Ordered {
			rel.Keyed = &KeyedRelationshipDescriptor{Form: KeyedArray, KeyType: reflect.TypeOf(""), ValueType: t.Elem()}
		}
	case reflect.Array:
		rel.Elem = t.Elem()
		rel.Bulk = true
		rel.Keyed = &KeyedRelationshipDescriptor{Form: KeyedArray, KeyType: reflect.TypeOf(""), ValueType: t.Elem()}
	case reflect.Map:
		rel.Bulk = true
		k := &KeyedRelationshipDescriptor{Form: KeyedMap, KeyType: t.Key(), ValueType: t.Elem()}
		if r.isNodeRef(t.Key()) {
			k.Inverted = true
			rel.Elem = t.Key()
			k.KeyConverter = r.converters.ConverterFor(t.Elem(), m.Overrides)
		} else {
			rel.Elem = t.Elem()
			k.KeyConverter = r.converters.ConverterFor(t.Key(), m.Overrides)
		}
		rel.Keyed = k
	default:
		return nil, bad("is not a relationship type")
	}

	if rel.Elem.Kind() != reflect.Interface && !r.isNodeRef(rel.Elem) {
		return nil, bad("does not hold pointers to mapped structs")
	}

	if rel.Keyed != nil {
		rel.Keyed.RelationshipDescriptor = rel
		rel.Keyed.StartType = d.Type
		rel.Keyed.EndType = rel.Elem
		if m.Role != RoleRelationship {
			return nil, bad("cannot be keyed")
		}
	}
	if m.Role != RoleRelationship && rel.Bulk {
		return nil, bad("endpoint must be a single node")
	}
	return rel, nil
}

func (r *Registry) isNodeRef(t reflect.Type) bool {
	if t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
		return false
	}
	_, ok := r.Config(t.Elem())
	return ok
}

// fallbackID adopts a property as the id when none was declared: the first
// property containing "_id" in namespace-aware mode, "id" otherwise.
func fallbackID(d *TypeDescriptor) error {
	var candidate string
	if d.NamespaceAware {
		names := make([]string, 0, len(d.Fields))
		for n := range d.Fields {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			if strings.Contains(n, "_id") {
				candidate = n
				break
			}
		}
	} else if _, ok := d.Fields["id"]; ok {
		candidate = "id"
	}

	f, ok := d.Fields[candidate]
	if !ok || f.Type != idType {
		return schemaErr(d.Type, "", ErrMissingID)
	}
	delete(d.Fields, candidate)
	f.Converter = nil
	d.ID = f
	return nil
}

func namespaceOf(cfg *Config) string {
	if cfg.Namespace != "" {
		return cfg.Namespace
	}
	return path.Base(cfg.Type.PkgPath())
}

func joinIndex(prefix, index []int) []int {
	out := make([]int, 0, len(prefix)+len(index))
	out = append(out, prefix...)
	return append(out, index...)
}
