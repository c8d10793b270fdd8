// Package schema derives per-type mapping descriptors from explicit
// configuration and caches them in a Registry.
//
// A type is configured once with Define and registered. Describe then
// builds the descriptor lazily: the identifier, the stored properties and
// the relationship members of the type and all of its configured
// ancestors, together with the label list and namespace.
package schema

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/conduit-lang/ogm/pkg/ogm/convert"
	"github.com/conduit-lang/ogm/pkg/ogm/graph"
)

const (
	// SourceEdge is the relationship name of a relationship entity's start node.
	SourceEdge = "source"
	// TargetEdge is the relationship name of a relationship entity's end node.
	TargetEdge = "target"
)

// Kind is the graph element a type maps to.
type Kind int

const (
	KindUndefined Kind = iota
	KindNode
	KindRelationship
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindNode:
		return "NODE"
	case KindRelationship:
		return "RELATIONSHIP"
	default:
		return "UNDEFINED"
	}
}

// Direction of a relationship member relative to its owner.
type Direction int

const (
	DirectionOutgoing Direction = iota
	DirectionIncoming
	DirectionUndirected
)

// String returns the string representation of the direction
func (d Direction) String() string {
	switch d {
	case DirectionOutgoing:
		return "OUTGOING"
	case DirectionIncoming:
		return "INCOMING"
	case DirectionUndirected:
		return "UNDIRECTED"
	default:
		return "UNKNOWN"
	}
}

// Signature identifies a descriptor in the registry cache.
type Signature struct {
	Type reflect.Type
	Edge string
}

// String returns the string representation of the signature
func (s Signature) String() string {
	if s.Edge == "" {
		return s.Type.String()
	}
	return s.Edge + ":" + s.Type.String()
}

// FieldDescriptor maps one struct field to a stored property.
type FieldDescriptor struct {
	Name      string
	Member    string
	GoName    string
	Index     []int
	Declaring reflect.Type
	Type      reflect.Type
	Converter convert.Converter
	IsMap     bool
	Extension bool
}

// Value returns the field of the struct value sv, or the zero Value when an
// embedded pointer on the path is nil.
func (f *FieldDescriptor) Value(sv reflect.Value) reflect.Value {
	v, err := sv.FieldByIndexErr(f.Index)
	if err != nil {
		return reflect.Value{}
	}
	return v
}

// Settable returns the field of the addressable struct value sv, allocating
// nil embedded pointers on the way.
func (f *FieldDescriptor) Settable(sv reflect.Value) reflect.Value {
	v := sv
	for i, x := range f.Index {
		if i > 0 && v.Kind() == reflect.Pointer {
			if v.IsNil() {
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.Field(x)
	}
	return v
}

// Get returns the field value of obj, a pointer to the mapped struct.
func (f *FieldDescriptor) Get(obj any) reflect.Value {
	return f.Value(structOf(obj))
}

// Set assigns v to the field of obj, a pointer to the mapped struct.
func (f *FieldDescriptor) Set(obj any, v reflect.Value) error {
	sv := structOf(obj)
	if !sv.IsValid() || !sv.CanAddr() {
		return fmt.Errorf("cannot set %s on %T", f.GoName, obj)
	}
	dst := f.Settable(sv)
	if !v.IsValid() {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}
	if !v.Type().AssignableTo(dst.Type()) {
		if v.Type().ConvertibleTo(dst.Type()) && v.Kind() == dst.Kind() {
			v = v.Convert(dst.Type())
		} else {
			return fmt.Errorf("cannot assign %s to %s.%s (%s)", v.Type(), f.Declaring, f.GoName, dst.Type())
		}
	}
	dst.Set(v)
	return nil
}

// SameField reports whether both descriptors resolve to the identical Go field.
func (f *FieldDescriptor) SameField(o *FieldDescriptor) bool {
	return f.Declaring == o.Declaring && f.GoName == o.GoName
}

// RelationshipDescriptor maps a struct field to edges.
type RelationshipDescriptor struct {
	FieldDescriptor

	// Type is the edge type.
	Type      string
	Direction Direction
	// Bulk is set for collection valued members.
	Bulk bool
	// Elem is the element type: a pointer to a mapped struct or an interface.
	Elem reflect.Type
	// Keyed is set for map and array members.
	Keyed *KeyedRelationshipDescriptor

	registry       *Registry
	namespaceAware bool
	target         atomic.Pointer[TypeDescriptor]
}

// Dynamic reports whether the target type is only known per instance.
func (r *RelationshipDescriptor) Dynamic() bool {
	return r.Elem.Kind() == reflect.Interface
}

// TargetType is the struct type of the target, nil for dynamic members.
func (r *RelationshipDescriptor) TargetType() reflect.Type {
	if r.Dynamic() {
		return nil
	}
	return r.Elem.Elem()
}

// Target resolves the target descriptor. Dynamic members return nil until
// snapped against an instance.
func (r *RelationshipDescriptor) Target() (*TypeDescriptor, error) {
	if d := r.target.Load(); d != nil {
		return d, nil
	}
	if r.Dynamic() {
		return nil, nil
	}
	d, err := r.registry.Describe(r.TargetType(), r.namespaceAware)
	if err != nil {
		return nil, err
	}
	r.target.CompareAndSwap(nil, d)
	return r.target.Load(), nil
}

// Snap resolves the target for a concrete instance. Static members return
// their resolved target; dynamic members describe the instance's type.
func (r *RelationshipDescriptor) Snap(instance any) (*TypeDescriptor, error) {
	if !r.Dynamic() {
		return r.Target()
	}
	return r.registry.DescribeValue(instance, r.namespaceAware)
}

// Resolve describes t in the namespace mode of the relationship.
func (r *RelationshipDescriptor) Resolve(t reflect.Type) (*TypeDescriptor, error) {
	return r.registry.Describe(t, r.namespaceAware)
}

// patchTarget replaces a resolved target that was superseded in the registry.
func (r *RelationshipDescriptor) patchTarget(old, replacement *TypeDescriptor) {
	r.target.CompareAndSwap(old, replacement)
}

// Elements returns the non-nil element pointers held by the member of sv.
// For keyed members these are the end nodes.
func (r *RelationshipDescriptor) Elements(sv reflect.Value) []reflect.Value {
	v := r.Value(sv)
	if !v.IsValid() {
		return nil
	}
	var out []reflect.Value
	add := func(e reflect.Value) {
		if e.Kind() == reflect.Interface {
			if e.IsNil() {
				return
			}
			e = e.Elem()
		}
		if e.Kind() == reflect.Pointer && !e.IsNil() {
			out = append(out, e)
		}
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			add(v.Index(i))
		}
	case reflect.Map:
		keys := v.MapKeys()
		sortValues(keys)
		for _, k := range keys {
			if r.Keyed != nil && r.Keyed.Inverted {
				add(k)
			} else {
				add(v.MapIndex(k))
			}
		}
	default:
		add(v)
	}
	return out
}

// KeyForm tells how a keyed relationship derives its keys.
type KeyForm int

const (
	KeyedMap KeyForm = iota
	KeyedArray
)

// KeyedRelationshipDescriptor maps a map or array member to edges carrying
// the entry key in their key property.
type KeyedRelationshipDescriptor struct {
	*RelationshipDescriptor

	Form      KeyForm
	KeyType   reflect.Type
	ValueType reflect.Type
	StartType reflect.Type
	EndType   reflect.Type
	// Inverted is set when the map key is the node: the key node becomes
	// the edge end and the map value is stored on the edge.
	Inverted bool
	// KeyConverter transcodes the value stored in the key property.
	KeyConverter convert.Converter
}

// KeyedEntry is one edge of a keyed relationship.
type KeyedEntry struct {
	// Stored is the value of the edge's key property.
	Stored any
	// SyncKey identifies the entry in Meta.KeyedEdges.
	SyncKey string
	// Node is the pointer to the end node.
	Node reflect.Value
}

// Entries lists the edges the member of sv describes, ordered by key.
// endID returns the id of an end node; inverted entries are synced by it.
func (k *KeyedRelationshipDescriptor) Entries(sv reflect.Value, endID func(reflect.Value) (int64, bool)) ([]KeyedEntry, error) {
	v := k.Value(sv)
	if !v.IsValid() {
		return nil, nil
	}
	var out []KeyedEntry

	switch k.Form {
	case KeyedArray:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return nil, nil
		}
		n := v.Len()
		for i := 0; i < n; i++ {
			node := derefInterface(v.Index(i))
			if !node.IsValid() || node.IsNil() {
				continue
			}
			key := convert.ArrayKey(n, i)
			out = append(out, KeyedEntry{Stored: key, SyncKey: key, Node: node})
		}
	case KeyedMap:
		if v.IsNil() {
			return nil, nil
		}
		keys := v.MapKeys()
		sortValues(keys)
		for _, mk := range keys {
			mv := v.MapIndex(mk)
			node, keyVal := mv, mk
			if k.Inverted {
				node, keyVal = mk, mv
			}
			node = derefInterface(node)
			if !node.IsValid() || node.IsNil() {
				continue
			}
			stored, err := k.storeKey(keyVal)
			if err != nil {
				return nil, err
			}
			entry := KeyedEntry{Stored: stored, SyncKey: fmt.Sprint(stored), Node: node}
			if k.Inverted {
				id, ok := endID(node)
				if !ok {
					continue
				}
				entry.SyncKey = fmt.Sprintf("#%d", id)
			}
			out = append(out, entry)
		}
	}
	return out, nil
}

// Place folds one loaded edge back into the member of the addressable sv.
// node is the pointer to the materialized end node.
func (k *KeyedRelationshipDescriptor) Place(sv reflect.Value, stored any, node reflect.Value) error {
	dst := k.Settable(sv)

	switch k.Form {
	case KeyedArray:
		s, ok := stored.(string)
		if !ok {
			return fmt.Errorf("%w: array key %v", convert.ErrMalformedKey, stored)
		}
		size, idx, err := convert.ParseArrayKey(s)
		if err != nil {
			return err
		}
		if dst.Kind() == reflect.Array {
			if idx >= dst.Len() {
				return fmt.Errorf("%w: index %d exceeds %s", convert.ErrMalformedKey, idx, dst.Type())
			}
			return assignInto(dst.Index(idx), node)
		}
		if dst.IsNil() || dst.Len() < size {
			grown := reflect.MakeSlice(dst.Type(), size, size)
			reflect.Copy(grown, dst)
			dst.Set(grown)
		}
		if idx >= dst.Len() {
			return fmt.Errorf("%w: index %d exceeds size %d", convert.ErrMalformedKey, idx, dst.Len())
		}
		return assignInto(dst.Index(idx), node)

	case KeyedMap:
		if dst.IsNil() {
			dst.Set(reflect.MakeMap(dst.Type()))
		}
		if k.Inverted {
			val, err := k.loadKey(k.ValueType, stored)
			if err != nil {
				return err
			}
			key := reflect.New(k.KeyType).Elem()
			if err := assignInto(key, node); err != nil {
				return err
			}
			dst.SetMapIndex(key, val)
			return nil
		}
		key, err := k.loadKey(k.KeyType, stored)
		if err != nil {
			return err
		}
		val := reflect.New(k.ValueType).Elem()
		if err := assignInto(val, node); err != nil {
			return err
		}
		dst.SetMapIndex(key, val)
	}
	return nil
}

func (k *KeyedRelationshipDescriptor) storeKey(v reflect.Value) (any, error) {
	if k.KeyConverter != nil {
		tmp := make(map[string]any, 1)
		if err := k.KeyConverter.ToStorage(graph.KeyProperty, v, tmp); err != nil {
			return nil, err
		}
		return tmp[graph.KeyProperty], nil
	}
	return convert.Plain(v)
}

func (k *KeyedRelationshipDescriptor) loadKey(t reflect.Type, stored any) (reflect.Value, error) {
	if k.KeyConverter != nil {
		return k.KeyConverter.FromStorage(reflect.Value{}, "", stored)
	}
	if s, ok := stored.(string); ok && t.Kind() != reflect.String && t.Kind() != reflect.Interface {
		return convert.AssignKey(t, s)
	}
	return convert.Assign(t, stored)
}

// TypeDescriptor is the complete mapping of one type.
type TypeDescriptor struct {
	Signature      Signature
	Type           reflect.Type
	Name           string
	Namespace      string
	NamespaceAware bool
	Labels         []string
	NSLabels       []string
	Kind           Kind
	Tag            string
	ID             *FieldDescriptor
	Fields         map[string]*FieldDescriptor
	Relationships  map[string]*RelationshipDescriptor
	// HasMeta is set when the type embeds Meta.
	HasMeta bool

	fieldOrder []string
	relOrder   []string
}

// ActiveLabels returns the namespace-qualified labels in namespace-aware
// mode and the plain labels otherwise.
func (d *TypeDescriptor) ActiveLabels() []string {
	if d.NamespaceAware {
		return d.NSLabels
	}
	return d.Labels
}

// New allocates a zero instance and returns the pointer.
func (d *TypeDescriptor) New() reflect.Value {
	return reflect.New(d.Type)
}

// IDOf returns the id of obj, if set.
func (d *TypeDescriptor) IDOf(obj any) (int64, bool) {
	return d.idOf(structOf(obj))
}

func (d *TypeDescriptor) idOf(sv reflect.Value) (int64, bool) {
	if !sv.IsValid() {
		return 0, false
	}
	v := d.ID.Value(sv)
	if !v.IsValid() || v.IsNil() {
		return 0, false
	}
	return v.Elem().Int(), true
}

// IDOfValue is IDOf for a pointer reflect.Value.
func (d *TypeDescriptor) IDOfValue(ptr reflect.Value) (int64, bool) {
	return d.idOf(derefValue(ptr))
}

// SetID assigns id to obj.
func (d *TypeDescriptor) SetID(obj any, id int64) error {
	return d.ID.Set(obj, reflect.ValueOf(&id))
}

// Field returns the property descriptor stored under name.
func (d *TypeDescriptor) Field(name string) (*FieldDescriptor, bool) {
	f, ok := d.Fields[name]
	return f, ok
}

// Relationship returns the relationship descriptor for an edge type.
func (d *TypeDescriptor) Relationship(edge string) (*RelationshipDescriptor, bool) {
	r, ok := d.Relationships[edge]
	return r, ok
}

// SortedFields returns the property descriptors ordered by stored name.
func (d *TypeDescriptor) SortedFields() []*FieldDescriptor {
	out := make([]*FieldDescriptor, 0, len(d.fieldOrder))
	for _, n := range d.fieldOrder {
		out = append(out, d.Fields[n])
	}
	return out
}

// SortedRelationships returns the relationship descriptors ordered by edge type.
func (d *TypeDescriptor) SortedRelationships() []*RelationshipDescriptor {
	out := make([]*RelationshipDescriptor, 0, len(d.relOrder))
	for _, n := range d.relOrder {
		out = append(out, d.Relationships[n])
	}
	return out
}

// FieldByMember finds a property by its unqualified member name.
func (d *TypeDescriptor) FieldByMember(member string) (*FieldDescriptor, bool) {
	for _, n := range d.fieldOrder {
		if f := d.Fields[n]; f.Member == member {
			return f, true
		}
	}
	return nil, false
}

// IsRelationship reports whether the type is a relationship entity.
func (d *TypeDescriptor) IsRelationship() bool {
	return d.Kind == KindRelationship
}

// EdgeType is the edge type of a relationship entity.
func (d *TypeDescriptor) EdgeType() string {
	if len(d.Labels) == 0 {
		return ""
	}
	return d.Labels[0]
}

// CanCast reports whether a node with the given raw labels can be loaded
// as this type: the raw labels must contain every active label.
func (d *TypeDescriptor) CanCast(raw []string) bool {
	have := make(map[string]struct{}, len(raw))
	for _, l := range raw {
		have[l] = struct{}{}
	}
	for _, l := range d.ActiveLabels() {
		if _, ok := have[l]; !ok {
			return false
		}
	}
	return true
}

// String returns the string representation of the descriptor
func (d *TypeDescriptor) String() string {
	return fmt.Sprintf("%s(%s) %s [%s]", d.Name, d.Kind, d.Signature, strings.Join(d.ActiveLabels(), ":"))
}

func (d *TypeDescriptor) index() {
	d.fieldOrder = make([]string, 0, len(d.Fields))
	for n := range d.Fields {
		d.fieldOrder = append(d.fieldOrder, n)
	}
	sort.Strings(d.fieldOrder)
	d.relOrder = make([]string, 0, len(d.Relationships))
	for n := range d.Relationships {
		d.relOrder = append(d.relOrder, n)
	}
	sort.Strings(d.relOrder)
}

// structOf returns the struct value behind obj, a pointer or reflect.Value.
func structOf(obj any) reflect.Value {
	if v, ok := obj.(reflect.Value); ok {
		return derefValue(v)
	}
	return derefValue(reflect.ValueOf(obj))
}

func derefValue(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func derefInterface(v reflect.Value) reflect.Value {
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}
		}
		return v.Elem()
	}
	return v
}

func assignInto(dst, v reflect.Value) error {
	if !v.Type().AssignableTo(dst.Type()) {
		return fmt.Errorf("cannot assign %s to %s", v.Type(), dst.Type())
	}
	dst.Set(v)
	return nil
}

func sortValues(vs []reflect.Value) {
	sort.SliceStable(vs, func(i, j int) bool {
		return sortKey(vs[i]) < sortKey(vs[j])
	})
}

func sortKey(v reflect.Value) string {
	v = derefInterface(v)
	if !v.IsValid() {
		return ""
	}
	if s, ok := v.Interface().(fmt.Stringer); ok {
		return s.String()
	}
	if v.Kind() == reflect.Pointer {
		return fmt.Sprintf("%016x", v.Pointer())
	}
	return fmt.Sprint(v.Interface())
}
