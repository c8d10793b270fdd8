package schema

import (
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/conduit-lang/ogm/pkg/ogm/convert"
)

// Role classifies a configured member.
type Role int

const (
	RoleProperty Role = iota
	RoleID
	RoleExtension
	RoleRelationship
	RoleStart
	RoleEnd
	RoleTransient
)

// String returns the string representation of the role
func (r Role) String() string {
	switch r {
	case RoleProperty:
		return "property"
	case RoleID:
		return "id"
	case RoleExtension:
		return "extension"
	case RoleRelationship:
		return "relationship"
	case RoleStart:
		return "start"
	case RoleEnd:
		return "end"
	case RoleTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// MemberConfig is the declared mapping intent for one struct field.
type MemberConfig struct {
	Field     string
	Name      string
	Role      Role
	EdgeType  string
	Direction Direction
	Ordered   bool
	Overrides convert.Overrides

	index []int
	typ   reflect.Type
}

// Ancestor is an embedded struct whose own configuration contributes
// members and labels.
type Ancestor struct {
	Field string
	Type  reflect.Type

	index []int
}

// Config is the per-type mapping configuration. Build one with Define.
type Config struct {
	Type          reflect.Type
	Kind          Kind
	Label         string
	Namespace     string
	Tag           string
	ExtendsLabels []string
	Ancestors     []Ancestor
	Members       []MemberConfig

	errs []error
}

// Err returns the accumulated configuration errors.
func (c *Config) Err() error {
	if len(c.errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(c.errs))
	for _, err := range c.errs {
		msgs = append(msgs, err.Error())
	}
	return fmt.Errorf("configuration of %s failed with %d errors:\n%s: %w",
		c.Type, len(c.errs), strings.Join(msgs, "\n"), c.errs[0])
}

// Member returns the configuration of a Go field.
func (c *Config) Member(field string) (*MemberConfig, bool) {
	for i := range c.Members {
		if c.Members[i].Field == field {
			return &c.Members[i], true
		}
	}
	return nil, false
}

// SimpleName is the type name without package or type arguments.
func (c *Config) SimpleName() string {
	return simpleName(c.Type)
}

// Configurer is anything that yields a type configuration.
type Configurer interface {
	Config() *Config
}

// MemberOption adjusts a member declaration.
type MemberOption func(*MemberConfig)

// Named stores the member under name instead of the lower-camel field name.
func Named(name string) MemberOption {
	return func(m *MemberConfig) { m.Name = name }
}

// Incoming declares the relationship edge as pointing at the owner.
func Incoming() MemberOption {
	return func(m *MemberConfig) { m.Direction = DirectionIncoming }
}

// Undirected declares the relationship as direction agnostic.
func Undirected() MemberOption {
	return func(m *MemberConfig) { m.Direction = DirectionUndirected }
}

// Ordered stores a slice relationship as keyed array edges so the element
// order survives a round trip.
func Ordered() MemberOption {
	return func(m *MemberConfig) { m.Ordered = true }
}

// Using overrides the converters of the member.
func Using(o convert.Overrides) MemberOption {
	return func(m *MemberConfig) { m.Overrides = o }
}

// Builder declares the mapping of T.
type Builder[T any] struct {
	cfg *Config
}

// Define starts the configuration of the struct type T.
func Define[T any]() *Builder[T] {
	t := reflect.TypeOf((*T)(nil)).Elem()
	cfg := &Config{Type: t}
	if t.Kind() != reflect.Struct {
		cfg.errs = append(cfg.errs, schemaErr(t, "", fmt.Errorf("%w: %s is not a struct", ErrUnknownMember, t)))
	}
	return &Builder[T]{cfg: cfg}
}

// Node marks T as a node type. The label defaults to the type name.
func (b *Builder[T]) Node() *Builder[T] {
	b.setKind(KindNode)
	return b
}

// Label marks T as a node type stored under label.
func (b *Builder[T]) Label(label string) *Builder[T] {
	b.setKind(KindNode)
	b.cfg.Label = label
	return b
}

// RelationshipEntity marks T as a relationship entity of the given edge type.
func (b *Builder[T]) RelationshipEntity(edgeType string) *Builder[T] {
	b.setKind(KindRelationship)
	b.cfg.Label = edgeType
	return b
}

// Namespace sets the namespace alias of T. It defaults to the package name.
func (b *Builder[T]) Namespace(ns string) *Builder[T] {
	b.cfg.Namespace = ns
	return b
}

// Tag sets the dynamic type tag written to stored nodes.
func (b *Builder[T]) Tag(tag string) *Builder[T] {
	b.cfg.Tag = tag
	return b
}

// ExtendsLabels adds labels of parents outside the Go type hierarchy.
// Each entry may hold several ':' separated, optionally namespace
// qualified labels.
func (b *Builder[T]) ExtendsLabels(parents ...string) *Builder[T] {
	for _, p := range parents {
		for _, l := range strings.Split(p, ":") {
			if l != "" {
				b.cfg.ExtendsLabels = append(b.cfg.ExtendsLabels, l)
			}
		}
	}
	return b
}

// Embeds declares the embedded struct field as a mapped ancestor.
func (b *Builder[T]) Embeds(field string) *Builder[T] {
	sf, ok := b.lookup(field)
	if !ok {
		return b
	}
	at := sf.Type
	if at.Kind() == reflect.Pointer {
		at = at.Elem()
	}
	if !sf.Anonymous || at.Kind() != reflect.Struct {
		b.fail(field, fmt.Errorf("%w: %s is not an embedded struct", ErrUnknownMember, field))
		return b
	}
	b.cfg.Ancestors = append(b.cfg.Ancestors, Ancestor{Field: field, Type: at, index: sf.Index})
	return b
}

// ID declares the identifier member. Its type must be *int64.
func (b *Builder[T]) ID(field string) *Builder[T] {
	sf, ok := b.lookup(field)
	if !ok {
		return b
	}
	if sf.Type != reflect.TypeOf((*int64)(nil)) {
		b.fail(field, fmt.Errorf("%w: id must be *int64, got %s", ErrUnknownMember, sf.Type))
		return b
	}
	b.add(sf, MemberConfig{Field: field, Name: lowerFirst(field), Role: RoleID})
	return b
}

// Property declares a stored property.
func (b *Builder[T]) Property(field string, opts ...MemberOption) *Builder[T] {
	return b.member(field, RoleProperty, opts)
}

// Properties declares several stored properties with default names.
func (b *Builder[T]) Properties(fields ...string) *Builder[T] {
	for _, f := range fields {
		b.member(f, RoleProperty, nil)
	}
	return b
}

// Extension declares an additive property stored as extension_<name> in
// namespace-aware mode.
func (b *Builder[T]) Extension(name, field string, opts ...MemberOption) *Builder[T] {
	return b.member(field, RoleExtension, append([]MemberOption{Named(name)}, opts...))
}

// Relationship declares an edge member. Pointers are single edges, slices
// are bulk edges, arrays and maps are keyed edges.
func (b *Builder[T]) Relationship(field, edgeType string, opts ...MemberOption) *Builder[T] {
	b.member(field, RoleRelationship, opts)
	if m, ok := b.cfg.Member(field); ok {
		m.EdgeType = edgeType
	}
	return b
}

// Start declares the start node member of a relationship entity.
func (b *Builder[T]) Start(field string) *Builder[T] {
	b.member(field, RoleStart, nil)
	if m, ok := b.cfg.Member(field); ok {
		m.EdgeType = SourceEdge
		m.Direction = DirectionIncoming
	}
	return b
}

// End declares the end node member of a relationship entity.
func (b *Builder[T]) End(field string) *Builder[T] {
	b.member(field, RoleEnd, nil)
	if m, ok := b.cfg.Member(field); ok {
		m.EdgeType = TargetEdge
		m.Direction = DirectionOutgoing
	}
	return b
}

// Transient excludes fields from mapping. Undeclared fields are never
// mapped; this only documents intent and overrides earlier declarations.
func (b *Builder[T]) Transient(fields ...string) *Builder[T] {
	for _, f := range fields {
		if m, ok := b.cfg.Member(f); ok {
			m.Role = RoleTransient
			continue
		}
		if sf, ok := b.lookup(f); ok {
			b.add(sf, MemberConfig{Field: f, Name: lowerFirst(f), Role: RoleTransient})
		}
	}
	return b
}

// Converter overrides the converters of an already declared member.
func (b *Builder[T]) Converter(field string, o convert.Overrides) *Builder[T] {
	m, ok := b.cfg.Member(field)
	if !ok {
		b.fail(field, fmt.Errorf("%w: %s is not declared", ErrUnknownMember, field))
		return b
	}
	m.Overrides = o
	return b
}

// Build returns the configuration or the accumulated errors.
func (b *Builder[T]) Build() (*Config, error) {
	if err := b.cfg.Err(); err != nil {
		return nil, err
	}
	return b.cfg, nil
}

// Config implements Configurer. Errors surface on registration.
func (b *Builder[T]) Config() *Config {
	return b.cfg
}

func (b *Builder[T]) member(field string, role Role, opts []MemberOption) *Builder[T] {
	sf, ok := b.lookup(field)
	if !ok {
		return b
	}
	m := MemberConfig{Field: field, Name: lowerFirst(field), Role: role}
	for _, opt := range opts {
		opt(&m)
	}
	b.add(sf, m)
	return b
}

func (b *Builder[T]) add(sf reflect.StructField, m MemberConfig) {
	if _, exists := b.cfg.Member(m.Field); exists {
		b.fail(m.Field, fmt.Errorf("%w: %s declared twice", ErrDuplicateEdge, m.Field))
		return
	}
	m.index = sf.Index
	m.typ = sf.Type
	b.cfg.Members = append(b.cfg.Members, m)
}

func (b *Builder[T]) lookup(field string) (reflect.StructField, bool) {
	if b.cfg.Type.Kind() != reflect.Struct {
		return reflect.StructField{}, false
	}
	sf, ok := b.cfg.Type.FieldByName(field)
	if !ok {
		b.fail(field, fmt.Errorf("%w: %s has no field %s", ErrUnknownMember, b.cfg.Type, field))
		return reflect.StructField{}, false
	}
	if !sf.IsExported() {
		b.fail(field, fmt.Errorf("%w: %s is not exported", ErrUnknownMember, field))
		return reflect.StructField{}, false
	}
	return sf, true
}

func (b *Builder[T]) setKind(k Kind) {
	if b.cfg.Kind != KindUndefined && b.cfg.Kind != k {
		b.fail("", ErrDualKind)
	}
	b.cfg.Kind = k
}

func (b *Builder[T]) fail(member string, err error) {
	b.cfg.errs = append(b.cfg.errs, schemaErr(b.cfg.Type, member, err))
}

// lowerFirst lower-cases the leading word of an exported Go name so that
// "Name" becomes "name" and "ID" or "URLPath" become "id" and "urlPath".
func lowerFirst(s string) string {
	r := []rune(s)
	n := 0
	for n < len(r) && unicode.IsUpper(r[n]) {
		n++
	}
	switch {
	case n == 0:
		return s
	case n == 1 || n == len(r):
	default:
		n--
	}
	for i := 0; i < n; i++ {
		r[i] = unicode.ToLower(r[i])
	}
	return string(r)
}

func simpleName(t reflect.Type) string {
	name := t.Name()
	if i := strings.IndexByte(name, '['); i >= 0 {
		name = name[:i]
	}
	return name
}
