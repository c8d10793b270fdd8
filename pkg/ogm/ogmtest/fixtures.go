// Package ogmtest holds mapped fixture types shared by the package tests.
package ogmtest

import (
	"reflect"

	"github.com/conduit-lang/ogm/pkg/ogm/schema"
)

// Top, Middle and Bottom form a three level tree with a back edge from
// Bottom to Middle and from Middle to Top.
type Top struct {
	ID      *int64
	Value   string
	Middles []*Middle
}

type Middle struct {
	ID      *int64
	Value   string
	Bottoms []*Bottom
	Top     *Top
}

type Bottom struct {
	ID     *int64
	Value  string
	Middle *Middle
}

// ComplexParent exercises keyed relationships.
type ComplexParent struct {
	schema.Meta
	ID           *int64
	Complex      map[string]*ComplexChild
	OtherComplex map[string]*ComplexChild
	Inverted     map[*ComplexChild]float64
	SuperComplex map[reflect.Type]*ComplexChild
	Array        [3]*ComplexChild
	Cyclic       []*ComplexParent
}

type ComplexChild struct {
	ID    *int64
	Value string
}

// RootNode is shared by NamespaceA and NamespaceC, which live in
// different namespaces.
type RootNode struct {
	ID                 *int64
	RootField          string
	Analytics          *AnalyticsNode
	TheOtherAnalytics  *AnalyticsNode
	DynamicTypeChecker []Analyzer
}

type NamespaceA struct {
	RootNode
	schema.Meta
	A       string
	General string
	Buddy   *AnalyticsNode
}

type NamespaceC struct {
	RootNode
	schema.Meta
	C       string
	General string
}

// Analyzer is implemented by the analytics node types.
type Analyzer interface {
	Score() int
}

type AnalyticsNode struct {
	ID    *int64
	Value int
}

func (a *AnalyticsNode) Score() int { return a.Value }

type BnalyticsNode struct {
	AnalyticsNode
	Bonus int
}

func (b *BnalyticsNode) Score() int { return b.Value + b.Bonus }

// NodeWithExtensions stores some members as extension properties.
type NodeWithExtensions struct {
	schema.Meta
	ID           *int64
	FieldInClass string
	Singular     string
	Extending    string
	Collection   []string
}

// Letter is implemented by the dynamic dispatch fixtures B, C and D.
type Letter interface {
	Letter() string
}

type A struct {
	ID *int64
	Bs []Letter
}

type B struct {
	ID         *int64
	SomeInt    int
	SomeString string
}

func (b *B) Letter() string { return "B" }

type C struct {
	B
	CString string
}

func (c *C) Letter() string { return "C" }

type D struct {
	B
	E *E
}

func (d *D) Letter() string { return "D" }

type E struct {
	EID  *int64
	EInt int
}

type F struct {
	ID *int64
	As []*A
}

// G, H and I form a cycle through G.
type G struct {
	ID *int64
	Hs []*H
}

type H struct {
	ID *int64
	G  *G
}

type I struct {
	ID *int64
	G  *G
}

// Person, Company and WorksAt model a relationship entity.
type Person struct {
	ID   *int64
	Name string
	Jobs []*WorksAt
}

type Company struct {
	ID   *int64
	Name string
}

type WorksAt struct {
	ID       *int64
	Role     string
	Person   *Person
	Employer *Company
}

// Inventory carries a scalar map whose keys may contain the separator.
type Inventory struct {
	ID    *int64
	Hosts map[string]string
	Count uint64
}

// Configs returns the mapping of every fixture type.
func Configs() []schema.Configurer {
	return []schema.Configurer{
		schema.Define[Top]().Node().ID("ID").Property("Value").Relationship("Middles", "MIDDLE"),
		schema.Define[Middle]().Node().ID("ID").Property("Value").
			Relationship("Bottoms", "BOTTOM").
			Relationship("Top", "TOP"),
		schema.Define[Bottom]().Node().ID("ID").Property("Value").Relationship("Middle", "MIDDLE_UP"),

		schema.Define[ComplexParent]().Node().ID("ID").
			Relationship("Complex", "COMPLEX").
			Relationship("OtherComplex", "COMPLEX_DOS").
			Relationship("Inverted", "INVERTED_COMPLEX").
			Relationship("SuperComplex", "SUPER_COMPLEX").
			Relationship("Array", "ARRAY_COMPLEX").
			Relationship("Cyclic", "WRITE_PAIRINGS"),
		schema.Define[ComplexChild]().Node().ID("ID").Property("Value"),

		schema.Define[RootNode]().Node().Namespace("root").ID("ID").Property("RootField").
			Relationship("Analytics", "").
			Relationship("TheOtherAnalytics", "ANALYTICS").
			Relationship("DynamicTypeChecker", "DYNAMICTYPETEST"),
		schema.Define[NamespaceA]().Namespace("nsa").Embeds("RootNode").Properties("A", "General").
			Relationship("Buddy", "BUDDY"),
		schema.Define[NamespaceC]().Namespace("nsc").Embeds("RootNode").Properties("C", "General"),
		schema.Define[AnalyticsNode]().Node().Namespace("root").ID("ID").Property("Value"),
		schema.Define[BnalyticsNode]().Node().Namespace("root").Embeds("AnalyticsNode").Property("Bonus"),
		schema.Define[NodeWithExtensions]().Node().Namespace("nsa").ID("ID").
			Property("FieldInClass").
			Extension("singular", "Singular").
			Extension("random_extension_sameNameDifferentExtension", "Extending").
			Extension("random_extension_collection", "Collection"),

		schema.Define[A]().Node().Namespace("dyn").ID("ID").Relationship("Bs", "BS"),
		schema.Define[B]().Node().Namespace("dyn").ID("ID").Properties("SomeInt", "SomeString"),
		schema.Define[C]().Node().Namespace("dyn").Embeds("B").Property("CString"),
		schema.Define[D]().Node().Namespace("dyn").Embeds("B").Relationship("E", "E"),
		schema.Define[E]().Node().Namespace("dyn").ID("EID").Property("EInt"),
		schema.Define[F]().Node().Namespace("dyn").ID("ID").Relationship("As", "AS"),
		schema.Define[G]().Node().Namespace("dyn").ID("ID").Relationship("Hs", "HS"),
		schema.Define[H]().Node().Namespace("dyn").ID("ID").Relationship("G", "G"),
		schema.Define[I]().Node().Namespace("dyn").ID("ID").Relationship("G", "G"),

		schema.Define[Person]().Node().ID("ID").Property("Name").Relationship("Jobs", "WORKS_AT"),
		schema.Define[Company]().Node().ID("ID").Property("Name"),
		schema.Define[WorksAt]().RelationshipEntity("WORKS_AT").ID("ID").Property("Role").
			Start("Person").End("Employer"),

		schema.Define[Inventory]().Node().ID("ID").Properties("Hosts", "Count"),
	}
}

// NewRegistry returns a schema registry with every fixture registered.
func NewRegistry(opts ...schema.Option) *schema.Registry {
	return schema.NewRegistry(opts...).MustRegister(Configs()...)
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 {
	return &v
}
