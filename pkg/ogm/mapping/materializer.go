// Package mapping turns raw graph results into typed objects and typed
// objects back into stored properties, and casts between mapped types.
package mapping

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"go.uber.org/zap"

	"github.com/conduit-lang/ogm/pkg/ogm/convert"
	"github.com/conduit-lang/ogm/pkg/ogm/graph"
	"github.com/conduit-lang/ogm/pkg/ogm/schema"
)

// ErrIncompatibleEnd is returned when an edge ends in an object that does
// not fit the relationship member.
var ErrIncompatibleEnd = errors.New("incompatible relationship end")

// IDCache maps raw ids (biased for relationship entities) to the objects
// already materialized from them. Sharing a cache across calls keeps
// references identical and breaks cycles.
type IDCache map[int64]any

// Option configures the mapping components.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets the logger used for lenient conversion failures.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Materializer builds typed objects from raw nodes and edges.
type Materializer struct {
	registry *schema.Registry
	logger   *zap.Logger
}

// NewMaterializer creates a materializer over the registry.
func NewMaterializer(reg *schema.Registry, opts ...Option) *Materializer {
	o := buildOptions(opts)
	return &Materializer{registry: reg, logger: o.logger}
}

// Materialize builds the object for root and everything reachable from it
// through edges. edges and nodes are the relationships and end nodes of the
// result set. The returned value is a pointer to desc's type.
func (m *Materializer) Materialize(desc *schema.TypeDescriptor, root *graph.Node, edges []*graph.Edge, nodes []*graph.Node, cache IDCache) (any, error) {
	if root == nil {
		return nil, nil
	}
	if cache == nil {
		cache = IDCache{}
	}
	s := m.newSession(edges, nodes, cache)
	s.nodes[root.ID] = root
	return s.node(desc, root)
}

// MaterializeSubgraph is Materialize for a {root, relationships, nodes} record.
func (m *Materializer) MaterializeSubgraph(desc *schema.TypeDescriptor, sg *graph.Subgraph, cache IDCache) (any, error) {
	if sg == nil {
		return nil, nil
	}
	return m.Materialize(desc, sg.Root, sg.Relationships, sg.Nodes, cache)
}

// MaterializeEdge builds a relationship entity from a raw edge and its end
// nodes. Either end may be nil.
func (m *Materializer) MaterializeEdge(desc *schema.TypeDescriptor, edge *graph.Edge, source, target *graph.Node, cache IDCache) (any, error) {
	if edge == nil {
		return nil, nil
	}
	if !desc.IsRelationship() {
		return nil, fmt.Errorf("%s is not a relationship entity", desc.Name)
	}
	if cache == nil {
		cache = IDCache{}
	}
	s := m.newSession(nil, nil, cache)
	id := graph.Bias(edge.ID)
	if source != nil {
		s.nodes[source.ID] = source
		s.pending = append(s.pending, &graph.Edge{Type: schema.SourceEdge, StartID: id, EndID: source.ID})
	}
	if target != nil {
		s.nodes[target.ID] = target
		s.pending = append(s.pending, &graph.Edge{Type: schema.TargetEdge, StartID: id, EndID: target.ID})
	}
	return s.populate(desc, id, edge.Properties)
}

// session is the state of one materialization: edges not yet consumed and
// the raw nodes by id.
type session struct {
	*Materializer
	pending []*graph.Edge
	nodes   map[int64]*graph.Node
	cache   IDCache
}

func (m *Materializer) newSession(edges []*graph.Edge, nodes []*graph.Node, cache IDCache) *session {
	s := &session{
		Materializer: m,
		pending:      append([]*graph.Edge(nil), edges...),
		nodes:        make(map[int64]*graph.Node, len(nodes)+1),
		cache:        cache,
	}
	for _, n := range nodes {
		if n != nil {
			s.nodes[n.ID] = n
		}
	}
	return s
}

func (s *session) node(desc *schema.TypeDescriptor, n *graph.Node) (any, error) {
	if obj, ok := s.cache[n.ID]; ok {
		return obj, nil
	}
	obj, err := s.populate(desc, n.ID, n.Properties)
	if err != nil {
		return nil, err
	}
	if desc.NamespaceAware {
		if meta := schema.MetaOf(obj); meta != nil {
			meta.Labels = append([]string(nil), n.Labels...)
		}
	}
	return obj, nil
}

// relationshipEntity materializes the entity stored on edge e, whose start
// is the object being populated.
func (s *session) relationshipEntity(desc *schema.TypeDescriptor, e *graph.Edge) (any, error) {
	id := graph.Bias(e.ID)
	if obj, ok := s.cache[id]; ok {
		return obj, nil
	}
	s.pending = append(s.pending,
		&graph.Edge{Type: schema.SourceEdge, StartID: id, EndID: e.StartID},
		&graph.Edge{Type: schema.TargetEdge, StartID: id, EndID: e.EndID},
	)
	return s.populate(desc, id, e.Properties)
}

// populate allocates the object for raw id, registers it in the cache and
// fills properties and relationships.
func (s *session) populate(desc *schema.TypeDescriptor, id int64, props map[string]any) (any, error) {
	if obj, ok := s.cache[id]; ok {
		return obj, nil
	}
	ptr := desc.New()
	obj := ptr.Interface()
	s.cache[id] = obj

	if err := desc.SetID(obj, graph.Unbias(id)); err != nil {
		return nil, fmt.Errorf("failed to set id of %s: %w", desc.Name, err)
	}

	meta := schema.MetaOf(obj)
	for _, key := range graph.SortedKeys(props) {
		s.property(desc, obj, meta, key, props[key])
	}

	var current []*graph.Edge
	rest := s.pending[:0]
	for _, e := range s.pending {
		if e.StartID == id {
			current = append(current, e)
		} else {
			rest = append(rest, e)
		}
	}
	s.pending = rest

	for _, e := range current {
		if err := s.edge(desc, obj, meta, e); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

func (s *session) property(desc *schema.TypeDescriptor, obj any, meta *schema.Meta, key string, value any) {
	if key == graph.TypeTagProperty {
		return
	}
	head, rest := convert.SplitKey(key)
	f, ok := desc.Fields[head]
	if !ok {
		if meta == nil {
			return
		}
		if strings.HasPrefix(head, graph.ExtensionPrefix) {
			meta.PutExtension(key, value)
		} else {
			meta.PutSync(key, value)
		}
		return
	}
	if err := assignProperty(f, obj, rest, value); err != nil {
		s.logger.Warn("skipping property",
			zap.String("type", desc.Name),
			zap.String("field", key),
			zap.Error(err),
		)
	}
}

// assignProperty folds one stored value into the field of obj. rest is the
// composite sub-key, empty for whole values.
func assignProperty(f *schema.FieldDescriptor, obj any, rest string, value any) error {
	var (
		v   reflect.Value
		err error
	)
	if f.Converter != nil {
		v, err = f.Converter.FromStorage(f.Get(obj), rest, value)
	} else if rest != "" {
		err = fmt.Errorf("%w: %s has no converter for sub-key %q", convert.ErrMalformedKey, f.GoName, rest)
	} else {
		v, err = convert.Assign(f.Type, value)
	}
	if err != nil {
		return err
	}
	if !v.IsValid() {
		return nil
	}
	return f.Set(obj, v)
}

func (s *session) edge(desc *schema.TypeDescriptor, obj any, meta *schema.Meta, e *graph.Edge) error {
	rel, ok := desc.Relationships[e.Type]
	end := s.nodes[e.EndID]
	if !ok {
		if meta != nil && e.ID >= 0 {
			meta.AddOverflow(e, end)
		}
		return nil
	}

	target, err := s.targetOf(rel, end)
	if err != nil {
		return err
	}
	if target == nil {
		if cached, ok := s.cache[e.EndID]; ok {
			return s.attach(desc, obj, meta, rel, e, cached)
		}
		s.logger.Warn("skipping edge without resolvable end",
			zap.String("type", desc.Name),
			zap.String("edge", e.Type),
			zap.Int64("id", e.EndID),
		)
		return nil
	}

	var child any
	if target.IsRelationship() {
		child, err = s.relationshipEntity(target, e)
		if err != nil {
			return err
		}
		if src, ok := target.Relationships[schema.SourceEdge]; ok {
			if err := src.Set(child, reflect.ValueOf(obj)); err != nil {
				s.logger.Warn("cannot link relationship source", zap.String("type", target.Name), zap.Error(err))
			}
		}
	} else {
		if end == nil {
			cached, ok := s.cache[e.EndID]
			if !ok {
				return nil
			}
			child = cached
		} else {
			child, err = s.node(target, end)
			if err != nil {
				return err
			}
		}
	}
	return s.attach(desc, obj, meta, rel, e, child)
}

// targetOf resolves the descriptor of the object at the end of an edge
// held by rel. Dynamic members dispatch on the end node.
func (s *session) targetOf(rel *schema.RelationshipDescriptor, end *graph.Node) (*schema.TypeDescriptor, error) {
	if !rel.Dynamic() {
		return rel.Target()
	}
	if end == nil {
		return nil, nil
	}
	d, err := ResolveDynamic(s.registry, rel, end)
	if err != nil {
		s.logger.Warn("cannot resolve dynamic end", zap.String("edge", rel.Type), zap.Error(err))
		return nil, nil
	}
	return d, nil
}

// attach stores child into the relationship member of obj. Ends that do
// not fit the member are logged and skipped.
func (s *session) attach(desc *schema.TypeDescriptor, obj any, meta *schema.Meta, rel *schema.RelationshipDescriptor, e *graph.Edge, child any) error {
	if err := Attach(rel, obj, meta, e, child); err != nil {
		s.logger.Warn("skipping edge",
			zap.String("type", desc.Name),
			zap.String("edge", e.Type),
			zap.Error(err),
		)
	}
	return nil
}

// Attach stores child, the object at the end of e, into the relationship
// member of obj. Keyed members are placed by the edge's key property and
// the edge id is recorded in meta.
func Attach(rel *schema.RelationshipDescriptor, obj any, meta *schema.Meta, e *graph.Edge, child any) error {
	cv := reflect.ValueOf(child)
	if !cv.Type().AssignableTo(rel.Elem) {
		return fmt.Errorf("%w: %s is not %s", ErrIncompatibleEnd, cv.Type(), rel.Elem)
	}

	sv := reflect.ValueOf(obj).Elem()
	if rel.Keyed != nil {
		stored := e.Properties[graph.KeyProperty]
		if err := rel.Keyed.Place(sv, stored, cv); err != nil {
			return fmt.Errorf("failed to place key %v: %w", stored, err)
		}
		if meta != nil && e.ID >= 0 {
			meta.SetKeyedEdge(rel.Type, SyncKey(rel.Keyed, stored, e.EndID), e.ID)
		}
		return nil
	}
	return AppendOrSet(rel, sv, cv)
}

// SyncKey is the key under which a loaded keyed edge is recorded in
// Meta.KeyedEdges; it matches schema.KeyedEntry.SyncKey on save.
func SyncKey(k *schema.KeyedRelationshipDescriptor, stored any, endID int64) string {
	if k.Inverted {
		return fmt.Sprintf("#%d", endID)
	}
	return fmt.Sprint(stored)
}

// AppendOrSet appends v to a bulk member of sv or assigns a single one.
func AppendOrSet(rel *schema.RelationshipDescriptor, sv reflect.Value, v reflect.Value) error {
	dst := rel.Settable(sv)
	if !rel.Bulk {
		dst.Set(v)
		return nil
	}
	if dst.Kind() != reflect.Slice {
		return fmt.Errorf("cannot append to %s", dst.Type())
	}
	elem := reflect.New(dst.Type().Elem()).Elem()
	elem.Set(v)
	dst.Set(reflect.Append(dst, elem))
	return nil
}
