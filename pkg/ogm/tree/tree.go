// Package tree saves and loads whole object graphs whose member types are
// only known at runtime: interface valued relationships are resolved per
// node from its labels and type tag.
package tree

import (
	"context"
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"github.com/conduit-lang/ogm/pkg/ogm/cypher"
	"github.com/conduit-lang/ogm/pkg/ogm/graph"
	"github.com/conduit-lang/ogm/pkg/ogm/hooks"
	"github.com/conduit-lang/ogm/pkg/ogm/mapping"
	"github.com/conduit-lang/ogm/pkg/ogm/repository"
	"github.com/conduit-lang/ogm/pkg/ogm/schema"
	"github.com/conduit-lang/ogm/pkg/ogm/transaction"
)

// LoadOptions controls a tree load.
type LoadOptions struct {
	// Filter lists member types. Interfaces match every implementation.
	Filter []reflect.Type
	// Include follows only members whose type is in Filter, plus
	// collections whose elements are. Otherwise members in Filter are skipped.
	Include bool
	// Remap loads nodes requested as a key type as the value type instead,
	// falling back to the key type when the node lacks the value's labels.
	Remap map[reflect.Type]reflect.Type
	// Cache holds objects already loaded, by node id. Passing the same
	// cache to several loads shares instances between them.
	Cache map[int64]any
}

// Option configures a Repository.
type Option func(*Repository)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Repository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Repository persists and restores object trees through the node
// repositories of a provider.
type Repository struct {
	provider *repository.Provider
	logger   *zap.Logger
}

// New creates a tree repository over p.
func New(p *repository.Provider, opts ...Option) *Repository {
	r := &Repository{provider: p, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Save persists root and every object reachable from it. Each distinct
// object is written once, then the edges between them are merged.
func (r *Repository) Save(ctx context.Context, root any) error {
	p := &plan{provider: r.provider, groups: make(map[*schema.TypeDescriptor][]any), seen: make(map[any]bool)}
	if err := p.visit(root); err != nil {
		return err
	}
	if len(p.order) == 0 {
		return nil
	}

	return r.provider.Manager().Write(ctx, func(ctx context.Context, _ *transaction.Transaction) error {
		for _, desc := range p.order {
			nodes, err := r.provider.Nodes(desc.Type)
			if err != nil {
				return err
			}
			if err := nodes.SaveNodes(ctx, p.groups[desc]); err != nil {
				return err
			}
		}
		for _, desc := range p.order {
			if err := r.provider.HandleRelationships(ctx, desc, p.groups[desc]); err != nil {
				return fmt.Errorf("failed to link %s: %w", desc.Name, err)
			}
		}
		r.logger.Debug("saved tree", zap.Int("types", len(p.order)), zap.Int("objects", len(p.seen)))
		return nil
	})
}

// plan collects the objects of a tree grouped by type, in discovery order.
type plan struct {
	provider *repository.Provider
	order    []*schema.TypeDescriptor
	groups   map[*schema.TypeDescriptor][]any
	seen     map[any]bool
}

func (p *plan) visit(obj any) error {
	if obj == nil {
		return nil
	}
	v := reflect.ValueOf(obj)
	if v.Kind() != reflect.Pointer || v.IsNil() || p.seen[obj] {
		return nil
	}
	p.seen[obj] = true

	desc, err := p.provider.Registry().DescribeValue(obj, p.provider.NamespaceAware())
	if err != nil {
		return err
	}

	// Relationship entities are saved by their owner; only their ends
	// belong to the tree.
	if desc.IsRelationship() {
		for _, name := range []string{schema.SourceEdge, schema.TargetEdge} {
			rel, ok := desc.Relationships[name]
			if !ok {
				continue
			}
			end := rel.Get(obj)
			if !end.IsValid() || end.IsNil() {
				continue
			}
			if err := p.visit(end.Interface()); err != nil {
				return err
			}
		}
		return nil
	}

	if _, ok := p.groups[desc]; !ok {
		p.order = append(p.order, desc)
	}
	p.groups[desc] = append(p.groups[desc], obj)

	sv := v.Elem()
	for _, rel := range desc.SortedRelationships() {
		for _, e := range rel.Elements(sv) {
			if err := p.visit(e.Interface()); err != nil {
				return err
			}
		}
	}
	return nil
}

// Load restores the object stored under id, requested as static (a struct
// or interface type), and everything reachable from it that the filter
// lets through. The result is a pointer to the loaded type.
func (r *Repository) Load(ctx context.Context, id int64, static reflect.Type, opts LoadOptions) (any, error) {
	if static == nil {
		return nil, fmt.Errorf("no type to load element with id %d as", id)
	}
	if static.Kind() == reflect.Pointer {
		static = static.Elem()
	}
	if opts.Cache == nil {
		opts.Cache = make(map[int64]any)
	}

	l := &loader{Repository: r, opts: opts, cache: mapping.IDCache(opts.Cache)}
	var out any
	err := r.provider.Manager().Read(ctx, func(ctx context.Context, _ *transaction.Transaction) error {
		var err error
		out, err = l.load(ctx, id, static)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LoadAs is Load for a struct type T.
func LoadAs[T any](ctx context.Context, r *Repository, id int64, opts LoadOptions) (*T, error) {
	v, err := r.Load(ctx, id, reflect.TypeOf((*T)(nil)).Elem(), opts)
	if err != nil {
		return nil, err
	}
	typed, ok := v.(*T)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", repository.ErrWrongType, v)
	}
	return typed, nil
}

type loader struct {
	*Repository
	opts  LoadOptions
	cache mapping.IDCache
}

func (l *loader) load(ctx context.Context, id int64, static reflect.Type) (any, error) {
	if obj, ok := l.cache[id]; ok {
		return obj, nil
	}
	desc, sg, err := l.resolve(ctx, id, static)
	if err != nil {
		return nil, err
	}
	return l.build(ctx, desc, sg)
}

// resolve picks the type node id is loaded as and fetches it with its
// direct relationships.
func (l *loader) resolve(ctx context.Context, id int64, static reflect.Type) (*schema.TypeDescriptor, *graph.Subgraph, error) {
	res, err := l.provider.Run(ctx, cypher.Labels(id))
	if err != nil {
		return nil, nil, err
	}
	labels, err := res.Strings()
	if err != nil {
		return nil, nil, err
	}
	if labels == nil {
		return nil, nil, &LoadError{ID: id, Type: static, Err: repository.ErrNotFound}
	}

	effective := static
	if remapped, ok := l.opts.Remap[static]; ok {
		effective = remapped
	}
	desc := l.castable(effective, labels)
	if desc == nil && effective != static {
		desc = l.castable(static, labels)
	}
	if desc == nil {
		return nil, nil, &LoadError{ID: id, Type: effective}
	}

	nodes, err := l.provider.Nodes(desc.Type)
	if err != nil {
		return nil, nil, err
	}
	sg, err := nodes.Subgraph(ctx, id, 1)
	if err != nil {
		return nil, nil, &LoadError{ID: id, Type: desc.Type, Err: err}
	}

	if tagged := l.tagged(sg.Root, labels, effective, static); tagged != nil {
		desc = tagged
	}
	return desc, sg, nil
}

// castable returns the descriptor of t when a node with labels can be
// loaded as it. For interfaces the implementation carrying the most labels
// wins.
func (l *loader) castable(t reflect.Type, labels []string) *schema.TypeDescriptor {
	if t.Kind() != reflect.Interface {
		desc, err := l.provider.Describe(t)
		if err != nil || desc.IsRelationship() || !desc.CanCast(labels) {
			return nil
		}
		return desc
	}

	var best *schema.TypeDescriptor
	for _, impl := range l.provider.Registry().Types() {
		if !reflect.PointerTo(impl).Implements(t) {
			continue
		}
		desc := l.castable(impl, labels)
		if desc == nil {
			continue
		}
		if best == nil || len(desc.ActiveLabels()) > len(best.ActiveLabels()) {
			best = desc
		}
	}
	return best
}

// tagged returns the descriptor named by the node's type tag when it fits
// one of the requested types and the node's labels.
func (l *loader) tagged(n *graph.Node, labels []string, types ...reflect.Type) *schema.TypeDescriptor {
	for _, t := range types {
		want := t
		if want.Kind() != reflect.Interface {
			want = reflect.PointerTo(t)
		}
		tt, ok := mapping.TaggedType(l.provider.Registry(), n, want)
		if !ok {
			continue
		}
		desc, err := l.provider.Describe(tt)
		if err != nil || !desc.CanCast(labels) {
			continue
		}
		return desc
	}
	return nil
}

// build materializes the root of sg and loads each of its relationships
// through load, so children share the cache.
func (l *loader) build(ctx context.Context, desc *schema.TypeDescriptor, sg *graph.Subgraph) (any, error) {
	obj, err := l.provider.Materializer().Materialize(desc, sg.Root, nil, nil, l.cache)
	if err != nil {
		return nil, fmt.Errorf("failed to materialize %s %d: %w", desc.Name, sg.Root.ID, err)
	}
	meta := schema.MetaOf(obj)

	for _, e := range sg.Relationships {
		if e == nil || e.StartID != sg.Root.ID {
			continue
		}
		rel, ok := desc.Relationships[e.Type]
		if !ok {
			if meta != nil && e.ID >= 0 {
				meta.AddOverflow(e, sg.NodeByID(e.EndID))
			}
			continue
		}
		if !l.follows(rel) {
			continue
		}
		child, err := l.child(ctx, obj, rel, e)
		if err != nil {
			return nil, err
		}
		if child == nil {
			continue
		}
		if err := mapping.Attach(rel, obj, meta, e, child); err != nil {
			l.logger.Warn("skipping edge",
				zap.String("type", desc.Name),
				zap.String("edge", e.Type),
				zap.Error(err),
			)
		}
	}

	if err := l.provider.Hooks().Execute(ctx, hooks.AfterLoad, desc, obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// follows applies the filter to the declared type of a member.
func (l *loader) follows(rel *schema.RelationshipDescriptor) bool {
	declared := declaredType(rel.Elem)
	if l.opts.Include {
		return rel.Bulk || matches(declared, l.opts.Filter)
	}
	return !matches(declared, l.opts.Filter)
}

// admits applies the filter to the concrete type of one loaded element.
func (l *loader) admits(t reflect.Type) bool {
	if l.opts.Include {
		return matches(t, l.opts.Filter)
	}
	return !matches(t, l.opts.Filter)
}

// child loads the object at the end of e held by rel of owner. It returns
// nil when the filter rejects it.
func (l *loader) child(ctx context.Context, owner any, rel *schema.RelationshipDescriptor, e *graph.Edge) (any, error) {
	target, err := rel.Target()
	if err != nil {
		return nil, err
	}
	if target != nil && target.IsRelationship() {
		return l.entity(ctx, owner, target, e)
	}

	if cached, ok := l.cache[e.EndID]; ok {
		if !l.admits(reflect.TypeOf(cached).Elem()) {
			return nil, nil
		}
		return cached, nil
	}
	desc, sg, err := l.resolve(ctx, e.EndID, declaredType(rel.Elem))
	if err != nil {
		return nil, err
	}
	if !l.admits(desc.Type) {
		return nil, nil
	}
	return l.build(ctx, desc, sg)
}

// entity builds the relationship entity stored on e and loads its target.
func (l *loader) entity(ctx context.Context, owner any, desc *schema.TypeDescriptor, e *graph.Edge) (any, error) {
	if cached, ok := l.cache[graph.Bias(e.ID)]; ok {
		return cached, nil
	}
	obj, err := l.provider.Materializer().MaterializeEdge(desc, e, nil, nil, l.cache)
	if err != nil {
		return nil, fmt.Errorf("failed to materialize %s %d: %w", desc.Name, e.ID, err)
	}
	if src, ok := desc.Relationships[schema.SourceEdge]; ok {
		if err := src.Set(obj, reflect.ValueOf(owner)); err != nil {
			l.logger.Warn("cannot link relationship source", zap.String("type", desc.Name), zap.Error(err))
		}
	}
	tgt, ok := desc.Relationships[schema.TargetEdge]
	if !ok {
		return obj, nil
	}
	end, err := l.load(ctx, e.EndID, declaredType(tgt.Elem))
	if err != nil {
		return nil, err
	}
	if err := tgt.Set(obj, reflect.ValueOf(end)); err != nil {
		l.logger.Warn("cannot link relationship target", zap.String("type", desc.Name), zap.Error(err))
	}
	return obj, nil
}

// declaredType strips the pointer of a relationship element type.
func declaredType(elem reflect.Type) reflect.Type {
	if elem.Kind() == reflect.Pointer {
		return elem.Elem()
	}
	return elem
}

// matches reports whether t is one of filter or implements an interface in it.
func matches(t reflect.Type, filter []reflect.Type) bool {
	for _, f := range filter {
		if f == t {
			return true
		}
		if f.Kind() != reflect.Interface {
			continue
		}
		if t.Kind() == reflect.Interface {
			if t.Implements(f) {
				return true
			}
		} else if reflect.PointerTo(t).Implements(f) {
			return true
		}
	}
	return false
}
