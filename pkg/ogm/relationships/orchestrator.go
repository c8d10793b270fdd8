// Package relationships persists the edges held by saved objects.
//
// Targets without an id are saved first, then edges are merged from the
// owner to every target. Edges are never deleted: an edge whose target was
// dropped from a member stays in the store.
package relationships

import (
	"context"
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"github.com/conduit-lang/ogm/pkg/ogm/cypher"
	"github.com/conduit-lang/ogm/pkg/ogm/executor"
	"github.com/conduit-lang/ogm/pkg/ogm/graph"
	"github.com/conduit-lang/ogm/pkg/ogm/schema"
)

// Persister is the persistence layer the orchestrator saves related
// objects through.
type Persister interface {
	// Save persists one object of desc's type together with its relationships.
	Save(ctx context.Context, desc *schema.TypeDescriptor, obj any) error
	// SaveAll persists objects of desc's type together with their relationships.
	SaveAll(ctx context.Context, desc *schema.TypeDescriptor, objs []any) error
	// Run executes a write statement.
	Run(ctx context.Context, stmt cypher.Statement) (*executor.Result, error)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Orchestrator saves the relationship members of node objects.
type Orchestrator struct {
	registry  *schema.Registry
	persister Persister
	logger    *zap.Logger
}

// New creates an orchestrator.
func New(registry *schema.Registry, persister Persister, opts ...Option) *Orchestrator {
	o := &Orchestrator{registry: registry, persister: persister, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// HandleNode persists the relationships of obj, which must already have an id.
func (o *Orchestrator) HandleNode(ctx context.Context, desc *schema.TypeDescriptor, obj any) error {
	if obj == nil {
		return nil
	}
	return o.HandleNodes(ctx, desc, []any{obj})
}

// HandleNodes persists the relationships of objs. Objects whose concrete
// type differs from desc are handled with their own descriptor.
func (o *Orchestrator) HandleNodes(ctx context.Context, desc *schema.TypeDescriptor, objs []any) error {
	groups := newBatch()
	for _, obj := range objs {
		if isNil(obj) {
			continue
		}
		d, err := o.concrete(desc, obj)
		if err != nil {
			return err
		}
		groups.add(d, obj)
	}
	for _, d := range groups.order {
		if err := o.handle(ctx, d, groups.objs[d]); err != nil {
			return err
		}
	}
	return nil
}

// concrete re-resolves desc for the dynamic type of obj.
func (o *Orchestrator) concrete(desc *schema.TypeDescriptor, obj any) (*schema.TypeDescriptor, error) {
	t := reflect.TypeOf(obj)
	if t.Kind() == reflect.Pointer && t.Elem() == desc.Type {
		return desc, nil
	}
	return o.registry.Describe(t, desc.NamespaceAware)
}

func (o *Orchestrator) handle(ctx context.Context, desc *schema.TypeDescriptor, owners []any) error {
	if desc.IsRelationship() {
		return fmt.Errorf("%w: %s is a relationship entity", ErrUnsupportedTarget, desc.Name)
	}
	ids := make([]int64, len(owners))
	for i, owner := range owners {
		id, ok := desc.IDOf(owner)
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingID, desc.Name)
		}
		ids[i] = id
	}

	for _, rel := range desc.SortedRelationships() {
		var err error
		if rel.Keyed != nil {
			err = o.keyed(ctx, rel, owners, ids)
		} else {
			err = o.plain(ctx, rel, owners, ids)
		}
		if err != nil {
			return fmt.Errorf("failed to persist relationship %s of %s: %w", rel.Type, desc.Name, err)
		}
	}
	return nil
}

// target is one related object with its resolved descriptor.
type target struct {
	obj  any
	desc *schema.TypeDescriptor
}

// targets resolves the related objects held by rel on every owner.
func (o *Orchestrator) targets(rel *schema.RelationshipDescriptor, owners []any) ([][]target, error) {
	out := make([][]target, len(owners))
	for i, owner := range owners {
		for _, e := range rel.Elements(reflect.ValueOf(owner).Elem()) {
			obj := e.Interface()
			d, err := rel.Snap(obj)
			if err != nil {
				return nil, err
			}
			if d == nil {
				continue
			}
			out[i] = append(out[i], target{obj: obj, desc: d})
		}
	}
	return out, nil
}

func (o *Orchestrator) plain(ctx context.Context, rel *schema.RelationshipDescriptor, owners []any, ids []int64) error {
	perOwner, err := o.targets(rel, owners)
	if err != nil {
		return err
	}

	entities, unsynced := newBatch(), newBatch()
	for i, ts := range perOwner {
		for _, t := range ts {
			switch {
			case t.desc.IsRelationship():
				o.backLink(t, owners[i])
				entities.add(t.desc, t.obj)
			default:
				if _, ok := t.desc.IDOf(t.obj); !ok {
					unsynced.add(t.desc, t.obj)
				}
			}
		}
	}
	if err := unsynced.save(ctx, o.persister); err != nil {
		return err
	}
	if err := entities.save(ctx, o.persister); err != nil {
		return err
	}

	var stmt cypher.Statement
	switch {
	case len(owners) == 1 && !rel.Bulk:
		if len(perOwner[0]) == 0 || perOwner[0][0].desc.IsRelationship() {
			return nil
		}
		id, err := idOf(perOwner[0][0])
		if err != nil {
			return err
		}
		stmt = cypher.Link(rel.Type, ids[0], id)

	case len(owners) == 1:
		targetIDs, err := nodeIDs(perOwner[0])
		if err != nil || len(targetIDs) == 0 {
			return err
		}
		stmt = cypher.LinkTargets(rel.Type, ids[0], targetIDs)

	case !rel.Bulk:
		var tuples []cypher.Tuple
		for i, ts := range perOwner {
			targetIDs, err := nodeIDs(ts)
			if err != nil {
				return err
			}
			for _, id := range targetIDs {
				tuples = append(tuples, cypher.Tuple{Source: ids[i], Target: id})
			}
		}
		if len(tuples) == 0 {
			return nil
		}
		stmt = cypher.LinkTuples(rel.Type, tuples)

	default:
		var sources []cypher.Sources
		for i, ts := range perOwner {
			targetIDs, err := nodeIDs(ts)
			if err != nil {
				return err
			}
			if len(targetIDs) > 0 {
				sources = append(sources, cypher.Sources{ID: ids[i], Targets: targetIDs})
			}
		}
		if len(sources) == 0 {
			return nil
		}
		stmt = cypher.LinkSources(rel.Type, sources)
	}

	_, err = o.persister.Run(ctx, stmt)
	return err
}

// backLink points an unset source endpoint of a relationship entity at
// the owner holding it.
func (o *Orchestrator) backLink(t target, owner any) {
	src, ok := t.desc.Relationships[schema.SourceEdge]
	if !ok {
		return
	}
	if v := src.Get(t.obj); v.IsValid() && !v.IsNil() {
		return
	}
	if err := src.Set(t.obj, reflect.ValueOf(owner)); err != nil {
		o.logger.Debug("cannot link relationship source",
			zap.String("type", t.desc.Name),
			zap.Error(err),
		)
	}
}

// pendingKey is a created keyed edge whose id still has to be recorded.
type pendingKey struct {
	meta *schema.Meta
	key  string
}

// keyed creates one edge per entry carrying the entry key, or updates the
// edge recorded for the key by an earlier save or load.
func (o *Orchestrator) keyed(ctx context.Context, rel *schema.RelationshipDescriptor, owners []any, ids []int64) error {
	perOwner, err := o.targets(rel, owners)
	if err != nil {
		return err
	}
	unsynced := newBatch()
	for _, ts := range perOwner {
		for _, t := range ts {
			if t.desc.IsRelationship() {
				return fmt.Errorf("%w: keyed member holds relationship entity %s", ErrUnsupportedTarget, t.desc.Name)
			}
			if _, ok := t.desc.IDOf(t.obj); !ok {
				unsynced.add(t.desc, t.obj)
			}
		}
	}
	if err := unsynced.save(ctx, o.persister); err != nil {
		return err
	}

	endID := func(n reflect.Value) (int64, bool) {
		d, err := rel.Snap(n.Interface())
		if err != nil || d == nil {
			return 0, false
		}
		return d.IDOfValue(n)
	}

	var (
		creates []cypher.EdgeCreate
		pending []pendingKey
		updates []cypher.NodeUpdate
	)
	for i, owner := range owners {
		meta := schema.MetaOf(owner)
		entries, err := rel.Keyed.Entries(reflect.ValueOf(owner).Elem(), endID)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			end, ok := endID(entry.Node)
			if !ok {
				return fmt.Errorf("%w: end of %s[%s]", ErrMissingID, rel.Type, entry.SyncKey)
			}
			props := map[string]any{}
			if entry.Stored != nil {
				props[graph.KeyProperty] = entry.Stored
			}
			if edgeID, ok := meta.KeyedEdge(rel.Type, entry.SyncKey); ok {
				updates = append(updates, cypher.NodeUpdate{ID: edgeID, Properties: props})
				continue
			}
			creates = append(creates, cypher.EdgeCreate{SourceID: ids[i], TargetID: end, Properties: props})
			pending = append(pending, pendingKey{meta: meta, key: entry.SyncKey})
		}
	}

	switch len(updates) {
	case 0:
	case 1:
		_, err = o.persister.Run(ctx, cypher.UpdateEdge(rel.Type, updates[0].ID, updates[0].Properties))
	default:
		_, err = o.persister.Run(ctx, cypher.UpdateEdges(rel.Type, updates))
	}
	if err != nil {
		return err
	}

	var res *executor.Result
	switch len(creates) {
	case 0:
		return nil
	case 1:
		c := creates[0]
		res, err = o.persister.Run(ctx, cypher.CreateEdge(rel.Type, c.SourceID, c.TargetID, c.Properties))
	default:
		res, err = o.persister.Run(ctx, cypher.CreateEdges(rel.Type, creates))
	}
	if err != nil {
		return err
	}
	edgeIDs, err := res.IDs()
	if err != nil {
		return err
	}
	if len(edgeIDs) != len(pending) {
		return fmt.Errorf("created %d of %d keyed edges", len(edgeIDs), len(pending))
	}
	for i, p := range pending {
		if p.meta != nil {
			p.meta.SetKeyedEdge(rel.Type, p.key, edgeIDs[i])
		}
	}
	return nil
}

func idOf(t target) (int64, error) {
	id, ok := t.desc.IDOf(t.obj)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingID, t.desc.Name)
	}
	return id, nil
}

// nodeIDs returns the ids of the node targets; relationship entities are
// linked by their own save.
func nodeIDs(ts []target) ([]int64, error) {
	out := make([]int64, 0, len(ts))
	for _, t := range ts {
		if t.desc.IsRelationship() {
			continue
		}
		id, err := idOf(t)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func isNil(obj any) bool {
	if obj == nil {
		return true
	}
	v := reflect.ValueOf(obj)
	return v.Kind() == reflect.Pointer && v.IsNil()
}
