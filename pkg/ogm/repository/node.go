package repository

import (
	"context"
	"fmt"
	"reflect"

	"github.com/conduit-lang/ogm/pkg/ogm/cypher"
	"github.com/conduit-lang/ogm/pkg/ogm/executor"
	"github.com/conduit-lang/ogm/pkg/ogm/graph"
	"github.com/conduit-lang/ogm/pkg/ogm/hooks"
	"github.com/conduit-lang/ogm/pkg/ogm/mapping"
	"github.com/conduit-lang/ogm/pkg/ogm/schema"
	"github.com/conduit-lang/ogm/pkg/ogm/transaction"
)

// NodeRepository saves and finds the nodes of one mapped type. Every
// object it accepts or returns is a pointer to that type.
type NodeRepository struct {
	provider *Provider
	desc     *schema.TypeDescriptor
	// root is the label matched by FindAll, FindBy, DeleteAll and Count.
	root string
	// idRoot is the label matched by FindByID and FindSubtree. In
	// namespace-aware mode it is the outermost ancestor label, so nodes
	// written by sibling types in other namespaces are found too.
	idRoot string
}

func newNodeRepository(p *Provider, desc *schema.TypeDescriptor) *NodeRepository {
	labels := desc.ActiveLabels()
	r := &NodeRepository{provider: p, desc: desc, root: labels[0], idRoot: labels[0]}
	if desc.NamespaceAware {
		r.idRoot = labels[len(labels)-1]
	}
	return r
}

// Descriptor returns the descriptor of the repository type.
func (r *NodeRepository) Descriptor() *schema.TypeDescriptor {
	return r.desc
}

// Save creates obj when it has no id and replaces its properties
// otherwise, then persists its relationships. Targets without an id are
// saved first. Edges are only ever added.
func (r *NodeRepository) Save(ctx context.Context, obj any) error {
	return r.SaveAll(ctx, []any{obj})
}

// SaveAll is Save for many objects, written with one bulk update and one
// bulk create.
func (r *NodeRepository) SaveAll(ctx context.Context, objs []any) error {
	return r.save(ctx, objs, true)
}

// SaveNode writes obj alone. Its relationships are left untouched.
func (r *NodeRepository) SaveNode(ctx context.Context, obj any) error {
	return r.save(ctx, []any{obj}, false)
}

// SaveNodes is SaveNode for many objects.
func (r *NodeRepository) SaveNodes(ctx context.Context, objs []any) error {
	return r.save(ctx, objs, false)
}

func (r *NodeRepository) save(ctx context.Context, objs []any, withRelationships bool) error {
	objs, err := r.accept(objs)
	if err != nil || len(objs) == 0 {
		return err
	}

	return r.provider.manager.Write(ctx, func(ctx context.Context, _ *transaction.Transaction) error {
		if err := r.runHooks(ctx, hooks.BeforeSave, objs); err != nil {
			return err
		}
		if err := r.write(ctx, objs); err != nil {
			return err
		}
		if withRelationships {
			if err := r.provider.orchestrator.HandleNodes(ctx, r.desc, objs); err != nil {
				return err
			}
		}
		return r.runHooks(ctx, hooks.AfterSave, objs)
	})
}

// accept drops nil objects and rejects foreign types.
func (r *NodeRepository) accept(objs []any) ([]any, error) {
	want := reflect.PointerTo(r.desc.Type)
	out := make([]any, 0, len(objs))
	for _, obj := range objs {
		if obj == nil {
			continue
		}
		v := reflect.ValueOf(obj)
		if v.Type() != want {
			return nil, fmt.Errorf("%w: %T is not %s", ErrWrongType, obj, want)
		}
		if v.IsNil() {
			continue
		}
		out = append(out, obj)
	}
	return out, nil
}

func (r *NodeRepository) write(ctx context.Context, objs []any) error {
	flats := make([]*mapping.Flat, len(objs))
	for i, obj := range objs {
		f, err := r.provider.flattener.Flatten(r.desc, obj)
		if err != nil {
			return fmt.Errorf("failed to flatten %s: %w", r.desc.Name, err)
		}
		flats[i] = f
	}

	if len(flats) == 1 {
		f := flats[0]
		if f.ID != nil {
			if _, err := r.provider.Run(ctx, cypher.UpdateNode(*f.ID, f.Labels, f.Properties)); err != nil {
				return fmt.Errorf("failed to update %s %d: %w", r.desc.Name, *f.ID, err)
			}
			return nil
		}
		res, err := r.provider.Run(ctx, cypher.CreateNode(f.Labels, f.Properties))
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", r.desc.Name, err)
		}
		return r.assign(res, objs)
	}

	var (
		updates []cypher.NodeUpdate
		created []any
		props   []map[string]any
	)
	for i, f := range flats {
		if f.ID != nil {
			updates = append(updates, cypher.NodeUpdate{ID: *f.ID, Properties: f.Properties})
			continue
		}
		created = append(created, objs[i])
		props = append(props, f.Properties)
	}

	labels := r.desc.ActiveLabels()
	if len(updates) > 0 {
		if _, err := r.provider.Run(ctx, cypher.UpdateNodes(labels, updates)); err != nil {
			return fmt.Errorf("failed to update %d %s nodes: %w", len(updates), r.desc.Name, err)
		}
	}
	if len(created) > 0 {
		res, err := r.provider.Run(ctx, cypher.CreateNodes(labels, props))
		if err != nil {
			return fmt.Errorf("failed to create %d %s nodes: %w", len(created), r.desc.Name, err)
		}
		return r.assign(res, created)
	}
	return nil
}

// assign sets the ids a create statement returned, in order.
func (r *NodeRepository) assign(res *executor.Result, objs []any) error {
	ids, err := res.IDs()
	if err != nil {
		return err
	}
	if len(ids) != len(objs) {
		return fmt.Errorf("created %d %s nodes but got %d ids", len(objs), r.desc.Name, len(ids))
	}
	for i, obj := range objs {
		if err := r.desc.SetID(obj, ids[i]); err != nil {
			return fmt.Errorf("failed to set id of %s: %w", r.desc.Name, err)
		}
	}
	return nil
}

// FindByID loads the node with its direct relationships.
func (r *NodeRepository) FindByID(ctx context.Context, id int64) (any, error) {
	found, err := r.find(ctx, cypher.FindByID(r.idRoot, id))
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%w: %s with id %d", ErrNotFound, r.desc.Name, id)
	}
	return found[0], nil
}

// FindAll loads every node of the type with its direct relationships.
func (r *NodeRepository) FindAll(ctx context.Context) ([]any, error) {
	return r.find(ctx, cypher.FindAll(r.root))
}

// FindSubtree loads the node and everything reachable from it over at most
// depth hops: 0 is the node alone, a negative depth is unbounded. edgeTypes
// restricts the edges followed.
func (r *NodeRepository) FindSubtree(ctx context.Context, id int64, depth int, edgeTypes ...string) (any, error) {
	qualified := make([]string, len(edgeTypes))
	for i, et := range edgeTypes {
		q, err := r.QualifyRelationship(et)
		if err != nil {
			return nil, err
		}
		qualified[i] = q
	}

	found, err := r.find(ctx, cypher.FindSubtree(r.idRoot, id, depth, qualified...))
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%w: %s with id %d", ErrNotFound, r.desc.Name, id)
	}
	return found[0], nil
}

// Subgraph returns the raw node and what lies within depth hops of it,
// without materializing anything.
func (r *NodeRepository) Subgraph(ctx context.Context, id int64, depth int) (*graph.Subgraph, error) {
	res, err := r.provider.Run(ctx, cypher.FindSubtree(r.idRoot, id, depth))
	if err != nil {
		return nil, fmt.Errorf("failed to find %s: %w", r.desc.Name, err)
	}
	subgraphs, err := res.Subgraphs()
	if err != nil {
		return nil, err
	}
	if len(subgraphs) == 0 {
		return nil, fmt.Errorf("%w: %s with id %d", ErrNotFound, r.desc.Name, id)
	}
	return subgraphs[0], nil
}

// FindBy returns the first node matching where.
func (r *NodeRepository) FindBy(ctx context.Context, where *cypher.PredicateGroup) (any, error) {
	found, err := r.FindAllBy(ctx, where)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%w: no %s matches", ErrNotFound, r.desc.Name)
	}
	return found[0], nil
}

// FindAllBy returns every node matching where. In namespace-aware mode
// bare property names are qualified first.
func (r *NodeRepository) FindAllBy(ctx context.Context, where *cypher.PredicateGroup) ([]any, error) {
	where, err := r.qualifyPredicate(where)
	if err != nil {
		return nil, err
	}
	stmt, err := cypher.FindWhere(r.root, where)
	if err != nil {
		return nil, err
	}
	return r.find(ctx, stmt)
}

// Query runs a caller provided template and materializes the first row.
// Rows may be nodes or {root, relationships, nodes} maps.
func (r *NodeRepository) Query(ctx context.Context, template string, params map[string]any) (any, error) {
	found, err := r.QueryAll(ctx, template, params)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%w: query returned no %s", ErrNotFound, r.desc.Name)
	}
	return found[0], nil
}

// QueryAll is Query for every row.
func (r *NodeRepository) QueryAll(ctx context.Context, template string, params map[string]any) ([]any, error) {
	var out []any
	err := r.provider.manager.Write(ctx, func(ctx context.Context, tx *transaction.Transaction) error {
		res, err := tx.Run(ctx, cypher.Raw(template, params))
		if err != nil {
			return fmt.Errorf("failed to run query: %w", err)
		}
		cache := mapping.IDCache{}
		for _, v := range res.Column() {
			obj, err := r.materializeValue(v, cache)
			if err != nil {
				return err
			}
			out = append(out, obj)
		}
		return r.runHooks(ctx, hooks.AfterLoad, out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *NodeRepository) materializeValue(v any, cache mapping.IDCache) (any, error) {
	m := r.provider.materializer
	switch val := v.(type) {
	case *graph.Node:
		return m.Materialize(r.desc, val, nil, nil, cache)
	case graph.Node:
		return m.Materialize(r.desc, &val, nil, nil, cache)
	case map[string]any:
		sg := executor.SubgraphOf(val)
		if sg == nil {
			return nil, fmt.Errorf("%w: map without root", ErrUnexpectedResult)
		}
		return m.MaterializeSubgraph(r.desc, sg, cache)
	}
	return nil, fmt.Errorf("%w: %T", ErrUnexpectedResult, v)
}

// DeleteAll removes every node of the type and the edges touching them.
func (r *NodeRepository) DeleteAll(ctx context.Context) error {
	if _, err := r.provider.Run(ctx, cypher.DeleteAll(r.root)); err != nil {
		return fmt.Errorf("failed to delete %s nodes: %w", r.desc.Name, err)
	}
	return nil
}

// Count returns the number of nodes of the type.
func (r *NodeRepository) Count(ctx context.Context) (int64, error) {
	res, err := r.provider.Run(ctx, cypher.Count(r.root))
	if err != nil {
		return 0, fmt.Errorf("failed to count %s nodes: %w", r.desc.Name, err)
	}
	return res.Int64()
}

// find runs a find statement and materializes every root with one cache,
// so objects shared between rows stay identical.
func (r *NodeRepository) find(ctx context.Context, stmt cypher.Statement) ([]any, error) {
	var out []any
	err := r.provider.manager.Read(ctx, func(ctx context.Context, tx *transaction.Transaction) error {
		res, err := tx.Run(ctx, stmt)
		if err != nil {
			return fmt.Errorf("failed to find %s: %w", r.desc.Name, err)
		}
		subgraphs, err := res.Subgraphs()
		if err != nil {
			return err
		}
		cache := mapping.IDCache{}
		for _, sg := range subgraphs {
			obj, err := r.provider.materializer.MaterializeSubgraph(r.desc, sg, cache)
			if err != nil {
				return fmt.Errorf("failed to materialize %s %d: %w", r.desc.Name, sg.Root.ID, err)
			}
			out = append(out, obj)
		}
		return r.runHooks(ctx, hooks.AfterLoad, out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *NodeRepository) runHooks(ctx context.Context, hookType hooks.Type, objs []any) error {
	return runHooks(ctx, r.provider.hooks, hookType, r.desc, objs)
}

func runHooks(ctx context.Context, e *hooks.Executor, hookType hooks.Type, desc *schema.TypeDescriptor, objs []any) error {
	if !e.HasHooks(desc, hookType) {
		return nil
	}
	for _, obj := range objs {
		if err := e.Execute(ctx, hookType, desc, obj); err != nil {
			return err
		}
	}
	return nil
}
