package repository

import (
	"context"
	"fmt"
	"reflect"

	"github.com/conduit-lang/ogm/pkg/ogm/cypher"
	"github.com/conduit-lang/ogm/pkg/ogm/executor"
	"github.com/conduit-lang/ogm/pkg/ogm/hooks"
	"github.com/conduit-lang/ogm/pkg/ogm/mapping"
	"github.com/conduit-lang/ogm/pkg/ogm/schema"
	"github.com/conduit-lang/ogm/pkg/ogm/transaction"
)

// RelationshipRepository saves and finds relationship entities: edges
// whose properties map onto a struct with source and target members.
type RelationshipRepository struct {
	provider *Provider
	desc     *schema.TypeDescriptor
}

// Descriptor returns the descriptor of the repository type.
func (r *RelationshipRepository) Descriptor() *schema.TypeDescriptor {
	return r.desc
}

// Save creates the edge when obj has no id and replaces its properties
// otherwise. Endpoints without an id are saved first.
func (r *RelationshipRepository) Save(ctx context.Context, obj any) error {
	return r.SaveAll(ctx, []any{obj})
}

// SaveAll is Save for many entities, written with one bulk update and one
// bulk create.
func (r *RelationshipRepository) SaveAll(ctx context.Context, objs []any) error {
	objs, err := r.accept(objs)
	if err != nil || len(objs) == 0 {
		return err
	}

	return r.provider.manager.Write(ctx, func(ctx context.Context, _ *transaction.Transaction) error {
		if err := runHooks(ctx, r.provider.hooks, hooks.BeforeSave, r.desc, objs); err != nil {
			return err
		}
		if err := r.write(ctx, objs); err != nil {
			return err
		}
		return runHooks(ctx, r.provider.hooks, hooks.AfterSave, r.desc, objs)
	})
}

func (r *RelationshipRepository) accept(objs []any) ([]any, error) {
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
		if !v.IsNil() {
			out = append(out, obj)
		}
	}
	return out, nil
}

func (r *RelationshipRepository) write(ctx context.Context, objs []any) error {
	edgeType := r.desc.EdgeType()
	var (
		updates []cypher.NodeUpdate
		creates []cypher.EdgeCreate
		created []any
	)
	for _, obj := range objs {
		source, err := r.endpoint(ctx, obj, schema.SourceEdge)
		if err != nil {
			return err
		}
		target, err := r.endpoint(ctx, obj, schema.TargetEdge)
		if err != nil {
			return err
		}
		f, err := r.provider.flattener.Flatten(r.desc, obj)
		if err != nil {
			return fmt.Errorf("failed to flatten %s: %w", r.desc.Name, err)
		}
		if f.ID != nil {
			updates = append(updates, cypher.NodeUpdate{ID: *f.ID, Properties: f.Properties})
			continue
		}
		creates = append(creates, cypher.EdgeCreate{SourceID: source, TargetID: target, Properties: f.Properties})
		created = append(created, obj)
	}

	switch len(updates) {
	case 0:
	case 1:
		u := updates[0]
		if _, err := r.provider.Run(ctx, cypher.UpdateEdge(edgeType, u.ID, u.Properties)); err != nil {
			return fmt.Errorf("failed to update %s %d: %w", r.desc.Name, u.ID, err)
		}
	default:
		if _, err := r.provider.Run(ctx, cypher.UpdateEdges(edgeType, updates)); err != nil {
			return fmt.Errorf("failed to update %d %s edges: %w", len(updates), r.desc.Name, err)
		}
	}

	var (
		res *executor.Result
		err error
	)
	switch len(creates) {
	case 0:
		return nil
	case 1:
		c := creates[0]
		res, err = r.provider.Run(ctx, cypher.CreateEdge(edgeType, c.SourceID, c.TargetID, c.Properties))
	default:
		res, err = r.provider.Run(ctx, cypher.CreateEdges(edgeType, creates))
	}
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", r.desc.Name, err)
	}

	ids, err := res.IDs()
	if err != nil {
		return err
	}
	if len(ids) != len(created) {
		return fmt.Errorf("created %d %s edges but got %d ids", len(created), r.desc.Name, len(ids))
	}
	for i, obj := range created {
		if err := r.desc.SetID(obj, ids[i]); err != nil {
			return fmt.Errorf("failed to set id of %s: %w", r.desc.Name, err)
		}
	}
	return nil
}

// endpoint returns the id of the source or target of obj, saving the end
// node when it has none.
func (r *RelationshipRepository) endpoint(ctx context.Context, obj any, name string) (int64, error) {
	rel, ok := r.desc.Relationships[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s has no %s", ErrMissingEndpoint, r.desc.Name, name)
	}
	v := rel.Get(obj)
	if !v.IsValid() || v.IsNil() {
		return 0, fmt.Errorf("%w: %s of %s is nil", ErrMissingEndpoint, name, r.desc.Name)
	}
	end := v.Interface()
	endDesc, err := rel.Snap(end)
	if err != nil {
		return 0, err
	}
	if id, ok := endDesc.IDOf(end); ok {
		return id, nil
	}
	if err := r.provider.Save(ctx, endDesc, end); err != nil {
		return 0, fmt.Errorf("failed to save %s of %s: %w", name, r.desc.Name, err)
	}
	id, ok := endDesc.IDOf(end)
	if !ok {
		return 0, fmt.Errorf("%w: %s of %s has no id after saving", ErrMissingEndpoint, name, r.desc.Name)
	}
	return id, nil
}

// FindByID loads the edge with its end nodes.
func (r *RelationshipRepository) FindByID(ctx context.Context, id int64) (any, error) {
	found, err := r.find(ctx, cypher.FindEdge(r.desc.EdgeType(), id))
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%w: %s with id %d", ErrNotFound, r.desc.Name, id)
	}
	return found[0], nil
}

// FindAll loads every edge of the type with its end nodes.
func (r *RelationshipRepository) FindAll(ctx context.Context) ([]any, error) {
	return r.find(ctx, cypher.FindEdges(r.desc.EdgeType()))
}

// FindAllBy loads every edge of the type whose properties match where.
func (r *RelationshipRepository) FindAllBy(ctx context.Context, where *cypher.PredicateGroup) ([]any, error) {
	stmt, err := cypher.FindEdgesWhere(r.desc.EdgeType(), where)
	if err != nil {
		return nil, err
	}
	return r.find(ctx, stmt)
}

// DeleteAll removes every edge of the type. End nodes are kept.
func (r *RelationshipRepository) DeleteAll(ctx context.Context) error {
	if _, err := r.provider.Run(ctx, cypher.DeleteEdges(r.desc.EdgeType())); err != nil {
		return fmt.Errorf("failed to delete %s edges: %w", r.desc.Name, err)
	}
	return nil
}

func (r *RelationshipRepository) find(ctx context.Context, stmt cypher.Statement) ([]any, error) {
	var out []any
	err := r.provider.manager.Read(ctx, func(ctx context.Context, tx *transaction.Transaction) error {
		res, err := tx.Run(ctx, stmt)
		if err != nil {
			return fmt.Errorf("failed to find %s: %w", r.desc.Name, err)
		}
		rows, err := res.EdgeRows()
		if err != nil {
			return err
		}
		cache := mapping.IDCache{}
		for _, row := range rows {
			obj, err := r.provider.materializer.MaterializeEdge(r.desc, row.Edge, row.Source, row.Target, cache)
			if err != nil {
				return fmt.Errorf("failed to materialize %s %d: %w", r.desc.Name, row.Edge.ID, err)
			}
			out = append(out, obj)
		}
		return runHooks(ctx, r.provider.hooks, hooks.AfterLoad, r.desc, out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
