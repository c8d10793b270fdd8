package repository

import (
	"context"
	"fmt"
	"reflect"

	"github.com/conduit-lang/ogm/pkg/ogm/cypher"
)

// Repository is the typed form of NodeRepository.
type Repository[T any] struct {
	nodes *NodeRepository
}

// For returns the typed node repository of T.
func For[T any](p *Provider) (*Repository[T], error) {
	nodes, err := p.Nodes(reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return nil, err
	}
	return &Repository[T]{nodes: nodes}, nil
}

// Nodes returns the untyped repository.
func (r *Repository[T]) Nodes() *NodeRepository {
	return r.nodes
}

func (r *Repository[T]) Save(ctx context.Context, obj *T) error {
	return r.nodes.Save(ctx, obj)
}

func (r *Repository[T]) SaveAll(ctx context.Context, objs []*T) error {
	all := make([]any, len(objs))
	for i, obj := range objs {
		all[i] = obj
	}
	return r.nodes.SaveAll(ctx, all)
}

func (r *Repository[T]) FindByID(ctx context.Context, id int64) (*T, error) {
	return one[T](r.nodes.FindByID(ctx, id))
}

func (r *Repository[T]) FindAll(ctx context.Context) ([]*T, error) {
	return many[T](r.nodes.FindAll(ctx))
}

func (r *Repository[T]) FindSubtree(ctx context.Context, id int64, depth int, edgeTypes ...string) (*T, error) {
	return one[T](r.nodes.FindSubtree(ctx, id, depth, edgeTypes...))
}

func (r *Repository[T]) FindBy(ctx context.Context, where *cypher.PredicateGroup) (*T, error) {
	return one[T](r.nodes.FindBy(ctx, where))
}

func (r *Repository[T]) FindAllBy(ctx context.Context, where *cypher.PredicateGroup) ([]*T, error) {
	return many[T](r.nodes.FindAllBy(ctx, where))
}

func (r *Repository[T]) Query(ctx context.Context, template string, params map[string]any) (*T, error) {
	return one[T](r.nodes.Query(ctx, template, params))
}

func (r *Repository[T]) QueryAll(ctx context.Context, template string, params map[string]any) ([]*T, error) {
	return many[T](r.nodes.QueryAll(ctx, template, params))
}

func (r *Repository[T]) DeleteAll(ctx context.Context) error {
	return r.nodes.DeleteAll(ctx)
}

func (r *Repository[T]) Count(ctx context.Context) (int64, error) {
	return r.nodes.Count(ctx)
}

// Edges is the typed form of RelationshipRepository.
type Edges[T any] struct {
	edges *RelationshipRepository
}

// EdgesFor returns the typed relationship repository of T.
func EdgesFor[T any](p *Provider) (*Edges[T], error) {
	edges, err := p.Relationships(reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return nil, err
	}
	return &Edges[T]{edges: edges}, nil
}

func (r *Edges[T]) Save(ctx context.Context, obj *T) error {
	return r.edges.Save(ctx, obj)
}

func (r *Edges[T]) SaveAll(ctx context.Context, objs []*T) error {
	all := make([]any, len(objs))
	for i, obj := range objs {
		all[i] = obj
	}
	return r.edges.SaveAll(ctx, all)
}

func (r *Edges[T]) FindByID(ctx context.Context, id int64) (*T, error) {
	return one[T](r.edges.FindByID(ctx, id))
}

func (r *Edges[T]) FindAll(ctx context.Context) ([]*T, error) {
	return many[T](r.edges.FindAll(ctx))
}

func (r *Edges[T]) DeleteAll(ctx context.Context) error {
	return r.edges.DeleteAll(ctx)
}

func one[T any](v any, err error) (*T, error) {
	if err != nil {
		return nil, err
	}
	typed, ok := v.(*T)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrWrongType, v)
	}
	return typed, nil
}

func many[T any](vs []any, err error) ([]*T, error) {
	if err != nil {
		return nil, err
	}
	out := make([]*T, len(vs))
	for i, v := range vs {
		typed, ok := v.(*T)
		if !ok {
			return nil, fmt.Errorf("%w: got %T", ErrWrongType, v)
		}
		out[i] = typed
	}
	return out, nil
}
