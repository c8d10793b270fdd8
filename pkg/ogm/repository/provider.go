// Package repository is the CRUD surface over mapped types: node and
// relationship repositories sharing one registry, transaction manager and
// relationship orchestrator.
package repository

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"

	"github.com/conduit-lang/ogm/pkg/ogm/cypher"
	"github.com/conduit-lang/ogm/pkg/ogm/executor"
	"github.com/conduit-lang/ogm/pkg/ogm/hooks"
	"github.com/conduit-lang/ogm/pkg/ogm/mapping"
	"github.com/conduit-lang/ogm/pkg/ogm/relationships"
	"github.com/conduit-lang/ogm/pkg/ogm/schema"
	"github.com/conduit-lang/ogm/pkg/ogm/transaction"
)

// Provider hands out repositories and implements relationships.Persister
// for the orchestrator they share.
type Provider struct {
	registry       *schema.Registry
	manager        *transaction.Manager
	materializer   *mapping.Materializer
	flattener      *mapping.Flattener
	orchestrator   *relationships.Orchestrator
	hooks          *hooks.Executor
	logger         *zap.Logger
	namespaceAware bool

	mu    sync.Mutex
	nodes map[reflect.Type]*NodeRepository
	edges map[reflect.Type]*RelationshipRepository
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the logger of the provider and the components it builds.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithHooks sets the executor lifecycle hooks run on.
func WithHooks(e *hooks.Executor) Option {
	return func(p *Provider) {
		p.hooks = e
	}
}

// WithNamespaceAware makes every repository namespace-aware: labels,
// properties and edge types are qualified with their namespace.
func WithNamespaceAware(on bool) Option {
	return func(p *Provider) {
		p.namespaceAware = on
	}
}

var _ relationships.Persister = (*Provider)(nil)

// NewProvider creates a provider over the registry and transaction manager.
func NewProvider(registry *schema.Registry, manager *transaction.Manager, opts ...Option) *Provider {
	p := &Provider{
		registry: registry,
		manager:  manager,
		logger:   zap.NewNop(),
		nodes:    make(map[reflect.Type]*NodeRepository),
		edges:    make(map[reflect.Type]*RelationshipRepository),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.materializer = mapping.NewMaterializer(registry, mapping.WithLogger(p.logger))
	p.flattener = mapping.NewFlattener(mapping.WithLogger(p.logger))
	p.orchestrator = relationships.New(registry, p, relationships.WithLogger(p.logger))
	return p
}

// Registry returns the schema registry.
func (p *Provider) Registry() *schema.Registry {
	return p.registry
}

// Manager returns the transaction manager.
func (p *Provider) Manager() *transaction.Manager {
	return p.manager
}

// Materializer returns the materializer shared by the repositories.
func (p *Provider) Materializer() *mapping.Materializer {
	return p.materializer
}

// Hooks returns the hook executor, nil when hooks are off.
func (p *Provider) Hooks() *hooks.Executor {
	return p.hooks
}

// NamespaceAware reports the namespace mode of the provider.
func (p *Provider) NamespaceAware() bool {
	return p.namespaceAware
}

// Describe returns the descriptor of t in the provider's namespace mode.
func (p *Provider) Describe(t reflect.Type) (*schema.TypeDescriptor, error) {
	return p.registry.Describe(t, p.namespaceAware)
}

// Nodes returns the node repository of the struct type t.
func (p *Provider) Nodes(t reflect.Type) (*NodeRepository, error) {
	desc, err := p.Describe(t)
	if err != nil {
		return nil, err
	}
	if desc.IsRelationship() {
		return nil, fmt.Errorf("%w: %s is a relationship entity", ErrWrongType, desc.Name)
	}
	return p.nodeRepository(desc), nil
}

// Relationships returns the relationship repository of the struct type t.
func (p *Provider) Relationships(t reflect.Type) (*RelationshipRepository, error) {
	desc, err := p.Describe(t)
	if err != nil {
		return nil, err
	}
	if !desc.IsRelationship() {
		return nil, fmt.Errorf("%w: %s is not a relationship entity", ErrWrongType, desc.Name)
	}
	return p.relationshipRepository(desc), nil
}

func (p *Provider) nodeRepository(desc *schema.TypeDescriptor) *NodeRepository {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.nodes[desc.Type]; ok {
		return r
	}
	r := newNodeRepository(p, desc)
	p.nodes[desc.Type] = r
	return r
}

func (p *Provider) relationshipRepository(desc *schema.TypeDescriptor) *RelationshipRepository {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.edges[desc.Type]; ok {
		return r
	}
	r := &RelationshipRepository{provider: p, desc: desc}
	p.edges[desc.Type] = r
	return r
}

// Save persists obj through the repository of desc.
func (p *Provider) Save(ctx context.Context, desc *schema.TypeDescriptor, obj any) error {
	return p.SaveAll(ctx, desc, []any{obj})
}

// SaveAll persists objs, all of desc's type, through its repository.
func (p *Provider) SaveAll(ctx context.Context, desc *schema.TypeDescriptor, objs []any) error {
	if desc.IsRelationship() {
		return p.relationshipRepository(desc).SaveAll(ctx, objs)
	}
	return p.nodeRepository(desc).SaveAll(ctx, objs)
}

// HandleRelationships persists the relationships of objs, which must
// already have ids.
func (p *Provider) HandleRelationships(ctx context.Context, desc *schema.TypeDescriptor, objs []any) error {
	return p.manager.Write(ctx, func(ctx context.Context, _ *transaction.Transaction) error {
		return p.orchestrator.HandleNodes(ctx, desc, objs)
	})
}

// Run executes one statement, joining the transaction carried by ctx.
func (p *Provider) Run(ctx context.Context, stmt cypher.Statement) (*executor.Result, error) {
	mode := transaction.ReadOnly
	if stmt.Kind.Writes() {
		mode = transaction.ReadWrite
	}
	var res *executor.Result
	err := p.manager.WithTransaction(ctx, mode, func(ctx context.Context, tx *transaction.Transaction) error {
		var err error
		res, err = tx.Run(ctx, stmt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Close closes the driver of the transaction manager.
func (p *Provider) Close(ctx context.Context) error {
	return p.manager.Driver().Close(ctx)
}
