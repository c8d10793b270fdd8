package hooks

import (
	"context"
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"github.com/conduit-lang/ogm/pkg/ogm/schema"
)

// Executor runs the hooks of a registry. Async hooks go to the queue; when
// there is no queue they run inline after the synchronous ones.
type Executor struct {
	registry *Registry
	queue    *AsyncQueue
	logger   *zap.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger of the executor.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithQueue sets the queue async hooks are enqueued on.
func WithQueue(queue *AsyncQueue) Option {
	return func(e *Executor) {
		e.queue = queue
	}
}

// NewExecutor creates a new hook executor
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{
		registry: NewRegistry(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the registry the executor reads.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Register adds a hook for the struct type t.
func (e *Executor) Register(t reflect.Type, hookType Type, fn Func, async bool) {
	e.registry.Register(t, hookType, &Hook{Fn: fn, Async: async})
}

// On registers a typed hook for T.
func On[T any](e *Executor, hookType Type, fn func(ctx *Context, obj *T) error) {
	e.Register(reflect.TypeOf((*T)(nil)).Elem(), hookType, func(ctx *Context, obj any) error {
		typed, ok := obj.(*T)
		if !ok {
			return fmt.Errorf("hook expected *%T, got %T", *new(T), obj)
		}
		return fn(ctx, typed)
	}, false)
}

// HasHooks returns true if desc has hooks for the event.
func (e *Executor) HasHooks(desc *schema.TypeDescriptor, hookType Type) bool {
	return e != nil && e.registry.HasHooks(desc.Type, hookType)
}

// Execute runs the hooks registered for the type of desc. The first failing
// synchronous hook aborts the run.
func (e *Executor) Execute(ctx context.Context, hookType Type, desc *schema.TypeDescriptor, obj any) error {
	if e == nil {
		return nil
	}
	hooks := e.registry.Hooks(desc.Type, hookType)
	if len(hooks) == 0 {
		return nil
	}

	hctx := NewContext(ctx, desc)
	var deferred []*Hook
	for _, hook := range hooks {
		if hook.Async {
			deferred = append(deferred, hook)
			continue
		}
		if err := hook.Fn(hctx, obj); err != nil {
			return fmt.Errorf("hook %s failed for %s: %w", hookType, desc.Name, err)
		}
	}

	for _, hook := range deferred {
		e.dispatch(ctx, hookType, desc, hook, obj)
	}
	return nil
}

func (e *Executor) dispatch(ctx context.Context, hookType Type, desc *schema.TypeDescriptor, hook *Hook, obj any) {
	name := hookType.String() + ":" + desc.Name
	fn := func(qctx context.Context) error {
		return hook.Fn(NewContext(qctx, desc), obj)
	}

	if e.queue != nil {
		err := e.queue.Enqueue(AsyncTask{Name: name, Fn: fn})
		if err == nil {
			return
		}
		e.logger.Warn("failed to enqueue async hook, running inline",
			zap.String("hook", name),
			zap.Error(err),
		)
	}
	if err := fn(context.WithoutCancel(ctx)); err != nil {
		e.logger.Warn("async hook failed", zap.String("hook", name), zap.Error(err))
	}
}
