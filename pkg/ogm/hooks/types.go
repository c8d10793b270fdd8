// Package hooks runs lifecycle callbacks registered per mapped type.
package hooks

import (
	"reflect"
	"sync"
)

// Type identifies a lifecycle event of a mapped object.
type Type int

const (
	// BeforeSave runs before an object is flattened and written
	BeforeSave Type = iota
	// AfterSave runs once the object and its relationships are written
	AfterSave
	// AfterLoad runs on every root object a find materializes
	AfterLoad
)

// String returns the string representation of the hook type
func (t Type) String() string {
	switch t {
	case BeforeSave:
		return "before_save"
	case AfterSave:
		return "after_save"
	case AfterLoad:
		return "after_load"
	default:
		return "unknown"
	}
}

// Func is a lifecycle hook. obj is a pointer to the mapped struct.
type Func func(ctx *Context, obj any) error

// Hook represents a registered lifecycle hook
type Hook struct {
	Type Type
	Fn   Func
	// Async hooks run on the queue after the operation returned and must
	// treat obj as read-only.
	Async bool
}

// Registry holds the hooks of every mapped type.
type Registry struct {
	mu    sync.RWMutex
	hooks map[reflect.Type]map[Type][]*Hook
}

// NewRegistry creates a new hook registry
func NewRegistry() *Registry {
	return &Registry{
		hooks: make(map[reflect.Type]map[Type][]*Hook),
	}
}

// Register adds a hook for the struct type t.
func (r *Registry) Register(t reflect.Type, hookType Type, hook *Hook) {
	t = structType(t)
	hook.Type = hookType

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hooks[t] == nil {
		r.hooks[t] = make(map[Type][]*Hook)
	}
	r.hooks[t][hookType] = append(r.hooks[t][hookType], hook)
}

// Hooks returns the hooks of t for one event, in registration order.
func (r *Registry) Hooks(t reflect.Type, hookType Type) []*Hook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hooks[structType(t)][hookType]
}

// HasHooks returns true if there are any hooks registered for the given type
func (r *Registry) HasHooks(t reflect.Type, hookType Type) bool {
	return len(r.Hooks(t, hookType)) > 0
}

func structType(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}
