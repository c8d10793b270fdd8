package schema

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/conduit-lang/ogm/pkg/ogm/convert"
)

type descriptorMap map[Signature]*TypeDescriptor

// Registry holds the registered type configurations and the descriptor
// cache. Descriptors are built on first use and published immutably; the
// namespace-aware variant of a type replaces its plain variant.
type Registry struct {
	converters *convert.Registry
	logger     *zap.Logger

	mu      sync.RWMutex
	configs map[reflect.Type]*Config
	tags    map[string]reflect.Type

	group     singleflight.Group
	publishMu sync.Mutex
	entries   atomic.Pointer[descriptorMap]
	keyed     sync.Map

	builds atomic.Int64
	hits   atomic.Int64
}

// Option configures a Registry.
type Option func(*Registry)

// WithConverters sets the converter registry used for member types.
func WithConverters(c *convert.Registry) Option {
	return func(r *Registry) { r.converters = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		configs: make(map[reflect.Type]*Config),
		tags:    make(map[string]reflect.Type),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.converters == nil {
		r.converters = convert.NewRegistry()
	}
	empty := descriptorMap{}
	r.entries.Store(&empty)
	return r
}

// Converters returns the converter registry.
func (r *Registry) Converters() *convert.Registry {
	return r.converters
}

// Register adds type configurations.
func (r *Registry) Register(cfgs ...Configurer) error {
	for _, c := range cfgs {
		cfg := c.Config()
		if err := cfg.Err(); err != nil {
			return err
		}

		r.mu.Lock()
		if _, exists := r.configs[cfg.Type]; exists {
			r.mu.Unlock()
			return fmt.Errorf("type %s is already registered", cfg.Type)
		}
		tag := cfg.Tag
		if tag == "" {
			tag = convert.TypeName(cfg.Type)
			cfg.Tag = tag
		}
		if other, exists := r.tags[tag]; exists {
			r.mu.Unlock()
			return fmt.Errorf("tag %q of %s is already used by %s", tag, cfg.Type, other)
		}
		r.configs[cfg.Type] = cfg
		r.tags[tag] = cfg.Type
		r.mu.Unlock()

		r.converters.RegisterType(cfg.Type)
		r.converters.RegisterType(reflect.PointerTo(cfg.Type))
	}
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(cfgs ...Configurer) *Registry {
	if err := r.Register(cfgs...); err != nil {
		panic(err)
	}
	return r
}

// Config returns the configuration registered for t.
func (r *Registry) Config(t reflect.Type) (*Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[indirectType(t)]
	return cfg, ok
}

// ByTag returns the type registered under a dynamic type tag.
func (r *Registry) ByTag(tag string) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tags[tag]
	return t, ok
}

// Types returns every registered type ordered by name.
func (r *Registry) Types() []reflect.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]reflect.Type, 0, len(r.configs))
	for t := range r.configs {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Stats reports cache activity.
type Stats struct {
	Registered  int
	Descriptors int
	Builds      int64
	Hits        int64
}

// Stats returns a snapshot of cache activity.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	registered := len(r.configs)
	r.mu.RUnlock()
	return Stats{
		Registered:  registered,
		Descriptors: len(*r.entries.Load()),
		Builds:      r.builds.Load(),
		Hits:        r.hits.Load(),
	}
}

// Describe returns the descriptor of t. A cached plain descriptor serves
// plain requests only; a namespace-aware request replaces it.
func (r *Registry) Describe(t reflect.Type, namespaceAware bool) (*TypeDescriptor, error) {
	if t == nil {
		return nil, schemaErr(nil, "", ErrUnregisteredType)
	}
	t = indirectType(t)
	sig := Signature{Type: t}

	if d, ok := r.lookup(sig, namespaceAware); ok {
		r.hits.Add(1)
		return d, nil
	}

	key := fmt.Sprintf("%s|%p|%t", sig, t, namespaceAware)
	v, err, _ := r.group.Do(key, func() (any, error) {
		if d, ok := r.lookup(sig, namespaceAware); ok {
			return d, nil
		}
		d, err := r.build(t, namespaceAware)
		if err != nil {
			return nil, err
		}
		r.builds.Add(1)
		return r.publish(sig, d), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*TypeDescriptor), nil
}

// DescribeValue describes the dynamic type of v.
func (r *Registry) DescribeValue(v any, namespaceAware bool) (*TypeDescriptor, error) {
	if rv, ok := v.(reflect.Value); ok {
		return r.Describe(rv.Type(), namespaceAware)
	}
	return r.Describe(reflect.TypeOf(v), namespaceAware)
}

// DescribeKeyed returns the keyed relationship registered on owner under
// the edge type.
func (r *Registry) DescribeKeyed(owner reflect.Type, edge string, namespaceAware bool) (*KeyedRelationshipDescriptor, error) {
	owner = indirectType(owner)
	sig := Signature{Type: owner, Edge: edge}
	if k, ok := r.keyed.Load(keyedKey{sig, namespaceAware}); ok {
		return k.(*KeyedRelationshipDescriptor), nil
	}
	d, err := r.Describe(owner, namespaceAware)
	if err != nil {
		return nil, err
	}
	rel, ok := d.Relationships[edge]
	if !ok || rel.Keyed == nil {
		return nil, schemaErr(owner, edge, fmt.Errorf("%w: no keyed relationship %s", ErrUnknownMember, edge))
	}
	r.keyed.Store(keyedKey{sig, namespaceAware}, rel.Keyed)
	return rel.Keyed, nil
}

type keyedKey struct {
	sig Signature
	ns  bool
}

func (r *Registry) lookup(sig Signature, namespaceAware bool) (*TypeDescriptor, bool) {
	d, ok := (*r.entries.Load())[sig]
	if !ok {
		return nil, false
	}
	if d.NamespaceAware == namespaceAware || !namespaceAware {
		return d, true
	}
	return nil, false
}

// publish swaps in a new map holding d and back-patches relationship
// targets that still point at the replaced descriptor.
func (r *Registry) publish(sig Signature, d *TypeDescriptor) *TypeDescriptor {
	r.publishMu.Lock()
	defer r.publishMu.Unlock()

	current := *r.entries.Load()
	old, replacing := current[sig]
	if replacing && (old.NamespaceAware == d.NamespaceAware || old.NamespaceAware) {
		return old
	}

	next := make(descriptorMap, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[sig] = d
	r.entries.Store(&next)

	if replacing {
		r.logger.Debug("replaced descriptor with namespace-aware variant", zap.String("type", sig.String()))
		for _, other := range next {
			for _, rel := range other.Relationships {
				rel.patchTarget(old, d)
			}
		}
		r.keyed.Range(func(k, _ any) bool {
			if k.(keyedKey).sig.Type == sig.Type {
				r.keyed.Delete(k)
			}
			return true
		})
	}
	return d
}

func indirectType(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}
