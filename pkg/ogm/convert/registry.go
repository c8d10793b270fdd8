package convert

import (
	"encoding"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	reflectTypeType   = reflect.TypeOf((*reflect.Type)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
	textUnmarshalType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
)

type capability struct {
	iface   reflect.Type
	factory Factory
}

// Registry resolves converters for member types and keeps the type table
// used to decode stored type names. It is safe for concurrent use.
type Registry struct {
	mu           sync.RWMutex
	byType       map[reflect.Type]Factory
	byKind       map[reflect.Kind]Factory
	capabilities []capability
	types        map[string]reflect.Type
}

// NewRegistry creates a registry loaded with the built-in converters.
func NewRegistry() *Registry {
	r := &Registry{
		byType: make(map[reflect.Type]Factory),
		byKind: make(map[reflect.Kind]Factory),
		types:  make(map[string]reflect.Type),
	}

	for _, v := range []any{
		int(0), int8(0), int16(0), int32(0),
		uint(0), uint8(0), uint16(0), uint32(0), uint64(0),
		float32(0),
	} {
		r.byType[reflect.TypeOf(v)] = NumberFactory
	}
	r.byType[reflectTypeType] = TypeFactory
	r.byType[reflect.TypeOf(uuid.UUID{})] = UUIDFactory
	r.byType[reflect.TypeOf(time.Time{})] = TimeFactory
	r.byType[reflect.TypeOf([]byte(nil))] = BytesFactory

	r.byKind[reflect.Slice] = CollectionFactory
	r.byKind[reflect.Array] = ArrayFactory
	r.byKind[reflect.Map] = MapFactory
	r.byKind[reflect.Pointer] = PointerFactory

	r.capabilities = append(r.capabilities, capability{iface: textMarshalerType, factory: TextFactory})

	for _, v := range []any{
		false, "", int(0), int8(0), int16(0), int32(0), int64(0),
		uint(0), uint8(0), uint16(0), uint32(0), uint64(0),
		float32(0), float64(0),
	} {
		t := reflect.TypeOf(v)
		r.types[TypeName(t)] = t
	}
	return r
}

// Register sets the default converter factory for exactly t.
func (r *Registry) Register(t reflect.Type, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[t] = f
}

// RegisterKind sets the default factory for composite layers of kind k.
func (r *Registry) RegisterKind(k reflect.Kind, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKind[k] = f
}

// RegisterCapability adds a factory for types implementing iface.
// Capabilities are consulted in registration order, after every other rule.
func (r *Registry) RegisterCapability(iface reflect.Type, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capabilities = append(r.capabilities, capability{iface: iface, factory: f})
}

// RegisterType records t in the type table under its qualified name.
func (r *Registry) RegisterType(t reflect.Type) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[TypeName(t)] = t
}

// LookupType finds a type by the name TypeName produced for it.
func (r *Registry) LookupType(name string) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

// ConverterFor returns the converter for t, or nil when values of t are
// stored and read as-is.
func (r *Registry) ConverterFor(t reflect.Type, overrides Overrides) Converter {
	if t == nil {
		return nil
	}

	if f, ok := overrides.ByType[t]; ok {
		return f(r, t, overrides)
	}

	r.mu.RLock()
	f, ok := r.byType[t]
	r.mu.RUnlock()
	if ok {
		return f(r, t, overrides)
	}

	if f, ok := overrides.ByKind[t.Kind()]; ok {
		return f(r, t, overrides)
	}

	// Capability checks run before composite kinds so that a named slice or
	// map with its own text encoding is stored as text.
	if c := r.capabilityFor(t, overrides); c != nil {
		return c
	}

	r.mu.RLock()
	f, ok = r.byKind[t.Kind()]
	r.mu.RUnlock()
	if ok {
		return f(r, t, overrides)
	}

	if u := underlying(t); u != nil {
		if inner := r.ConverterFor(u, overrides); inner != nil {
			return &namedConverter{typ: t, inner: inner}
		}
	}
	return nil
}

func (r *Registry) capabilityFor(t reflect.Type, overrides Overrides) Converter {
	r.mu.RLock()
	caps := append([]capability(nil), r.capabilities...)
	r.mu.RUnlock()

	for _, c := range caps {
		if c.iface == textMarshalerType {
			if t.Implements(textMarshalerType) && reflect.PointerTo(t).Implements(textUnmarshalType) {
				return c.factory(r, t, overrides)
			}
			continue
		}
		if t.Implements(c.iface) || reflect.PointerTo(t).Implements(c.iface) {
			return c.factory(r, t, overrides)
		}
	}
	return nil
}

// underlying returns the predeclared type a named scalar type is built on,
// or nil when t is not such a type.
func underlying(t reflect.Type) reflect.Type {
	if t.Name() == "" || t.PkgPath() == "" {
		return nil
	}
	var base any
	switch t.Kind() {
	case reflect.Int:
		base = int(0)
	case reflect.Int8:
		base = int8(0)
	case reflect.Int16:
		base = int16(0)
	case reflect.Int32:
		base = int32(0)
	case reflect.Uint:
		base = uint(0)
	case reflect.Uint8:
		base = uint8(0)
	case reflect.Uint16:
		base = uint16(0)
	case reflect.Uint32:
		base = uint32(0)
	case reflect.Uint64:
		base = uint64(0)
	case reflect.Float32:
		base = float32(0)
	default:
		return nil
	}
	return reflect.TypeOf(base)
}

// namedConverter adapts the converter of a predeclared type to a named type
// built on it.
type namedConverter struct {
	typ   reflect.Type
	inner Converter
}

func (c *namedConverter) ToStorage(name string, value reflect.Value, out map[string]any) error {
	return c.inner.ToStorage(name, value, out)
}

func (c *namedConverter) FromStorage(current reflect.Value, key string, stored any) (reflect.Value, error) {
	v, err := c.inner.FromStorage(reflect.Value{}, key, stored)
	if err != nil {
		return reflect.Value{}, err
	}
	return v.Convert(c.typ), nil
}
