package convert

import (
	"encoding"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NumberFactory widens narrow integers and float32 to the store's native
// int64/float64 and narrows them again on read.
func NumberFactory(_ *Registry, t reflect.Type, _ Overrides) Converter {
	return &numberConverter{typ: t}
}

type numberConverter struct {
	typ reflect.Type
}

func (c *numberConverter) ToStorage(name string, value reflect.Value, out map[string]any) error {
	v, err := Plain(value)
	if err != nil {
		return &ConversionError{Name: name, Err: err}
	}
	if v != nil {
		out[name] = v
	}
	return nil
}

func (c *numberConverter) FromStorage(_ reflect.Value, key string, stored any) (reflect.Value, error) {
	if key != "" {
		return reflect.Value{}, convErr(key, stored, ErrMalformedKey)
	}
	v, err := Assign(c.typ, stored)
	if err != nil {
		return reflect.Value{}, convErr(key, stored, err)
	}
	return v, nil
}

// typeSeparator replaces the package path dot so stored type names never
// collide with the composite key separator.
const typeSeparator = "|"

// TypeFactory stores reflect.Type members as qualified type names.
func TypeFactory(r *Registry, _ reflect.Type, _ Overrides) Converter {
	return &typeConverter{registry: r}
}

type typeConverter struct {
	registry *Registry
}

func (c *typeConverter) ToStorage(name string, value reflect.Value, out map[string]any) error {
	if !value.IsValid() || (value.Kind() == reflect.Interface && value.IsNil()) {
		return nil
	}
	t, ok := value.Interface().(reflect.Type)
	if !ok || t == nil {
		return nil
	}
	out[name] = strings.ReplaceAll(TypeName(t), ".", typeSeparator)
	return nil
}

func (c *typeConverter) FromStorage(_ reflect.Value, key string, stored any) (reflect.Value, error) {
	if stored == nil {
		return reflect.Zero(reflectTypeType), nil
	}
	s, ok := stored.(string)
	if !ok {
		return reflect.Value{}, convErr(key, stored, ErrUnsupportedValue)
	}
	name := strings.ReplaceAll(s, typeSeparator, ".")
	t, found := c.registry.LookupType(name)
	if !found {
		return reflect.Value{}, convErr(key, stored, fmt.Errorf("%w: %s", ErrUnknownType, name))
	}
	out := reflect.New(reflectTypeType).Elem()
	out.Set(reflect.ValueOf(t))
	return out, nil
}

// TypeName returns the qualified name of t. Predeclared types are spelled
// out without a package ("int", "string").
func TypeName(t reflect.Type) string {
	if t.Name() != "" && t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}

// UUIDFactory stores uuid.UUID as its canonical string form.
func UUIDFactory(_ *Registry, t reflect.Type, _ Overrides) Converter {
	return &uuidConverter{typ: t}
}

type uuidConverter struct {
	typ reflect.Type
}

func (c *uuidConverter) ToStorage(name string, value reflect.Value, out map[string]any) error {
	if !value.IsValid() {
		return nil
	}
	id, ok := value.Interface().(uuid.UUID)
	if !ok {
		return convErr("", value.Interface(), ErrUnsupportedValue)
	}
	out[name] = id.String()
	return nil
}

func (c *uuidConverter) FromStorage(_ reflect.Value, key string, stored any) (reflect.Value, error) {
	switch v := stored.(type) {
	case nil:
		return reflect.Zero(c.typ), nil
	case string:
		id, err := uuid.Parse(v)
		if err != nil {
			return reflect.Value{}, convErr(key, stored, err)
		}
		return reflect.ValueOf(id), nil
	case []byte:
		id, err := uuid.FromBytes(v)
		if err != nil {
			return reflect.Value{}, convErr(key, stored, err)
		}
		return reflect.ValueOf(id), nil
	case uuid.UUID:
		return reflect.ValueOf(v), nil
	}
	return reflect.Value{}, convErr(key, stored, ErrUnsupportedValue)
}

// TimeFactory keeps time.Time native; stores that return strings or epoch
// nanoseconds are accepted on read.
func TimeFactory(_ *Registry, t reflect.Type, _ Overrides) Converter {
	return &timeConverter{typ: t}
}

type timeConverter struct {
	typ reflect.Type
}

func (c *timeConverter) ToStorage(name string, value reflect.Value, out map[string]any) error {
	if !value.IsValid() {
		return nil
	}
	if ts, ok := value.Interface().(time.Time); ok {
		out[name] = ts
	}
	return nil
}

func (c *timeConverter) FromStorage(_ reflect.Value, key string, stored any) (reflect.Value, error) {
	switch v := stored.(type) {
	case nil:
		return reflect.Zero(c.typ), nil
	case time.Time:
		return reflect.ValueOf(v), nil
	case string:
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return reflect.Value{}, convErr(key, stored, err)
		}
		return reflect.ValueOf(ts), nil
	case int64:
		return reflect.ValueOf(time.Unix(0, v).UTC()), nil
	}
	return reflect.Value{}, convErr(key, stored, ErrUnsupportedValue)
}

// BytesFactory stores byte slices as a single native byte array property.
func BytesFactory(_ *Registry, t reflect.Type, _ Overrides) Converter {
	return &bytesConverter{typ: t}
}

type bytesConverter struct {
	typ reflect.Type
}

func (c *bytesConverter) ToStorage(name string, value reflect.Value, out map[string]any) error {
	if !value.IsValid() || value.IsNil() {
		return nil
	}
	out[name] = append([]byte(nil), value.Bytes()...)
	return nil
}

func (c *bytesConverter) FromStorage(_ reflect.Value, key string, stored any) (reflect.Value, error) {
	switch v := stored.(type) {
	case nil:
		return reflect.Zero(c.typ), nil
	case []byte:
		return reflect.ValueOf(append([]byte(nil), v...)).Convert(c.typ), nil
	case string:
		return reflect.ValueOf([]byte(v)).Convert(c.typ), nil
	}
	v, err := Assign(c.typ, stored)
	if err != nil {
		return reflect.Value{}, convErr(key, stored, err)
	}
	return v, nil
}

// TextFactory handles any type implementing encoding.TextMarshaler and
// encoding.TextUnmarshaler.
func TextFactory(_ *Registry, t reflect.Type, _ Overrides) Converter {
	return &textConverter{typ: t}
}

type textConverter struct {
	typ reflect.Type
}

func (c *textConverter) ToStorage(name string, value reflect.Value, out map[string]any) error {
	if !value.IsValid() {
		return nil
	}
	var m encoding.TextMarshaler
	if tm, ok := value.Interface().(encoding.TextMarshaler); ok {
		m = tm
	} else if value.CanAddr() {
		if tm, ok := value.Addr().Interface().(encoding.TextMarshaler); ok {
			m = tm
		}
	}
	if m == nil {
		return convErr("", value.Interface(), ErrUnsupportedValue)
	}
	text, err := m.MarshalText()
	if err != nil {
		return convErr("", value.Interface(), err)
	}
	out[name] = string(text)
	return nil
}

func (c *textConverter) FromStorage(_ reflect.Value, key string, stored any) (reflect.Value, error) {
	if stored == nil {
		return reflect.Zero(c.typ), nil
	}
	s, ok := stored.(string)
	if !ok {
		return reflect.Value{}, convErr(key, stored, ErrUnsupportedValue)
	}
	p := reflect.New(c.typ)
	u, ok := p.Interface().(encoding.TextUnmarshaler)
	if !ok {
		return reflect.Value{}, convErr(key, stored, ErrUnsupportedValue)
	}
	if err := u.UnmarshalText([]byte(s)); err != nil {
		return reflect.Value{}, convErr(key, stored, err)
	}
	return p.Elem(), nil
}
