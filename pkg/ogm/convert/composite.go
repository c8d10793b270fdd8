package convert

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/conduit-lang/ogm/pkg/ogm/graph"
)

// CollectionFactory encodes slices as name.<ordinal> entries. Ordinals are
// zero padded to the width of the slice length, and reading places each
// element at its ordinal, so element order survives a round trip.
func CollectionFactory(r *Registry, t reflect.Type, overrides Overrides) Converter {
	return &CollectionConverter{
		typ:  t,
		elem: r.ConverterFor(t.Elem(), overrides),
	}
}

// CollectionConverter converts slice members.
type CollectionConverter struct {
	typ  reflect.Type
	elem Converter
}

// Elem returns the element converter (nil when elements are stored as-is).
func (c *CollectionConverter) Elem() Converter {
	return c.elem
}

// ToStorage implements Converter
func (c *CollectionConverter) ToStorage(name string, value reflect.Value, out map[string]any) error {
	value = indirect(value)
	if !value.IsValid() || (value.Kind() == reflect.Slice && value.IsNil()) {
		return nil
	}

	n := value.Len()
	width := len(strconv.Itoa(n))
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("%s%s%0*d", name, graph.Separator, width, i)
		if err := storeElement(c.elem, key, value.Index(i), out); err != nil {
			return err
		}
	}
	return nil
}

// FromStorage implements Converter
func (c *CollectionConverter) FromStorage(current reflect.Value, key string, stored any) (reflect.Value, error) {
	if key == "" {
		return c.fromWhole(stored)
	}

	head, rest := SplitKey(key)
	idx, err := strconv.Atoi(head)
	if err != nil || idx < 0 {
		return reflect.Value{}, convErr(key, stored, ErrMalformedKey)
	}

	slice := current
	if !slice.IsValid() || slice.IsNil() {
		slice = reflect.MakeSlice(c.typ, 0, idx+1)
	}
	if slice.Len() <= idx {
		grow := idx + 1 - slice.Len()
		slice = reflect.AppendSlice(slice, reflect.MakeSlice(c.typ, grow, grow))
	}

	el, err := loadElement(c.elem, c.typ.Elem(), slice.Index(idx), rest, stored)
	if err != nil {
		return reflect.Value{}, err
	}
	slice.Index(idx).Set(el)
	return slice, nil
}

// fromWhole accepts a slice stored as one native list property.
func (c *CollectionConverter) fromWhole(stored any) (reflect.Value, error) {
	if stored == nil {
		return reflect.Zero(c.typ), nil
	}
	sv := reflect.ValueOf(stored)
	if sv.Kind() == reflect.Map {
		return replaySorted(c, reflect.Value{}, sv)
	}
	if sv.Kind() != reflect.Slice && sv.Kind() != reflect.Array {
		return reflect.Value{}, convErr("", stored, ErrUnsupportedValue)
	}
	slice := reflect.MakeSlice(c.typ, sv.Len(), sv.Len())
	for i := 0; i < sv.Len(); i++ {
		el, err := loadElement(c.elem, c.typ.Elem(), reflect.Value{}, "", sv.Index(i).Interface())
		if err != nil {
			return reflect.Value{}, err
		}
		slice.Index(i).Set(el)
	}
	return slice, nil
}

// ArrayFactory encodes arrays (and slices, when chosen by override) as
// name.<size>/<index> entries so the reader can allocate before placing.
func ArrayFactory(r *Registry, t reflect.Type, overrides Overrides) Converter {
	return &ArrayConverter{
		typ:  t,
		elem: r.ConverterFor(t.Elem(), overrides),
	}
}

// ArrayConverter converts fixed-size array members.
type ArrayConverter struct {
	typ  reflect.Type
	elem Converter
}

// ToStorage implements Converter
func (c *ArrayConverter) ToStorage(name string, value reflect.Value, out map[string]any) error {
	value = indirect(value)
	if !value.IsValid() || (value.Kind() == reflect.Slice && value.IsNil()) {
		return nil
	}

	n := value.Len()
	for i := n - 1; i >= 0; i-- {
		key := name + graph.Separator + ArrayKey(n, i)
		if err := storeElement(c.elem, key, value.Index(i), out); err != nil {
			return err
		}
	}
	return nil
}

// FromStorage implements Converter
func (c *ArrayConverter) FromStorage(current reflect.Value, key string, stored any) (reflect.Value, error) {
	if key == "" {
		v, err := Assign(c.typ, stored)
		if err != nil {
			return reflect.Value{}, convErr(key, stored, err)
		}
		return v, nil
	}

	head, rest := SplitKey(key)
	size, idx, err := ParseArrayKey(head)
	if err != nil {
		return reflect.Value{}, convErr(key, stored, err)
	}

	var arr reflect.Value
	switch c.typ.Kind() {
	case reflect.Array:
		if idx >= c.typ.Len() {
			return reflect.Value{}, convErr(key, stored, fmt.Errorf("%w: index %d exceeds %s", ErrMalformedKey, idx, c.typ))
		}
		arr = reflect.New(c.typ).Elem()
		if current.IsValid() {
			arr.Set(current)
		}
	default:
		arr = current
		if !arr.IsValid() || arr.IsNil() {
			arr = reflect.MakeSlice(c.typ, size, size)
		}
		if arr.Len() <= idx {
			grow := idx + 1 - arr.Len()
			arr = reflect.AppendSlice(arr, reflect.MakeSlice(c.typ, grow, grow))
		}
	}

	el, err := loadElement(c.elem, c.typ.Elem(), arr.Index(idx), rest, stored)
	if err != nil {
		return reflect.Value{}, err
	}
	arr.Index(idx).Set(el)
	return arr, nil
}

// ArrayKey formats the <size>/<index> key of an array element.
func ArrayKey(size, index int) string {
	return strconv.Itoa(size) + graph.SizeSeparator + strconv.Itoa(index)
}

// ParseArrayKey parses a <size>/<index> key.
func ParseArrayKey(key string) (size, index int, err error) {
	sizePart, indexPart, found := strings.Cut(key, graph.SizeSeparator)
	if !found {
		return 0, 0, fmt.Errorf("%w: %q has no size", ErrMalformedKey, key)
	}
	size, err = strconv.Atoi(sizePart)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrMalformedKey, key)
	}
	index, err = strconv.Atoi(indexPart)
	if err != nil || index < 0 || size < 0 {
		return 0, 0, fmt.Errorf("%w: %q", ErrMalformedKey, key)
	}
	return size, index, nil
}

// MapFactory encodes maps as name.<key> entries. Keys and values have
// independent converters; nested composite values continue the suffix.
func MapFactory(r *Registry, t reflect.Type, overrides Overrides) Converter {
	return &MapConverter{
		typ:   t,
		key:   r.ConverterFor(t.Key(), overrides),
		value: r.ConverterFor(t.Elem(), overrides),
	}
}

// MapConverter converts map members.
type MapConverter struct {
	typ   reflect.Type
	key   Converter
	value Converter
}

// KeyString renders a map key the way it is stored.
func (c *MapConverter) KeyString(k reflect.Value) (string, error) {
	if c.key != nil {
		tmp := make(map[string]any, 1)
		if err := c.key.ToStorage("key", k, tmp); err != nil {
			return "", err
		}
		return fmt.Sprint(tmp["key"]), nil
	}
	v, err := Plain(k)
	if err != nil {
		return "", convErr("", nil, err)
	}
	if v == nil {
		return "", convErr("", nil, ErrMalformedKey)
	}
	return fmt.Sprint(v), nil
}

// ParseKey converts a stored key segment back into a map key.
func (c *MapConverter) ParseKey(s string) (reflect.Value, error) {
	if c.key != nil {
		if k, err := c.key.FromStorage(reflect.Value{}, "", s); err == nil {
			return k, nil
		}
	}
	return AssignKey(c.typ.Key(), s)
}

// ToStorage implements Converter
func (c *MapConverter) ToStorage(name string, value reflect.Value, out map[string]any) error {
	value = indirect(value)
	if !value.IsValid() || value.IsNil() {
		return nil
	}

	iter := value.MapRange()
	for iter.Next() {
		ks, err := c.KeyString(iter.Key())
		if err != nil {
			return err
		}
		if err := storeElement(c.value, name+graph.Separator+ks, iter.Value(), out); err != nil {
			return err
		}
	}
	return nil
}

// FromStorage implements Converter
func (c *MapConverter) FromStorage(current reflect.Value, key string, stored any) (reflect.Value, error) {
	if key == "" {
		if stored == nil {
			return reflect.Zero(c.typ), nil
		}
		sv := reflect.ValueOf(stored)
		if sv.Kind() != reflect.Map {
			return reflect.Value{}, convErr(key, stored, ErrUnsupportedValue)
		}
		return replaySorted(c, current, sv)
	}

	m := current
	if !m.IsValid() || m.IsNil() {
		m = reflect.MakeMap(c.typ)
	}

	head, rest := key, ""
	if consumesSuffix(c.value) {
		head, rest = SplitKey(key)
	}
	k, err := c.ParseKey(head)
	if err != nil {
		return reflect.Value{}, convErr(key, stored, err)
	}

	existing := m.MapIndex(k)
	var holder reflect.Value
	if existing.IsValid() {
		holder = reflect.New(c.typ.Elem()).Elem()
		holder.Set(existing)
	}

	v, err := loadElement(c.value, c.typ.Elem(), holder, rest, stored)
	if err != nil {
		return reflect.Value{}, err
	}
	m.SetMapIndex(k, v)
	return m, nil
}

// PointerFactory wraps the converter of the pointed-to type. It returns nil
// when the element has no converter, leaving the pointer to Assign.
func PointerFactory(r *Registry, t reflect.Type, overrides Overrides) Converter {
	elem := r.ConverterFor(t.Elem(), overrides)
	if elem == nil {
		return nil
	}
	return &pointerConverter{typ: t, elem: elem}
}

type pointerConverter struct {
	typ  reflect.Type
	elem Converter
}

func (c *pointerConverter) ToStorage(name string, value reflect.Value, out map[string]any) error {
	if !value.IsValid() || value.IsNil() {
		return nil
	}
	return c.elem.ToStorage(name, value.Elem(), out)
}

func (c *pointerConverter) FromStorage(current reflect.Value, key string, stored any) (reflect.Value, error) {
	var inner reflect.Value
	if current.IsValid() && !current.IsNil() {
		inner = current.Elem()
	}
	v, err := c.elem.FromStorage(inner, key, stored)
	if err != nil {
		return reflect.Value{}, err
	}
	p := reflect.New(c.typ.Elem())
	p.Elem().Set(v)
	return p, nil
}

// replaySorted feeds the entries of a grouped sub-key map through c in key
// order. Grouped maps come from overflow storage where composite entries
// are kept as {subkey: value}.
func replaySorted(c Converter, current reflect.Value, group reflect.Value) (reflect.Value, error) {
	keys := make([]string, 0, group.Len())
	values := make(map[string]any, group.Len())
	iter := group.MapRange()
	for iter.Next() {
		k := fmt.Sprint(iter.Key().Interface())
		keys = append(keys, k)
		values[k] = iter.Value().Interface()
	}
	sort.Strings(keys)

	out := current
	for _, k := range keys {
		v, err := c.FromStorage(out, k, values[k])
		if err != nil {
			return reflect.Value{}, err
		}
		out = v
	}
	return out, nil
}

// consumesSuffix reports whether c reads a composite key suffix. Map keys
// are split at the separator only for such values, so keys of scalar maps
// may contain the separator.
func consumesSuffix(c Converter) bool {
	switch c := c.(type) {
	case *CollectionConverter, *ArrayConverter, *MapConverter:
		return true
	case *pointerConverter:
		return consumesSuffix(c.elem)
	default:
		return false
	}
}

func storeElement(c Converter, key string, value reflect.Value, out map[string]any) error {
	if c != nil {
		return c.ToStorage(key, value, out)
	}
	v, err := Plain(value)
	if err != nil {
		return &ConversionError{Name: key, Err: err}
	}
	if v != nil {
		out[key] = v
	}
	return nil
}

func loadElement(c Converter, t reflect.Type, current reflect.Value, rest string, stored any) (reflect.Value, error) {
	if c != nil {
		return c.FromStorage(current, rest, stored)
	}
	if rest != "" {
		return reflect.Value{}, convErr(rest, stored, ErrMalformedKey)
	}
	v, err := Assign(t, stored)
	if err != nil {
		return reflect.Value{}, convErr(rest, stored, err)
	}
	return v, nil
}

func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}
