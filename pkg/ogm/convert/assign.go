package convert

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/conduit-lang/ogm/pkg/ogm/graph"
)

// Assign coerces a raw stored value into a value of type t. It is the
// fallback used whenever a member has no converter.
func Assign(t reflect.Type, stored any) (reflect.Value, error) {
	if stored == nil {
		return reflect.Zero(t), nil
	}

	if t.Kind() == reflect.Pointer {
		inner, err := Assign(t.Elem(), stored)
		if err != nil {
			return reflect.Value{}, err
		}
		p := reflect.New(t.Elem())
		p.Elem().Set(inner)
		return p, nil
	}

	sv := reflect.ValueOf(stored)
	if sv.Type() == t {
		return sv, nil
	}

	switch t.Kind() {
	case reflect.Interface:
		if sv.Type().AssignableTo(t) {
			out := reflect.New(t).Elem()
			out.Set(sv)
			return out, nil
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := toInt64(sv)
		if err != nil {
			return reflect.Value{}, err
		}
		out := reflect.New(t).Elem()
		if out.OverflowInt(n) {
			return reflect.Value{}, fmt.Errorf("%w: %d does not fit %s", ErrOverflow, n, t)
		}
		out.SetInt(n)
		return out, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n, err := toInt64(sv)
		if err != nil {
			return reflect.Value{}, err
		}
		out := reflect.New(t).Elem()
		if n < 0 || out.OverflowUint(uint64(n)) {
			return reflect.Value{}, fmt.Errorf("%w: %d does not fit %s", ErrOverflow, n, t)
		}
		out.SetUint(uint64(n))
		return out, nil
	case reflect.Float32, reflect.Float64:
		f, err := toFloat64(sv)
		if err != nil {
			return reflect.Value{}, err
		}
		out := reflect.New(t).Elem()
		if t.Kind() == reflect.Float32 && out.OverflowFloat(f) {
			return reflect.Value{}, fmt.Errorf("%w: %g does not fit %s", ErrOverflow, f, t)
		}
		out.SetFloat(f)
		return out, nil
	case reflect.String:
		if sv.Kind() == reflect.String {
			return sv.Convert(t), nil
		}
		if b, ok := stored.([]byte); ok {
			return reflect.ValueOf(string(b)).Convert(t), nil
		}
	case reflect.Bool:
		if sv.Kind() == reflect.Bool {
			return sv.Convert(t), nil
		}
		if s, ok := stored.(string); ok {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return reflect.Value{}, fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
			}
			return reflect.ValueOf(b).Convert(t), nil
		}
	case reflect.Slice:
		if sv.Kind() == reflect.Slice || sv.Kind() == reflect.Array {
			out := reflect.MakeSlice(t, sv.Len(), sv.Len())
			for i := 0; i < sv.Len(); i++ {
				el, err := Assign(t.Elem(), sv.Index(i).Interface())
				if err != nil {
					return reflect.Value{}, err
				}
				out.Index(i).Set(el)
			}
			return out, nil
		}
	case reflect.Array:
		if sv.Kind() == reflect.Slice || sv.Kind() == reflect.Array {
			out := reflect.New(t).Elem()
			for i := 0; i < sv.Len() && i < t.Len(); i++ {
				el, err := Assign(t.Elem(), sv.Index(i).Interface())
				if err != nil {
					return reflect.Value{}, err
				}
				out.Index(i).Set(el)
			}
			return out, nil
		}
	case reflect.Map:
		if sv.Kind() == reflect.Map {
			out := reflect.MakeMapWithSize(t, sv.Len())
			iter := sv.MapRange()
			for iter.Next() {
				k, err := AssignKey(t.Key(), fmt.Sprint(iter.Key().Interface()))
				if err != nil {
					return reflect.Value{}, err
				}
				v, err := Assign(t.Elem(), iter.Value().Interface())
				if err != nil {
					return reflect.Value{}, err
				}
				out.SetMapIndex(k, v)
			}
			return out, nil
		}
	}

	if sv.Type().AssignableTo(t) {
		out := reflect.New(t).Elem()
		out.Set(sv)
		return out, nil
	}
	if sv.Type().ConvertibleTo(t) && sv.Kind() == t.Kind() {
		return sv.Convert(t), nil
	}

	return reflect.Value{}, fmt.Errorf("%w: %T into %s", ErrUnsupportedValue, stored, t)
}

// AssignKey parses a composite key segment into a map key of type t.
func AssignKey(t reflect.Type, key string) (reflect.Value, error) {
	switch t.Kind() {
	case reflect.String:
		return reflect.ValueOf(key).Convert(t), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("%w: %q", ErrMalformedKey, key)
		}
		return Assign(t, n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(key, 10, 64)
		if err != nil || n > math.MaxInt64 {
			return reflect.Value{}, fmt.Errorf("%w: %q", ErrMalformedKey, key)
		}
		return Assign(t, int64(n))
	case reflect.Bool:
		return Assign(t, key)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(key, 64)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("%w: %q", ErrMalformedKey, key)
		}
		return Assign(t, f)
	case reflect.Interface:
		return Assign(t, key)
	}
	return reflect.Value{}, fmt.Errorf("%w: map key type %s", ErrUnsupportedValue, t)
}

// Plain unwraps v into a primitive storable value. Named scalar types are
// reduced to their predeclared kind. Nil values yield nil. Unsigned values
// above math.MaxInt64 fail with ErrOverflow.
func Plain(v reflect.Value) (any, error) {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return nil, nil
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return nil, nil
	}

	switch v.Kind() {
	case reflect.String:
		return v.String(), nil
	case reflect.Bool:
		return v.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := v.Uint()
		if u > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %d", ErrOverflow, u)
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		return v.Float(), nil
	case reflect.Slice, reflect.Map:
		if v.IsNil() {
			return nil, nil
		}
	}
	return v.Interface(), nil
}

// SplitKey splits a composite key at its first separator.
func SplitKey(key string) (head, rest string) {
	if i := strings.Index(key, graph.Separator); i >= 0 {
		return key[:i], key[i+1:]
	}
	return key, ""
}

func toInt64(sv reflect.Value) (int64, error) {
	switch sv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return sv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := sv.Uint()
		if u > math.MaxInt64 {
			return 0, fmt.Errorf("%w: %d", ErrOverflow, u)
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		f := sv.Float()
		if f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
			return 0, fmt.Errorf("%w: %g is not integral", ErrUnsupportedValue, f)
		}
		return int64(f), nil
	case reflect.String:
		n, err := strconv.ParseInt(sv.String(), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrUnsupportedValue, sv.String())
		}
		return n, nil
	}
	return 0, fmt.Errorf("%w: %s is not numeric", ErrUnsupportedValue, sv.Type())
}

func toFloat64(sv reflect.Value) (float64, error) {
	switch sv.Kind() {
	case reflect.Float32, reflect.Float64:
		return sv.Float(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(sv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(sv.Uint()), nil
	case reflect.String:
		f, err := strconv.ParseFloat(sv.String(), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrUnsupportedValue, sv.String())
		}
		return f, nil
	}
	return 0, fmt.Errorf("%w: %s is not numeric", ErrUnsupportedValue, sv.Type())
}
