// Package convert transcodes Go member values to and from the primitive
// values a property graph accepts.
//
// Scalar converters write a single property. Composite converters (slices,
// arrays, maps) write one property per element using structured key
// suffixes and delegate each element to a sub-converter. Reading is
// incremental: the materializer feeds one stored property at a time,
// together with the remaining key suffix, and the converter folds it into
// the current member value.
package convert

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	// ErrMalformedKey is returned when a composite sub-key cannot be parsed
	ErrMalformedKey = errors.New("malformed composite key")
	// ErrUnsupportedValue is returned when a stored value cannot be converted to the member type
	ErrUnsupportedValue = errors.New("unsupported value")
	// ErrOverflow is returned when a stored number does not fit the member type
	ErrOverflow = errors.New("numeric overflow")
	// ErrUnknownType is returned when a stored type name is not registered
	ErrUnknownType = errors.New("unknown type name")
)

// Converter transcodes one member value.
type Converter interface {
	// ToStorage writes value into out under name (and name-derived composite keys).
	ToStorage(name string, value reflect.Value, out map[string]any) error

	// FromStorage folds a stored value into current and returns the new member value.
	// key is the composite suffix remaining after the member name ("" for plain values).
	// current may be the zero reflect.Value when the member has not been populated yet.
	FromStorage(current reflect.Value, key string, stored any) (reflect.Value, error)
}

// Factory builds a converter for a concrete member type. Composite factories
// resolve their element converters through r with the same overrides.
type Factory func(r *Registry, t reflect.Type, overrides Overrides) Converter

// Static returns a factory that always yields c.
func Static(c Converter) Factory {
	return func(*Registry, reflect.Type, Overrides) Converter { return c }
}

// Overrides replace default converters for one member. They are consulted at
// every layer of a composite type, so overriding the element type of a slice
// keeps the default collection converter.
type Overrides struct {
	ByType map[reflect.Type]Factory
	ByKind map[reflect.Kind]Factory
}

// IsEmpty reports whether no override is set.
func (o Overrides) IsEmpty() bool {
	return len(o.ByType) == 0 && len(o.ByKind) == 0
}

// With returns a copy of o with t overridden by f.
func (o Overrides) With(t reflect.Type, f Factory) Overrides {
	out := Overrides{ByType: make(map[reflect.Type]Factory, len(o.ByType)+1), ByKind: o.ByKind}
	for k, v := range o.ByType {
		out.ByType[k] = v
	}
	out.ByType[t] = f
	return out
}

// WithKind returns a copy of o with every composite layer of kind k overridden by f.
func (o Overrides) WithKind(k reflect.Kind, f Factory) Overrides {
	out := Overrides{ByType: o.ByType, ByKind: make(map[reflect.Kind]Factory, len(o.ByKind)+1)}
	for kk, v := range o.ByKind {
		out.ByKind[kk] = v
	}
	out.ByKind[k] = f
	return out
}

// ConversionError describes a value that could not be converted.
type ConversionError struct {
	Name  string
	Key   string
	Value any
	Err   error
}

// Error implements error
func (e *ConversionError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("cannot convert %s.%s (%T): %v", e.Name, e.Key, e.Value, e.Err)
	}
	if e.Name != "" {
		return fmt.Sprintf("cannot convert %s (%T): %v", e.Name, e.Value, e.Err)
	}
	return fmt.Sprintf("cannot convert %T: %v", e.Value, e.Err)
}

// Unwrap returns the underlying cause
func (e *ConversionError) Unwrap() error {
	return e.Err
}

// IsConversionError checks if an error is a conversion error
func IsConversionError(err error) bool {
	var convErr *ConversionError
	return errors.As(err, &convErr)
}

func convErr(key string, value any, err error) error {
	return &ConversionError{Key: key, Value: value, Err: err}
}
