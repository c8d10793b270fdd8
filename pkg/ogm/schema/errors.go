package schema

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	// ErrMissingID is returned when a type has no identifier member
	ErrMissingID = errors.New("no id member")
	// ErrDuplicateID is returned when a type chain declares more than one id member
	ErrDuplicateID = errors.New("more than one id member")
	// ErrDualKind is returned when a type chain declares both node and relationship kind
	ErrDualKind = errors.New("type can't be node and relationship at the same time")
	// ErrDuplicateEdge is returned when two distinct members claim the same edge or property name
	ErrDuplicateEdge = errors.New("duplicate member name")
	// ErrMissingEndpoint is returned when a relationship entity lacks its source or target
	ErrMissingEndpoint = errors.New("relationship entity is missing an endpoint")
	// ErrUnknownMember is returned when a configured member does not exist or has an unusable type
	ErrUnknownMember = errors.New("unknown or unusable member")
	// ErrUnregisteredType is returned when a type is described without having been registered
	ErrUnregisteredType = errors.New("type is not registered")
)

// SchemaError reports a fatal problem found while building a descriptor.
type SchemaError struct {
	Type   reflect.Type
	Member string
	Err    error
}

// Error implements error
func (e *SchemaError) Error() string {
	name := "<nil>"
	if e.Type != nil {
		name = e.Type.String()
	}
	if e.Member != "" {
		return fmt.Sprintf("schema %s.%s: %v", name, e.Member, e.Err)
	}
	return fmt.Sprintf("schema %s: %v", name, e.Err)
}

// Unwrap returns the underlying cause
func (e *SchemaError) Unwrap() error {
	return e.Err
}

// IsSchemaError checks if an error is a schema error
func IsSchemaError(err error) bool {
	var schemaErr *SchemaError
	return errors.As(err, &schemaErr)
}

func schemaErr(t reflect.Type, member string, err error) *SchemaError {
	return &SchemaError{Type: t, Member: member, Err: err}
}
