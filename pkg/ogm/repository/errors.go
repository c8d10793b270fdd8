package repository

import "errors"

var (
	// ErrNotFound is returned when no node or edge matches
	ErrNotFound = errors.New("not found")

	// ErrWrongType is returned when an object is not a pointer to the repository type
	ErrWrongType = errors.New("object does not match repository type")

	// ErrFieldNotFound is returned when a predicate names a property the type does not store
	ErrFieldNotFound = errors.New("field not found")

	// ErrRelationshipNotFound is returned when an edge type cannot be qualified
	ErrRelationshipNotFound = errors.New("relationship not found")

	// ErrMissingEndpoint is returned when a relationship entity is saved without both ends
	ErrMissingEndpoint = errors.New("relationship endpoint missing")

	// ErrUnexpectedResult is returned when a query returns something that is not a node or subgraph
	ErrUnexpectedResult = errors.New("unexpected query result")
)

// IsNotFound returns true if the error is ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
