package relationships

import "errors"

var (
	// ErrMissingID is returned when an edge end has no id after saving
	ErrMissingID = errors.New("object has no id")

	// ErrUnsupportedTarget is returned when a member holds something that
	// cannot be stored as an edge end
	ErrUnsupportedTarget = errors.New("unsupported relationship target")
)
