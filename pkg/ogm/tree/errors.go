package tree

import (
	"errors"
	"fmt"
	"reflect"
)

// LoadError reports a node that cannot be loaded as the requested type.
// It aborts the whole tree load.
type LoadError struct {
	ID   int64
	Type reflect.Type
	Err  error
}

func (e *LoadError) Error() string {
	msg := fmt.Sprintf("could not load element with id %d as %s", e.ID, e.Type)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// IsLoadError reports whether err is or wraps a *LoadError.
func IsLoadError(err error) bool {
	var le *LoadError
	return errors.As(err, &le)
}
