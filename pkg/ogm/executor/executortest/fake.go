// Package executortest provides a scripted executor for unit tests.
package executortest

import (
	"context"
	"errors"
	"sync"

	"github.com/conduit-lang/ogm/pkg/ogm/cypher"
	"github.com/conduit-lang/ogm/pkg/ogm/executor"
)

// ErrFinished is returned when a committed or rolled back fake transaction
// is used again.
var ErrFinished = errors.New("fake transaction finished")

// Handler answers one statement.
type Handler func(stmt cypher.Statement) (*executor.Result, error)

// Driver records every transaction and statement it sees. Statements are
// answered by Handler, or with an empty result when it is nil.
type Driver struct {
	mu      sync.Mutex
	Handler Handler
	// BeginErr, when set, fails every Begin.
	BeginErr error
	// CommitErr, when set, fails every Commit.
	CommitErr error

	Statements []cypher.Statement
	Modes      []executor.AccessMode
	Commits    int
	Rollbacks  int
	Closed     bool
}

// New creates a fake driver answering with handler.
func New(handler Handler) *Driver {
	return &Driver{Handler: handler}
}

func (d *Driver) Begin(ctx context.Context, mode executor.AccessMode) (executor.Tx, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.BeginErr != nil {
		return nil, d.BeginErr
	}
	d.Modes = append(d.Modes, mode)
	return &tx{driver: d}, nil
}

func (d *Driver) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Closed = true
	return nil
}

// Kinds returns the kinds of every statement run so far.
func (d *Driver) Kinds() []cypher.Kind {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]cypher.Kind, len(d.Statements))
	for i, s := range d.Statements {
		out[i] = s.Kind
	}
	return out
}

type tx struct {
	driver *Driver
	done   bool
}

func (t *tx) Run(ctx context.Context, stmt cypher.Statement) (*executor.Result, error) {
	d := t.driver
	d.mu.Lock()
	if t.done {
		d.mu.Unlock()
		return nil, ErrFinished
	}
	d.Statements = append(d.Statements, stmt)
	h := d.Handler
	d.mu.Unlock()

	if h == nil {
		return &executor.Result{}, nil
	}
	return h(stmt)
}

func (t *tx) Commit(ctx context.Context) error {
	d := t.driver
	d.mu.Lock()
	defer d.mu.Unlock()
	if t.done {
		return ErrFinished
	}
	t.done = true
	if d.CommitErr != nil {
		return d.CommitErr
	}
	d.Commits++
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	d := t.driver
	d.mu.Lock()
	defer d.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	d.Rollbacks++
	return nil
}
