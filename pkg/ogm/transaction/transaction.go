// Package transaction gives every call chain at most one logical
// transaction. The transaction travels in the context; nested calls join
// it instead of opening a new one.
package transaction

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/conduit-lang/ogm/pkg/ogm/cypher"
	"github.com/conduit-lang/ogm/pkg/ogm/executor"
)

var (
	// ErrReadOnly is returned when a write runs inside a read transaction
	ErrReadOnly = errors.New("transaction is read-only")
	// ErrTransactionClosed is returned when a committed or rolled back transaction is used
	ErrTransactionClosed = errors.New("transaction closed")
	// ErrTransactionTimeout is returned when a transaction times out
	ErrTransactionTimeout = errors.New("transaction timeout")
	// ErrRetriesExhausted is returned when a retried transaction keeps failing
	ErrRetriesExhausted = errors.New("transaction retries exhausted")
)

// Mode is the access mode of a transaction.
type Mode int

const (
	// ReadOnly transactions reject statements that write
	ReadOnly Mode = iota
	// ReadWrite transactions accept every statement
	ReadWrite
)

// String returns the string representation of the mode
func (m Mode) String() string {
	switch m {
	case ReadOnly:
		return "READ ONLY"
	case ReadWrite:
		return "READ WRITE"
	default:
		return "READ ONLY"
	}
}

// AccessMode converts the mode to the executor access mode.
func (m Mode) AccessMode() executor.AccessMode {
	if m == ReadWrite {
		return executor.WriteMode
	}
	return executor.ReadMode
}

// Transaction is one logical transaction over an executor transaction.
type Transaction struct {
	id         uuid.UUID
	tx         executor.Tx
	ctx        context.Context
	mode       Mode
	committed  atomic.Bool
	rolledBack atomic.Bool
	cancelFunc context.CancelFunc // Optional cancel function for timeout/deadline
	logger     *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger transaction boundaries are traced to at Debug.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// Manager opens transactions on a driver.
type Manager struct {
	driver executor.Driver
	logger *zap.Logger
}

// NewManager creates a new transaction manager
func NewManager(driver executor.Driver, opts ...Option) *Manager {
	m := &Manager{driver: driver, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Driver returns the driver transactions are opened on.
func (m *Manager) Driver() executor.Driver {
	return m.driver
}

// Begin starts a new top-level transaction
func (m *Manager) Begin(ctx context.Context, mode Mode) (*Transaction, error) {
	tx, err := m.driver.Begin(ctx, mode.AccessMode())
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	t := &Transaction{
		id:     uuid.New(),
		tx:     tx,
		ctx:    ctx,
		mode:   mode,
		logger: m.logger,
	}
	m.logger.Debug("transaction started", zap.Stringer("tx", t.id), zap.Stringer("mode", mode))
	return t, nil
}

// WithTransaction runs fn inside a transaction. When ctx already carries
// one, fn joins it; otherwise a new transaction is committed on success and
// rolled back on error or panic.
func (m *Manager) WithTransaction(ctx context.Context, mode Mode, fn func(ctx context.Context, tx *Transaction) error) error {
	if existing, ok := FromContext(ctx); ok {
		if existing.Closed() {
			return ErrTransactionClosed
		}
		if mode == ReadWrite && existing.mode == ReadOnly {
			return fmt.Errorf("%w: cannot join for writing", ErrReadOnly)
		}
		return fn(ctx, existing)
	}

	tx, err := m.Begin(ctx, mode)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p) // Re-throw panic after rollback
		}
	}()

	if err := fn(tx.Context(), tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction failed: %w, rollback failed: %v", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}

// Read runs fn inside a read-only transaction.
func (m *Manager) Read(ctx context.Context, fn func(ctx context.Context, tx *Transaction) error) error {
	return m.WithTransaction(ctx, ReadOnly, fn)
}

// Write runs fn inside a read-write transaction.
func (m *Manager) Write(ctx context.Context, fn func(ctx context.Context, tx *Transaction) error) error {
	return m.WithTransaction(ctx, ReadWrite, fn)
}

// Context returns a context with the transaction embedded
func (t *Transaction) Context() context.Context {
	return WithContext(t.ctx, t)
}

// ID returns the unique id of the transaction.
func (t *Transaction) ID() uuid.UUID {
	return t.id
}

// Mode returns the access mode of the transaction
func (t *Transaction) Mode() Mode {
	return t.mode
}

// Run executes one statement. Writes are rejected in read-only
// transactions.
func (t *Transaction) Run(ctx context.Context, stmt cypher.Statement) (*executor.Result, error) {
	if t.Closed() {
		return nil, ErrTransactionClosed
	}
	if t.mode == ReadOnly && stmt.Kind.Writes() {
		return nil, fmt.Errorf("%w: %s statement", ErrReadOnly, stmt.Kind)
	}
	return t.tx.Run(ctx, stmt)
}

// Commit commits the transaction
func (t *Transaction) Commit() error {
	// Call cancel function if it exists (for timeout/deadline transactions)
	if t.cancelFunc != nil {
		defer t.cancelFunc()
	}

	if t.committed.Load() {
		return fmt.Errorf("%w: already committed", ErrTransactionClosed)
	}
	if t.rolledBack.Load() {
		return fmt.Errorf("%w: already rolled back", ErrTransactionClosed)
	}

	if err := t.tx.Commit(t.ctx); err != nil {
		t.rolledBack.Store(true)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	t.committed.Store(true)
	t.logger.Debug("transaction committed", zap.Stringer("tx", t.id))
	return nil
}

// Rollback rolls back the transaction
func (t *Transaction) Rollback() error {
	// Call cancel function if it exists (for timeout/deadline transactions)
	if t.cancelFunc != nil {
		defer t.cancelFunc()
	}

	if t.committed.Load() {
		return fmt.Errorf("%w: already committed", ErrTransactionClosed)
	}
	if t.rolledBack.Load() {
		return nil // Already rolled back, no-op
	}

	t.rolledBack.Store(true)
	if err := t.tx.Rollback(context.WithoutCancel(t.ctx)); err != nil {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	t.logger.Debug("transaction rolled back", zap.Stringer("tx", t.id))
	return nil
}

// Closed reports whether the transaction was committed or rolled back.
func (t *Transaction) Closed() bool {
	return t.committed.Load() || t.rolledBack.Load()
}

// IsCommitted returns true if the transaction has been committed
func (t *Transaction) IsCommitted() bool {
	return t.committed.Load()
}

// IsRolledBack returns true if the transaction has been rolled back
func (t *Transaction) IsRolledBack() bool {
	return t.rolledBack.Load()
}

type txKey struct{}

// FromContext returns the transaction ctx carries, if any.
func FromContext(ctx context.Context) (*Transaction, bool) {
	tx, ok := ctx.Value(txKey{}).(*Transaction)
	return tx, ok
}

// WithContext returns a copy of ctx carrying tx. Calls made with it join tx.
func WithContext(ctx context.Context, tx *Transaction) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}
