package transaction

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// WithTimeout runs fn in a transaction that is rolled back when it does not
// finish within timeout.
func (m *Manager) WithTimeout(ctx context.Context, mode Mode, timeout time.Duration, fn func(ctx context.Context, tx *Transaction) error) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := m.WithTransaction(timeoutCtx, mode, fn)
	if err != nil {
		if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: transaction exceeded %v", ErrTransactionTimeout, timeout)
		}
		return err
	}
	return nil
}

// BeginWithTimeout starts a transaction that must be committed or rolled
// back within timeout.
func (m *Manager) BeginWithTimeout(ctx context.Context, mode Mode, timeout time.Duration) (*Transaction, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)

	tx, err := m.Begin(timeoutCtx, mode)
	if err != nil {
		cancel()
		return nil, err
	}

	// Store cancel function in transaction so it's called on commit/rollback
	tx.cancelFunc = cancel
	return tx, nil
}
