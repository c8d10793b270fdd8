package transaction

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/ogm/pkg/ogm/cypher"
	"github.com/conduit-lang/ogm/pkg/ogm/executor"
	"github.com/conduit-lang/ogm/pkg/ogm/executor/embedded"
	"github.com/conduit-lang/ogm/pkg/ogm/executor/executortest"
	"github.com/conduit-lang/ogm/pkg/ogm/store"
)

func TestMode_String(t *testing.T) {
	assert.Equal(t, "READ ONLY", ReadOnly.String())
	assert.Equal(t, "READ WRITE", ReadWrite.String())
	assert.Equal(t, executor.ReadMode, ReadOnly.AccessMode())
	assert.Equal(t, executor.WriteMode, ReadWrite.AccessMode())
}

func TestWithTransaction_CommitsOnSuccess(t *testing.T) {
	drv := executortest.New(nil)
	mgr := NewManager(drv)

	err := mgr.Write(context.Background(), func(ctx context.Context, tx *Transaction) error {
		_, err := tx.Run(ctx, cypher.Count("A"))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, drv.Commits)
	assert.Equal(t, 0, drv.Rollbacks)
	assert.Equal(t, []executor.AccessMode{executor.WriteMode}, drv.Modes)
}

func TestWithTransaction_RollsBackOnError(t *testing.T) {
	drv := executortest.New(nil)
	mgr := NewManager(drv)
	boom := errors.New("boom")

	err := mgr.Write(context.Background(), func(ctx context.Context, tx *Transaction) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, drv.Commits)
	assert.Equal(t, 1, drv.Rollbacks)
}

func TestWithTransaction_RollsBackOnPanic(t *testing.T) {
	drv := executortest.New(nil)
	mgr := NewManager(drv)

	assert.Panics(t, func() {
		mgr.Write(context.Background(), func(ctx context.Context, tx *Transaction) error {
			panic("boom")
		})
	})
	assert.Equal(t, 1, drv.Rollbacks)
}

func TestWithTransaction_NestedCallsJoin(t *testing.T) {
	drv := executortest.New(nil)
	mgr := NewManager(drv)

	err := mgr.Write(context.Background(), func(ctx context.Context, outer *Transaction) error {
		return mgr.Read(ctx, func(ctx context.Context, inner *Transaction) error {
			assert.Same(t, outer, inner)
			return mgr.Write(ctx, func(ctx context.Context, innermost *Transaction) error {
				assert.Same(t, outer, innermost)
				return nil
			})
		})
	})
	require.NoError(t, err)
	assert.Len(t, drv.Modes, 1)
	assert.Equal(t, 1, drv.Commits)
}

func TestWithTransaction_ReadCannotBeJoinedForWriting(t *testing.T) {
	mgr := NewManager(executortest.New(nil))

	err := mgr.Read(context.Background(), func(ctx context.Context, tx *Transaction) error {
		return mgr.Write(ctx, func(ctx context.Context, tx *Transaction) error {
			return nil
		})
	})
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestRun_RejectsWritesInReadOnly(t *testing.T) {
	drv := executortest.New(nil)
	mgr := NewManager(drv)

	err := mgr.Read(context.Background(), func(ctx context.Context, tx *Transaction) error {
		_, err := tx.Run(ctx, cypher.CreateNode([]string{"A"}, nil))
		return err
	})
	assert.ErrorIs(t, err, ErrReadOnly)
	assert.Empty(t, drv.Statements)
}

func TestClosedTransaction(t *testing.T) {
	mgr := NewManager(executortest.New(nil))
	ctx := context.Background()

	tx, err := mgr.Begin(ctx, ReadWrite)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.True(t, tx.IsCommitted())
	assert.True(t, tx.Closed())

	_, err = tx.Run(ctx, cypher.Count("A"))
	assert.ErrorIs(t, err, ErrTransactionClosed)
	assert.ErrorIs(t, tx.Commit(), ErrTransactionClosed)
	assert.ErrorIs(t, tx.Rollback(), ErrTransactionClosed)

	err = mgr.Write(WithContext(ctx, tx), func(ctx context.Context, tx *Transaction) error { return nil })
	assert.ErrorIs(t, err, ErrTransactionClosed)
}

func TestRollbackIsIdempotent(t *testing.T) {
	mgr := NewManager(executortest.New(nil))
	tx, err := mgr.Begin(context.Background(), ReadOnly)
	require.NoError(t, err)

	require.NoError(t, tx.Rollback())
	require.NoError(t, tx.Rollback())
	assert.True(t, tx.IsRolledBack())
	assert.NotEqual(t, [16]byte{}, [16]byte(tx.ID()))
}

func TestBeginFailure(t *testing.T) {
	drv := executortest.New(nil)
	drv.BeginErr = errors.New("no connection")
	mgr := NewManager(drv)

	err := mgr.Read(context.Background(), func(ctx context.Context, tx *Transaction) error { return nil })
	assert.ErrorContains(t, err, "failed to begin transaction")
}

func TestContextCarriesTransaction(t *testing.T) {
	mgr := NewManager(executortest.New(nil))
	ctx := context.Background()

	_, ok := FromContext(ctx)
	assert.False(t, ok)

	tx, err := mgr.Begin(ctx, ReadOnly)
	require.NoError(t, err)
	defer tx.Rollback()

	got, ok := FromContext(tx.Context())
	require.True(t, ok)
	assert.Same(t, tx, got)

	_, ok = FromContext(ctx)
	assert.False(t, ok, "original context should not carry the transaction")
}

func TestWithRetry(t *testing.T) {
	config := &RetryConfig{MaxRetries: 3, BaseBackoff: time.Millisecond}

	t.Run("retries transient failures", func(t *testing.T) {
		mgr := NewManager(executortest.New(nil))
		attempts := 0
		err := mgr.WithRetry(context.Background(), ReadWrite, config, func(ctx context.Context, tx *Transaction) error {
			attempts++
			if attempts < 3 {
				return fmt.Errorf("write failed: %w", badger.ErrConflict)
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		mgr := NewManager(executortest.New(nil))
		attempts := 0
		err := mgr.WithRetry(context.Background(), ReadWrite, config, func(ctx context.Context, tx *Transaction) error {
			attempts++
			return errors.New("database is locked")
		})
		assert.ErrorIs(t, err, ErrRetriesExhausted)
		assert.Equal(t, 3, attempts)
	})

	t.Run("does not retry permanent failures", func(t *testing.T) {
		mgr := NewManager(executortest.New(nil))
		attempts := 0
		err := mgr.WithRetry(context.Background(), ReadWrite, config, func(ctx context.Context, tx *Transaction) error {
			attempts++
			return store.ErrNotFound
		})
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.Equal(t, 1, attempts)
	})

	t.Run("runs once inside an existing transaction", func(t *testing.T) {
		drv := executortest.New(nil)
		mgr := NewManager(drv)
		attempts := 0
		err := mgr.Write(context.Background(), func(ctx context.Context, tx *Transaction) error {
			return mgr.WithRetry(ctx, ReadWrite, config, func(ctx context.Context, tx *Transaction) error {
				attempts++
				return nil
			})
		})
		require.NoError(t, err)
		assert.Equal(t, 1, attempts)
		assert.Len(t, drv.Modes, 1)
	})
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
	assert.False(t, IsRetryableError(errors.New("syntax error")))
	assert.True(t, IsRetryableError(badger.ErrConflict))
	assert.True(t, IsRetryableError(errors.New("Deadlock detected while locking")))
}

func TestWithTimeout(t *testing.T) {
	mgr := NewManager(executortest.New(nil))

	err := mgr.WithTimeout(context.Background(), ReadOnly, 10*time.Millisecond, func(ctx context.Context, tx *Transaction) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, ErrTransactionTimeout)

	err = mgr.WithTimeout(context.Background(), ReadOnly, time.Second, func(ctx context.Context, tx *Transaction) error {
		return nil
	})
	assert.NoError(t, err)
}

func TestBeginWithTimeout(t *testing.T) {
	mgr := NewManager(embedded.New(store.NewMemoryEngine()))

	tx, err := mgr.BeginWithTimeout(context.Background(), ReadWrite, time.Second)
	require.NoError(t, err)
	_, err = tx.Run(tx.Context(), cypher.CreateNode([]string{"A"}, nil))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	err = mgr.Read(context.Background(), func(ctx context.Context, tx *Transaction) error {
		res, err := tx.Run(ctx, cypher.Count("A"))
		if err != nil {
			return err
		}
		n, err := res.Int64()
		assert.Equal(t, int64(1), n)
		return err
	})
	require.NoError(t, err)
}
