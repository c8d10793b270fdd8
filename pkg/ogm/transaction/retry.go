package transaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

const (
	// DefaultMaxRetries is the default number of attempts for retryable failures
	DefaultMaxRetries = 3
	// DefaultBaseBackoff is the default base backoff duration
	DefaultBaseBackoff = 100 * time.Millisecond
)

// RetryConfig configures retry behavior for transactions
type RetryConfig struct {
	MaxRetries  int           `mapstructure:"max_retries" yaml:"max_retries"`
	BaseBackoff time.Duration `mapstructure:"base_backoff" yaml:"base_backoff"`
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:  DefaultMaxRetries,
		BaseBackoff: DefaultBaseBackoff,
	}
}

// WithRetry runs fn in a new transaction, retrying transient failures with
// exponential backoff. Inside an existing transaction fn runs once: the
// enclosing transaction owns the retry.
func (m *Manager) WithRetry(ctx context.Context, mode Mode, config *RetryConfig, fn func(ctx context.Context, tx *Transaction) error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	if _, ok := FromContext(ctx); ok {
		return m.WithTransaction(ctx, mode, fn)
	}

	var lastErr error
	for attempt := 0; attempt < config.MaxRetries; attempt++ {
		// Check if context is already cancelled before starting retry attempt
		if ctx.Err() != nil {
			return fmt.Errorf("transaction cancelled before retry %d: %w", attempt, ctx.Err())
		}

		err := m.WithTransaction(ctx, mode, fn)
		if err == nil {
			return nil
		}
		if !IsRetryableError(err) {
			return err
		}
		lastErr = err

		// Calculate exponential backoff: baseBackoff * 2^attempt
		backoff := config.BaseBackoff * time.Duration(1<<uint(attempt))
		m.logger.Debug("retrying transaction", zap.Int("attempt", attempt+1), zap.Duration("backoff", backoff), zap.Error(err))

		select {
		case <-ctx.Done():
			return fmt.Errorf("transaction cancelled during retry: %w", ctx.Err())
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("%w: transaction failed after %d attempts: %v", ErrRetriesExhausted, config.MaxRetries, lastErr)
}

// IsRetryableError reports whether err is a transient store failure: a
// Neo4j transient error, a Badger write conflict or a locked database.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if neo4j.IsRetryable(err) || errors.Is(err, badger.ErrConflict) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, msg := range []string{
		"deadlock detected",
		"database is locked",
		"database table is locked",
	} {
		if strings.Contains(errStr, msg) {
			return true
		}
	}
	return false
}
