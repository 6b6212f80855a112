package transaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

const (
	// DefaultMaxRetries is the default number of attempts for retryable conflicts
	DefaultMaxRetries = 3
	// DefaultBaseBackoff is the default base backoff duration
	DefaultBaseBackoff = 100 * time.Millisecond
)

// PostgreSQL SQLSTATE codes that are safe to retry
const (
	sqlStateDeadlock      = "40P01"
	sqlStateSerialization = "40001"
)

// RetryConfig configures retry behavior for transactions
type RetryConfig struct {
	MaxRetries  int
	BaseBackoff time.Duration
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:  DefaultMaxRetries,
		BaseBackoff: DefaultBaseBackoff,
	}
}

// WithRetry executes a transaction with automatic retry on conflicts
func (m *Manager) WithRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.WithRetryConfig(ctx, DefaultRetryConfig(), fn)
}

// WithRetryConfig executes a transaction with custom retry configuration
func (m *Manager) WithRetryConfig(ctx context.Context, config *RetryConfig, fn func(ctx context.Context) error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	var lastErr error

	for attempt := 0; attempt < config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("transaction cancelled before retry %d: %w", attempt, ctx.Err())
		}

		err := m.WithTransaction(ctx, fn)
		if err == nil {
			return nil
		}

		if IsRetryableError(err) {
			lastErr = err
			backoff := config.BaseBackoff * time.Duration(1<<uint(attempt))

			select {
			case <-ctx.Done():
				return fmt.Errorf("transaction cancelled during retry: %w", ctx.Err())
			case <-time.After(backoff):
				continue
			}
		}

		return err
	}

	return fmt.Errorf("%w: transaction failed after %d retries: %v", ErrDeadlock, config.MaxRetries, lastErr)
}

// IsRetryableError checks if an error is a deadlock, serialization failure or busy database
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == sqlStateDeadlock || pgErr.Code == sqlStateSerialization
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		return code == sqlStateDeadlock || code == sqlStateSerialization
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}

	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, strings.ToLower(sqlStateDeadlock)) || strings.Contains(errStr, sqlStateSerialization) {
		return true
	}

	for _, msg := range []string{
		"deadlock detected",
		"deadlock found",
		"lock wait timeout exceeded",
		"could not serialize access",
		"database is locked",
	} {
		if strings.Contains(errStr, msg) {
			return true
		}
	}

	return false
}
