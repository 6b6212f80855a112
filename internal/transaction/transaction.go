// Package transaction wraps database/sql transactions with propagation levels
// and retry on transient conflicts.
package transaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	// ErrTransactionAborted is returned when a transaction is explicitly aborted
	ErrTransactionAborted = errors.New("transaction aborted")
	// ErrDeadlock is returned when retries are exhausted on a retryable conflict
	ErrDeadlock = errors.New("deadlock detected")
	// ErrNoDatabase is returned when a transactional call is made without a database
	ErrNoDatabase = errors.New("transaction manager has no database")
)

// Propagation controls how a unit of work relates to an ambient transaction
type Propagation int

const (
	// None runs the work inline, outside any new transaction
	None Propagation = iota
	// Required joins the ambient transaction or starts a retryable one
	Required
	// RequiresNew always starts a fresh retryable transaction
	RequiresNew
)

// String returns the description-document spelling of the propagation level
func (p Propagation) String() string {
	switch p {
	case None:
		return "none"
	case Required:
		return "required"
	case RequiresNew:
		return "requiresnew"
	default:
		return "unknown"
	}
}

// Transaction is a single database transaction
type Transaction struct {
	db         *sql.DB
	tx         *sql.Tx
	ctx        context.Context
	committed  atomic.Bool
	rolledBack atomic.Bool
}

// Manager manages database transactions
type Manager struct {
	db    *sql.DB
	retry *RetryConfig
}

// NewManager creates a new transaction manager
func NewManager(db *sql.DB) *Manager {
	return &Manager{db: db, retry: DefaultRetryConfig()}
}

// WithRetryPolicy replaces the retry configuration used by Do
func (m *Manager) WithRetryPolicy(config *RetryConfig) *Manager {
	m.retry = config
	return m
}

// DB returns the managed database
func (m *Manager) DB() *sql.DB {
	return m.db
}

// Begin starts a new transaction
func (m *Manager) Begin(ctx context.Context) (*Transaction, error) {
	if m.db == nil {
		return nil, ErrNoDatabase
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Transaction{db: m.db, tx: tx, ctx: ctx}, nil
}

// Do runs fn according to the propagation level. The context handed to fn
// carries the transaction so repository calls made with it join the work.
func (m *Manager) Do(ctx context.Context, p Propagation, fn func(ctx context.Context) error) error {
	switch p {
	case None:
		return fn(ctx)
	case Required:
		if _, ok := FromContext(ctx); ok {
			return fn(ctx)
		}
		return m.WithRetryConfig(ctx, m.retry, fn)
	case RequiresNew:
		return m.WithRetryConfig(ctx, m.retry, fn)
	default:
		return fmt.Errorf("unknown transaction propagation %d", p)
	}
}

// WithTransaction executes fn within a transaction.
// Commits on success and rolls back on error or panic.
func (m *Manager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := m.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx.Context()); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction failed: %w, rollback failed: %v", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}

// Context returns a context with the transaction embedded
func (t *Transaction) Context() context.Context {
	return WithContext(t.ctx, t)
}

// Tx returns the underlying sql.Tx
func (t *Transaction) Tx() *sql.Tx {
	return t.tx
}

// Commit commits the transaction
func (t *Transaction) Commit() error {
	if t.committed.Load() {
		return errors.New("transaction already committed")
	}
	if t.rolledBack.Load() {
		return errors.New("transaction already rolled back")
	}
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	t.committed.Store(true)
	return nil
}

// Rollback rolls back the transaction
func (t *Transaction) Rollback() error {
	if t.committed.Load() {
		return errors.New("transaction already committed")
	}
	if t.rolledBack.Load() {
		return nil
	}
	if err := t.tx.Rollback(); err != nil {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	t.rolledBack.Store(true)
	return nil
}

// IsCommitted returns true if the transaction has been committed
func (t *Transaction) IsCommitted() bool {
	return t.committed.Load()
}

// IsRolledBack returns true if the transaction has been rolled back
func (t *Transaction) IsRolledBack() bool {
	return t.rolledBack.Load()
}
