package transaction

import (
	"context"
	"database/sql"
)

type contextKey string

const contextKeyTransaction contextKey = "webscript:transaction"

// FromContext retrieves a transaction from the context
func FromContext(ctx context.Context) (*Transaction, bool) {
	tx, ok := ctx.Value(contextKeyTransaction).(*Transaction)
	return tx, ok
}

// WithContext returns a new context with the transaction embedded
func WithContext(ctx context.Context, tx *Transaction) context.Context {
	return context.WithValue(ctx, contextKeyTransaction, tx)
}

// Querier is the subset of *sql.DB and *sql.Tx used by repository code
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// QuerierFrom returns the transaction on the context, or db when there is none
func QuerierFrom(ctx context.Context, db *sql.DB) Querier {
	if tx, ok := FromContext(ctx); ok && !tx.IsCommitted() && !tx.IsRolledBack() {
		return tx.tx
	}
	return db
}
