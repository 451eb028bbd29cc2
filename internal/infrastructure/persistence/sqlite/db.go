package sqlite

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/garyjia/budget-approval/pkg/database"
)

type txKey struct{}

// querier is the statement surface shared by *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// DB lets store methods share a transaction by passing it in the context
type DB struct {
	pool   *database.DB
	logger *zap.Logger
}

// NewDB wraps an opened budget database
func NewDB(pool *database.DB, logger *zap.Logger) *DB {
	return &DB{pool: pool, logger: logger}
}

// WithTransaction runs fn with a context carrying a transaction. When ctx
// already carries one, fn joins it and the outermost call commits.
func (db *DB) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}
	return db.pool.RunInTx(ctx, func(tx *sql.Tx) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// conn returns the transaction bound to ctx, or the pool
func (db *DB) conn(ctx context.Context) querier {
	if tx := txFrom(ctx); tx != nil {
		return tx
	}
	return db.pool.DB
}

func txFrom(ctx context.Context) *sql.Tx {
	tx, _ := ctx.Value(txKey{}).(*sql.Tx)
	return tx
}
