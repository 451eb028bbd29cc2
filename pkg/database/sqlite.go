package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const defaultBusyTimeout = 5 * time.Second

// Config describes the budget database file and its pool limits
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration
}

// DSN builds the go-sqlite3 connection string. Transactions start with
// BEGIN IMMEDIATE so concurrent approvals queue on the busy timeout instead of
// failing on lock upgrade.
func (c Config) DSN() string {
	busy := c.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on&_txlock=immediate",
		c.Path, busy.Milliseconds())
}

// DB is the pooled handle to the budget database
type DB struct {
	*sql.DB
	path   string
	logger *zap.Logger
}

// New opens the database at cfg.Path and checks that it answers
func New(cfg Config, logger *zap.Logger) (*DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	pool, err := sql.Open("sqlite3", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Path, err)
	}
	applyPoolLimits(pool, cfg)

	if err := pool.Ping(); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Path, err)
	}

	logger.Info("Budget database opened",
		zap.String("path", cfg.Path),
		zap.Int("max_open_conns", cfg.MaxOpenConns))

	return &DB{DB: pool, path: cfg.Path, logger: logger}, nil
}

func applyPoolLimits(pool *sql.DB, cfg Config) {
	if cfg.MaxOpenConns > 0 {
		pool.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		pool.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	pool.SetConnMaxLifetime(cfg.ConnMaxLifetime)
}

// RunInTx runs fn inside one transaction. fn's error, or a panic, rolls the
// transaction back; otherwise it is committed.
func (db *DB) RunInTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		db.logger.Error("Begin transaction failed", zap.String("path", db.path), zap.Error(err))
		return fmt.Errorf("begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Error("Rollback failed", zap.String("path", db.path), zap.Error(rbErr))
		}
		if p := recover(); p != nil {
			db.logger.Error("Transaction panicked", zap.Any("panic", p))
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		db.logger.Error("Commit failed", zap.String("path", db.path), zap.Error(err))
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}

// Close releases the pool
func (db *DB) Close() error {
	db.logger.Info("Closing budget database", zap.String("path", db.path))
	return db.DB.Close()
}
