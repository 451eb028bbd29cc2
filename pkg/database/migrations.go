package database

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const schemaTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version    INTEGER PRIMARY KEY,
	name       TEXT NOT NULL,
	applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
)`

// Migration is one versioned schema script, named NNN_name.sql
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Migrator brings the budget schema up to the newest script
type Migrator struct {
	db     *DB
	logger *zap.Logger
}

func NewMigrator(db *DB, logger *zap.Logger) *Migrator {
	return &Migrator{db: db, logger: logger}
}

// ApplyDir applies pending scripts from a directory on disk
func (m *Migrator) ApplyDir(ctx context.Context, dir string) error {
	return m.Apply(ctx, os.DirFS(dir))
}

// Apply runs every script in fsys that is not yet recorded, oldest first.
// Each script commits together with its schema_migrations row.
func (m *Migrator) Apply(ctx context.Context, fsys fs.FS) error {
	if _, err := m.db.ExecContext(ctx, schemaTable); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied, err := m.Applied(ctx)
	if err != nil {
		return err
	}

	scripts, err := LoadMigrations(fsys)
	if err != nil {
		return err
	}

	pending := 0
	for _, mg := range scripts {
		if applied[mg.Version] {
			continue
		}
		if err := m.apply(ctx, mg); err != nil {
			return fmt.Errorf("migration %03d_%s: %w", mg.Version, mg.Name, err)
		}
		m.logger.Info("Migration applied", zap.Int("version", mg.Version), zap.String("name", mg.Name))
		pending++
	}

	m.logger.Info("Schema up to date", zap.Int("applied", pending), zap.Int("known", len(scripts)))
	return nil
}

// Applied returns the recorded migration versions
func (m *Migrator) Applied(ctx context.Context) (map[int]bool, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()

	versions := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions[v] = true
	}
	return versions, rows.Err()
}

func (m *Migrator) apply(ctx context.Context, mg Migration) error {
	return m.db.RunInTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, mg.SQL); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, name) VALUES (?, ?)", mg.Version, mg.Name)
		return err
	})
}

// LoadMigrations collects the *.sql scripts in fsys ordered by version.
// Two scripts sharing a version is an error.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	var scripts []Migration
	owner := make(map[int]string)

	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || path.Ext(p) != ".sql" {
			return err
		}

		file := path.Base(p)
		mg, err := parseMigrationName(file)
		if err != nil {
			return err
		}
		if prev, dup := owner[mg.Version]; dup {
			return fmt.Errorf("version %d claimed by %s and %s", mg.Version, prev, file)
		}
		owner[mg.Version] = file

		body, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}
		mg.SQL = string(body)
		scripts = append(scripts, mg)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(scripts, func(i, j int) bool { return scripts[i].Version < scripts[j].Version })
	return scripts, nil
}

// parseMigrationName splits "001_initial_schema.sql" into 1 and "initial_schema"
func parseMigrationName(file string) (Migration, error) {
	stem := strings.TrimSuffix(file, ".sql")
	num, name, _ := strings.Cut(stem, "_")
	v, err := strconv.Atoi(num)
	if err != nil || v <= 0 {
		return Migration{}, fmt.Errorf("migration %s: name must start with a positive version number", file)
	}
	return Migration{Version: v, Name: name}, nil
}
