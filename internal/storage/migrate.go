package storage

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
)

// migrationLockKey is the advisory lock held while migrations run, so two
// monitors starting together apply each file once.
const migrationLockKey int64 = 0x6d6c6f70 // "mlop"

// RunMigrations applies unapplied .sql files from migrationsFS in name order.
// Each file runs in its own transaction together with its schema_migrations
// row, so a failed file leaves no partial record behind.
func (db *DB) RunMigrations(ctx context.Context, migrationsFS fs.FS) error {
	if _, err := db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return fmt.Errorf("storage: create schema_migrations: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, ".")
	if err != nil {
		return fmt.Errorf("storage: read migrations dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)

	for _, name := range names {
		content, err := fs.ReadFile(migrationsFS, name)
		if err != nil {
			return fmt.Errorf("storage: read migration %s: %w", name, err)
		}
		applied, err := db.applyMigration(ctx, name, string(content))
		if err != nil {
			return err
		}
		if applied {
			db.logger.Info("migration applied", "file", name)
		} else {
			db.logger.Debug("migration already applied, skipping", "file", name)
		}
	}
	return nil
}

func (db *DB) applyMigration(ctx context.Context, name, sql string) (bool, error) {
	var applied bool
	err := pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
			return fmt.Errorf("storage: lock migrations: %w", err)
		}
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, name,
		).Scan(&exists); err != nil {
			return fmt.Errorf("storage: check migration %s: %w", name, err)
		}
		if exists {
			return nil
		}
		if _, err := tx.Exec(ctx, sql); err != nil {
			return fmt.Errorf("storage: execute migration %s: %w", name, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, name); err != nil {
			return fmt.Errorf("storage: record migration %s: %w", name, err)
		}
		applied = true
		return nil
	})
	return applied, err
}
