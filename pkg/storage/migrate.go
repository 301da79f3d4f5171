package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a single versioned schema change for one component
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Apply runs all pending migrations for a component. Applied versions are
// tracked per component in the schema_migrations table so independent
// packages can version their schemas separately.
func Apply(ctx context.Context, db *sql.DB, component string, migrations []Migration) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			component VARCHAR(128) NOT NULL,
			version INTEGER NOT NULL,
			description TEXT,
			applied_at TIMESTAMP NOT NULL,
			PRIMARY KEY (component, version)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	for _, m := range migrations {
		applied, err := isApplied(ctx, db, component, m.Version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %s/%d (%s) failed: %w", component, m.Version, m.Description, err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (component, version, description, applied_at) VALUES ($1, $2, $3, $4)`,
			component, m.Version, m.Description, time.Now(),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %s/%d: %w", component, m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %s/%d: %w", component, m.Version, err)
		}
	}

	return nil
}

func isApplied(ctx context.Context, db *sql.DB, component string, version int) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM schema_migrations WHERE component = $1 AND version = $2`,
		component, version,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check migration state: %w", err)
	}
	return count > 0, nil
}
