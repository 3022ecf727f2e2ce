package store

import (
	"context"
	"database/sql"
	_ "embed"
	"log/slog"
	"strings"

	"github.com/sagaflow-io/sagaflow/pkg/schema"
)

//go:embed migrations/001_initial_schema.sql
var migration001 string

// migration is one versioned schema change. Migrations are applied in order
// and recorded in schema_version, so Migrate is idempotent.
type migration struct {
	version int
	name    string
	script  string
}

var migrations = []migration{
	{version: 1, name: "initial_schema", script: migration001},
}

// runMigrations brings the database up to the latest schema version,
// applying each pending migration in its own transaction.
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "create schema_version table").WithCause(err)
	}

	current, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return err
		}
		logger.Info("applied schema migration",
			slog.Int("version", m.version),
			slog.String("name", m.name),
		)
	}
	return nil
}

// schemaVersion returns the highest applied migration version, 0 for a
// fresh database.
func schemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var current int
	row := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&current); err != nil {
		return 0, schema.NewErrorf(schema.ErrCodeStore, "read schema_version").WithCause(err)
	}
	return current, nil
}

// applyMigration runs one migration's statements and records its version,
// all in a single transaction.
func applyMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "begin migration %d", m.version).WithCause(err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range statements(m.script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "migration %d (%s)", m.version, m.name).
				WithCause(err).
				WithDetails(map[string]any{"statement": stmt})
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_version (version, name) VALUES (?, ?)`, m.version, m.name); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "record migration %d", m.version).WithCause(err)
	}
	if err := tx.Commit(); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "commit migration %d", m.version).WithCause(err)
	}
	return nil
}

// statements splits a migration script on semicolons, keeping only
// fragments that contain executable SQL.
func statements(script string) []string {
	var out []string
	for _, fragment := range strings.Split(script, ";") {
		if stmt := strings.TrimSpace(fragment); hasSQL(stmt) {
			out = append(out, stmt)
		}
	}
	return out
}

func hasSQL(stmt string) bool {
	for _, line := range strings.Split(stmt, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return true
		}
	}
	return false
}
