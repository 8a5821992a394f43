package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migration is one versioned schema change embedded under migrations/.
type Migration struct {
	Version   int
	Name      string
	SQL       string
	AppliedAt time.Time
}

// Migrator applies the embedded migrations/*.sql files in version
// order, tracking which have already run in schema_migrations.
type Migrator struct {
	db     *DB
	logger *slog.Logger
}

// NewMigrator builds a Migrator over db.
func NewMigrator(db *DB) *Migrator {
	return &Migrator{
		db:     db,
		logger: slog.Default().With("component", "migrator"),
	}
}

// Run applies every migration not yet recorded in schema_migrations,
// in ascending version order, each inside its own transaction.
func (m *Migrator) Run(ctx context.Context) error {
	m.logger.Info("running migrations")

	if err := m.ensureMigrationsTable(ctx); err != nil {
		return err
	}

	applied, err := m.getAppliedMigrations(ctx)
	if err != nil {
		return err
	}

	available, err := m.getAvailableMigrations()
	if err != nil {
		return err
	}

	for _, migration := range available {
		if _, ok := applied[migration.Version]; ok {
			continue
		}

		if err := m.runMigration(ctx, migration); err != nil {
			return fmt.Errorf("migration %d (%s): %w", migration.Version, migration.Name, err)
		}

		m.logger.Info("applied migration", "version", migration.Version, "name", migration.Name)
	}

	m.logger.Info("migrations up to date")
	return nil
}

// GetStatus reports every available migration alongside its applied
// timestamp, or a zero time if it hasn't run yet.
func (m *Migrator) GetStatus(ctx context.Context) ([]Migration, error) {
	if err := m.ensureMigrationsTable(ctx); err != nil {
		return nil, err
	}

	applied, err := m.getAppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	available, err := m.getAvailableMigrations()
	if err != nil {
		return nil, err
	}

	var result []Migration
	for _, migration := range available {
		if appliedAt, ok := applied[migration.Version]; ok {
			migration.AppliedAt = appliedAt
		}
		result = append(result, migration)
	}

	return result, nil
}

// ensureMigrationsTable creates schema_migrations if it doesn't exist.
func (m *Migrator) ensureMigrationsTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at INTEGER NOT NULL DEFAULT (unixepoch())
		) STRICT
	`)
	return err
}

// getAppliedMigrations maps each applied migration's version to when
// it ran.
func (m *Migrator) getAppliedMigrations(ctx context.Context) (map[int]time.Time, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT version, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var appliedAt int64
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, err
		}
		result[version] = time.Unix(appliedAt, 0)
	}

	return result, rows.Err()
}

// getAvailableMigrations parses every migrations/NNN_name.sql file
// embedded at build time and returns them sorted by version.
func (m *Migrator) getAvailableMigrations() ([]Migration, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	var migrations []Migration

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		// filename shape: "001_initial_schema.sql"
		parts := strings.SplitN(entry.Name(), "_", 2)
		if len(parts) < 2 {
			continue
		}

		version, err := strconv.Atoi(parts[0])
		if err != nil {
			m.logger.Warn("skipping unparseable migration filename", "file", entry.Name())
			continue
		}

		name := strings.TrimSuffix(parts[1], ".sql")

		content, err := fs.ReadFile(migrationsFS, filepath.Join("migrations", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		migrations = append(migrations, Migration{
			Version: version,
			Name:    name,
			SQL:     string(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

// runMigration applies migration's SQL and records it in
// schema_migrations as a single transaction, so a failed migration
// never leaves a partial schema change recorded as applied.
func (m *Migrator) runMigration(ctx context.Context, migration Migration) error {
	return m.db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO schema_migrations (version, name) VALUES (?, ?)",
			migration.Version, migration.Name,
		)
		return err
	})
}
