// Package database provides SQLite database access for the crowd-monitoring
// pipeline's persisted state: analytics samples, alerts, zones,
// entry/exit events and cross-camera movements.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps *sql.DB with the WAL-mode pragmas, transaction helper, and
// maintenance operations (`Vacuum`/`Analyze`/`Checkpoint`) the rest of
// the tree calls into rather than reaching for database/sql directly.
type DB struct {
	*sql.DB
	path   string
	logger *slog.Logger
}

// Config holds database configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns the default database configuration
func DefaultConfig(dataDir string) *Config {
	return &Config{
		Path:            filepath.Join(dataDir, "crowdwatch.db"),
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// Open opens cfg.Path, applying the WAL pragmas the ingest/analytics
// write path needs to avoid serializing every frame's writes behind a
// single lock.
func Open(cfg *Config) (*DB, error) {
	logger := slog.Default().With("component", "database")

	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=ON", cfg.Path)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA cache_size = -64000", // 64MB page cache
		"PRAGMA temp_store = MEMORY",
		"PRAGMA mmap_size = 268435456", // 256MB mmap
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			logger.Warn("set pragma failed", "pragma", pragma, "error", err)
		}
	}

	logger.Info("database opened", "path", cfg.Path)

	return &DB{
		DB:     db,
		path:   cfg.Path,
		logger: logger,
	}, nil
}

// Close closes the underlying connection pool.
func (db *DB) Close() error {
	db.logger.Info("closing database")
	return db.DB.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Health reports whether the database is reachable within 5s, the
// liveness check GET /health delegates to.
func (db *DB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return db.PingContext(ctx)
}

// Stats exposes the connection pool counters GET /health reports.
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// Vacuum rebuilds the database file to reclaim space freed by deleted
// rows (old analytics_samples/detections past their retention window).
// Not scheduled automatically — it locks the whole database for the
// duration, so it's left as an operator-triggered maintenance step
// rather than run on cmd/crowdwatch's periodic timer.
func (db *DB) Vacuum(ctx context.Context) error {
	db.logger.Info("vacuum starting")
	start := time.Now()

	if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}

	db.logger.Info("vacuum completed", "duration", time.Since(start))
	return nil
}

// Analyze refreshes the query planner's table statistics; run
// periodically by cmd/crowdwatch as analytics_samples/detections grow.
func (db *DB) Analyze(ctx context.Context) error {
	db.logger.Info("analyze starting")
	_, err := db.ExecContext(ctx, "ANALYZE")
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}
	db.logger.Info("analyze completed")
	return nil
}

// Transaction runs fn inside a transaction, rolling back on error or
// panic recovery upstream and committing otherwise.
func (db *DB) Transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

// GetSize returns the database file size in bytes, reported by
// GET /health alongside connection pool stats.
func (db *DB) GetSize() (int64, error) {
	info, err := os.Stat(db.path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Checkpoint forces a WAL checkpoint, truncating the WAL file back to
// empty; run periodically by cmd/crowdwatch alongside Analyze.
func (db *DB) Checkpoint(ctx context.Context) error {
	_, err := db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}
