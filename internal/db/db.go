package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/almanac/internal/config"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Init initializes the SQLite database at baseDir/almanac.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.almanac.
func Init(baseDir string) (*sql.DB, error) {
	// Create base directory with restricted permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	// Explicit chmod (best-effort, may not work on all platforms)
	_ = os.Chmod(baseDir, 0700)

	// Open database with pragmas in connection string (applies to all connections)
	dbPath := filepath.Join(baseDir, "almanac.db")
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify WAL mode is active
	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	// Run migrations (this creates the file if it doesn't exist)
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	// Set file permissions after file exists (best-effort)
	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// WithTx runs fn inside a transaction, committing on success.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: Initial schema (v1)
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS capsules (
		  id          TEXT PRIMARY KEY,
		  name        TEXT NOT NULL,
		  name_norm   TEXT NOT NULL,
		  owner_id    TEXT NOT NULL,
		  description TEXT,
		  created_at  INTEGER NOT NULL,
		  updated_at  INTEGER NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_capsules_name_norm
		ON capsules(name_norm);

		CREATE TABLE IF NOT EXISTS capsule_members (
		  capsule_id TEXT NOT NULL REFERENCES capsules(id) ON DELETE CASCADE,
		  user_id    TEXT NOT NULL,
		  role       TEXT NOT NULL,
		  joined_at  INTEGER NOT NULL,
		  PRIMARY KEY (capsule_id, user_id)
		);

		CREATE TABLE IF NOT EXISTS posts (
		  id          TEXT PRIMARY KEY,
		  capsule_id  TEXT NOT NULL REFERENCES capsules(id) ON DELETE CASCADE,
		  author_id   TEXT NOT NULL,
		  author_name TEXT,
		  kind        TEXT NOT NULL,
		  content     TEXT,
		  media_count INTEGER NOT NULL DEFAULT 0,
		  likes       INTEGER NOT NULL DEFAULT 0,
		  comments    INTEGER NOT NULL DEFAULT 0,
		  created_at  INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_posts_capsule_created
		ON posts(capsule_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS capsule_history_snapshots (
		  capsule_id               TEXT PRIMARY KEY REFERENCES capsules(id) ON DELETE CASCADE,
		  suggested_json           TEXT,
		  suggested_generated_at   INTEGER,
		  suggested_latest_post_at INTEGER,
		  suggested_post_count     INTEGER NOT NULL DEFAULT 0,
		  suggested_hashes_json    TEXT,
		  published_json           TEXT,
		  published_generated_at   INTEGER,
		  published_latest_post_at INTEGER,
		  published_hashes_json    TEXT,
		  published_by             TEXT,
		  published_reason         TEXT,
		  prompt_memory_json       TEXT,
		  templates_json           TEXT,
		  coverage_json            TEXT,
		  updated_at               INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_history_snapshots_generated
		ON capsule_history_snapshots(suggested_generated_at);

		CREATE TABLE IF NOT EXISTS capsule_history_section_settings (
		  capsule_id             TEXT NOT NULL REFERENCES capsules(id) ON DELETE CASCADE,
		  period                 TEXT NOT NULL,
		  notes                  TEXT,
		  excluded_post_ids_json TEXT NOT NULL DEFAULT '[]',
		  template_id            TEXT,
		  tone                   TEXT,
		  prompt_overrides_json  TEXT,
		  coverage_json          TEXT,
		  discussion_thread_url  TEXT,
		  metadata_json          TEXT,
		  updated_by             TEXT,
		  updated_at             INTEGER NOT NULL,
		  PRIMARY KEY (capsule_id, period)
		);

		CREATE TABLE IF NOT EXISTS capsule_history_pins (
		  id         TEXT PRIMARY KEY,
		  capsule_id TEXT NOT NULL REFERENCES capsules(id) ON DELETE CASCADE,
		  period     TEXT NOT NULL,
		  type       TEXT NOT NULL,
		  rank       INTEGER NOT NULL DEFAULT 0,
		  post_id    TEXT,
		  quote      TEXT,
		  source     TEXT NOT NULL,
		  note       TEXT,
		  created_by TEXT NOT NULL,
		  created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_history_pins_capsule
		ON capsule_history_pins(capsule_id, period, rank);

		CREATE TABLE IF NOT EXISTS capsule_history_exclusions (
		  id         TEXT PRIMARY KEY,
		  capsule_id TEXT NOT NULL REFERENCES capsules(id) ON DELETE CASCADE,
		  period     TEXT NOT NULL,
		  post_id    TEXT NOT NULL,
		  reason     TEXT,
		  created_by TEXT NOT NULL,
		  created_at INTEGER NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_history_exclusions_unique
		ON capsule_history_exclusions(capsule_id, period, post_id);

		CREATE TABLE IF NOT EXISTS capsule_history_edits (
		  id            TEXT PRIMARY KEY,
		  capsule_id    TEXT NOT NULL REFERENCES capsules(id) ON DELETE CASCADE,
		  period        TEXT,
		  editor_id     TEXT NOT NULL,
		  change_type   TEXT NOT NULL,
		  reason        TEXT,
		  payload_json  TEXT,
		  snapshot_json TEXT,
		  created_at    INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_history_edits_capsule
		ON capsule_history_edits(capsule_id, created_at DESC);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	// Future migrations go here:
	// if version < 2 { ... }

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
