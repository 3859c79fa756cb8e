package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// migration is one (version, up-SQL) pair. Statements are split on
// ";" and executed sequentially inside a single transaction per
// migration.
type migration struct {
	Version int
	SQL     string
}

// migrationsList is strictly increasing and contiguous; runMigrations
// enforces this at init so a gap or reordering fails loudly rather
// than silently skipping a version.
var migrationsList = []migration{
	{
		Version: 1,
		SQL: `
CREATE TABLE schema_version (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL
);

CREATE TABLE backups (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	artifact_id TEXT NOT NULL UNIQUE,
	schedule TEXT NOT NULL,
	archive_filename TEXT NOT NULL,
	archive_size_bytes INTEGER NOT NULL,
	checksum TEXT NOT NULL,
	files_count INTEGER NOT NULL,
	source_paths TEXT,
	created_at TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	kind TEXT NOT NULL,
	volume_name TEXT,
	volume_was_in_use INTEGER,
	local_present INTEGER NOT NULL DEFAULT 0,
	local_location TEXT,
	local_deleted_at TEXT,
	remote_present INTEGER NOT NULL DEFAULT 0,
	remote_bucket TEXT,
	remote_key TEXT,
	remote_deleted_at TEXT
);

CREATE INDEX idx_backups_schedule ON backups(schedule, status, created_at DESC);
CREATE INDEX idx_backups_kind ON backups(kind, status, created_at DESC);

CREATE TABLE deletion_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	artifact_id TEXT NOT NULL,
	targeted TEXT NOT NULL,
	local_value TEXT,
	remote_value TEXT,
	reason TEXT NOT NULL,
	deleted_at TEXT NOT NULL,
	success INTEGER NOT NULL,
	error_text TEXT
);

CREATE INDEX idx_deletion_log_artifact ON deletion_log(artifact_id);
`,
	},
}

// CurrentVersion reports the schema version of the store at path
// without opening it through Init (and so without migrating). A
// missing file reports version 0.
func CurrentVersion(path string) (int, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return 0, fmt.Errorf("catalog: opening %s: %w", path, err)
	}
	defer func() { _ = db.Close() }()
	return readSchemaVersion(db)
}

// SchemaVersion reports the store's current schema version.
func (c *Catalog) SchemaVersion() (int, error) {
	return readSchemaVersion(c.db)
}

// LatestSchemaVersion is the version a fully migrated store carries.
func LatestSchemaVersion() int {
	return migrationsList[len(migrationsList)-1].Version
}

// readSchemaVersion returns the store's current schema version, or 0
// if the schema_version table does not exist yet.
func readSchemaVersion(db *sql.DB) (int, error) {
	var exists int
	err := db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='schema_version'`).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("catalog: checking schema_version table: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}

	var version sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&version); err != nil {
		return 0, fmt.Errorf("catalog: reading schema version: %w", err)
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}

// runMigrations applies every pending migration, each wrapped in its
// own transaction. The file-level copy/restore half of the protocol
// is left to the caller (see migrateWithRollback).
func runMigrations(db *sql.DB, current int) error {
	for i, m := range migrationsList {
		if m.Version != i+1 {
			return fmt.Errorf("catalog: migration list is not contiguous at version %d", m.Version)
		}
	}

	for _, m := range migrationsList {
		if m.Version <= current {
			continue
		}
		if err := applyMigration(db, m); err != nil {
			return fmt.Errorf("catalog: migration %d failed: %w", m.Version, err)
		}
	}
	return nil
}

func applyMigration(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range splitStatements(m.SQL) {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("executing statement %q: %w", stmt, err)
		}
	}

	if _, err := tx.Exec(
		`INSERT INTO schema_version (version, applied_at) VALUES (?, ?)`,
		m.Version, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("recording applied version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration: %w", err)
	}
	return nil
}

// splitStatements splits a migration's SQL text on statement
// terminators, dropping blank statements left by trailing semicolons.
// Comments are not stripped.
func splitStatements(sqlText string) []string {
	parts := strings.Split(sqlText, ";")
	var stmts []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		stmts = append(stmts, p)
	}
	return stmts
}
