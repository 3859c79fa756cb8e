// Package catalog is the durable record of every backup artifact: its
// storage locations, checksums, and deletion lifecycle. It is the
// single source of truth the cleanup orchestrator, safety validator,
// and CLI listing commands all read from.
//
// Storage is sqlite via github.com/ncruces/go-sqlite3, a pure-Go
// driver, opened with write-ahead logging and foreign keys on.
package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrNotFound is returned by Get when no record matches.
var ErrNotFound = errors.New("catalog: artifact not found")

// Catalog is a handle to one open sqlite store.
type Catalog struct {
	db   *sql.DB
	path string
}

// Init opens or creates the store at path, enables WAL and foreign
// keys, and brings the schema to the latest version via the migration
// protocol below. Failure is unrecoverable and is surfaced to
// the caller as-is.
func Init(path string) (*Catalog, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("catalog: creating directory: %w", err)
		}
	}

	db, err := openPragma(path)
	if err != nil {
		return nil, err
	}

	if err := migrateWithRollback(path, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Catalog{db: db, path: path}, nil
}

func openPragma(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("catalog: opening %s: %w", path, err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalog: enabling WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalog: enabling foreign keys: %w", err)
	}
	return db, nil
}

// migrateWithRollback implements the file-copy/restore half of the
// migration protocol: before any pending migration runs, the store
// file is copied to a sibling backup path; on success the backup is
// removed, on failure the original is restored and the caller's db
// handle is no longer usable.
func migrateWithRollback(path string, db *sql.DB) error {
	current, err := readSchemaVersion(db)
	if err != nil {
		return err
	}

	pending := false
	for _, m := range migrationsList {
		if m.Version > current {
			pending = true
			break
		}
	}
	if !pending {
		return nil
	}

	backupPath := path + ".migration-backup"
	if err := copyFile(path, backupPath); err != nil {
		return fmt.Errorf("catalog: backing up store before migration: %w", err)
	}

	if err := runMigrations(db, current); err != nil {
		restoreErr := restoreFile(backupPath, path)
		if restoreErr != nil {
			return fmt.Errorf("catalog: migration failed (%w) and rollback restore failed: %v", err, restoreErr)
		}
		return fmt.Errorf("catalog: migration failed, store restored from backup: %w", err)
	}

	_ = os.Remove(backupPath)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if errors.Is(err, os.ErrNotExist) {
		// A brand-new store has nothing to back up yet; an empty
		// backup still lets restoreFile produce a valid (empty) file.
		return os.WriteFile(dst, nil, 0640)
	}
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0640)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	_, err = io.Copy(out, in)
	return err
}

func restoreFile(backupPath, path string) error {
	return os.Rename(backupPath, path)
}

// Close releases the underlying database handle.
func (c *Catalog) Close() error {
	return c.db.Close()
}
