// Package store is the SQLite-backed persistence layer: a
// single file-backed relational store with a linear migration ladder, opened
// read-write-create, with foreign keys enforced and cascade deletes. Grounded
// on the teacher's use of jmoiron/sqlx for row scanning (pkg/client/devices.go,
// servers.go) and on the original C++ runner's src/DB.cpp migration ladder,
// which this package's migrations.go reproduces schema-version-for-version.
package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Store serializes all access through a single mutex ("All
// public methods serialize on a single store mutex.").
type Store struct {
	mu  sync.Mutex
	db  *sqlx.DB
	log logr.Logger

	backupDir string
}

// Open opens (creating if necessary) the SQLite file at path, runs the
// migration ladder, and returns a ready Store.
func Open(path, backupDir string, log logr.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	db, err := sqlx.Connect("sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on", path))
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, log: log, backupDir: backupDir}
	if err := s.migrate(path); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(dbPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS migrations (
		id INTEGER PRIMARY KEY,
		rnbo_version TEXT NOT NULL,
		created_at REAL DEFAULT (strftime('%s','now'))
	)`); err != nil {
		return err
	}

	var current int
	if err := s.db.Get(&current, `SELECT COALESCE(MAX(id), 0) FROM migrations`); err != nil {
		return err
	}

	backedUp := current <= 1
	for _, m := range migrations {
		if current >= m.id {
			continue
		}
		if !backedUp {
			if err := s.backupFile(dbPath, current); err != nil {
				s.log.Error(err, "failed to back up database before migrating", "path", dbPath)
			}
			backedUp = true
		}
		tx, err := s.db.Beginx()
		if err != nil {
			return err
		}
		if err := m.apply(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", m.id, err)
		}
		if _, err := tx.Exec(`INSERT INTO migrations (id, rnbo_version) VALUES (?, ?)`, m.id, RunnerRNBOVersion); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}

	_, err := s.db.Exec(`PRAGMA foreign_keys=on`)
	return err
}

func (s *Store) backupFile(dbPath string, version int) error {
	dir := filepath.Join(s.backupDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	dst := filepath.Join(dir, fmt.Sprintf("runner-dbversion-%d-%d.sqlite", version, time.Now().Unix()))
	in, err := os.Open(dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

// RunnerRNBOVersion is the runner's own build version, stamped into migration
// rows and used as the default scope for patcher/set queries. Overridable for
// tests.
var RunnerRNBOVersion = "dev"
