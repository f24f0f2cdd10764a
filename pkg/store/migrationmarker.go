package store

import (
	"database/sql"
	"errors"
)

// DataMigrationAvailable reports the most recent older runner_rnbo_version
// that still has un-migrated data, if any (drives the "migration available"
// indicator).
func (s *Store) DataMigrationAvailable() (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var version string
	err := s.db.Get(&version, `SELECT DISTINCT runner_rnbo_version FROM patchers
		WHERE runner_rnbo_version != ?
		AND runner_rnbo_version NOT IN (SELECT data_rnbo_version FROM data_migrations)
		ORDER BY runner_rnbo_version DESC LIMIT 1`, RunnerRNBOVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	return version, err == nil, err
}

// DataMigrationMarkAll marks every older version migrated.
func (s *Store) DataMigrationMarkAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT OR IGNORE INTO data_migrations (runner_rnbo_version, data_rnbo_version)
		SELECT ?, runner_rnbo_version FROM patchers WHERE runner_rnbo_version != ? GROUP BY runner_rnbo_version`,
		RunnerRNBOVersion, RunnerRNBOVersion)
	return err
}

// RNBOVersions lists every distinct runner_rnbo_version recorded in patchers.
func (s *Store) RNBOVersions() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	err := s.db.Select(&out, `SELECT DISTINCT runner_rnbo_version FROM patchers ORDER BY id DESC`)
	return out, err
}
