package store

import (
	"database/sql"
	"errors"

	"github.com/rnbo-oscquery/runner/pkg/model"
)

// PatcherStore inserts a new patcher row. If migratePresetsFrom is non-zero, the
// presets of that prior row (same name/version) are copied onto the new row
// and its set-instance rows are repointed to it, mirroring the original's migrate_presets
// flag in DB::patcherStore.
func (s *Store) PatcherStore(p model.Patcher, migratePresetsFrom int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Beginx()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.NamedExec(`INSERT INTO patchers
		(name, so_path, config_path, rnbo_patch_name, runner_rnbo_version, max_rnbo_version,
		 audio_inputs, audio_outputs, midi_inputs, midi_outputs)
		VALUES (:name, :library_filename, :config_filename, :patcher_filename, :runner_rnbo_version, :max_source_version,
		 :audio_inputs, :audio_outputs, :midi_inputs, :midi_outputs)`, p)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if migratePresetsFrom != 0 {
		if _, err := tx.Exec(`INSERT INTO presets (patcher_id, name, content, initial)
			SELECT ?, name, content, initial FROM presets WHERE patcher_id = ?`, id, migratePresetsFrom); err != nil {
			return 0, err
		}
		if _, err := tx.Exec(`UPDATE sets_patcher_instances SET patcher_id = ? WHERE patcher_id = ?`, id, migratePresetsFrom); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// PatcherGetLatest returns the highest-id patcher row for name (optionally
// scoped to rnboVersion; empty means RunnerRNBOVersion).
func (s *Store) PatcherGetLatest(name, rnboVersion string) (model.Patcher, bool, error) {
	if rnboVersion == "" {
		rnboVersion = RunnerRNBOVersion
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var p model.Patcher
	err := s.db.Get(&p, `SELECT id, name, so_path AS library_filename, config_path AS config_filename,
		rnbo_patch_name AS patcher_filename, runner_rnbo_version, max_rnbo_version AS max_source_version,
		audio_inputs, audio_outputs, midi_inputs, midi_outputs, created_at
		FROM patchers WHERE name = ? AND runner_rnbo_version = ? ORDER BY id DESC LIMIT 1`, name, rnboVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Patcher{}, false, nil
	}
	if err != nil {
		return model.Patcher{}, false, err
	}
	return p, true, nil
}

// PatcherNameByIndex returns the patcher name at ordinal index, used for MIDI
// program-change based patcher selection.
func (s *Store) PatcherNameByIndex(index int) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var name string
	err := s.db.Get(&name, `SELECT DISTINCT name FROM patchers WHERE runner_rnbo_version = ?
		ORDER BY name LIMIT 1 OFFSET ?`, RunnerRNBOVersion, index)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return name, true, nil
}

// PatcherRename renames every row for oldName under RunnerRNBOVersion.
func (s *Store) PatcherRename(oldName, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE patchers SET name = ? WHERE name = ? AND runner_rnbo_version = ?`,
		newName, oldName, RunnerRNBOVersion)
	return err
}

// PatcherDestroy removes all rows for name and returns the set of filenames
// the caller must unlink. Cascade removes dependent presets and
// sets_patcher_instances rows.
func (s *Store) PatcherDestroy(name string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var files []string
	if err := s.db.Select(&files, `SELECT so_path FROM patchers WHERE name = ? AND runner_rnbo_version = ?
		UNION SELECT config_path FROM patchers WHERE name = ? AND runner_rnbo_version = ? AND config_path IS NOT NULL
		UNION SELECT rnbo_patch_name FROM patchers WHERE name = ? AND runner_rnbo_version = ? AND rnbo_patch_name IS NOT NULL`,
		name, RunnerRNBOVersion, name, RunnerRNBOVersion, name, RunnerRNBOVersion); err != nil {
		return nil, err
	}

	_, err := s.db.Exec(`DELETE FROM patchers WHERE name = ? AND runner_rnbo_version = ?`, name, RunnerRNBOVersion)
	if err != nil {
		return nil, err
	}
	return files, nil
}

// PatcherList returns every patcher's latest row, scoped to RunnerRNBOVersion.
func (s *Store) PatcherList() ([]model.Patcher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Patcher
	err := s.db.Select(&out, `SELECT p.id, p.name, p.so_path AS library_filename, p.config_path AS config_filename,
		p.rnbo_patch_name AS patcher_filename, p.runner_rnbo_version, p.max_rnbo_version AS max_source_version,
		p.audio_inputs, p.audio_outputs, p.midi_inputs, p.midi_outputs, p.created_at
		FROM patchers p
		INNER JOIN (SELECT name, MAX(id) AS id FROM patchers WHERE runner_rnbo_version = ? GROUP BY name) latest
		ON p.id = latest.id
		ORDER BY p.name`, RunnerRNBOVersion)
	return out, err
}
