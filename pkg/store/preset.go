package store

import (
	"database/sql"
	"errors"

	"github.com/rnbo-oscquery/runner/pkg/model"
)

// PresetNames lists a patcher's preset names with their initial flags.
func (s *Store) PresetNames(patcherID int64) ([]model.Preset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Preset
	err := s.db.Select(&out, `SELECT id, patcher_id, name, initial FROM presets
		WHERE patcher_id = ? ORDER BY initial DESC, name ASC`, patcherID)
	return out, err
}

// PresetGetByName returns one preset by (patcherID, name).
func (s *Store) PresetGetByName(patcherID int64, name string) (model.Preset, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var p model.Preset
	err := s.db.Get(&p, `SELECT id, patcher_id, name, content, initial FROM presets
		WHERE patcher_id = ? AND name = ?`, patcherID, name)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Preset{}, false, nil
	}
	return p, err == nil, err
}

// PresetGetByOrdinal returns the preset at position index: initial preset
// first (if any), then alphabetical.
func (s *Store) PresetGetByOrdinal(patcherID int64, index int) (model.Preset, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var p model.Preset
	err := s.db.Get(&p, `SELECT id, patcher_id, name, content, initial FROM presets
		WHERE patcher_id = ? ORDER BY initial DESC, name ASC LIMIT 1 OFFSET ?`, patcherID, index)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Preset{}, false, nil
	}
	return p, err == nil, err
}

// PresetSave upserts a preset by (patcherID, name).
func (s *Store) PresetSave(patcherID int64, name, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO presets (patcher_id, name, content)
		VALUES (?, ?, ?)
		ON CONFLICT (patcher_id, name) DO UPDATE SET content = excluded.content, updated_at = strftime('%s','now')`,
		patcherID, name, content)
	return err
}

// PresetRename renames a preset.
func (s *Store) PresetRename(patcherID int64, oldName, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE presets SET name = ? WHERE patcher_id = ? AND name = ?`, newName, patcherID, oldName)
	return err
}

// PresetSetInitial ensures exactly one initial preset per patcher
// invariant 2).
func (s *Store) PresetSetInitial(patcherID int64, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE presets SET initial = 0 WHERE patcher_id = ?`, patcherID); err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE presets SET initial = 1 WHERE patcher_id = ? AND name = ?`, patcherID, name); err != nil {
		return err
	}
	return tx.Commit()
}

// PresetDestroy removes one preset.
func (s *Store) PresetDestroy(patcherID int64, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM presets WHERE patcher_id = ? AND name = ?`, patcherID, name)
	return err
}
