package store

import (
	"database/sql"
	"errors"

	"github.com/rnbo-oscquery/runner/pkg/model"
)

// SetPresetNames lists a set's preset names, "initial" ordered first.
func (s *Store) SetPresetNames(setID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	err := s.db.Select(&out, `SELECT DISTINCT name FROM sets_presets
		WHERE set_id = ? ORDER BY initial DESC, name ASC`, setID)
	return out, err
}

// SetPresetGetByOrdinal returns the set-preset name at position index.
func (s *Store) SetPresetGetByOrdinal(setID int64, index int) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var name string
	err := s.db.Get(&name, `SELECT DISTINCT name FROM sets_presets
		WHERE set_id = ? ORDER BY initial DESC, name ASC LIMIT 1 OFFSET ?`, setID, index)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	return name, err == nil, err
}

// SetPresetGet returns the entry for (setID, name, instanceIndex), if any.
func (s *Store) SetPresetGet(setID int64, name string, instanceIndex int) (model.SetPreset, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sp model.SetPreset
	err := s.db.Get(&sp, `SELECT id, set_id, name, set_instance_index AS instance_index, content,
		preset_name AS patcher_preset, initial FROM sets_presets
		WHERE set_id = ? AND name = ? AND set_instance_index = ?`, setID, name, instanceIndex)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SetPreset{}, false, nil
	}
	return sp, err == nil, err
}

// SetPresetSave upserts on (patcher_id, set_id, set_instance_index, name).
func (s *Store) SetPresetSave(patcherID, setID int64, instanceIndex int, name, content, patcherPreset string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO sets_presets
		(patcher_id, set_id, set_instance_index, name, content, preset_name)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (patcher_id, set_id, set_instance_index, name)
		DO UPDATE SET content = excluded.content, preset_name = excluded.preset_name, updated_at = strftime('%s','now')`,
		patcherID, setID, instanceIndex, name, content, nullableString(patcherPreset))
	return err
}

// SetPresetRename renames every row sharing (setID, oldName) to newName.
func (s *Store) SetPresetRename(setID int64, oldName, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE sets_presets SET name = ? WHERE set_id = ? AND name = ?`, newName, setID, oldName)
	return err
}

// SetPresetDestroy removes one named set-preset (all instance rows), or every
// set-preset for the set when name is empty.
func (s *Store) SetPresetDestroy(setID int64, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if name == "" {
		_, err := s.db.Exec(`DELETE FROM sets_presets WHERE set_id = ?`, setID)
		return err
	}
	_, err := s.db.Exec(`DELETE FROM sets_presets WHERE set_id = ? AND name = ?`, setID, name)
	return err
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
