package store

import (
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/rnbo-oscquery/runner/pkg/model"
)

// SetViewIndexes returns the set's view indexes in sort order.
func (s *Store) SetViewIndexes(setID int64) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []int
	err := s.db.Select(&out, `SELECT view_index FROM sets_views WHERE set_id = ? ORDER BY sort_order, view_index`, setID)
	return out, err
}

func scanView(row *sql.Rows) (model.SetView, error) {
	var v model.SetView
	var paramsJSON string
	if err := row.Scan(&v.ID, &v.SetID, &v.ViewIndex, &v.Name, &paramsJSON, &v.SortOrder); err != nil {
		return v, err
	}
	_ = json.Unmarshal([]byte(paramsJSON), &v.Params)
	return v, nil
}

// SetViewGet returns one view by index.
func (s *Store) SetViewGet(setID int64, index int) (model.SetView, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT id, set_id, view_index, name, params, sort_order
		FROM sets_views WHERE set_id = ? AND view_index = ?`, setID, index)
	if err != nil {
		return model.SetView{}, false, err
	}
	defer rows.Close()
	if !rows.Next() {
		return model.SetView{}, false, nil
	}
	v, err := scanView(rows)
	return v, err == nil, err
}

// SetViewCreate creates a view, auto-assigning the next index when requested
// (index < 0).
func (s *Store) SetViewCreate(setID int64, index int, name string, params []model.ParamRef) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 {
		var max sql.NullInt64
		if err := s.db.Get(&max, `SELECT MAX(view_index) FROM sets_views WHERE set_id = ?`, setID); err != nil {
			return 0, err
		}
		index = int(max.Int64) + 1
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return 0, err
	}
	_, err = s.db.Exec(`INSERT INTO sets_views (set_id, view_index, name, params, sort_order)
		VALUES (?, ?, ?, ?, 100)`, setID, index, name, string(paramsJSON))
	if err != nil {
		return 0, err
	}
	return index, nil
}

// SetViewUpdateParams replaces the param list of a view.
func (s *Store) SetViewUpdateParams(setID int64, index int, params []model.ParamRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`UPDATE sets_views SET params = ? WHERE set_id = ? AND view_index = ?`, string(paramsJSON), setID, index)
	return err
}

// SetViewUpdateName renames a view.
func (s *Store) SetViewUpdateName(setID int64, index int, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE sets_views SET name = ? WHERE set_id = ? AND view_index = ?`, name, setID, index)
	return err
}

// SetViewDestroy removes one view (index >= 0) or all views of the set
// (index < 0).
func (s *Store) SetViewDestroy(setID int64, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 {
		_, err := s.db.Exec(`DELETE FROM sets_views WHERE set_id = ?`, setID)
		return err
	}
	_, err := s.db.Exec(`DELETE FROM sets_views WHERE set_id = ? AND view_index = ?`, setID, index)
	return err
}

// SetViewUpdateSortOrder sets the sort order of a view, returning whether the
// stored order actually changed.
func (s *Store) SetViewUpdateSortOrder(setID int64, index, sortOrder int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int
	err := s.db.Get(&current, `SELECT sort_order FROM sets_views WHERE set_id = ? AND view_index = ?`, setID, index)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if current == sortOrder {
		return false, nil
	}
	_, err = s.db.Exec(`UPDATE sets_views SET sort_order = ? WHERE set_id = ? AND view_index = ?`, sortOrder, setID, index)
	return err == nil, err
}

// SetViewCopyAll copies every view from fromSetID to toSetID, preserving
// indexes (used by package install and set-save-as).
func (s *Store) SetViewCopyAll(fromSetID, toSetID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO sets_views (set_id, view_index, name, params, sort_order)
		SELECT ?, view_index, name, params, sort_order FROM sets_views WHERE set_id = ?`, toSetID, fromSetID)
	return err
}
