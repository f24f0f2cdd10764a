package store

import (
	"database/sql"
	"errors"

	"github.com/rnbo-oscquery/runner/pkg/model"
)

// SetSave inserts a set on first use, or replaces its instance and connection
// rows transactionally on every subsequent save.
func (s *Store) SetSave(info model.SetInfo) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Beginx()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var setID int64
	err = tx.Get(&setID, `SELECT id FROM sets WHERE name = ? AND runner_rnbo_version = ?`, info.Name, RunnerRNBOVersion)
	if errors.Is(err, sql.ErrNoRows) {
		res, err := tx.Exec(`INSERT INTO sets (name, filename, runner_rnbo_version, meta) VALUES (?, ?, ?, ?)`,
			info.Name, info.Name+".json", RunnerRNBOVersion, info.Meta)
		if err != nil {
			return 0, err
		}
		setID, err = res.LastInsertId()
		if err != nil {
			return 0, err
		}
	} else if err != nil {
		return 0, err
	} else {
		if _, err := tx.Exec(`UPDATE sets SET meta = ? WHERE id = ?`, info.Meta, setID); err != nil {
			return 0, err
		}
		if _, err := tx.Exec(`DELETE FROM sets_patcher_instances WHERE set_id = ?`, setID); err != nil {
			return 0, err
		}
		if _, err := tx.Exec(`DELETE FROM sets_connections WHERE set_id = ?`, setID); err != nil {
			return 0, err
		}
	}

	for _, inst := range info.Instances {
		if _, err := tx.Exec(`INSERT INTO sets_patcher_instances (patcher_id, set_id, set_instance_index, config)
			VALUES (?, ?, ?, ?)`, inst.PatcherID, setID, inst.InstanceIndex, inst.ConfigJSON); err != nil {
			return 0, err
		}
	}
	for _, c := range info.Connections {
		if _, err := tx.Exec(`INSERT INTO sets_connections
			(set_id, source_name, source_instance_index, source_port_name, sink_name, sink_instance_index, sink_port_name)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			setID, c.Source.Name, c.Source.InstanceIndex, c.Source.PortName,
			c.Sink.Name, c.Sink.InstanceIndex, c.Sink.PortName); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return setID, nil
}

// nameResolver maps a set-instance index to the current patcher name, used by
// SetGet to rewrite connection endpoint names to the live patcher name.
type nameResolver func(instanceIndex int) (string, bool)

// SetGet returns the hydrated SetInfo for name, rewriting endpoint names from
// the current patcher name when an instance_index matches.
func (s *Store) SetGet(name string) (model.SetInfo, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var setID int64
	var meta sql.NullString
	err := s.db.QueryRow(`SELECT id, meta FROM sets WHERE name = ? AND runner_rnbo_version = ?`,
		name, RunnerRNBOVersion).Scan(&setID, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SetInfo{}, false, nil
	}
	if err != nil {
		return model.SetInfo{}, false, err
	}

	var instances []model.SetInstance
	if err := s.db.Select(&instances, `SELECT id, set_id, set_instance_index AS instance_index, patcher_id, config AS config_json
		FROM sets_patcher_instances WHERE set_id = ? ORDER BY set_instance_index`, setID); err != nil {
		return model.SetInfo{}, false, err
	}

	names := map[int]string{}
	for _, inst := range instances {
		var n string
		if err := s.db.Get(&n, `SELECT name FROM patchers WHERE id = ?`, inst.PatcherID); err == nil {
			names[inst.InstanceIndex] = n
		}
	}

	type connRow struct {
		SetID               int64  `db:"set_id"`
		SourceName           string `db:"source_name"`
		SourceInstanceIndex  int    `db:"source_instance_index"`
		SourcePortName       string `db:"source_port_name"`
		SinkName             string `db:"sink_name"`
		SinkInstanceIndex    int    `db:"sink_instance_index"`
		SinkPortName         string `db:"sink_port_name"`
	}
	var rows []connRow
	if err := s.db.Select(&rows, `SELECT set_id, source_name, source_instance_index, source_port_name,
		sink_name, sink_instance_index, sink_port_name FROM sets_connections WHERE set_id = ?`, setID); err != nil {
		return model.SetInfo{}, false, err
	}

	rewrite := func(idx int, fallback string) string {
		if n, ok := names[idx]; ok {
			return n
		}
		return fallback
	}

	var conns []model.SetConnection
	for _, r := range rows {
		conns = append(conns, model.SetConnection{
			SetID: setID,
			Source: model.Endpoint{
				Name:          rewrite(r.SourceInstanceIndex, r.SourceName),
				PortName:      r.SourcePortName,
				InstanceIndex: r.SourceInstanceIndex,
			},
			Sink: model.Endpoint{
				Name:          rewrite(r.SinkInstanceIndex, r.SinkName),
				PortName:      r.SinkPortName,
				InstanceIndex: r.SinkInstanceIndex,
			},
		})
	}

	return model.SetInfo{
		Name:        name,
		Meta:        meta.String,
		Instances:   instances,
		Connections: conns,
	}, true, nil
}

// SetList returns every set's id, name, version, initial flag and meta, scoped to RunnerRNBOVersion.
func (s *Store) SetList() ([]model.Set, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Set
	err := s.db.Select(&out, `SELECT id, name, runner_rnbo_version, initial, meta FROM sets
		WHERE runner_rnbo_version = ? ORDER BY name`, RunnerRNBOVersion)
	return out, err
}

// SetDestroy removes a set by name; cascade removes dependent instance,
// connection, preset and view rows.
func (s *Store) SetDestroy(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM sets WHERE name = ? AND runner_rnbo_version = ?`, name, RunnerRNBOVersion)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SetRename renames a set.
func (s *Store) SetRename(oldName, newName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE sets SET name = ? WHERE name = ? AND runner_rnbo_version = ?`,
		newName, oldName, RunnerRNBOVersion)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SetSetInitial ensures at most one set per runner version has initial=true
// (at most one initial set per runner version).
func (s *Store) SetSetInitial(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE sets SET initial = 0 WHERE runner_rnbo_version = ?`, RunnerRNBOVersion); err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE sets SET initial = 1 WHERE name = ? AND runner_rnbo_version = ?`, name, RunnerRNBOVersion); err != nil {
		return err
	}
	return tx.Commit()
}

// SetNameByOrdinal returns the set name at ordinal position index, used for
// MIDI program-change based set selection.
func (s *Store) SetNameByOrdinal(index int) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var name string
	err := s.db.Get(&name, `SELECT name FROM sets WHERE runner_rnbo_version = ?
		ORDER BY initial DESC, name ASC LIMIT 1 OFFSET ?`, RunnerRNBOVersion, index)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	return name, err == nil, err
}
