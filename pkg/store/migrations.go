package store

import "github.com/jmoiron/sqlx"

type migration struct {
	id    int
	apply func(*sqlx.Tx) error
}

// migrations reproduces, schema-version-for-version, the ladder in the
// original C++ runner's src/DB.cpp (migrations 2..16; 1 is the initial
// version-entry row created implicitly by store.migrate).
var migrations = []migration{
	{2, func(tx *sqlx.Tx) error {
		_, err := tx.Exec(`CREATE TABLE IF NOT EXISTS patchers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			so_path TEXT NOT NULL,
			config_path TEXT,
			runner_rnbo_version TEXT NOT NULL,
			max_rnbo_version TEXT NOT NULL,
			created_at REAL DEFAULT (strftime('%s','now'))
		)`)
		return err
	}},
	{3, func(tx *sqlx.Tx) error {
		if _, err := tx.Exec(`CREATE INDEX patcher_version ON patchers(runner_rnbo_version)`); err != nil {
			return err
		}
		_, err := tx.Exec(`CREATE INDEX patcher_name_version ON patchers(name, runner_rnbo_version)`)
		return err
	}},
	{4, func(tx *sqlx.Tx) error {
		for _, col := range []string{"audio_inputs", "audio_outputs", "midi_inputs", "midi_outputs"} {
			if _, err := tx.Exec(`ALTER TABLE patchers ADD COLUMN ` + col + ` INTEGER DEFAULT 0`); err != nil {
				return err
			}
		}
		return nil
	}},
	{5, func(tx *sqlx.Tx) error {
		if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS sets (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			filename TEXT NOT NULL,
			runner_rnbo_version TEXT NOT NULL,
			created_at REAL DEFAULT (strftime('%s','now'))
		)`); err != nil {
			return err
		}
		if _, err := tx.Exec(`CREATE INDEX set_version ON sets(runner_rnbo_version)`); err != nil {
			return err
		}
		_, err := tx.Exec(`CREATE INDEX set_name_version ON sets(name, runner_rnbo_version)`)
		return err
	}},
	{6, func(tx *sqlx.Tx) error {
		if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS presets (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			patcher_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			content TEXT NOT NULL,
			initial INTEGER NOT NULL DEFAULT 0,
			created_at REAL DEFAULT (strftime('%s','now')),
			updated_at REAL DEFAULT (strftime('%s','now')),
			FOREIGN KEY (patcher_id) REFERENCES patchers(id),
			UNIQUE (patcher_id, name)
		)`); err != nil {
			return err
		}
		_, err := tx.Exec(`CREATE INDEX preset_patcher_id ON presets(patcher_id)`)
		return err
	}},
	{7, func(tx *sqlx.Tx) error {
		// Rebuild presets with ON DELETE CASCADE (sqlite cannot ALTER a FK in place).
		stmts := []string{
			`ALTER TABLE presets RENAME TO _presets_old`,
			`CREATE TABLE presets (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				patcher_id INTEGER NOT NULL,
				name TEXT NOT NULL,
				content TEXT NOT NULL,
				initial INTEGER NOT NULL DEFAULT 0,
				created_at REAL DEFAULT (strftime('%s','now')),
				updated_at REAL DEFAULT (strftime('%s','now')),
				FOREIGN KEY (patcher_id) REFERENCES patchers(id) ON DELETE CASCADE,
				UNIQUE (patcher_id, name)
			)`,
			`INSERT INTO presets SELECT * FROM _presets_old`,
		}
		for _, s := range stmts {
			if _, err := tx.Exec(s); err != nil {
				return err
			}
		}
		return nil
	}},
	{8, func(tx *sqlx.Tx) error {
		_, err := tx.Exec(`ALTER TABLE patchers ADD COLUMN rnbo_patch_name TEXT`)
		return err
	}},
	{9, func(tx *sqlx.Tx) error {
		_, err := tx.Exec(`DROP TABLE _presets_old`)
		return err
	}},
	{10, func(tx *sqlx.Tx) error {
		_, err := tx.Exec(`CREATE TABLE listeners (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ip TEXT NOT NULL,
			port INTEGER NOT NULL,
			UNIQUE (ip, port)
		)`)
		return err
	}},
	{11, func(tx *sqlx.Tx) error {
		if _, err := tx.Exec(`CREATE TABLE sets_presets (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			patcher_id INTEGER NOT NULL,
			set_id INTEGER NOT NULL,
			set_instance_index INTEGER NOT NULL,
			name TEXT NOT NULL,
			content TEXT NOT NULL,
			initial INTEGER NOT NULL DEFAULT 0,
			created_at REAL DEFAULT (strftime('%s','now')),
			updated_at REAL DEFAULT (strftime('%s','now')),
			FOREIGN KEY (patcher_id) REFERENCES patchers(id) ON DELETE CASCADE,
			FOREIGN KEY (set_id) REFERENCES sets(id) ON DELETE CASCADE,
			UNIQUE (patcher_id, set_id, set_instance_index, name)
		)`); err != nil {
			return err
		}
		if _, err := tx.Exec(`CREATE INDEX set_preset_set_id ON sets_presets(set_id)`); err != nil {
			return err
		}
		_, err := tx.Exec(`CREATE INDEX set_preset_patcher_id_instance_index ON sets_presets(patcher_id, set_id, set_instance_index)`)
		return err
	}},
	{12, func(tx *sqlx.Tx) error {
		if _, err := tx.Exec(`ALTER TABLE sets ADD COLUMN meta TEXT`); err != nil {
			return err
		}
		if _, err := tx.Exec(`CREATE TABLE sets_patcher_instances (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			patcher_id INTEGER NOT NULL,
			set_id INTEGER NOT NULL,
			set_instance_index INTEGER NOT NULL,
			config TEXT NOT NULL,
			FOREIGN KEY (patcher_id) REFERENCES patchers(id) ON DELETE CASCADE,
			FOREIGN KEY (set_id) REFERENCES sets(id) ON DELETE CASCADE,
			UNIQUE (set_id, set_instance_index)
		)`); err != nil {
			return err
		}
		_, err := tx.Exec(`CREATE TABLE sets_connections (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			set_id INTEGER NOT NULL,
			source_name TEXT NOT NULL,
			source_instance_index INTEGER,
			source_port_name TEXT NOT NULL,
			sink_name TEXT NOT NULL,
			sink_instance_index INTEGER,
			sink_port_name TEXT NOT NULL,
			FOREIGN KEY (set_id) REFERENCES sets(id) ON DELETE CASCADE,
			UNIQUE (set_id, source_name, source_port_name, sink_name, sink_port_name)
		)`)
		return err
	}},
	{13, func(tx *sqlx.Tx) error {
		if _, err := tx.Exec(`ALTER TABLE sets ADD COLUMN initial INTEGER DEFAULT 0`); err != nil {
			return err
		}
		_, err := tx.Exec(`UPDATE sets SET initial=0`)
		return err
	}},
	{14, func(tx *sqlx.Tx) error {
		_, err := tx.Exec(`ALTER TABLE sets_presets ADD COLUMN preset_name TEXT DEFAULT NULL`)
		return err
	}},
	{15, func(tx *sqlx.Tx) error {
		_, err := tx.Exec(`CREATE TABLE sets_views (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			params TEXT NOT NULL,
			name TEXT NOT NULL,
			set_id INTEGER NOT NULL,
			view_index INTEGER NOT NULL,
			sort_order INTEGER NOT NULL DEFAULT 100,
			FOREIGN KEY (set_id) REFERENCES sets(id) ON DELETE CASCADE,
			UNIQUE (set_id, view_index)
		)`)
		return err
	}},
	{16, func(tx *sqlx.Tx) error {
		_, err := tx.Exec(`CREATE TABLE data_migrations (
			runner_rnbo_version TEXT NOT NULL,
			data_rnbo_version TEXT NOT NULL,
			UNIQUE (data_rnbo_version)
		)`)
		return err
	}},
}
