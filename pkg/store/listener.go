package store

import "github.com/rnbo-oscquery/runner/pkg/model"

// ListenerExists reports whether an (ip, port) listener is registered.
func (s *Store) ListenerExists(ip string, port uint16) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	err := s.db.Get(&n, `SELECT COUNT(*) FROM listeners WHERE ip = ? AND port = ?`, ip, port)
	return n > 0, err
}

// ListenerAdd inserts a listener; returns false without error if it already existed.
func (s *Store) ListenerAdd(ip string, port uint16) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`INSERT OR IGNORE INTO listeners (ip, port) VALUES (?, ?)`, ip, port)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListenerDel removes a listener; returns false if it was not present.
func (s *Store) ListenerDel(ip string, port uint16) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM listeners WHERE ip = ? AND port = ?`, ip, port)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListenerClear removes every listener.
func (s *Store) ListenerClear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM listeners`)
	return err
}

// ListenerList enumerates every registered listener.
func (s *Store) ListenerList() ([]model.Listener, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Listener
	err := s.db.Select(&out, `SELECT ip, port FROM listeners ORDER BY ip, port`)
	return out, err
}
