package marker

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS markers (
	id         TEXT PRIMARY KEY,
	lat        REAL NOT NULL,
	lon        REAL NOT NULL,
	category   TEXT NOT NULL,
	note       TEXT NOT NULL DEFAULT '',
	created_at REAL NOT NULL
);
`

// SQLiteStore persists markers on disk so they survive restarts. Same
// Add/Update/ReceiveExternal semantics as MemoryStore.
type SQLiteStore struct {
	mu       sync.RWMutex
	db       *sql.DB
	syncFunc func(Marker)
}

// OpenSQLite opens (creating if necessary) the marker database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open marker db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init marker schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SetSyncFunc(fn func(Marker)) {
	s.mu.Lock()
	s.syncFunc = fn
	s.mu.Unlock()
}

func (s *SQLiteStore) ListAll() []Marker {
	rows, err := s.db.Query(`SELECT id, lat, lon, category, note, created_at FROM markers ORDER BY created_at, id`)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var out []Marker
	for rows.Next() {
		var m Marker
		if err := rows.Scan(&m.ID, &m.Lat, &m.Lon, &m.Category, &m.Note, &m.CreatedAt); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (s *SQLiteStore) Add(m Marker) error {
	if err := s.insert(m); err != nil {
		return err
	}
	s.notifySync(m)
	return nil
}

func (s *SQLiteStore) Update(m Marker) error {
	res, err := s.db.Exec(`UPDATE markers SET lat = ?, lon = ?, category = ?, note = ?, created_at = ? WHERE id = ?`,
		m.Lat, m.Lon, m.Category, m.Note, m.CreatedAt, m.ID)
	if err != nil {
		return fmt.Errorf("update marker: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update marker: %w", err)
	}
	if n == 0 {
		return ErrUnknownID
	}
	s.notifySync(m)
	return nil
}

func (s *SQLiteStore) ReceiveExternal(m Marker) error {
	return s.insert(m)
}

func (s *SQLiteStore) insert(m Marker) error {
	var exists int
	err := s.db.QueryRow(`SELECT COUNT(1) FROM markers WHERE id = ?`, m.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check marker: %w", err)
	}
	if exists > 0 {
		return ErrDuplicateID
	}
	_, err = s.db.Exec(`INSERT INTO markers (id, lat, lon, category, note, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.Lat, m.Lon, m.Category, m.Note, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert marker: %w", err)
	}
	return nil
}

func (s *SQLiteStore) notifySync(m Marker) {
	s.mu.RLock()
	fn := s.syncFunc
	s.mu.RUnlock()
	if fn != nil {
		fn(m)
	}
}
