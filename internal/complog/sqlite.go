package complog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS compilations (
  id      TEXT PRIMARY KEY,
  method  TEXT NOT NULL,
  started INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
  compile_id TEXT NOT NULL REFERENCES compilations(id),
  seq        INTEGER NOT NULL,
  name       TEXT NOT NULL,
  attrs      TEXT NOT NULL,
  PRIMARY KEY (compile_id, seq)
);`

// Store keeps compile logs in a sqlite database.
type Store struct {
	db *sql.DB
}

func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("complog: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Begin(c Compilation) error {
	_, err := s.db.Exec("INSERT INTO compilations (id, method, started) VALUES (?, ?, ?)",
		c.ID, c.Method, c.Started.UnixNano())
	return err
}

func (s *Store) Write(e Event) error {
	attrs, err := json.Marshal(e.Attrs)
	if err != nil {
		return err
	}
	_, err = s.db.Exec("INSERT INTO events (compile_id, seq, name, attrs) VALUES (?, ?, ?, ?)",
		e.CompileID, e.Seq, e.Name, string(attrs))
	return err
}

// Compilations lists logged compilations, oldest first. An empty method
// matches every method.
func (s *Store) Compilations(method string) ([]Compilation, error) {
	q := "SELECT id, method, started FROM compilations"
	var args []any
	if method != "" {
		q += " WHERE method = ?"
		args = append(args, method)
	}
	q += " ORDER BY started, id"
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Compilation
	for rows.Next() {
		var c Compilation
		var started int64
		if err := rows.Scan(&c.ID, &c.Method, &started); err != nil {
			return nil, err
		}
		c.Started = time.Unix(0, started)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Events returns the elements of one compilation in log order.
func (s *Store) Events(compileID string) ([]Event, error) {
	rows, err := s.db.Query("SELECT seq, name, attrs FROM events WHERE compile_id = ? ORDER BY seq", compileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		e := Event{CompileID: compileID}
		var attrs string
		if err := rows.Scan(&e.Seq, &e.Name, &attrs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(attrs), &e.Attrs); err != nil {
			return nil, fmt.Errorf("complog: event %d: %w", e.Seq, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Counts returns how often each element name was logged across compilations.
func (s *Store) Counts() (map[string]int, error) {
	rows, err := s.db.Query("SELECT name, COUNT(*) FROM events GROUP BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		out[name] = n
	}
	return out, rows.Err()
}
