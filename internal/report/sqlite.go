package report

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmgilman/go/errors"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	command    TEXT NOT NULL,
	exit_code  INTEGER NOT NULL,
	accepted   INTEGER NOT NULL,
	started_at INTEGER NOT NULL,
	data       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// SQLiteStore keeps run history in a SQLite database. The full record is
// stored as JSON next to a few columns for listing. started_at holds Unix
// nanoseconds.
type SQLiteStore struct {
	mu   sync.RWMutex
	conn *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the database at path and applies
// the schema. WAL mode is enabled for concurrent readers.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "open database")
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, errors.CodeDatabase, "enable WAL mode")
	}
	if _, err := conn.Exec(sqliteSchema); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, errors.CodeDatabase, "apply schema")
	}
	return &SQLiteStore{conn: conn, path: path}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

func (s *SQLiteStore) Save(result *RunResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshalling run %s: %w", result.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.conn.Exec(`
		INSERT OR REPLACE INTO runs (id, command, exit_code, accepted, started_at, data)
		VALUES (?, ?, ?, ?, ?, ?)`,
		result.ID, result.Command, result.ExitCode, result.Accepted, result.StartedAt.UnixNano(), string(data))
	if err != nil {
		return errors.Wrapf(err, errors.CodeDatabase, "saving run %s", result.ID)
	}
	return nil
}

func (s *SQLiteStore) Load(runID string) (*RunResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	err := s.conn.QueryRow(`SELECT data FROM runs WHERE id = ?`, runID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(runID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeDatabase, "loading run %s", runID)
	}

	var result RunResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		return nil, fmt.Errorf("unmarshalling run %s: %w", runID, err)
	}
	return &result, nil
}

// Recent lists up to limit runs, newest first.
func (s *SQLiteStore) Recent(limit int) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query(`
		SELECT id, command, exit_code, accepted, started_at
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "listing runs")
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum     Summary
			started int64
		)
		if err := rows.Scan(&sum.ID, &sum.Command, &sum.ExitCode, &sum.Accepted, &started); err != nil {
			return nil, errors.Wrap(err, errors.CodeDatabase, "scanning run")
		}
		sum.StartedAt = time.Unix(0, started)
		out = append(out, sum)
	}
	return out, rows.Err()
}
