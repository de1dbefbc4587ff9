package stats

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// History persists statistics snapshots to SQLite so runs can be compared.
type History struct {
	db    *sql.DB
	path  string
	runID string

	mu     sync.Mutex
	closed bool
}

// HistoryEntry is one stored sample.
type HistoryEntry struct {
	RunID string
	At    time.Time
	Stat  Stat
}

// OpenHistory opens (or creates) a history database at path. Every sample
// recorded through the returned History is tagged with runID.
func OpenHistory(path, runID string) (*History, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	h := &History{db: db, path: path, runID: runID}
	if err := h.init(); err != nil {
		db.Close()
		return nil, err
	}
	return h, nil
}

func (h *History) init() error {
	_, err := h.db.Exec(`
		CREATE TABLE IF NOT EXISTS samples (
			run     TEXT NOT NULL,
			at      INTEGER NOT NULL,
			name    TEXT NOT NULL,
			kind    INTEGER NOT NULL,
			value   REAL NOT NULL
		);
		CREATE INDEX IF NOT EXISTS samples_name ON samples (name, at);
	`)
	if err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// Record stores one snapshot in a single transaction.
func (h *History) Record(at time.Time, snapshot []Stat) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return fmt.Errorf("record history: %w", sql.ErrConnDone)
	}
	if len(snapshot) == 0 {
		return nil
	}

	tx, err := h.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	stmt, err := tx.Prepare("INSERT INTO samples (run, at, name, kind, value) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, s := range snapshot {
		if _, err := stmt.Exec(h.runID, at.UnixNano(), s.Name, int(s.Kind), s.Value); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert %s: %w", s.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Series returns every stored sample called name, oldest first.
func (h *History) Series(name string) ([]HistoryEntry, error) {
	rows, err := h.db.Query(
		"SELECT run, at, kind, value FROM samples WHERE name = ? ORDER BY at, rowid", name,
	)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", name, err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var (
			e    HistoryEntry
			at   int64
			kind int
		)
		if err := rows.Scan(&e.RunID, &at, &kind, &e.Stat.Value); err != nil {
			return nil, fmt.Errorf("scan %s: %w", name, err)
		}
		e.At = time.Unix(0, at)
		e.Stat.Name = name
		e.Stat.Kind = Kind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database.
func (h *History) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.db.Close()
}

// Path returns the path to the history database file.
func (h *History) Path() string {
	return h.path
}

// DefaultHistoryPath returns $XDG_STATE_HOME/streamio/history.db, falling
// back to the temp dir.
func DefaultHistoryPath() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "streamio", "history.db")
	}
	return filepath.Join(os.TempDir(), "streamio-history.db")
}
