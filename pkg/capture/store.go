// Package capture stores decoded bench sessions in SQLite: one row
// per session keyed by UUID, one row per completed engine cycle with
// its decode statistics. The store is a tuning log, not a hot path;
// the decoder never touches it directly.
package capture

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"engine-position-go/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	started_at TIMESTAMP NOT NULL,
	ended_at   TIMESTAMP,
	wheel      TEXT NOT NULL,
	notes      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS cycles (
	session_id       TEXT NOT NULL REFERENCES sessions(id),
	cycle            INTEGER NOT NULL,
	teeth            INTEGER NOT NULL,
	timeouts         INTEGER NOT NULL,
	stalls           INTEGER NOT NULL,
	mean_period_norm REAL NOT NULL,
	PRIMARY KEY (session_id, cycle)
);
`

// Store is the session database.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path. WAL mode keeps reads
// concurrent with the session writer; a single connection avoids
// SQLITE_BUSY on the writer.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.CaptureStoreError("open", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.CaptureStoreError("connect", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.CaptureStoreError("pragma", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.CaptureStoreError("schema", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Session is one bench run.
type Session struct {
	ID        string
	StartedAt time.Time
	EndedAt   *time.Time
	Wheel     string
	Notes     string
}

// CycleStats is the decode summary of one engine cycle.
type CycleStats struct {
	SessionID      string
	Cycle          uint64
	Teeth          uint64
	Timeouts       uint64
	Stalls         uint64
	MeanPeriodNorm float64
}

// BeginSession creates a session row and returns it with a fresh
// UUID.
func (s *Store) BeginSession(ctx context.Context, wheel, notes string) (*Session, error) {
	sess := &Session{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Wheel:     wheel,
		Notes:     notes,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, started_at, wheel, notes) VALUES (?, ?, ?, ?)`,
		sess.ID, sess.StartedAt, sess.Wheel, sess.Notes)
	if err != nil {
		return nil, errors.CaptureStoreError("begin session", err)
	}
	return sess, nil
}

// EndSession stamps the session's end time.
func (s *Store) EndSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return errors.CaptureStoreError("end session", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.CaptureStoreError("end session", sql.ErrNoRows)
	}
	return nil
}

// RecordCycle appends one cycle's statistics.
func (s *Store) RecordCycle(ctx context.Context, cs CycleStats) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cycles (session_id, cycle, teeth, timeouts, stalls, mean_period_norm)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		cs.SessionID, cs.Cycle, cs.Teeth, cs.Timeouts, cs.Stalls, cs.MeanPeriodNorm)
	if err != nil {
		return errors.CaptureStoreError("record cycle", err)
	}
	return nil
}

// SessionCycles returns a session's cycles in cycle order.
func (s *Store) SessionCycles(ctx context.Context, sessionID string) ([]CycleStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, cycle, teeth, timeouts, stalls, mean_period_norm
		 FROM cycles WHERE session_id = ? ORDER BY cycle`, sessionID)
	if err != nil {
		return nil, errors.CaptureStoreError("query cycles", err)
	}
	defer rows.Close()

	var out []CycleStats
	for rows.Next() {
		var cs CycleStats
		if err := rows.Scan(&cs.SessionID, &cs.Cycle, &cs.Teeth, &cs.Timeouts,
			&cs.Stalls, &cs.MeanPeriodNorm); err != nil {
			return nil, errors.CaptureStoreError("scan cycle", err)
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

// Sessions returns all sessions, newest first.
func (s *Store) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, ended_at, wheel, notes FROM sessions ORDER BY started_at DESC`)
	if err != nil {
		return nil, errors.CaptureStoreError("query sessions", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.StartedAt, &sess.EndedAt,
			&sess.Wheel, &sess.Notes); err != nil {
			return nil, errors.CaptureStoreError("scan session", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}
