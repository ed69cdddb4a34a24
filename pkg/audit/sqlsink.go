package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS audit (
	id      TEXT PRIMARY KEY,
	ts      INTEGER NOT NULL,
	service TEXT NOT NULL,
	actor   TEXT NOT NULL,
	account TEXT NOT NULL DEFAULT '',
	channel TEXT NOT NULL DEFAULT '',
	action  TEXT NOT NULL,
	detail  TEXT NOT NULL DEFAULT '',
	denied  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS audit_channel_ts ON audit (channel, ts);`

// SQLSink stores entries in a SQLite database.
type SQLSink struct {
	db      *sql.DB
	mu      sync.Mutex
	path    string
	timeout time.Duration
}

// OpenSQLSink opens a SQLite database, sets WAL mode and busy timeout,
// and creates the audit table.
func OpenSQLSink(path string, timeout time.Duration) (*SQLSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: opening sqlite %s: %w", path, err)
	}
	// A single connection keeps in-memory databases coherent.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: setting WAL mode: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", timeout.Milliseconds())); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: creating schema: %w", err)
	}
	return &SQLSink{db: db, path: path, timeout: timeout}, nil
}

// Close closes the database connection.
func (s *SQLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the filesystem path of the SQLite database.
func (s *SQLSink) Path() string { return s.path }

func (s *SQLSink) Write(ctx context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	denied := 0
	if e.Denied {
		denied = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit (id, ts, service, actor, account, channel, action, detail, denied)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Time.UnixNano(), e.Service, e.Actor, e.Account, e.Channel, e.Action, e.Detail, denied)
	if err != nil {
		return fmt.Errorf("audit: insert %s: %w", e.ID, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. An empty channel
// returns entries for all channels.
func (s *SQLSink) Recent(ctx context.Context, channel string, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `SELECT id, ts, service, actor, account, channel, action, detail, denied FROM audit`
	args := []any{}
	if channel != "" {
		query += ` WHERE channel = ? COLLATE NOCASE`
		args = append(args, channel)
	}
	query += ` ORDER BY ts DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ts int64
		var denied int
		if err := rows.Scan(&e.ID, &ts, &e.Service, &e.Actor, &e.Account, &e.Channel, &e.Action, &e.Detail, &denied); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		e.Time = time.Unix(0, ts)
		e.Denied = denied != 0
		out = append(out, e)
	}
	return out, rows.Err()
}
