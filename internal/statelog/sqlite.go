package statelog

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteSink persists Events to a local SQLite file, grounded on
// stadam23-Eve-flipper's stdlib database/sql + modernc.org/sqlite
// pattern (WAL mode, busy timeout, an idempotent CREATE TABLE IF NOT
// EXISTS migration).
type SQLiteSink struct {
	db *sql.DB
}

func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("statelog: open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("statelog: ping sqlite: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_events (
			id       INTEGER PRIMARY KEY AUTOINCREMENT,
			at       TEXT NOT NULL,
			kind     TEXT NOT NULL,
			symbol   TEXT,
			detail   TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_audit_events_kind ON audit_events(kind);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("statelog: migrate sqlite: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Record(ctx context.Context, evt Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events (at, kind, symbol, detail) VALUES (?, ?, ?, ?)`,
		evt.At.UTC().Format("2006-01-02T15:04:05.000Z07:00"), evt.Kind, evt.Symbol, evt.Detail,
	)
	return err
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
