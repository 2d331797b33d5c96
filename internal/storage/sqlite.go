package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:doorguard.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	return s.exec(ctx, []string{
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts DATETIME NOT NULL,
			event_type TEXT NOT NULL,
			location TEXT NOT NULL,
			key_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			context_json TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts)`,
		`CREATE TABLE IF NOT EXISTS candidate_keys (
			id TEXT PRIMARY KEY,
			location TEXT NOT NULL,
			value TEXT NOT NULL,
			status TEXT NOT NULL,
			reason TEXT NOT NULL,
			attempts INTEGER NOT NULL,
			submitted_at DATETIME NOT NULL,
			decided_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_candidate_keys_location ON candidate_keys(location, submitted_at)`,
	})
}
