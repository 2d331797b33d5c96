package storage

import (
	"context"
	"database/sql"
	"strings"

	"github.com/go-sql-driver/mysql"
)

type mysqlStore struct {
	baseStore
}

func NewMySQL(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "doorguard@tcp(localhost:3306)/doorguard"
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	// DATETIME columns scan into time.Time only with parseTime
	cfg.ParseTime = true
	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, err
	}
	return &mysqlStore{baseStore{db: db, upsertKey: mysqlUpsertKey}}, nil
}

const mysqlUpsertKey = `INSERT INTO candidate_keys (id, location, value, status, reason, attempts, submitted_at, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			status = VALUES(status),
			reason = VALUES(reason),
			attempts = VALUES(attempts),
			decided_at = VALUES(decided_at)`

func (s *mysqlStore) Init(ctx context.Context) error {
	return s.exec(ctx, []string{
		`CREATE TABLE IF NOT EXISTS events (
			id BIGINT NOT NULL PRIMARY KEY AUTO_INCREMENT,
			ts DATETIME(6) NOT NULL,
			event_type VARCHAR(64) NOT NULL,
			location VARCHAR(128) NOT NULL,
			key_id VARCHAR(64) NOT NULL,
			session_id VARCHAR(128) NOT NULL,
			context_json TEXT,
			INDEX idx_events_ts (ts)
		)`,
		`CREATE TABLE IF NOT EXISTS candidate_keys (
			id VARCHAR(64) NOT NULL PRIMARY KEY,
			location VARCHAR(128) NOT NULL,
			value VARCHAR(255) NOT NULL,
			status VARCHAR(16) NOT NULL,
			reason TEXT NOT NULL,
			attempts INTEGER NOT NULL,
			submitted_at DATETIME(6) NOT NULL,
			decided_at DATETIME(6) NULL,
			INDEX idx_candidate_keys_location (location, submitted_at)
		)`,
	})
}
