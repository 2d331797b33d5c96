package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"doorguard/internal/config"
	"doorguard/internal/model"
)

// Store is the audit sink for state-change events and key decisions. The
// attempt log itself is never persisted.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveEvent(ctx context.Context, ev model.Event) error
	SaveKey(ctx context.Context, key model.Key) error
	ListKeys(ctx context.Context, location string, limit int) ([]model.Key, error)
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	case "mysql":
		return NewMySQL(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
	// numbered placeholders ($1) instead of ?
	numbered bool
	// dialect override for the key upsert
	upsertKey string
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) bind(query string) string {
	if !b.numbered {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (b *baseStore) exec(ctx context.Context, stmts []string) error {
	if b.db == nil {
		return nil
	}
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (b *baseStore) SaveEvent(ctx context.Context, ev model.Event) error {
	if b.db == nil {
		return nil
	}
	_, err := b.db.ExecContext(ctx, b.bind(
		`INSERT INTO events (ts, event_type, location, key_id, session_id, context_json)
		VALUES (?, ?, ?, ?, ?, ?)`),
		ev.Timestamp.UTC(),
		string(ev.Type),
		ev.Location,
		ev.KeyID,
		ev.SessionID,
		encodeJSON(ev.Context),
	)
	return err
}

const defaultUpsertKey = `INSERT INTO candidate_keys (id, location, value, status, reason, attempts, submitted_at, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			reason = excluded.reason,
			attempts = excluded.attempts,
			decided_at = excluded.decided_at`

func (b *baseStore) SaveKey(ctx context.Context, k model.Key) error {
	if b.db == nil || k.ID == "" {
		return nil
	}
	var decided any
	if !k.DecidedAt.IsZero() {
		decided = k.DecidedAt.UTC()
	}
	query := b.upsertKey
	if query == "" {
		query = defaultUpsertKey
	}
	_, err := b.db.ExecContext(ctx, b.bind(query),
		k.ID,
		k.Location,
		k.Value,
		string(k.Status),
		k.Reason,
		k.Attempts,
		k.SubmittedAt.UTC(),
		decided,
	)
	return err
}

func (b *baseStore) ListKeys(ctx context.Context, location string, limit int) ([]model.Key, error) {
	if b.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, location, value, status, reason, attempts, submitted_at, decided_at FROM candidate_keys`
	args := []any{}
	if location != "" {
		query += ` WHERE location = ?`
		args = append(args, location)
	}
	query += ` ORDER BY submitted_at ASC LIMIT ?`
	args = append(args, limit)
	rows, err := b.db.QueryContext(ctx, b.bind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Key
	for rows.Next() {
		var k model.Key
		var status string
		var decided sql.NullTime
		if err := rows.Scan(&k.ID, &k.Location, &k.Value, &status, &k.Reason, &k.Attempts, &k.SubmittedAt, &decided); err != nil {
			return nil, err
		}
		k.Status = model.KeyStatus(status)
		if decided.Valid {
			k.DecidedAt = decided.Time
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}
