package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"doorguard/internal/config"
	"doorguard/internal/model"
)

func newSQLiteForTest(t *testing.T) Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "audit.db") + "?_pragma=busy_timeout(5000)"
	store, err := NewSQLite(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return store
}

func TestSQLiteKeyUpsert(t *testing.T) {
	store := newSQLiteForTest(t)
	ctx := context.Background()
	k := model.Key{
		ID:          "6f1c1f2e-4a52-4d0c-9f1e-8c2b6a0d4e11",
		Location:    "front-door",
		Value:       "1234",
		Status:      model.KeyPending,
		Attempts:    1,
		SubmittedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := store.SaveKey(ctx, k); err != nil {
		t.Fatalf("save pending: %v", err)
	}
	k.Status = model.KeyConfirmed
	k.DecidedAt = k.SubmittedAt.Add(time.Minute)
	if err := store.SaveKey(ctx, k); err != nil {
		t.Fatalf("save confirmed: %v", err)
	}
	list, err := store.ListKeys(ctx, "front-door", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Status != model.KeyConfirmed || list[0].DecidedAt.IsZero() {
		t.Fatalf("unexpected keys: %+v", list)
	}
}

func TestSQLiteSaveEvent(t *testing.T) {
	store := newSQLiteForTest(t)
	ev := model.Event{
		Timestamp: time.Now(),
		Type:      model.EventLocationActivated,
		Location:  "front-door",
		Context:   map[string]string{"attempts": "3"},
	}
	if err := store.SaveEvent(context.Background(), ev); err != nil {
		t.Fatalf("save event: %v", err)
	}
}

func TestNewStoreDisabled(t *testing.T) {
	store, err := NewStore(config.StorageConfig{Enabled: false})
	if err != nil || store != nil {
		t.Fatalf("expected nil store when disabled, got %v %v", store, err)
	}
	if _, err := NewStore(config.StorageConfig{Enabled: true, Driver: "oracle"}); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}

func TestPostgresPlaceholders(t *testing.T) {
	b := baseStore{numbered: true}
	got := b.bind("INSERT INTO t (a, b) VALUES (?, ?)")
	if got != "INSERT INTO t (a, b) VALUES ($1, $2)" {
		t.Fatalf("unexpected binding: %s", got)
	}
}

func TestMySQLForcesParseTime(t *testing.T) {
	store, err := NewMySQL("user:pw@tcp(db:3306)/audit")
	if err != nil {
		t.Fatalf("new mysql: %v", err)
	}
	defer store.Close()
	ms := store.(*mysqlStore)
	if ms.upsertKey != mysqlUpsertKey || ms.numbered {
		t.Fatalf("unexpected mysql dialect settings")
	}
	if _, err := NewMySQL("::not a dsn"); err == nil {
		t.Fatalf("expected dsn parse error")
	}
}

func TestWriterFlushesOnShutdown(t *testing.T) {
	store := newSQLiteForTest(t)
	w := NewWriter(store, 8, nil)
	ctx, cancel := context.WithCancel(context.Background())
	k := model.Key{
		ID:          "0b7f6c8e-2b8d-4c4b-a3a5-5d2f5f1d9b20",
		Location:    "gate",
		Value:       "9999",
		Status:      model.KeyPending,
		Attempts:    1,
		SubmittedAt: time.Now().UTC(),
	}
	w.RecordKey(k)
	w.Start(ctx)
	cancel()
	w.Wait()
	list, err := store.ListKeys(context.Background(), "gate", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected flushed key, got %d", len(list))
	}
}
