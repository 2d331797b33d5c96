package clients

import (
	"sync"
	"testing"
	"time"

	"doorguard/internal/model"
)

func TestConnectIsSet(t *testing.T) {
	r := NewRegistry()
	if !r.Connect(model.Client{ID: "a", ConnectedAt: time.Now()}) {
		t.Fatalf("expected first connect to add")
	}
	if r.Connect(model.Client{ID: "a", ConnectedAt: time.Now()}) {
		t.Fatalf("duplicate session must not be added")
	}
	if r.Connect(model.Client{}) {
		t.Fatalf("empty session id must be ignored")
	}
	if r.Count() != 1 {
		t.Fatalf("count: %d", r.Count())
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Connect(model.Client{ID: "a"})
	r.Connect(model.Client{ID: "b"})
	if !r.Disconnect("a") {
		t.Fatalf("expected removal")
	}
	if r.Disconnect("a") {
		t.Fatalf("second disconnect must be a no-op")
	}
	if r.Count() != 1 {
		t.Fatalf("count: %d", r.Count())
	}
}

func TestConcurrentConnectDisconnect(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		id := string(rune('A' + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Connect(model.Client{ID: id})
			r.Disconnect(id)
			r.Disconnect(id)
		}()
	}
	wg.Wait()
	if r.Count() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Count())
	}
}
