package events

import (
	"testing"
	"time"

	"doorguard/internal/model"
)

func TestStoreKeepsNewest(t *testing.T) {
	s := NewStore(3)
	base := time.Now()
	for i := 0; i < 5; i++ {
		s.Add(model.Event{Timestamp: base.Add(time.Duration(i) * time.Second), Location: string(rune('a' + i))})
	}
	all := s.List(0)
	if len(all) != 3 || all[0].Location != "c" || all[2].Location != "e" {
		t.Fatalf("unexpected ring contents: %+v", all)
	}
	last := s.List(1)
	if len(last) != 1 || last[0].Location != "e" {
		t.Fatalf("unexpected limited list: %+v", last)
	}
}

func TestStoreSince(t *testing.T) {
	s := NewStore(10)
	base := time.Now()
	s.Add(model.Event{Timestamp: base})
	s.Add(model.Event{Timestamp: base.Add(time.Minute)})
	if got := s.Since(base.Add(time.Second)); len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	s.Clear()
	if s.Len() != 0 {
		t.Fatalf("expected empty store")
	}
}
