package metrics

import "testing"

func TestCounters(t *testing.T) {
	s := NewStore(10)
	s.IncAttempt("door")
	s.IncAttempt("door")
	s.IncActivation("door")
	s.IncConfirmed("door")
	s.IncAttempt("")
	c, ok := s.Get("door")
	if !ok || c.Attempts != 2 || c.Activations != 1 || c.Confirmed != 1 {
		t.Fatalf("unexpected counters: %+v", c)
	}
	if len(s.GetAll()) != 1 {
		t.Fatalf("empty location must be ignored")
	}
}

func TestEvictsBeyondLimit(t *testing.T) {
	s := NewStore(2)
	s.IncAttempt("a")
	s.IncAttempt("b")
	s.IncAttempt("c")
	if got := len(s.GetAll()); got != 2 {
		t.Fatalf("expected 2 locations, got %d", got)
	}
}

func TestBroadcastCounters(t *testing.T) {
	s := NewStore(0)
	s.IncBroadcast()
	s.IncDropped()
	s.IncDropped()
	sent, dropped := s.Broadcasts()
	if sent != 1 || dropped != 2 {
		t.Fatalf("unexpected broadcast counters: %d %d", sent, dropped)
	}
	s.Clear()
	if sent, _ := s.Broadcasts(); sent != 0 {
		t.Fatalf("expected cleared counters")
	}
}
