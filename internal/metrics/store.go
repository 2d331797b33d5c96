package metrics

import (
	"sort"
	"sync"
	"time"
)

// LocationCounters are cumulative per-location totals since start or the last
// clear.
type LocationCounters struct {
	Location      string    `json:"location"`
	Attempts      int       `json:"attempts"`
	Activations   int       `json:"activations"`
	Deactivations int       `json:"deactivations"`
	Confirmed     int       `json:"confirmed"`
	Rejected      int       `json:"rejected"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Store struct {
	mu         sync.RWMutex
	byLocation map[string]*LocationCounters
	limit      int
	broadcasts int64
	dropped    int64
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 5000
	}
	return &Store{
		byLocation: make(map[string]*LocationCounters),
		limit:      limit,
	}
}

func (s *Store) IncAttempt(location string)      { s.update(location, func(c *LocationCounters) { c.Attempts++ }) }
func (s *Store) IncActivation(location string)   { s.update(location, func(c *LocationCounters) { c.Activations++ }) }
func (s *Store) IncDeactivation(location string) { s.update(location, func(c *LocationCounters) { c.Deactivations++ }) }
func (s *Store) IncConfirmed(location string)    { s.update(location, func(c *LocationCounters) { c.Confirmed++ }) }
func (s *Store) IncRejected(location string)     { s.update(location, func(c *LocationCounters) { c.Rejected++ }) }

func (s *Store) IncBroadcast() {
	s.mu.Lock()
	s.broadcasts++
	s.mu.Unlock()
}

func (s *Store) IncDropped() {
	s.mu.Lock()
	s.dropped++
	s.mu.Unlock()
}

func (s *Store) update(location string, fn func(*LocationCounters)) {
	if location == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byLocation[location]
	if !ok {
		c = &LocationCounters{Location: location}
		s.byLocation[location] = c
	}
	fn(c)
	c.UpdatedAt = time.Now().UTC()
	if len(s.byLocation) > s.limit {
		s.evictOldest()
	}
}

func (s *Store) Get(location string) (LocationCounters, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byLocation[location]
	if !ok {
		return LocationCounters{}, false
	}
	return *c, true
}

func (s *Store) GetAll() []LocationCounters {
	s.mu.RLock()
	out := make([]LocationCounters, 0, len(s.byLocation))
	for _, c := range s.byLocation {
		out = append(out, *c)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Location < out[j].Location })
	return out
}

// Broadcasts returns the number of sink invocations and of frames dropped by
// slow observers.
func (s *Store) Broadcasts() (sent int64, dropped int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.broadcasts, s.dropped
}

func (s *Store) evictOldest() {
	var oldest *LocationCounters
	for _, c := range s.byLocation {
		if oldest == nil || c.UpdatedAt.Before(oldest.UpdatedAt) {
			oldest = c
		}
	}
	if oldest != nil {
		delete(s.byLocation, oldest.Location)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byLocation = make(map[string]*LocationCounters)
	s.broadcasts = 0
	s.dropped = 0
}
