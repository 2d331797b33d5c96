// Package ledger records key-entry attempts per location and decides which
// locations are under a suspected brute-force attack.
package ledger

import (
	"sort"
	"sync"
	"time"

	"doorguard/internal/model"
)

type Policy struct {
	Threshold int
	Window    time.Duration
	Mode      Mode
}

type Ledger struct {
	mu        sync.RWMutex
	policy    Policy
	locations map[string]*locationState
}

type locationState struct {
	id          string
	window      *Window
	total       int
	active      bool
	activatedAt time.Time
	lastAttempt time.Time
}

func New(policy Policy) *Ledger {
	return &Ledger{
		policy:    sanitize(policy),
		locations: make(map[string]*locationState),
	}
}

func sanitize(p Policy) Policy {
	if p.Threshold <= 0 {
		p.Threshold = 1
	}
	if p.Window <= 0 {
		p.Window = time.Minute
	}
	return p
}

func (l *Ledger) SetPolicy(policy Policy) {
	policy = sanitize(policy)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.policy = policy
	for _, st := range l.locations {
		st.window.reconfigure(policy.Window, policy.Mode)
	}
}

func (l *Ledger) Policy() Policy {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.policy
}

// RecordAttempt adds an attempt and reports whether the location is active
// afterwards and whether this attempt activated it. It never deactivates.
func (l *Ledger) RecordAttempt(location string, at time.Time) (active bool, activated bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.locations[location]
	if !ok {
		st = &locationState{id: location, window: NewWindow(l.policy.Window, l.policy.Mode)}
		l.locations[location] = st
	}
	st.window.Add(at)
	st.total++
	if at.After(st.lastAttempt) {
		st.lastAttempt = at
	}
	if !st.active && st.window.Count() >= l.policy.Threshold {
		st.active = true
		st.activatedAt = at
		return true, true
	}
	return st.active, false
}

// Deactivate clears the active flag and the window. It reports true only on
// an Active to Idle transition.
func (l *Ledger) Deactivate(location string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.deactivateLocked(location)
}

func (l *Ledger) deactivateLocked(location string) bool {
	st, ok := l.locations[location]
	if !ok {
		return false
	}
	st.window.Reset()
	if !st.active {
		return false
	}
	st.active = false
	st.activatedAt = time.Time{}
	return true
}

func (l *Ledger) IsActive(location string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st, ok := l.locations[location]
	return ok && st.active
}

// ActiveLocation returns the most recently activated location that is still
// active.
func (l *Ledger) ActiveLocation() (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var best *locationState
	for _, st := range l.locations {
		if !st.active {
			continue
		}
		if best == nil || st.activatedAt.After(best.activatedAt) ||
			(st.activatedAt.Equal(best.activatedAt) && st.id < best.id) {
			best = st
		}
	}
	if best == nil {
		return "", false
	}
	return best.id, true
}

func (l *Ledger) ActiveLocations() []string {
	l.mu.RLock()
	active := make([]*locationState, 0)
	for _, st := range l.locations {
		if st.active {
			active = append(active, st)
		}
	}
	l.mu.RUnlock()
	sort.Slice(active, func(i, j int) bool {
		if active[i].activatedAt.Equal(active[j].activatedAt) {
			return active[i].id < active[j].id
		}
		return active[i].activatedAt.After(active[j].activatedAt)
	})
	out := make([]string, 0, len(active))
	for _, st := range active {
		out = append(out, st.id)
	}
	return out
}

// Sweep deactivates active locations whose last attempt is older than idle.
func (l *Ledger) Sweep(now time.Time, idle time.Duration) []string {
	if idle <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for id, st := range l.locations {
		if st.active && now.Sub(st.lastAttempt) >= idle {
			l.deactivateLocked(id)
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (l *Ledger) Get(location string) (model.Location, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st, ok := l.locations[location]
	if !ok {
		return model.Location{}, false
	}
	return st.snapshot(), true
}

func (l *Ledger) Locations() []model.Location {
	l.mu.RLock()
	out := make([]model.Location, 0, len(l.locations))
	for _, st := range l.locations {
		out = append(out, st.snapshot())
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (l *Ledger) Reset() {
	l.mu.Lock()
	l.locations = make(map[string]*locationState)
	l.mu.Unlock()
}

func (st *locationState) snapshot() model.Location {
	return model.Location{
		ID:          st.id,
		Attempts:    st.window.Count(),
		Total:       st.total,
		Active:      st.active,
		ActivatedAt: st.activatedAt,
		LastAttempt: st.lastAttempt,
	}
}
