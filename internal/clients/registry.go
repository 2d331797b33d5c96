package clients

import (
	"sort"
	"sync"

	"doorguard/internal/model"
)

// Registry is the set of connected observer sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]model.Client
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]model.Client)}
}

func (r *Registry) Connect(c model.Client) bool {
	if c.ID == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[c.ID]; ok {
		return false
	}
	r.sessions[c.ID] = c
	return true
}

func (r *Registry) Disconnect(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) List() []model.Client {
	r.mu.RLock()
	out := make([]model.Client, 0, len(r.sessions))
	for _, c := range r.sessions {
		out = append(out, c)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}
