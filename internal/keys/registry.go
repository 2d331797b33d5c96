// Package keys holds candidate keys awaiting operator confirmation together
// with the record of confirmed and rejected keys.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"doorguard/internal/model"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyTerminal = errors.New("key already confirmed or rejected")
	ErrInvalidInput    = errors.New("invalid input")
)

type Filter int

const (
	All Filter = iota
	Pending
)

type Registry struct {
	mu      sync.RWMutex
	keys    []*model.Key
	byID    map[string]*model.Key
	pending map[string]*model.Key
	hash    bool
	now     func() time.Time
}

func NewRegistry(hashValues bool) *Registry {
	return &Registry{
		byID:    make(map[string]*model.Key),
		pending: make(map[string]*model.Key),
		hash:    hashValues,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *Registry) SetHashValues(v bool) {
	r.mu.Lock()
	r.hash = v
	r.mu.Unlock()
}

// SetClock replaces the time source used for submission and decision stamps.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

// Submit returns the pending key for (location, value), creating it when
// absent. created is false for a deduplicated resubmission.
func (r *Registry) Submit(location, value string) (model.Key, bool, error) {
	location = strings.TrimSpace(location)
	value = strings.TrimSpace(value)
	if location == "" || value == "" {
		return model.Key{}, false, fmt.Errorf("submit key: %w", ErrInvalidInput)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, other := value, hashValue(value)
	if r.hash {
		stored, other = other, value
	}
	idx := pendingIndex(location, stored)
	// a pending key may predate a hash_values toggle
	for _, i := range []string{idx, pendingIndex(location, other)} {
		if k, ok := r.pending[i]; ok {
			k.Attempts++
			return *k, false, nil
		}
	}
	k := &model.Key{
		ID:          uuid.NewString(),
		Value:       stored,
		Status:      model.KeyPending,
		Location:    location,
		SubmittedAt: r.now(),
		Attempts:    1,
	}
	r.keys = append(r.keys, k)
	r.byID[k.ID] = k
	r.pending[idx] = k
	return *k, true, nil
}

// List returns a snapshot ordered by submission, oldest first.
func (r *Registry) List(filter Filter) []model.Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Key, 0, len(r.keys))
	for _, k := range r.keys {
		if filter == Pending && k.Status != model.KeyPending {
			continue
		}
		out = append(out, *k)
	}
	return out
}

func (r *Registry) Get(id string) (model.Key, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.byID[id]
	if !ok {
		return model.Key{}, false
	}
	return *k, true
}

func (r *Registry) PendingCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pending)
}

// Confirm moves a pending key to confirmed. hook, when set, runs with the
// registry lock held after the transition; it must not call back into the
// registry.
func (r *Registry) Confirm(id string, hook func(model.Key)) (model.Key, error) {
	return r.decide(id, model.KeyConfirmed, "", hook)
}

func (r *Registry) Reject(id string, reason string) (model.Key, error) {
	return r.decide(id, model.KeyRejected, reason, nil)
}

// PurgePending rejects every pending key of location except the one with id
// except.
func (r *Registry) PurgePending(location, except, reason string) []model.Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Key
	for _, k := range r.keys {
		if k.Status != model.KeyPending || k.Location != location || k.ID == except {
			continue
		}
		r.finalizeLocked(k, model.KeyRejected, reason)
		out = append(out, *k)
	}
	return out
}

func (r *Registry) Reset() {
	r.mu.Lock()
	r.keys = nil
	r.byID = make(map[string]*model.Key)
	r.pending = make(map[string]*model.Key)
	r.mu.Unlock()
}

func (r *Registry) decide(id string, status model.KeyStatus, reason string, hook func(model.Key)) (model.Key, error) {
	id = strings.TrimSpace(id)
	if _, err := uuid.Parse(id); err != nil {
		return model.Key{}, fmt.Errorf("key %q: %w", id, ErrInvalidInput)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.byID[id]
	if !ok {
		return model.Key{}, fmt.Errorf("key %s: %w", id, ErrNotFound)
	}
	if k.Status.Terminal() {
		return *k, fmt.Errorf("key %s is %s: %w", id, k.Status, ErrAlreadyTerminal)
	}
	r.finalizeLocked(k, status, reason)
	if hook != nil {
		hook(*k)
	}
	return *k, nil
}

func (r *Registry) finalizeLocked(k *model.Key, status model.KeyStatus, reason string) {
	k.Status = status
	k.Reason = reason
	k.DecidedAt = r.now()
	delete(r.pending, pendingIndex(k.Location, k.Value))
}

func pendingIndex(location, value string) string {
	return location + "\x00" + value
}

func hashValue(value string) string {
	h := sha256.Sum256([]byte(value))
	return hex.EncodeToString(h[:])
}
