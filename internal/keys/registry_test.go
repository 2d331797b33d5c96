package keys

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"doorguard/internal/model"
)

func TestSubmitDeduplicatesPending(t *testing.T) {
	r := NewRegistry(false)
	first, created, err := r.Submit("front-door", "1234")
	if err != nil || !created {
		t.Fatalf("submit: %v created=%v", err, created)
	}
	again, created, err := r.Submit("front-door", "1234")
	if err != nil || created {
		t.Fatalf("expected deduplicated submit, err=%v created=%v", err, created)
	}
	if again.ID != first.ID || again.Attempts != 2 {
		t.Fatalf("unexpected dedupe result: %+v", again)
	}
	if _, created, _ := r.Submit("back-door", "1234"); !created {
		t.Fatalf("same value on another location must be a new key")
	}
	if got := len(r.List(All)); got != 2 {
		t.Fatalf("expected 2 keys, got %d", got)
	}
}

func TestSubmitRejectsEmpty(t *testing.T) {
	r := NewRegistry(false)
	if _, _, err := r.Submit("", "1234"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, _, err := r.Submit("door", "  "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestListOrderAndFilter(t *testing.T) {
	r := NewRegistry(false)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	r.SetClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})
	a, _, _ := r.Submit("door", "1111")
	b, _, _ := r.Submit("door", "2222")
	c, _, _ := r.Submit("door", "3333")
	if _, err := r.Reject(b.ID, ""); err != nil {
		t.Fatalf("reject: %v", err)
	}
	all := r.List(All)
	if len(all) != 3 || all[0].ID != a.ID || all[1].ID != b.ID || all[2].ID != c.ID {
		t.Fatalf("unexpected order: %+v", all)
	}
	pending := r.List(Pending)
	if len(pending) != 2 || pending[0].ID != a.ID || pending[1].ID != c.ID {
		t.Fatalf("unexpected pending view: %+v", pending)
	}
}

func TestConfirmTransitions(t *testing.T) {
	r := NewRegistry(false)
	k, _, _ := r.Submit("door", "1234")
	var hooked model.Key
	got, err := r.Confirm(k.ID, func(k model.Key) { hooked = k })
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if got.Status != model.KeyConfirmed || hooked.ID != k.ID {
		t.Fatalf("unexpected confirm result: %+v hook=%+v", got, hooked)
	}
	if _, err := r.Confirm(k.ID, nil); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("expected already terminal, got %v", err)
	}
	if _, err := r.Reject(k.ID, ""); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("expected already terminal on reject, got %v", err)
	}
	if _, err := r.Confirm(uuid.NewString(), nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := r.Confirm("not-a-uuid", nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if r.PendingCount() != 0 {
		t.Fatalf("expected no pending keys")
	}
	again, created, _ := r.Submit("door", "1234")
	if !created || again.ID == k.ID {
		t.Fatalf("resubmission after a decision must create a new key")
	}
}

func TestPurgePending(t *testing.T) {
	r := NewRegistry(false)
	keep, _, _ := r.Submit("door", "1111")
	r.Submit("door", "2222")
	r.Submit("other", "3333")
	purged := r.PurgePending("door", keep.ID, "superseded")
	if len(purged) != 1 || purged[0].Value != "2222" || purged[0].Status != model.KeyRejected {
		t.Fatalf("unexpected purge: %+v", purged)
	}
	if r.PendingCount() != 2 {
		t.Fatalf("expected 2 pending keys, got %d", r.PendingCount())
	}
}

func TestHashValues(t *testing.T) {
	r := NewRegistry(true)
	k, _, _ := r.Submit("door", "1234")
	if k.Value == "1234" || len(k.Value) != 64 {
		t.Fatalf("expected sha256 hex value, got %q", k.Value)
	}
	if _, created, _ := r.Submit("door", "1234"); created {
		t.Fatalf("hashed values must still deduplicate")
	}
}

func TestHashToggleKeepsPendingDedupe(t *testing.T) {
	r := NewRegistry(false)
	raw, _, _ := r.Submit("door", "1234")
	r.SetHashValues(true)
	again, created, err := r.Submit("door", "1234")
	if err != nil || created || again.ID != raw.ID || again.Attempts != 2 {
		t.Fatalf("expected raw pending key reused after enabling hashing: %+v created=%v err=%v", again, created, err)
	}
	hashed, created, _ := r.Submit("door", "5678")
	if !created {
		t.Fatalf("expected new hashed key")
	}
	r.SetHashValues(false)
	again, created, _ = r.Submit("door", "5678")
	if created || again.ID != hashed.ID {
		t.Fatalf("expected hashed pending key reused after disabling hashing: %+v", again)
	}
	if r.PendingCount() != 2 {
		t.Fatalf("expected 2 pending keys, got %d", r.PendingCount())
	}
}
