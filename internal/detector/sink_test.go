package detector

import (
	"errors"
	"testing"
)

func TestFanoutCallsEverySink(t *testing.T) {
	var calls []string
	failing := func(event string, payload any) error {
		calls = append(calls, "a")
		return errors.New("boom")
	}
	ok := func(event string, payload any) error {
		calls = append(calls, "b")
		return nil
	}
	sink := Fanout(failing, nil, ok)
	if err := sink(EventUpdateInfo, nil); err == nil {
		t.Fatalf("expected joined error")
	}
	if len(calls) != 2 || calls[0] != "a" || calls[1] != "b" {
		t.Fatalf("unexpected calls: %v", calls)
	}
}
