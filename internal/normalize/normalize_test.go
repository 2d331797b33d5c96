package normalize

import (
	"testing"
	"time"

	"doorguard/internal/config"
)

func TestNormalizeDefaultsLocation(t *testing.T) {
	cfg := config.DefaultConfig()
	att, err := Normalize(EventFields{Key: " 1234 "}, cfg)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if att.Location != "unknown" || att.Key != "1234" {
		t.Fatalf("unexpected attempt: %+v", att)
	}
	if att.Timestamp.IsZero() {
		t.Fatalf("expected timestamp defaulted to now")
	}
}

func TestNormalizeBadTimestamp(t *testing.T) {
	if _, err := Normalize(EventFields{Timestamp: "yesterday", Location: "door"}, config.DefaultConfig()); err == nil {
		t.Fatalf("expected timestamp error")
	}
}

func TestParseTimestampFormats(t *testing.T) {
	want := time.Date(2026, 2, 23, 12, 34, 56, 0, time.UTC)
	for _, in := range []string{"2026-02-23T12:34:56Z", "2026-02-23 12:34:56", "1771850096", "1771850096000"} {
		got, err := ParseTimestamp(in, time.UTC)
		if err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if !got.Equal(want) {
			t.Fatalf("%s: got %s", in, got)
		}
	}
}
