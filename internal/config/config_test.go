package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseYAMLOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
log_level: debug
detection:
  threshold: 5
  window: 30s
  window_mode: fixed
keys:
  purge_pending_on_confirm: true
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level: %s", cfg.LogLevel)
	}
	if cfg.Detection.Threshold != 5 || cfg.Detection.Window != 30*time.Second {
		t.Fatalf("detection: %+v", cfg.Detection)
	}
	if cfg.Detection.WindowMode != WindowFixed {
		t.Fatalf("window mode: %s", cfg.Detection.WindowMode)
	}
	if !cfg.Keys.PurgePendingOnConfirm {
		t.Fatalf("expected purge policy enabled")
	}
	if cfg.API.Addr != ":8080" {
		t.Fatalf("expected default api addr, got %q", cfg.API.Addr)
	}
}

func TestParseJSON(t *testing.T) {
	cfg, err := Parse([]byte(`{"detection":{"threshold":7}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Detection.Threshold != 7 {
		t.Fatalf("threshold: %d", cfg.Detection.Threshold)
	}
	if cfg.Detection.Window != 60*time.Second {
		t.Fatalf("expected default window, got %s", cfg.Detection.Window)
	}
}

func TestParseJSONWithComments(t *testing.T) {
	content := `// doorguard
{
  "detection": {
    /* lower for the lab */
    "threshold": 2,
    "window": "45s",
  },
}`
	cfg, err := Parse([]byte(content))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Detection.Threshold != 2 {
		t.Fatalf("threshold: %d", cfg.Detection.Threshold)
	}
	if cfg.Detection.Window != 45*time.Second {
		t.Fatalf("window: %s", cfg.Detection.Window)
	}
}

func TestParseJSONDurations(t *testing.T) {
	content := `{"detection":{"window":"30s","cooldown":"2m"},"api":{"websocket":{"write_timeout":"3s"}}}`
	cfg, err := Parse([]byte(content))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Detection.Window != 30*time.Second {
		t.Fatalf("window: %s", cfg.Detection.Window)
	}
	if cfg.Detection.Cooldown != 2*time.Minute {
		t.Fatalf("cooldown: %s", cfg.Detection.Cooldown)
	}
	if cfg.API.WebSocket.WriteTimeout != 3*time.Second {
		t.Fatalf("write timeout: %s", cfg.API.WebSocket.WriteTimeout)
	}
}

func TestSaveJSONRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Detection.Window = 90 * time.Second
	path := filepath.Join(t.TempDir(), "doorguard.json")
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	loaded, err := Parse(data)
	if err != nil {
		t.Fatalf("parse saved config: %v", err)
	}
	if loaded.Detection.Window != 90*time.Second {
		t.Fatalf("window: %s", loaded.Detection.Window)
	}
}

func TestParseRejectsUnknownWindowMode(t *testing.T) {
	if _, err := Parse([]byte("detection:\n  window_mode: tumbling\n")); err == nil {
		t.Fatalf("expected error for unknown window mode")
	}
}

func TestParseEmpty(t *testing.T) {
	if _, err := Parse([]byte("   ")); err == nil {
		t.Fatalf("expected error for empty config")
	}
}

func TestValidateKafka(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ingest.Kafka.Enabled = true
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected kafka validation error")
	}
	cfg.Ingest.Kafka.Brokers = []string{"localhost:9092"}
	cfg.Ingest.Kafka.Topic = "attempts"
	cfg.Ingest.Kafka.GroupID = "doorguard"
	if err := Validate(cfg); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestManagerReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doorguard.yaml")
	if err := os.WriteFile(path, []byte("detection:\n  threshold: 4\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	if m.Get().Detection.Threshold != 4 {
		t.Fatalf("threshold: %d", m.Get().Detection.Threshold)
	}
	if err := os.WriteFile(path, []byte("detection:\n  threshold: 9\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	future := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	needs, err := m.NeedsReload()
	if err != nil || !needs {
		t.Fatalf("expected reload needed, got %v %v", needs, err)
	}
	cfg, err := m.Reload()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.Detection.Threshold != 9 || m.Get().Detection.Threshold != 9 {
		t.Fatalf("reloaded threshold: %d", cfg.Detection.Threshold)
	}
}

func TestManagerWithoutPathServesDefaults(t *testing.T) {
	m, err := NewManager("")
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	if m.Get().Detection.Threshold != 3 {
		t.Fatalf("threshold: %d", m.Get().Detection.Threshold)
	}
	if needs, _ := m.NeedsReload(); needs {
		t.Fatalf("pathless manager must never reload")
	}
}
