package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

const (
	WindowSliding = "sliding"
	WindowFixed   = "fixed"
)

type Config struct {
	LogLevel      string              `json:"log_level" yaml:"log_level"`
	Detection     DetectionConfig     `json:"detection" yaml:"detection"`
	Keys          KeysConfig          `json:"keys" yaml:"keys"`
	AccessControl AccessControlConfig `json:"access_control" yaml:"access_control"`
	API           APIConfig           `json:"api" yaml:"api"`
	Ingest        IngestConfig        `json:"ingest" yaml:"ingest"`
	Storage       StorageConfig       `json:"storage" yaml:"storage"`
	Relay         RelayConfig         `json:"relay" yaml:"relay"`
	Events        EventsConfig        `json:"events" yaml:"events"`
}

type DetectionConfig struct {
	Threshold     int           `json:"threshold" yaml:"threshold"`
	Window        time.Duration `json:"window" yaml:"window"`
	WindowMode    string        `json:"window_mode" yaml:"window_mode"`
	Cooldown      time.Duration `json:"cooldown" yaml:"cooldown"`
	SweepInterval time.Duration `json:"sweep_interval" yaml:"sweep_interval"`
	DedupeWindow  time.Duration `json:"dedupe_window" yaml:"dedupe_window"`
	MaxClockSkew  time.Duration `json:"max_clock_skew" yaml:"max_clock_skew"`
	MaxFutureSkew time.Duration `json:"max_future_skew" yaml:"max_future_skew"`
}

type KeysConfig struct {
	// PurgePendingOnConfirm rejects the other pending keys of a location once
	// one of its keys is confirmed.
	PurgePendingOnConfirm bool `json:"purge_pending_on_confirm" yaml:"purge_pending_on_confirm"`
	HashValues            bool `json:"hash_values" yaml:"hash_values"`
}

type AccessControlConfig struct {
	Enabled             bool                `json:"enabled" yaml:"enabled"`
	TrustedKeys         []string            `json:"trusted_keys" yaml:"trusted_keys"`
	LocationTrustedKeys map[string][]string `json:"location_trusted_keys" yaml:"location_trusted_keys"`
}

type APIConfig struct {
	Enabled   bool            `json:"enabled" yaml:"enabled"`
	Addr      string          `json:"addr" yaml:"addr"`
	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
	WebSocket WebSocketConfig `json:"websocket" yaml:"websocket"`
}

type RateLimitConfig struct {
	Enabled bool          `json:"enabled" yaml:"enabled"`
	RPS     float64       `json:"rps" yaml:"rps"`
	Burst   int           `json:"burst" yaml:"burst"`
	IdleTTL time.Duration `json:"idle_ttl" yaml:"idle_ttl"`
}

type WebSocketConfig struct {
	SendBuffer   int           `json:"send_buffer" yaml:"send_buffer"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	PingInterval time.Duration `json:"ping_interval" yaml:"ping_interval"`
}

type IngestConfig struct {
	ChannelBuffer int             `json:"channel_buffer" yaml:"channel_buffer"`
	REST          RESTConfig      `json:"rest" yaml:"rest"`
	TCPStream     TCPStreamConfig `json:"tcp_stream" yaml:"tcp_stream"`
	FileTail      FileTailConfig  `json:"file_tail" yaml:"file_tail"`
	Kafka         KafkaConfig     `json:"kafka" yaml:"kafka"`
	Parser        ParserConfig    `json:"parser" yaml:"parser"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type TCPStreamConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type FileTailConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end"`
	Files      []string `json:"files" yaml:"files"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type ParserConfig struct {
	Timezone        string `json:"timezone" yaml:"timezone"`
	DefaultLocation string `json:"default_location" yaml:"default_location"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
	Buffer  int    `json:"buffer" yaml:"buffer"`
}

type RelayConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Addr     string `json:"addr" yaml:"addr"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	Channel  string `json:"channel" yaml:"channel"`
	// Format is the published encoding: json or cbor.
	Format string `json:"format" yaml:"format"`
}

type EventsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Detection: DetectionConfig{
			Threshold:     3,
			Window:        60 * time.Second,
			WindowMode:    WindowSliding,
			Cooldown:      0,
			SweepInterval: 5 * time.Second,
			DedupeWindow:  0,
			MaxClockSkew:  2 * time.Second,
			MaxFutureSkew: 2 * time.Second,
		},
		Keys: KeysConfig{PurgePendingOnConfirm: false, HashValues: false},
		API: APIConfig{
			Enabled:   true,
			Addr:      ":8080",
			RateLimit: RateLimitConfig{Enabled: false, RPS: 5, Burst: 10, IdleTTL: 15 * time.Minute},
			WebSocket: WebSocketConfig{SendBuffer: 32, WriteTimeout: 5 * time.Second, PingInterval: 30 * time.Second},
		},
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			REST:          RESTConfig{Enabled: false, Addr: ":8081"},
			TCPStream:     TCPStreamConfig{Enabled: false, Addr: ":9000"},
			FileTail:      FileTailConfig{Enabled: false, StartAtEnd: true},
			Kafka:         KafkaConfig{Enabled: false},
			Parser:        ParserConfig{Timezone: "UTC", DefaultLocation: "unknown"},
		},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:doorguard.db?_pragma=busy_timeout(5000)", Buffer: 1024},
		Relay:   RelayConfig{Enabled: false, Addr: "localhost:6379", Channel: "doorguard:updates", Format: "json"},
		Events:  EventsConfig{StoreLimit: 1000},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return Parse(content)
}

// Parse decodes YAML or JSON on top of the defaults. JSON may carry comments
// and trailing commas. Both forms go through the YAML decoder so durations
// read as "30s" either way.
func Parse(content []byte) (*Config, error) {
	cfg := DefaultConfig()
	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if stripped := jsonc.ToJSON([]byte(trimmed)); looksLikeJSON(string(stripped)) {
		decodeErr = yaml.Unmarshal(stripped, cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		data, err = marshalJSON(cfg)
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// marshalJSON renders cfg as JSON with the same field names and duration
// strings the YAML encoder produces, so Parse reads it back.
func marshalJSON(cfg *Config) ([]byte, error) {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, err
	}
	return json.MarshalIndent(tree, "", "  ")
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Detection.Threshold <= 0 {
		cfg.Detection.Threshold = 3
	}
	if cfg.Detection.Window <= 0 {
		cfg.Detection.Window = 60 * time.Second
	}
	cfg.Detection.WindowMode = strings.ToLower(strings.TrimSpace(cfg.Detection.WindowMode))
	if cfg.Detection.WindowMode == "" {
		cfg.Detection.WindowMode = WindowSliding
	}
	if cfg.Detection.SweepInterval <= 0 {
		cfg.Detection.SweepInterval = 5 * time.Second
	}
	if cfg.API.WebSocket.SendBuffer <= 0 {
		cfg.API.WebSocket.SendBuffer = 32
	}
	if cfg.API.WebSocket.WriteTimeout <= 0 {
		cfg.API.WebSocket.WriteTimeout = 5 * time.Second
	}
	if cfg.API.WebSocket.PingInterval <= 0 {
		cfg.API.WebSocket.PingInterval = 30 * time.Second
	}
	if cfg.API.RateLimit.Burst <= 0 {
		cfg.API.RateLimit.Burst = 10
	}
	if cfg.API.RateLimit.IdleTTL <= 0 {
		cfg.API.RateLimit.IdleTTL = 15 * time.Minute
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 10000
	}
	if cfg.Ingest.Parser.Timezone == "" {
		cfg.Ingest.Parser.Timezone = "UTC"
	}
	if cfg.Ingest.Parser.DefaultLocation == "" {
		cfg.Ingest.Parser.DefaultLocation = "unknown"
	}
	if cfg.Storage.Buffer <= 0 {
		cfg.Storage.Buffer = 1024
	}
	if cfg.Relay.Channel == "" {
		cfg.Relay.Channel = "doorguard:updates"
	}
	cfg.Relay.Format = strings.ToLower(strings.TrimSpace(cfg.Relay.Format))
	if cfg.Relay.Format == "" {
		cfg.Relay.Format = "json"
	}
	if cfg.Events.StoreLimit <= 0 {
		cfg.Events.StoreLimit = 1000
	}
}

func Validate(cfg *Config) error {
	if cfg.Detection.Threshold <= 0 {
		return errors.New("detection.threshold must be > 0")
	}
	if cfg.Detection.Window <= 0 {
		return errors.New("detection.window must be > 0")
	}
	switch cfg.Detection.WindowMode {
	case WindowSliding, WindowFixed:
	default:
		return fmt.Errorf("detection.window_mode must be %q or %q, got %q", WindowSliding, WindowFixed, cfg.Detection.WindowMode)
	}
	if cfg.Detection.Cooldown < 0 {
		return errors.New("detection.cooldown must be >= 0")
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.API.RateLimit.Enabled && cfg.API.RateLimit.RPS <= 0 {
		return errors.New("api.rate_limit.rps must be > 0 when api.rate_limit.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.TCPStream.Enabled && cfg.Ingest.TCPStream.Addr == "" {
		return errors.New("ingest.tcp_stream.addr required when ingest.tcp_stream.enabled is true")
	}
	if cfg.Ingest.FileTail.Enabled && len(cfg.Ingest.FileTail.Files) == 0 {
		return errors.New("ingest.file_tail.files required when ingest.file_tail.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Relay.Enabled && cfg.Relay.Addr == "" {
		return errors.New("relay.addr required when relay.enabled is true")
	}
	if cfg.Relay.Format != "json" && cfg.Relay.Format != "cbor" {
		return fmt.Errorf("relay.format must be json or cbor, got %q", cfg.Relay.Format)
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

// NewManager loads path. An empty path yields a manager serving defaults that
// never reloads.
func NewManager(path string) (*Manager, error) {
	m := &Manager{path: path}
	if path == "" {
		m.cfg.Store(DefaultConfig())
		return m, nil
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(path); err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
		if info, err := os.Stat(m.path); err == nil {
			m.modTime = info.ModTime()
		}
	}
	m.cfg.Store(cfg)
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if m.path == "" {
		return
	}
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
