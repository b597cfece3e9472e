package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalJSON = `{
  "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}},
  "ingest": {"listen": "0.0.0.0:9870"},
  "monitor": {"robot_timeout": "5s"},
  "match": {"log_dir": "./logs", "inactivity_timeout": "60s"},
  "broadcast": {"interval": "500ms"},
  "http": {"listen": "127.0.0.1:8080"}
}`

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.json", minimalJSON))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Ingest.Listen != "0.0.0.0:9870" {
		t.Fatalf("ingest.listen = %q", cfg.Ingest.Listen)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get did not return the committed config")
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	body := `
logging:
  level: debug
  console: true
  file:
    enabled: true
    path: ./monitord.log
ingest:
  multicast: "239.0.0.1:9870"
  codec: cbor
monitor:
  robot_timeout: 5s
match:
  log_dir: ./game_logs
  queue_size: 10000
broadcast:
  heartbeat_interval: 10s
  client_timeout: 30s
http:
  listen: 127.0.0.1:8080
storage:
  driver: sqlite
  path: ./matches.db
`
	m := NewManager(writeConfig(t, "config.yaml", body))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Ingest.Multicast != "239.0.0.1:9870" || cfg.Ingest.Codec != "cbor" {
		t.Fatalf("ingest = %+v", cfg.Ingest)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	t.Parallel()
	body := strings.Replace(minimalJSON, `"monitor"`, `"monitorr"`, 1)
	m := NewManager(writeConfig(t, "config.json", body))
	if _, err := m.Load(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestTrailingDataRejected(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.json", minimalJSON+"{}"))
	if _, err := m.Load(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{
			Ingest: IngestConfig{Listen: "0.0.0.0:9870"},
			Match:  MatchConfig{LogDir: "./logs"},
		}
	}
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no listen addr", func(c *Config) { c.Ingest.Listen = "" }},
		{"bad listen addr", func(c *Config) { c.Ingest.Listen = "no-port" }},
		{"bad codec", func(c *Config) { c.Ingest.Codec = "xml" }},
		{"missing log dir", func(c *Config) { c.Match.LogDir = " " }},
		{"negative queue", func(c *Config) { c.Match.QueueSize = -1 }},
		{"bad duration", func(c *Config) { c.Broadcast.Interval = "fast" }},
		{"negative duration", func(c *Config) { c.Monitor.RobotTimeout = "-5s" }},
		{"bad storage driver", func(c *Config) { c.Storage = &StorageConfig{Driver: "redis"} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tc.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
	if err := Validate(base()); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", 5*time.Second)
	if err != nil || d != 5*time.Second {
		t.Fatalf("empty = (%v, %v)", d, err)
	}
	d, err = ParseDurationOrDefault("x", "250ms", 5*time.Second)
	if err != nil || d != 250*time.Millisecond {
		t.Fatalf("set = (%v, %v)", d, err)
	}
	if _, err := ParseDurationOrDefault("x", "nope", 5*time.Second); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSubscribePublish(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	first := &Config{}
	second := &Config{HTTP: HTTPConfig{Listen: ":9999"}}
	m.publish(first)
	m.publish(second) // buffer full: drops first, delivers second

	select {
	case got := <-ch:
		if got != second {
			t.Fatal("expected latest config after overflow")
		}
	default:
		t.Fatal("no config delivered")
	}
}
