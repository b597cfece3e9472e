package config

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// Defaults applied where the config file omits a value.
const (
	DefaultRobotTimeout       = 5 * time.Second
	DefaultInactivityTimeout  = 60 * time.Second
	DefaultReactivationWindow = 5 * time.Minute
	DefaultFlushInterval      = time.Second
	DefaultLogQueueSize       = 10000

	DefaultBroadcastInterval = 500 * time.Millisecond
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultClientTimeout     = 30 * time.Second
	DefaultSessionQueueSize  = 10
	DefaultRetryMax          = 3
	DefaultRetryBase         = 100 * time.Millisecond
	DefaultMaxFailures       = 3

	DefaultHTTPListen = "127.0.0.1:8080"

	DefaultSweepSchedule = "@every 5s"
	DefaultStatsSchedule = "@every 10s"
)

// Validate checks the config for structural errors. It does not touch the
// network; bind failures surface at startup instead.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if strings.TrimSpace(cfg.Ingest.Listen) == "" && strings.TrimSpace(cfg.Ingest.Multicast) == "" {
		return fmt.Errorf("ingest: either listen or multicast is required")
	}
	for _, a := range []struct{ name, addr string }{
		{"ingest.listen", cfg.Ingest.Listen},
		{"ingest.multicast", cfg.Ingest.Multicast},
	} {
		if strings.TrimSpace(a.addr) == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(a.addr); err != nil {
			return fmt.Errorf("%s: %w", a.name, err)
		}
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Ingest.Codec)) {
	case "", "json", "cbor":
	default:
		return fmt.Errorf("ingest.codec: unknown codec %q", cfg.Ingest.Codec)
	}
	if cfg.Ingest.ReadBuffer < 0 {
		return fmt.Errorf("ingest.read_buffer: must be >= 0")
	}

	if strings.TrimSpace(cfg.Match.LogDir) == "" {
		return fmt.Errorf("match.log_dir is required")
	}
	if cfg.Match.QueueSize < 0 {
		return fmt.Errorf("match.queue_size: must be >= 0")
	}

	if cfg.Broadcast.SessionQueueSize < 0 {
		return fmt.Errorf("broadcast.session_queue_size: must be >= 0")
	}
	if cfg.Broadcast.RetryMax < 0 {
		return fmt.Errorf("broadcast.retry_max: must be >= 0")
	}
	if cfg.Broadcast.MaxFailures < 0 {
		return fmt.Errorf("broadcast.max_failures: must be >= 0")
	}
	if cfg.Broadcast.RatePerSec < 0 {
		return fmt.Errorf("broadcast.rate_per_sec: must be >= 0")
	}

	if cfg.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver)
		}
	}

	// All duration strings must parse even when the value is unused today.
	fields := []struct{ path, raw string }{
		{"monitor.robot_timeout", cfg.Monitor.RobotTimeout},
		{"match.inactivity_timeout", cfg.Match.InactivityTimeout},
		{"match.reactivation_window", cfg.Match.ReactivationWindow},
		{"match.flush_interval", cfg.Match.FlushInterval},
		{"broadcast.interval", cfg.Broadcast.Interval},
		{"broadcast.heartbeat_interval", cfg.Broadcast.HeartbeatInterval},
		{"broadcast.client_timeout", cfg.Broadcast.ClientTimeout},
		{"broadcast.retry_base", cfg.Broadcast.RetryBase},
		{"http.read_timeout", cfg.HTTP.ReadTimeout},
		{"http.write_timeout", cfg.HTTP.WriteTimeout},
		{"http.idle_timeout", cfg.HTTP.IdleTimeout},
	}
	if cfg.Storage != nil {
		fields = append(fields, struct{ path, raw string }{"storage.busy_timeout", cfg.Storage.BusyTimeout})
	}
	for _, f := range fields {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	return nil
}
