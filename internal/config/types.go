package config

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Ingest controls the UDP telemetry listener.
	Ingest IngestConfig `json:"ingest"`

	// Monitor controls the in-memory robot state table.
	Monitor MonitorConfig `json:"monitor"`

	// Match controls match lifecycle tracking and per-match log recording.
	Match MatchConfig `json:"match"`

	// Broadcast controls the websocket fan-out to monitoring clients.
	Broadcast BroadcastConfig `json:"broadcast"`

	HTTP HTTPConfig `json:"http"`

	// Storage is the optional match history index.
	Storage *StorageConfig `json:"storage,omitempty"`

	Maintenance MaintenanceConfig `json:"maintenance,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// IngestConfig controls the UDP telemetry listener.
//
// Listen is a host:port UDP address. If Multicast is set, the listener joins
// that multicast group instead of binding a plain socket.
type IngestConfig struct {
	Listen    string `json:"listen"`
	Multicast string `json:"multicast,omitempty"`
	Interface string `json:"interface,omitempty"` // multicast only; empty means system default

	// Codec selects the wire format: "json" (default) or "cbor".
	Codec string `json:"codec,omitempty"`

	// ReadBuffer is the socket receive buffer size in bytes. 0 keeps the OS default.
	ReadBuffer int `json:"read_buffer,omitempty"`
}

// MonitorConfig controls robot liveness tracking.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type MonitorConfig struct {
	// RobotTimeout marks a robot offline when no frame arrived for this long.
	RobotTimeout string `json:"robot_timeout,omitempty"` // default "5s"
}

// MatchConfig controls match lifecycle and on-disk match logs.
type MatchConfig struct {
	LogDir string `json:"log_dir"`

	// InactivityTimeout ends a match when no frame arrived for this long.
	InactivityTimeout string `json:"inactivity_timeout,omitempty"` // default "60s"

	// ReactivationWindow re-opens a just-ended match instead of starting a new
	// one when frames resume within this window. "0s" disables reactivation.
	ReactivationWindow string `json:"reactivation_window,omitempty"` // default "5m"

	// QueueSize bounds the log write queue; the oldest record is dropped when full.
	QueueSize int `json:"queue_size,omitempty"` // default 10000

	FlushInterval string `json:"flush_interval,omitempty"` // default "1s"
}

// BroadcastConfig controls snapshot fan-out to connected clients.
type BroadcastConfig struct {
	Interval          string `json:"interval,omitempty"`           // default "500ms"
	HeartbeatInterval string `json:"heartbeat_interval,omitempty"` // default "10s"
	ClientTimeout     string `json:"client_timeout,omitempty"`     // default "30s"

	// SessionQueueSize bounds each client's send queue (drop-oldest).
	SessionQueueSize int `json:"session_queue_size,omitempty"` // default 10

	RetryMax  int    `json:"retry_max,omitempty"`  // default 3
	RetryBase string `json:"retry_base,omitempty"` // default "100ms"

	// MaxFailures deactivates a session after this many consecutive send failures.
	MaxFailures int `json:"max_failures,omitempty"` // default 3

	// RatePerSec caps outbound messages per session. 0 disables the limiter.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

type HTTPConfig struct {
	Listen string `json:"listen,omitempty"` // default "127.0.0.1:8080"

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// StorageConfig controls the optional match history index.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./matches.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// MaintenanceConfig controls background housekeeping jobs.
// Schedules use cron syntax with optional seconds, or "@every <duration>".
type MaintenanceConfig struct {
	SweepSchedule string `json:"sweep_schedule,omitempty"` // default "@every 5s"
	StatsSchedule string `json:"stats_schedule,omitempty"` // default "@every 10s"
}
