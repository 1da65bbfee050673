package config

// Config is the on-disk configuration (JSON or YAML).
//
// Rate limit ceilings are NOT part of this file: they live in the settings
// store (key "monitorRateLimits") and are changed through the HTTP API.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Queue     QueueConfig     `json:"queue"`
	Scheduler SchedulerConfig `json:"scheduler"`
	HTTP      HTTPConfig      `json:"http"`
	Monitors  []MonitorConfig `json:"monitors"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

// LoggingFile configures the rotated JSON log file.
// Zero rotation values keep the rotation library defaults.
type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

// StorageConfig selects the settings store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/kuma.db" }
//
// Drivers: memory (default), file, sqlite, redis.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`         // file/sqlite
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite, Go duration string

	Addr     string `json:"addr,omitempty"` // redis
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
}

// QueueConfig controls the check execution queue.
//
// Defaults (when fields are omitted/zero):
//   - requeue_delay: "1s"
//   - default_priority: 10
//   - cleanup_schedule: "@hourly"
type QueueConfig struct {
	RequeueDelay    string `json:"requeue_delay,omitempty"`
	DefaultPriority int    `json:"default_priority,omitempty"`
	CleanupSchedule string `json:"cleanup_schedule,omitempty"`
}

// SchedulerConfig controls periodic check triggering.
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`
}

// HTTPConfig controls the operator API.
//
// Security note: the /api routes accept writes. Bind to localhost or set a token.
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`  // default: "127.0.0.1:3001"
	Token   string `json:"token,omitempty"` // optional bearer token (do not log)
	Pprof   bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
}

// MonitorConfig describes one monitored target.
type MonitorConfig struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"` // http | tcp

	URL  string `json:"url,omitempty"`
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`

	// Interval is a Go duration string ("60s") or a schedule spec ("@every 1m", "*/5 * * * *").
	Interval string `json:"interval"`
	Timeout  string `json:"timeout,omitempty"`
	Priority int    `json:"priority,omitempty"`

	// Active is a pointer so an omitted field means active.
	Active *bool `json:"active,omitempty"`
}

// IsActive reports whether the monitor should be scheduled.
func (m MonitorConfig) IsActive() bool { return m.Active == nil || *m.Active }
