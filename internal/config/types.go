package config

// Config is the on-disk configuration. Durations are Go duration strings
// ("500ms", "10s", "1m") and may be empty to take the default.
//
// String values may reference the environment as ${NAME} or ${NAME:-default}
// so secrets can stay out of the file.
type Config struct {
	Server       ServerConfig       `json:"server"`
	Security     SecurityConfig     `json:"security"`
	Logging      LoggingConfig      `json:"logging"`
	VAPID        VAPIDConfig        `json:"vapid"`
	Push         PushConfig         `json:"push"`
	Storage      StorageConfig      `json:"storage"`
	Mirror       *MirrorConfig      `json:"mirror,omitempty"`
	Housekeeping HousekeepingConfig `json:"housekeeping"`
}

// ServerConfig is read once at startup; changes need a restart.
type ServerConfig struct {
	Addr              string `json:"addr"` // default ":3000"
	StaticDir         string `json:"static_dir,omitempty"`
	ReadTimeout       string `json:"read_timeout,omitempty"`
	ReadHeaderTimeout string `json:"read_header_timeout,omitempty"`
	WriteTimeout      string `json:"write_timeout,omitempty"`
	IdleTimeout       string `json:"idle_timeout,omitempty"`
	ShutdownTimeout   string `json:"shutdown_timeout,omitempty"`
}

type SecurityConfig struct {
	// APIKey is the shared secret sensors send in the "api-key" header.
	APIKey string `json:"api_key"`
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

// VAPIDConfig identifies this server to push services. Keys are base64url.
type VAPIDConfig struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
	Subject    string `json:"subject"`
}

// PushConfig tunes delivery. Zero values take defaults.
type PushConfig struct {
	Timeout        string `json:"timeout,omitempty"` // per attempt, default "10s"
	TTL            string `json:"ttl,omitempty"`     // default "24h"
	Urgency        string `json:"urgency,omitempty"` // very-low|low|normal|high
	RatePerSec     int    `json:"rate_per_sec,omitempty"`
	MaxConcurrency int    `json:"max_concurrency,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

// StorageConfig selects the readings store.
//
// Example:
//
//	storage:
//	  driver: influx
//	  influx: { url: "${INFLUX_URL}", token: "${INFLUX_TOKEN}", org: home, bucket: sensors }
type StorageConfig struct {
	Driver        string       `json:"driver"` // influx | sqlite | memory
	Path          string       `json:"path,omitempty"`
	BusyTimeout   string       `json:"busy_timeout,omitempty"`
	Retention     string       `json:"retention,omitempty"`      // sqlite/memory only
	PruneSchedule string       `json:"prune_schedule,omitempty"` // cron spec, default "@daily"
	Influx        InfluxConfig `json:"influx"`
}

type InfluxConfig struct {
	URL     string `json:"url"`
	Token   string `json:"token"`
	Org     string `json:"org"`
	Bucket  string `json:"bucket"`
	Timeout string `json:"timeout,omitempty"`
}

// MirrorConfig forwards alerts to a Telegram chat. Omitted means disabled.
type MirrorConfig struct {
	Enabled         bool   `json:"enabled"`
	Token           string `json:"token"`
	ChatID          int64  `json:"chat_id"`
	ThreadID        int    `json:"thread_id,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
}

type HousekeepingConfig struct {
	// StatsSchedule is a cron spec for the periodic push stats line; empty disables.
	StatsSchedule string `json:"stats_schedule,omitempty"`
	Timezone      string `json:"timezone,omitempty"`
}
