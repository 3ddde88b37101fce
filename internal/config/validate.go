package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "sensorpush/pkg/logx"
)

// Validate reports every problem it finds, joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }
	dur := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" && !logx.ValidLevel(lvl) {
		add("logging.level: unknown level %q", lvl)
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		add("logging.file.path is required when logging.file.enabled")
	}

	if strings.TrimSpace(cfg.Security.APIKey) == "" {
		add("security.api_key is required")
	}

	if strings.TrimSpace(cfg.VAPID.PublicKey) == "" || strings.TrimSpace(cfg.VAPID.PrivateKey) == "" {
		add("vapid.public_key and vapid.private_key are required (generate with --gen-vapid)")
	}
	if strings.TrimSpace(cfg.VAPID.Subject) == "" {
		add("vapid.subject is required (mailto: or https: contact)")
	}

	dur("server.read_timeout", cfg.Server.ReadTimeout)
	dur("server.read_header_timeout", cfg.Server.ReadHeaderTimeout)
	dur("server.write_timeout", cfg.Server.WriteTimeout)
	dur("server.idle_timeout", cfg.Server.IdleTimeout)
	dur("server.shutdown_timeout", cfg.Server.ShutdownTimeout)

	dur("push.timeout", cfg.Push.Timeout)
	dur("push.ttl", cfg.Push.TTL)
	switch strings.ToLower(strings.TrimSpace(cfg.Push.Urgency)) {
	case "", "very-low", "low", "normal", "high":
	default:
		add("push.urgency: unknown value %q", cfg.Push.Urgency)
	}
	if cfg.Push.RatePerSec < 0 || cfg.Push.MaxConcurrency < 0 || cfg.Push.HistorySize < 0 {
		add("push: rate_per_sec, max_concurrency and history_size must be >= 0")
	}

	st := cfg.Storage
	switch strings.ToLower(strings.TrimSpace(st.Driver)) {
	case "", "memory":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(st.Path) == "" {
			add("storage.path is required for sqlite")
		}
	case "influx", "influxdb":
		if strings.TrimSpace(st.Influx.URL) == "" || strings.TrimSpace(st.Influx.Org) == "" || strings.TrimSpace(st.Influx.Bucket) == "" {
			add("storage.influx.url, org and bucket are required for influx")
		}
	default:
		add("storage.driver: unknown driver %q", st.Driver)
	}
	dur("storage.busy_timeout", st.BusyTimeout)
	dur("storage.retention", st.Retention)
	dur("storage.influx.timeout", st.Influx.Timeout)
	if s := strings.TrimSpace(st.PruneSchedule); s != "" {
		if _, err := cron.ParseStandard(s); err != nil {
			add("storage.prune_schedule: %v", err)
		}
	}

	if s := strings.TrimSpace(cfg.Housekeeping.StatsSchedule); s != "" {
		if _, err := cron.ParseStandard(s); err != nil {
			add("housekeeping.stats_schedule: %v", err)
		}
	}
	if tz := strings.TrimSpace(cfg.Housekeeping.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add("housekeeping.timezone: %v", err)
		}
	}

	if m := cfg.Mirror; m != nil && m.Enabled {
		if strings.TrimSpace(m.Token) == "" {
			add("mirror.token is required when mirror.enabled")
		}
		if m.ChatID == 0 {
			add("mirror.chat_id is required when mirror.enabled")
		}
		dur("mirror.retry_base", m.RetryBase)
		dur("mirror.retry_max_delay", m.RetryMaxDelay)
		dur("mirror.dedup_window", m.DedupWindow)
	}

	return errors.Join(errs...)
}
