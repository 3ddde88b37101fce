package config

import (
	"reflect"
	"strings"

	logx "sensorpush/pkg/logx"
)

// Change describes what a reload touched.
type Change struct {
	// Sections lists changed top-level sections in a stable order.
	Sections []string
	// RestartRequired lists sections whose new values only apply after a restart.
	RestartRequired []string
	// Fields are safe to log; secrets appear only as "*_set" booleans.
	Fields []logx.Field
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// Has reports whether section changed.
func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// SummarizeChange compares two configs without leaking secrets.
func SummarizeChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var c Change

	if oldCfg.Server != newCfg.Server {
		c.Sections = append(c.Sections, "server")
		c.RestartRequired = append(c.RestartRequired, "server")
		c.Fields = append(c.Fields, logx.String("server.addr", strings.TrimSpace(newCfg.Server.Addr)))
	}

	if oldCfg.Security.APIKey != newCfg.Security.APIKey {
		c.Sections = append(c.Sections, "security")
		c.Fields = append(c.Fields, logx.Bool("security.api_key_set", strings.TrimSpace(newCfg.Security.APIKey) != ""))
	}

	if oldCfg.Logging != newCfg.Logging {
		c.Sections = append(c.Sections, "logging")
		c.Fields = append(c.Fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.VAPID != newCfg.VAPID {
		c.Sections = append(c.Sections, "vapid")
		// Subscriptions are bound to the key pair; a key change needs a restart
		// and every browser must subscribe again.
		if oldCfg.VAPID.PublicKey != newCfg.VAPID.PublicKey || oldCfg.VAPID.PrivateKey != newCfg.VAPID.PrivateKey {
			c.RestartRequired = append(c.RestartRequired, "vapid")
		}
		c.Fields = append(c.Fields, logx.String("vapid.subject", newCfg.VAPID.Subject))
	}

	if oldCfg.Push != newCfg.Push {
		c.Sections = append(c.Sections, "push")
		c.Fields = append(c.Fields,
			logx.String("push.timeout", newCfg.Push.Timeout),
			logx.Int("push.rate_per_sec", newCfg.Push.RatePerSec),
			logx.Int("push.max_concurrency", newCfg.Push.MaxConcurrency),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		c.Sections = append(c.Sections, "storage")
		if oldCfg.Storage.Driver != newCfg.Storage.Driver || oldCfg.Storage.Path != newCfg.Storage.Path ||
			oldCfg.Storage.Influx != newCfg.Storage.Influx || oldCfg.Storage.BusyTimeout != newCfg.Storage.BusyTimeout {
			c.RestartRequired = append(c.RestartRequired, "storage")
		}
		c.Fields = append(c.Fields,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.String("storage.retention", newCfg.Storage.Retention),
			logx.Bool("storage.influx_token_set", newCfg.Storage.Influx.Token != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Mirror, newCfg.Mirror) {
		c.Sections = append(c.Sections, "mirror")
		enabled := newCfg.Mirror != nil && newCfg.Mirror.Enabled
		c.Fields = append(c.Fields, logx.Bool("mirror.enabled", enabled))
		if newCfg.Mirror != nil {
			c.Fields = append(c.Fields,
				logx.Int64("mirror.chat_id", newCfg.Mirror.ChatID),
				logx.Bool("mirror.token_set", newCfg.Mirror.Token != ""),
			)
		}
	}

	if oldCfg.Housekeeping != newCfg.Housekeeping {
		c.Sections = append(c.Sections, "housekeeping")
		c.Fields = append(c.Fields,
			logx.String("housekeeping.stats_schedule", newCfg.Housekeeping.StatsSchedule),
			logx.String("housekeeping.timezone", newCfg.Housekeeping.Timezone),
		)
	}

	return c
}
