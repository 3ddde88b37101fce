package app

import (
	"strings"
	"time"

	"sensorpush/internal/config"
	"sensorpush/internal/dispatch"
	"sensorpush/internal/housekeeping"
	"sensorpush/internal/httpapi"
	"sensorpush/internal/mirror"
	"sensorpush/internal/push"
	"sensorpush/internal/telemetry"
	logx "sensorpush/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapServerConfig(cfg *config.Config) (httpapi.ServerConfig, time.Duration, error) {
	sc := cfg.Server
	out := httpapi.ServerConfig{Addr: strings.TrimSpace(sc.Addr)}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("server.read_timeout", sc.ReadTimeout, 15*time.Second); err != nil {
		return httpapi.ServerConfig{}, 0, err
	}
	if out.ReadHeaderTimeout, err = config.ParseDurationOrDefault("server.read_header_timeout", sc.ReadHeaderTimeout, 5*time.Second); err != nil {
		return httpapi.ServerConfig{}, 0, err
	}
	// Ingestion waits for the whole threshold broadcast, so the write deadline
	// has to cover the slowest push service.
	if out.WriteTimeout, err = config.ParseDurationOrDefault("server.write_timeout", sc.WriteTimeout, 60*time.Second); err != nil {
		return httpapi.ServerConfig{}, 0, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("server.idle_timeout", sc.IdleTimeout, 2*time.Minute); err != nil {
		return httpapi.ServerConfig{}, 0, err
	}
	shutdown, err := config.ParseDurationOrDefault("server.shutdown_timeout", sc.ShutdownTimeout, 10*time.Second)
	if err != nil {
		return httpapi.ServerConfig{}, 0, err
	}
	return out, shutdown, nil
}

func mapVAPIDConfig(cfg *config.Config) (push.VAPIDConfig, error) {
	ttl, err := config.ParseDurationOrDefault("push.ttl", cfg.Push.TTL, 24*time.Hour)
	if err != nil {
		return push.VAPIDConfig{}, err
	}
	return push.VAPIDConfig{
		PublicKey:  strings.TrimSpace(cfg.VAPID.PublicKey),
		PrivateKey: strings.TrimSpace(cfg.VAPID.PrivateKey),
		Subject:    strings.TrimSpace(cfg.VAPID.Subject),
		TTL:        ttl,
		Urgency:    cfg.Push.Urgency,
	}, nil
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	timeout, err := config.ParseDurationField("push.timeout", cfg.Push.Timeout)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{
		Timeout:        timeout,
		RatePerSec:     cfg.Push.RatePerSec,
		MaxConcurrency: cfg.Push.MaxConcurrency,
		HistorySize:    cfg.Push.HistorySize,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (telemetry.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return telemetry.Config{}, err
	}
	influxTimeout, err := config.ParseDurationOrDefault("storage.influx.timeout", sc.Influx.Timeout, 10*time.Second)
	if err != nil {
		return telemetry.Config{}, err
	}
	return telemetry.Config{
		Driver:      sc.Driver,
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: busy,
		Influx: telemetry.InfluxConfig{
			URL:     strings.TrimSpace(sc.Influx.URL),
			Token:   sc.Influx.Token,
			Org:     strings.TrimSpace(sc.Influx.Org),
			Bucket:  strings.TrimSpace(sc.Influx.Bucket),
			Timeout: influxTimeout,
		},
	}, nil
}

func mapHousekeepingConfig(cfg *config.Config) (housekeeping.Config, error) {
	retention, err := config.ParseDurationField("storage.retention", cfg.Storage.Retention)
	if err != nil {
		return housekeeping.Config{}, err
	}
	return housekeeping.Config{
		Timezone:      strings.TrimSpace(cfg.Housekeeping.Timezone),
		Retention:     retention,
		PruneSchedule: strings.TrimSpace(cfg.Storage.PruneSchedule),
		StatsSchedule: strings.TrimSpace(cfg.Housekeeping.StatsSchedule),
	}, nil
}

func mapMirrorConfig(cfg *config.Config) (mirror.Config, error) {
	mc := cfg.Mirror
	if mc == nil {
		return mirror.Config{}, nil
	}
	base, err := config.ParseDurationField("mirror.retry_base", mc.RetryBase)
	if err != nil {
		return mirror.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("mirror.retry_max_delay", mc.RetryMaxDelay)
	if err != nil {
		return mirror.Config{}, err
	}
	window, err := config.ParseDurationField("mirror.dedup_window", mc.DedupWindow)
	if err != nil {
		return mirror.Config{}, err
	}
	return mirror.Config{
		Enabled:         mc.Enabled,
		QueueSize:       mc.QueueSize,
		RatePerSec:      mc.RatePerSec,
		RetryMax:        mc.RetryMax,
		RetryBase:       base,
		RetryMaxDelay:   maxDelay,
		DedupWindow:     window,
		DedupMaxEntries: mc.DedupMaxEntries,
	}, nil
}

// newMirrorSender returns nil when the mirror is disabled.
func newMirrorSender(cfg *config.Config) (mirror.Sender, error) {
	mc := cfg.Mirror
	if mc == nil || !mc.Enabled {
		return nil, nil
	}
	tg, err := mirror.NewTelegram(mirror.TelegramConfig{
		Token:    strings.TrimSpace(mc.Token),
		ChatID:   mc.ChatID,
		ThreadID: mc.ThreadID,
	})
	if err != nil {
		return nil, err
	}
	return tg, nil
}

func mirrorTargetChanged(oldCfg, newCfg *config.Config) bool {
	var o, n config.MirrorConfig
	if oldCfg != nil && oldCfg.Mirror != nil {
		o = *oldCfg.Mirror
	}
	if newCfg != nil && newCfg.Mirror != nil {
		n = *newCfg.Mirror
	}
	return o.Token != n.Token || o.ChatID != n.ChatID || o.ThreadID != n.ThreadID
}
