package app

import (
	"context"
	"strings"
	"time"

	"sensorpush/internal/config"
	logx "sensorpush/pkg/logx"
)

// validateReload rejects configs that validate but cannot be mapped onto the
// running components.
func (a *App) validateReload(_ context.Context, cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, err := mapDispatchConfig(cfg); err != nil {
		return err
	}
	if _, err := mapVAPIDConfig(cfg); err != nil {
		return err
	}
	if _, err := mapMirrorConfig(cfg); err != nil {
		return err
	}
	_, err := mapHousekeepingConfig(cfg)
	return err
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			if newCfg == nil {
				continue
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig pushes the live-reloadable sections of newCfg into the running
// components. Sections that need a restart are only reported.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	ch := config.SummarizeChange(oldCfg, newCfg)
	if ch.Empty() {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Fields...)
	a.log.Debug("config change summary", fields...)
	if len(ch.RestartRequired) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(ch.RestartRequired, ",")))
	}

	if ch.Has("logging") {
		a.logs.Apply(mapLogConfig(newCfg))
	}

	if ch.Has("security") {
		a.api.SetAPIKey(newCfg.Security.APIKey)
	}

	if ch.Has("push") || ch.Has("vapid") {
		if dc, err := mapDispatchConfig(newCfg); err != nil {
			a.log.Warn("invalid push config; keeping previous", logx.Err(err))
		} else {
			a.disp.Apply(dc)
		}
		if vc, err := mapVAPIDConfig(newCfg); err != nil {
			a.log.Warn("invalid push config; keeping previous", logx.Err(err))
		} else if err := a.webpush.Apply(vc); err != nil {
			a.log.Warn("vapid settings not applied", logx.Err(err))
		}
	}

	if ch.Has("mirror") {
		a.applyMirror(ctx, oldCfg, newCfg)
	}

	if ch.Has("housekeeping") || ch.Has("storage") {
		if hc, err := mapHousekeepingConfig(newCfg); err != nil {
			a.log.Warn("invalid housekeeping config; keeping previous", logx.Err(err))
		} else if err := a.house.Apply(hc); err != nil {
			a.log.Warn("housekeeping reschedule failed", logx.Err(err))
		}
	}

	a.log.Info("config applied", logx.String("changed", strings.Join(ch.Sections, ",")))
}

func (a *App) applyMirror(ctx context.Context, oldCfg, newCfg *config.Config) {
	mc, err := mapMirrorConfig(newCfg)
	if err != nil {
		a.log.Warn("invalid mirror config; keeping previous", logx.Err(err))
		return
	}
	if mirrorTargetChanged(oldCfg, newCfg) {
		sender, err := newMirrorSender(newCfg)
		if err != nil {
			a.log.Warn("mirror sender not rebuilt; keeping previous", logx.Err(err))
			return
		}
		a.mirror.SetSender(sender)
	}

	wasEnabled := a.mirror.Enabled()
	a.mirror.Apply(mc)
	switch {
	case wasEnabled && !mc.Enabled:
		a.log.Info("alert mirror disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.mirror.Stop(stopCtx)
		cancel()
	case !wasEnabled && mc.Enabled:
		a.log.Info("alert mirror enabled via config")
		a.mirror.Start(ctx)
	}
}
