package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strings"
	"time"

	"sensorpush/internal/config"
	"sensorpush/internal/dispatch"
	"sensorpush/internal/eventbus"
	"sensorpush/internal/housekeeping"
	"sensorpush/internal/httpapi"
	"sensorpush/internal/ingest"
	"sensorpush/internal/mirror"
	"sensorpush/internal/push"
	"sensorpush/internal/registry"
	rtsup "sensorpush/internal/runtime/supervisor"
	"sensorpush/internal/telemetry"
	"sensorpush/web"
	logx "sensorpush/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   telemetry.Store
	webpush *push.WebPush
	subs    *registry.Registry
	disp    *dispatch.Dispatcher
	ingest  *ingest.Service
	api     *httpapi.API
	server  *httpapi.Server
	mirror  *mirror.Service
	house   *housekeeping.Service

	shutdownTimeout time.Duration
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a, err := build(cfg, logSvc, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	a.cfgPath = cfgPath
	a.cfgm = cfgm
	return a, nil
}

// build constructs every component from cfg. Nothing is started.
func build(cfg *config.Config, logSvc *logx.Service, log logx.Logger) (*App, error) {
	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := telemetry.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	closeStore := func() { _ = store.Close() }

	vc, err := mapVAPIDConfig(cfg)
	if err != nil {
		closeStore()
		return nil, err
	}
	wp, err := push.NewWebPush(vc, nil)
	if err != nil {
		closeStore()
		return nil, err
	}

	dc, err := mapDispatchConfig(cfg)
	if err != nil {
		closeStore()
		return nil, err
	}
	subs := registry.New()
	disp := dispatch.New(dc, subs, wp, log.With(logx.String("comp", "dispatch")), bus)
	ing := ingest.New(store, disp, log.With(logx.String("comp", "ingest")))

	static, err := staticFS(cfg.Server.StaticDir)
	if err != nil {
		closeStore()
		return nil, err
	}
	api := httpapi.New(httpapi.Deps{
		Subs:       subs,
		Welcomer:   disp,
		Ingest:     ing,
		Queries:    store,
		Keys:       wp,
		Broadcasts: disp,
		Static:     static,
		Log:        log.With(logx.String("comp", "http")),
	}, cfg.Security.APIKey)

	srvCfg, shutdown, err := mapServerConfig(cfg)
	if err != nil {
		closeStore()
		return nil, err
	}
	server := httpapi.NewServer(srvCfg, api.Handler(), log.With(logx.String("comp", "http")))

	mc, err := mapMirrorConfig(cfg)
	if err != nil {
		closeStore()
		return nil, err
	}
	sender, err := newMirrorSender(cfg)
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("mirror: %w", err)
	}
	mir := mirror.New(mc, sender, log, bus)

	hc, err := mapHousekeepingConfig(cfg)
	if err != nil {
		closeStore()
		return nil, err
	}
	pruner, _ := store.(telemetry.Pruner)
	house := housekeeping.New(hc, pruner, subs, disp, log)

	log.Info("storage ready", logx.String("driver", strings.ToLower(strings.TrimSpace(sc.Driver))))

	return &App{
		log:             log,
		logs:            logSvc,
		bus:             bus,
		store:           store,
		webpush:         wp,
		subs:            subs,
		disp:            disp,
		ingest:          ing,
		api:             api,
		server:          server,
		mirror:          mir,
		house:           house,
		shutdownTimeout: shutdown,
	}, nil
}

func staticFS(dir string) (fs.FS, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return web.Static(), nil
	}
	st, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("server.static_dir: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("server.static_dir: %s is not a directory", dir)
	}
	return os.DirFS(dir), nil
}

// Addr is the bound HTTP address once Start has returned.
func (a *App) Addr() string { return a.server.Addr() }

// Handler exposes the HTTP routes.
func (a *App) Handler() http.Handler { return a.api.Handler() }

// ShutdownTimeout is the configured bound for Stop.
func (a *App) ShutdownTimeout() time.Duration { return a.shutdownTimeout }

// Done is closed when the app stops on its own after a fatal component error.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		return nil
	}
	return a.sup.Context().Done()
}

// Err reports the first fatal component error, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		rtsup.WithCancelOnError(true),
	)
	runCtx := a.sup.Context()

	if p, ok := a.store.(telemetry.Pinger); ok {
		pctx, cancel := context.WithTimeout(runCtx, 5*time.Second)
		err := p.Ping(pctx)
		cancel()
		if err != nil {
			// Readings fail with 500 until the backend is reachable; keep serving subscriptions.
			a.log.Warn("storage ping failed", logx.Err(err))
		}
	}

	if err := a.server.Start(runCtx); err != nil {
		a.sup.Cancel()
		return err
	}

	// Subscribe before Start so no alert raised during startup is missed.
	alerts, unsubAlerts := a.bus.Subscribe(64)
	a.mirror.Start(runCtx)
	a.sup.Go0("mirror.forward", func(c context.Context) {
		defer unsubAlerts()
		a.mirror.Run(c, alerts)
	})

	if err := a.house.Start(runCtx); err != nil {
		a.log.Warn("housekeeping not started", logx.Err(err))
	}

	if a.bus != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	if a.cfgm != nil {
		a.cfgm.SetValidator(a.validateReload)
		sub := a.cfgm.Subscribe(8)
		a.sup.Go0("config.reload", func(c context.Context) {
			defer a.cfgm.Unsubscribe(sub)
			a.reloadLoop(c, sub)
		})
		a.sup.Go("config.watch", func(c context.Context) error {
			return a.cfgm.Watch(c)
		})
	}

	a.notifyReady()

	a.log.Info("app started",
		logx.String("addr", a.server.Addr()),
		logx.Int("subscribers", a.subs.Len()),
		logx.Bool("mirror", a.mirror.Enabled()))
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notifyStopping()

	// Stop intake first, then let in-flight deliveries finish.
	step := a.stepper(ctx)
	step("http", 5*time.Second, func(c context.Context) error { a.server.Stop(c); return nil })

	a.sup.Cancel()

	step("dispatch", 3*time.Second, func(c context.Context) error { a.disp.Stop(c); return nil })
	step("mirror", 2*time.Second, func(c context.Context) error { a.mirror.Stop(c); return nil })
	step("housekeeping", 2*time.Second, func(c context.Context) error { a.house.Stop(c); return nil })
	step("storage", 2*time.Second, func(c context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// stepper runs shutdown steps, each bounded by its own limit and the caller's
// deadline, so one stuck component cannot stall the rest.
func (a *App) stepper(ctx context.Context) func(name string, limit time.Duration, fn func(context.Context) error) {
	return func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			limit = min(limit, time.Until(dl))
		}
		if limit <= 0 {
			a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)))
		}
	}
}
