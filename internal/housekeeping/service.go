// Package housekeeping runs periodic maintenance on a cron schedule:
// readings retention and a push statistics log line.
package housekeeping

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"sensorpush/internal/dispatch"
	"sensorpush/internal/telemetry"
	logx "sensorpush/pkg/logx"
)

const (
	JobRetention = "retention"
	JobStats     = "stats"

	defaultPruneSchedule = "@daily"
	defaultJobTimeout    = 2 * time.Minute
)

type Config struct {
	Timezone string
	// Retention is how long readings are kept; 0 disables pruning.
	Retention     time.Duration
	PruneSchedule string
	// StatsSchedule empty disables the stats job.
	StatsSchedule string
	JobTimeout    time.Duration
}

// Stats is what the stats job reports on.
type Stats interface {
	Len() int
}

type BroadcastTotals interface {
	Totals() dispatch.Totals
}

// Run is the outcome of one job execution.
type Run struct {
	Job      string        `json:"job"`
	At       time.Time     `json:"at"`
	Duration time.Duration `json:"duration"`
	Result   string        `json:"result"`
	Error    string        `json:"error,omitempty"`
}

type Service struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config

	pruner telemetry.Pruner
	subs   Stats
	totals BroadcastTotals

	parser  cron.Parser
	c       *cron.Cron
	running bool
	now     func() time.Time

	rmu  sync.Mutex
	last map[string]Run
}

func New(cfg Config, pruner telemetry.Pruner, subs Stats, totals BroadcastTotals, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		log:    log.With(logx.String("comp", "housekeeping")),
		pruner: pruner,
		subs:   subs,
		totals: totals,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		now:    time.Now,
		last:   map[string]Run{},
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if err := s.startLocked(); err != nil {
		return err
	}
	s.running = true
	return nil
}

// Apply reschedules every job with cfg. A running scheduler is restarted.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	if !s.running {
		return nil
	}
	s.stopLocked()
	return s.startLocked()
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	c := s.c
	s.c = nil
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("housekeeping job still running at shutdown")
	}
	s.log.Info("housekeeping stopped")
}

func (s *Service) stopLocked() {
	if s.c != nil {
		<-s.c.Stop().Done()
		s.c = nil
	}
}

func (s *Service) startLocked() error {
	loc := s.loadLocationLocked()
	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger{s.log}), cron.SkipIfStillRunning(cronLogger{s.log})),
	)

	jobs := 0
	if s.pruner != nil && s.cfg.Retention > 0 {
		spec := strings.TrimSpace(s.cfg.PruneSchedule)
		if spec == "" {
			spec = defaultPruneSchedule
		}
		if _, err := c.AddFunc(spec, func() { s.RunJob(JobRetention) }); err != nil {
			return fmt.Errorf("schedule %s %q: %w", JobRetention, spec, err)
		}
		jobs++
	}
	if spec := strings.TrimSpace(s.cfg.StatsSchedule); spec != "" {
		if _, err := c.AddFunc(spec, func() { s.RunJob(JobStats) }); err != nil {
			return fmt.Errorf("schedule %s %q: %w", JobStats, spec, err)
		}
		jobs++
	}

	c.Start()
	s.c = c
	s.log.Info("housekeeping started", logx.Int("jobs", jobs), logx.String("tz", loc.String()))
	return nil
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// RunJob executes one job immediately and records its outcome.
func (s *Service) RunJob(name string) Run {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	timeout := cfg.JobTimeout
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := s.now()
	run := Run{Job: name, At: start}
	var err error
	switch name {
	case JobRetention:
		run.Result, err = s.prune(ctx, cfg.Retention)
	case JobStats:
		run.Result = s.stats()
	default:
		err = fmt.Errorf("unknown job %q", name)
	}
	run.Duration = time.Since(start)
	if err != nil {
		run.Error = err.Error()
		s.log.Warn("housekeeping job failed", logx.String("job", name), logx.Err(err))
	}

	s.rmu.Lock()
	s.last[name] = run
	s.rmu.Unlock()
	return run
}

// LastRuns returns the latest outcome per job.
func (s *Service) LastRuns() map[string]Run {
	s.rmu.Lock()
	defer s.rmu.Unlock()
	out := make(map[string]Run, len(s.last))
	for k, v := range s.last {
		out[k] = v
	}
	return out
}

func (s *Service) prune(ctx context.Context, retention time.Duration) (string, error) {
	if s.pruner == nil || retention <= 0 {
		return "disabled", nil
	}
	before := s.now().Add(-retention)
	n, err := s.pruner.Prune(ctx, before)
	if err != nil {
		return "", err
	}
	s.log.Info("old readings pruned", logx.Int64("rows", n), logx.Time("before", before))
	return fmt.Sprintf("pruned %d", n), nil
}

func (s *Service) stats() string {
	subs := 0
	if s.subs != nil {
		subs = s.subs.Len()
	}
	fields := []logx.Field{logx.Int("subscribers", subs)}
	if s.totals != nil {
		t := s.totals.Totals()
		fields = append(fields,
			logx.Int("broadcasts", t.Broadcasts),
			logx.Int("delivered", t.Delivered),
			logx.Int("gone", t.Gone),
			logx.Int("failed", t.Failed))
	}
	s.log.Info("push stats", fields...)
	return fmt.Sprintf("%d subscribers", subs)
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ l logx.Logger }

func (c cronLogger) Info(msg string, kv ...interface{}) {
	c.l.Debug("cron: "+msg, kvFields(kv)...)
}

func (c cronLogger) Error(err error, msg string, kv ...interface{}) {
	c.l.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
