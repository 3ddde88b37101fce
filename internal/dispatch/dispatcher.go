// Package dispatch sends push notifications to registered subscriptions.
//
// Two paths exist and they deliberately differ:
//
//   - Welcome: detached from the caller, outcome only logged, never prunes.
//   - Broadcast: fans out to a registry snapshot, waits for every attempt,
//     and removes subscriptions whose delivery came back Gone.
//
// No delivery is ever retried. A transient failure leaves the subscription in
// place and the next broadcast simply tries again.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"sensorpush/internal/eventbus"
	"sensorpush/internal/push"
	rtsup "sensorpush/internal/runtime/supervisor"
	logx "sensorpush/pkg/logx"
)

var ErrStopped = errors.New("dispatcher stopped")

// Dispatcher is safe for concurrent use.
type Dispatcher struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	stopped bool

	reg       Registry
	transport push.Transport
	log       logx.Logger
	bus       eventbus.Bus

	// detached hosts welcome deliveries.
	detached *rtsup.Supervisor

	hmu     sync.Mutex
	history []Summary
}

func New(cfg Config, reg Registry, transport push.Transport, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	d := &Dispatcher{
		reg:       reg,
		transport: transport,
		log:       log,
		bus:       bus,
		detached: rtsup.New(context.Background(),
			rtsup.WithLogger(log.With(logx.String("sup", "welcome"))),
			rtsup.WithCancelOnError(false),
		),
	}
	d.applyLocked(cfg)
	return d
}

func (d *Dispatcher) Apply(cfg Config) {
	d.mu.Lock()
	d.applyLocked(cfg)
	d.mu.Unlock()
}

func (d *Dispatcher) applyLocked(cfg Config) {
	cfg = cfg.withDefaults()
	d.cfg = cfg
	if cfg.RatePerSec > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	} else {
		d.limiter = rate.NewLimiter(rate.Inf, 0)
	}
}

// SendWelcome delivers the welcome payload without blocking the caller.
// Failures are logged only; the subscription stays registered whatever the
// outcome.
func (d *Dispatcher) SendWelcome(sub push.Subscription) error {
	body, err := WelcomePayload().Encode()
	if err != nil {
		return fmt.Errorf("encode welcome: %w", err)
	}

	// Hold mu while scheduling so Stop cannot start waiting in between.
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return ErrStopped
	}
	d.detached.Go0("welcome", func(ctx context.Context) {
		res := d.deliver(ctx, sub, body)
		ep := shortEndpoint(sub.Endpoint)
		if res.Outcome == push.Delivered {
			d.log.Info("welcome notification sent", logx.String("endpoint", ep))
		} else {
			d.log.Warn("failed to send welcome notification",
				logx.String("endpoint", ep),
				logx.String("outcome", res.Outcome.String()),
				logx.Int("status", res.StatusCode),
				logx.Err(res.Err))
		}
		d.publishDelivery(eventbus.TypePushWelcome, "", sub, res)
	})
	return nil
}

// BroadcastIfThreshold broadcasts an alert when temperature strictly exceeds
// AlertThresholdC. It returns after every delivery attempt has resolved.
// Cancelling ctx does not abort deliveries; each attempt has its own timeout.
func (d *Dispatcher) BroadcastIfThreshold(ctx context.Context, temperature float64, deviceLabel string) (Summary, bool) {
	if !ExceedsThreshold(temperature) {
		return Summary{}, false
	}
	d.log.Warn("temperature high; sending notifications",
		logx.Float64("temperature", temperature),
		logx.String("device", deviceLabel))

	p := AlertPayload(temperature, deviceLabel)
	d.bus.Publish(eventbus.Event{Type: eventbus.TypeAlertRaised, Data: AlertEvent{
		Temperature: temperature,
		Device:      deviceLabel,
		Payload:     p,
		At:          time.Now(),
	}})
	return d.Broadcast(ctx, "threshold", p), true
}

// Broadcast sends p to every subscription in a registry snapshot and prunes
// the ones that came back Gone.
func (d *Dispatcher) Broadcast(ctx context.Context, name string, p push.Payload) Summary {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithoutCancel(ctx)

	sum := Summary{ID: uuid.NewString(), Name: name, StartedAt: time.Now()}
	body, err := p.Encode()
	if err != nil {
		d.log.Error("broadcast payload encode failed", logx.String("broadcast", sum.ID), logx.Err(err))
		sum.DoneAt = time.Now()
		return sum
	}

	targets := d.reg.Snapshot()
	sum.Total = len(targets)

	d.mu.Lock()
	maxConc := d.cfg.MaxConcurrency
	d.mu.Unlock()
	var sem chan struct{}
	if maxConc > 0 {
		sem = make(chan struct{}, maxConc)
	}

	var (
		wg  sync.WaitGroup
		smu sync.Mutex
	)
	for _, sub := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}

			res := d.deliverSafe(ctx, sub, body)
			pruned := false
			if res.Outcome == push.Gone {
				pruned = d.reg.Remove(sub.Endpoint)
			}

			smu.Lock()
			switch res.Outcome {
			case push.Delivered:
				sum.Delivered++
			case push.Gone:
				sum.Gone++
				if pruned && len(sum.Pruned) < 200 {
					sum.Pruned = append(sum.Pruned, sub.Endpoint)
				}
			default:
				sum.Failed++
			}
			smu.Unlock()

			d.logBroadcastResult(sum.ID, sub, res, pruned)
			d.publishDelivery(deliveryEventType(res.Outcome), sum.ID, sub, res)
		}()
	}
	wg.Wait()
	sum.DoneAt = time.Now()

	fields := []logx.Field{
		logx.String("broadcast", sum.ID),
		logx.String("name", name),
		logx.Int("total", sum.Total),
		logx.Int("delivered", sum.Delivered),
		logx.Int("gone", sum.Gone),
		logx.Int("failed", sum.Failed),
		logx.Duration("dur", sum.DoneAt.Sub(sum.StartedAt)),
	}
	if sum.Gone+sum.Failed > 0 {
		d.log.Warn("broadcast finished with failures", fields...)
	} else {
		d.log.Info("broadcast finished", fields...)
	}
	d.record(sum)
	return sum
}

func (d *Dispatcher) logBroadcastResult(id string, sub push.Subscription, res push.Result, pruned bool) {
	ep := shortEndpoint(sub.Endpoint)
	switch res.Outcome {
	case push.Delivered:
		d.log.Debug("notification delivered", logx.String("broadcast", id), logx.String("endpoint", ep))
	case push.Gone:
		d.log.Info("subscription gone; pruned",
			logx.String("broadcast", id),
			logx.String("endpoint", ep),
			logx.Int("status", res.StatusCode),
			logx.Bool("removed", pruned))
	default:
		d.log.Warn("failed to send notification",
			logx.String("broadcast", id),
			logx.String("endpoint", ep),
			logx.Int("status", res.StatusCode),
			logx.Err(res.Err))
	}
}

// deliverSafe turns a transport panic into a transient failure so one bad
// attempt cannot take down its siblings.
func (d *Dispatcher) deliverSafe(ctx context.Context, sub push.Subscription, body []byte) (res push.Result) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("panic in push delivery", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			res = push.Result{Outcome: push.TransientFailure, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return d.deliver(ctx, sub, body)
}

func (d *Dispatcher) deliver(ctx context.Context, sub push.Subscription, body []byte) push.Result {
	d.mu.Lock()
	timeout := d.cfg.Timeout
	lim := d.limiter
	tr := d.transport
	d.mu.Unlock()

	if tr == nil {
		return push.Result{Outcome: push.TransientFailure, Err: errors.New("no push transport configured")}
	}

	// Queueing behind the limiter is not part of the attempt: the timeout
	// starts once the slot is granted.
	if err := lim.Wait(ctx); err != nil {
		return push.ResultFor(0, fmt.Errorf("rate limit: %w", err))
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return tr.Deliver(actx, sub, body)
}

func (d *Dispatcher) publishDelivery(typ, id string, sub push.Subscription, res push.Result) {
	ev := DeliveryEvent{
		BroadcastID: id,
		Endpoint:    sub.Endpoint,
		Outcome:     res.Outcome.String(),
		StatusCode:  res.StatusCode,
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	d.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}

func deliveryEventType(o push.Outcome) string {
	switch o {
	case push.Delivered:
		return eventbus.TypePushDelivered
	case push.Gone:
		return eventbus.TypePushGone
	default:
		return eventbus.TypePushFailed
	}
}

// Stop refuses new welcome deliveries and waits for in-flight ones until ctx
// is done. Whatever is still running after that is abandoned.
func (d *Dispatcher) Stop(ctx context.Context) {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()

	if err := d.detached.Wait(ctx); err != nil && ctx.Err() != nil {
		d.log.Warn("abandoning in-flight welcome notifications", logx.Int64("active", d.detached.Counters().Active))
	}
	d.detached.Cancel()
}
