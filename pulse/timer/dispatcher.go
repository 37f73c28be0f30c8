package timer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teranos/jobpulse/errors"
	"github.com/teranos/jobpulse/logger"
	"github.com/teranos/jobpulse/metrics"
)

// Queue is the part of Store the dispatcher drives
type Queue interface {
	ResetStale(ctx context.Context, olderThan time.Time) (int, error)
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Timer, error)
	MarkCompleted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, errMsg string) error
}

// Config contains dispatcher settings
type Config struct {
	Interval       time.Duration // How often to poll for due timers (default: 5s)
	BatchSize      int           // Max timers claimed per tick (default: 50)
	Workers        int           // Max handlers running at once within a tick (default: 4)
	HandlerTimeout time.Duration // Per-handler deadline (default: 30s)
	StaleAfter     time.Duration // Processing timers claimed longer ago are reset; negative disables (default: 10m)
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Interval:       5 * time.Second,
		BatchSize:      50,
		Workers:        4,
		HandlerTimeout: 30 * time.Second,
		StaleAfter:     10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = d.HandlerTimeout
	}
	if c.StaleAfter == 0 {
		c.StaleAfter = d.StaleAfter
	}
	return c
}

// Outcome is how a single timer's dispatch ended
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeFailed      Outcome = "failed"
	OutcomePanicked    Outcome = "panicked"
	OutcomeTimeout     Outcome = "timeout"
	OutcomeUnknownKind Outcome = "unknown_kind"
	OutcomeBadPayload  Outcome = "bad_payload"
	// OutcomeInterrupted: the dispatcher stopped mid-handler; the timer stays
	// in processing until stale reconciliation picks it up again.
	OutcomeInterrupted Outcome = "interrupted"
)

// TickResult summarizes one tick
type TickResult struct {
	Reset     int           `json:"reset"`
	Claimed   int           `json:"claimed"`
	Completed int           `json:"completed"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// Stats describes the dispatcher for health reporting
type Stats struct {
	Running         bool          `json:"running"`
	Interval        time.Duration `json:"interval"`
	TicksSinceStart int64         `json:"ticks_since_start"`
	LastTickAt      time.Time     `json:"last_tick_at"`
	LastResult      TickResult    `json:"last_result"`
	InFlight        int64         `json:"in_flight"`
}

// Dispatcher periodically claims due timers and runs their handlers
type Dispatcher struct {
	queue    Queue
	registry *Registry
	cfg      Config
	logger   *zap.SugaredLogger
	pulseLog *zap.SugaredLogger // Logger with Pulse symbol pre-attached

	tickMu sync.Mutex // serializes ticks

	mu              sync.Mutex
	running         bool
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	intervalCh      chan struct{}
	lastTickAt      time.Time
	ticksSinceStart int64
	lastResult      TickResult

	inFlight atomic.Int64
}

// NewDispatcher creates a dispatcher; zero config fields take their defaults
func NewDispatcher(queue Queue, registry *Registry, cfg Config, log *zap.SugaredLogger) *Dispatcher {
	if log == nil {
		log = logger.Logger
	}
	log = log.Named("pulse")
	return &Dispatcher{
		queue:      queue,
		registry:   registry,
		cfg:        cfg.withDefaults(),
		logger:     log,
		pulseLog:   logger.AddPulseSymbol(log),
		intervalCh: make(chan struct{}, 1),
	}
}

// Start begins the polling loop. Starting a running dispatcher does nothing.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.running = true
	d.ticksSinceStart = 0

	d.wg.Add(1)
	go d.run(ctx, d.cfg.Interval)
	logger.AddPulseOpenSymbol(d.logger).Infow("Pulse dispatcher started",
		"interval", d.cfg.Interval,
		logger.FieldBatchSize, d.cfg.BatchSize,
		"workers", d.cfg.Workers,
	)
}

// Stop cancels the loop and waits for the current tick to finish
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.cancel()
	d.running = false
	d.mu.Unlock()

	d.wg.Wait()
	logger.AddPulseCloseSymbol(d.logger).Infow("Pulse dispatcher stopped")
}

// SetInterval changes the polling interval; a running loop picks it up on its next select.
// Safe for concurrent use.
func (d *Dispatcher) SetInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}
	d.mu.Lock()
	if d.cfg.Interval == interval {
		d.mu.Unlock()
		return
	}
	d.cfg.Interval = interval
	running := d.running
	d.mu.Unlock()

	if !running {
		return
	}
	// A pending signal already makes the loop reread cfg.Interval
	select {
	case d.intervalCh <- struct{}{}:
	default:
	}
	d.pulseLog.Infow("Pulse interval changed", "interval", interval)
}

// run is the main loop
func (d *Dispatcher) run(ctx context.Context, interval time.Duration) {
	defer d.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.intervalCh:
			d.mu.Lock()
			next := d.cfg.Interval
			d.mu.Unlock()
			ticker.Reset(next)
		case tickTime := <-ticker.C:
			if _, err := d.Tick(ctx, tickTime); err != nil {
				if ctx.Err() != nil {
					return
				}
				// Don't spam logs - log errors at warn level
				d.pulseLog.Warnw("Pulse tick error", logger.FieldError, err)
			}
		}
	}
}

// Tick runs one reconcile-claim-dispatch cycle at now and waits for every
// claimed timer to finish. Ticks never overlap.
func (d *Dispatcher) Tick(ctx context.Context, now time.Time) (TickResult, error) {
	d.tickMu.Lock()
	defer d.tickMu.Unlock()

	start := time.Now()
	var res TickResult

	d.mu.Lock()
	cfg := d.cfg
	d.mu.Unlock()

	if cfg.StaleAfter > 0 {
		n, err := d.queue.ResetStale(ctx, now.Add(-cfg.StaleAfter))
		if err != nil {
			d.pulseLog.Warnw("Failed to reset stale timers", logger.FieldError, err)
		} else if n > 0 {
			d.pulseLog.Infow("Reset stale timers", logger.FieldCount, n)
		}
		res.Reset = n
	}

	timers, err := d.queue.ClaimDue(ctx, now, cfg.BatchSize)
	if err != nil {
		return res, errors.Wrap(err, "failed to claim due timers")
	}
	res.Claimed = len(timers)

	var completed, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(cfg.Workers)
	for _, t := range timers {
		g.Go(func() error {
			switch d.dispatch(ctx, t, cfg.HandlerTimeout) {
			case OutcomeCompleted:
				completed.Add(1)
			case OutcomeInterrupted:
			default:
				failed.Add(1)
			}
			return nil
		})
	}
	g.Wait()

	res.Completed = int(completed.Load())
	res.Failed = int(failed.Load())
	res.Duration = time.Since(start)

	d.mu.Lock()
	d.lastTickAt = now
	d.ticksSinceStart++
	d.lastResult = res
	d.mu.Unlock()

	if res.Claimed > 0 {
		d.pulseLog.Infow("Pulse tick",
			"claimed", res.Claimed,
			"completed", res.Completed,
			"failed", res.Failed,
			"reset", res.Reset,
			logger.FieldDurationMS, res.Duration.Milliseconds(),
		)
	}
	return res, nil
}

// dispatch runs one claimed timer and records its outcome. It never panics.
func (d *Dispatcher) dispatch(ctx context.Context, t *Timer, timeout time.Duration) Outcome {
	start := time.Now()
	log := d.pulseLog.With(
		logger.FieldTimerID, t.ID,
		logger.FieldKind, t.Kind,
		"target_id", t.TargetID,
	)

	handler := d.registry.Get(t.Kind)
	if handler == nil {
		d.fail(ctx, log, t, OutcomeUnknownKind, fmt.Sprintf("no handler registered for kind %s", t.Kind))
		return OutcomeUnknownKind
	}
	if err := t.Decode(); err != nil {
		d.fail(ctx, log, t, OutcomeBadPayload, err.Error())
		return OutcomeBadPayload
	}

	d.inFlight.Add(1)
	metrics.TimersInFlight.Inc()
	outcome, err := d.invoke(ctx, handler, t, timeout)
	d.inFlight.Add(-1)
	metrics.TimersInFlight.Dec()

	duration := time.Since(start)
	metrics.TimerDuration.WithLabelValues(string(t.Kind)).Observe(duration.Seconds())

	switch outcome {
	case OutcomeInterrupted:
		log.Warnw("Pulse interrupted, timer left for reconciliation", logger.FieldError, err)
		metrics.TimerOutcomes.WithLabelValues(string(t.Kind), string(outcome)).Inc()
		return outcome
	case OutcomeCompleted:
		if err := d.queue.MarkCompleted(ctx, t.ID); err != nil {
			d.logMarkError(log, err)
		}
		metrics.TimerOutcomes.WithLabelValues(string(t.Kind), string(outcome)).Inc()
		log.Infow("Pulse OK",
			"timer_short", t.Short(),
			logger.FieldDurationMS, duration.Milliseconds(),
		)
		return outcome
	default:
		d.fail(ctx, log, t, outcome, err.Error())
		return outcome
	}
}

// invoke runs the handler under a deadline. A handler that ignores its context
// is abandoned at the deadline; its goroutine finishes in the background.
func (d *Dispatcher) invoke(ctx context.Context, h Handler, t *Timer, timeout time.Duration) (Outcome, error) {
	hctx, cancel := context.WithTimeout(logger.WithTimerID(ctx, t.ID), timeout)
	defer cancel()

	type result struct {
		outcome Outcome
		err     error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{OutcomePanicked, errors.Newf("handler panicked: %v", r)}
			}
		}()
		if err := h.Handle(hctx, t); err != nil {
			done <- result{OutcomeFailed, err}
			return
		}
		done <- result{OutcomeCompleted, nil}
	}()

	select {
	case r := <-done:
		if r.err != nil && ctx.Err() != nil {
			return OutcomeInterrupted, r.err
		}
		if r.err != nil && errors.Is(hctx.Err(), context.DeadlineExceeded) {
			return OutcomeTimeout, errors.Wrapf(r.err, "handler timed out after %s", timeout)
		}
		return r.outcome, r.err
	case <-hctx.Done():
		if ctx.Err() != nil {
			return OutcomeInterrupted, ctx.Err()
		}
		return OutcomeTimeout, errors.Newf("handler timed out after %s", timeout)
	}
}

func (d *Dispatcher) fail(ctx context.Context, log *zap.SugaredLogger, t *Timer, outcome Outcome, msg string) {
	metrics.TimerOutcomes.WithLabelValues(string(t.Kind), string(outcome)).Inc()
	log.Errorw("Pulse FAILED",
		"timer_short", t.Short(),
		"outcome", outcome,
		logger.FieldError, msg,
	)
	if err := d.queue.MarkFailed(ctx, t.ID, msg); err != nil {
		d.logMarkError(log, err)
	}
}

func (d *Dispatcher) logMarkError(log *zap.SugaredLogger, err error) {
	if errors.IsConflictError(err) {
		// Cancelled by a rollback while the handler ran
		log.Debugw("Timer left processing before it finished", logger.FieldError, err)
		return
	}
	log.Errorw("Failed to record timer outcome", logger.FieldError, err)
}

// Stats returns a snapshot of dispatcher state
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Running:         d.running,
		Interval:        d.cfg.Interval,
		TicksSinceStart: d.ticksSinceStart,
		LastTickAt:      d.lastTickAt,
		LastResult:      d.lastResult,
		InFlight:        d.inFlight.Load(),
	}
}
