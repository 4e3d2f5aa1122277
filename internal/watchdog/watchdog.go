package watchdog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/marketgate/marketgate/internal/events"
)

// Status is the watchdog lifecycle/health state
type Status string

const (
	StatusInitialized Status = "initialized"
	StatusHealthy     Status = "healthy"
	StatusDegraded    Status = "degraded"
	StatusUnhealthy   Status = "unhealthy"
	StatusStopped     Status = "stopped"
)

// Health is the runtime snapshot of one watchdog
type Health struct {
	Name                string    `json:"name"`
	Status              Status    `json:"status"`
	LastCheck           time.Time `json:"last_check"`
	LastEvent           time.Time `json:"last_event"`
	EventsEmitted       int64     `json:"events_emitted"`
	Errors              int64     `json:"errors"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	UptimeSeconds       float64   `json:"uptime_seconds"`
	TotalChecks         int64     `json:"total_checks"`
}

// Checker implements one anomaly check. Check returns a non-nil event
// when an anomaly is detected, nil otherwise. It may fail; the base
// watchdog wraps it with retries.
type Checker interface {
	Name() string
	Check(ctx context.Context) (*events.Event, error)
}

// Config tunes one watchdog instance
type Config struct {
	Enabled       bool          `yaml:"enabled"`
	CheckInterval time.Duration `yaml:"check_interval"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// Watchdog runs one Checker on a periodic loop, emits its events on the
// stream, and tracks health through the
// healthy/degraded/unhealthy transitions.
type Watchdog struct {
	checker Checker
	config  Config
	stream  *events.Stream

	mu        sync.Mutex
	health    Health
	startedAt time.Time
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// New wraps a checker into a managed watchdog
func New(checker Checker, config Config, stream *events.Stream) *Watchdog {
	if config.CheckInterval <= 0 {
		config.CheckInterval = time.Minute
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 2 * time.Second
	}
	return &Watchdog{
		checker: checker,
		config:  config,
		stream:  stream,
		health: Health{
			Name:   checker.Name(),
			Status: StatusInitialized,
		},
	}
}

// Name returns the checker name
func (w *Watchdog) Name() string { return w.checker.Name() }

// Enabled reports whether the watchdog is configured to run
func (w *Watchdog) Enabled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.config.Enabled
}

// setEnabled flips the configured state; the manager uses it for
// enable/disable requests.
func (w *Watchdog) setEnabled(enabled bool) {
	w.mu.Lock()
	w.config.Enabled = enabled
	w.mu.Unlock()
}

// Start spawns the check loop. A disabled watchdog is a no-op and stays
// in the initialized state.
func (w *Watchdog) Start(ctx context.Context) {
	w.mu.Lock()
	if !w.config.Enabled {
		w.mu.Unlock()
		log.Debug().Str("watchdog", w.Name()).Msg("watchdog disabled, not starting")
		return
	}
	if w.running {
		w.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	w.running = true
	w.cancel = cancel
	w.done = make(chan struct{})
	w.startedAt = time.Now()
	w.health.Status = StatusHealthy
	w.mu.Unlock()

	go w.loop(loopCtx)
	log.Info().Str("watchdog", w.Name()).Dur("interval", w.config.CheckInterval).Msg("watchdog started")
}

// Stop signals shutdown and waits for the loop to exit. In-flight checks
// run to completion bounded by their own timeouts.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel := w.cancel
	done := w.done
	w.mu.Unlock()

	cancel()
	<-done

	w.mu.Lock()
	w.health.Status = StatusStopped
	w.mu.Unlock()
	log.Info().Str("watchdog", w.Name()).Msg("watchdog stopped")
}

// Running reports whether the loop is active
func (w *Watchdog) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Health returns a copy of the runtime health snapshot
func (w *Watchdog) Health() Health {
	w.mu.Lock()
	defer w.mu.Unlock()

	h := w.health
	if !w.startedAt.IsZero() && w.running {
		h.UptimeSeconds = time.Since(w.startedAt).Seconds()
	}
	return h
}

func (w *Watchdog) loop(ctx context.Context) {
	defer close(w.done)

	timer := time.NewTimer(0) // first check fires immediately
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		w.runCheck(ctx)

		timer.Reset(w.config.CheckInterval)
	}
}

// runCheck executes one check with retries and updates health
func (w *Watchdog) runCheck(ctx context.Context) {
	event, err := w.checkWithRetry(ctx)

	w.mu.Lock()
	w.health.LastCheck = time.Now()
	if err != nil {
		w.health.Errors++
		w.health.ConsecutiveFailures++
		w.health.Status = w.statusForFailures(w.health.ConsecutiveFailures)
		w.mu.Unlock()
		log.Warn().Err(err).Str("watchdog", w.Name()).Msg("watchdog check failed")
		return
	}

	w.health.TotalChecks++
	w.health.ConsecutiveFailures = 0
	w.health.Status = StatusHealthy
	if event != nil {
		w.health.EventsEmitted++
		w.health.LastEvent = time.Now()
	}
	w.mu.Unlock()

	if event != nil {
		event.WatchdogName = w.Name()
		w.stream.Emit(ctx, event)
	}
}

func (w *Watchdog) statusForFailures(consecutive int) Status {
	if consecutive >= w.config.MaxRetries {
		return StatusUnhealthy
	}
	if consecutive > 0 {
		return StatusDegraded
	}
	return StatusHealthy
}

// checkWithRetry attempts the check up to MaxRetries times, RetryDelay
// apart. Retries are cancelled by shutdown.
func (w *Watchdog) checkWithRetry(ctx context.Context) (*events.Event, error) {
	var lastErr error
	for attempt := 0; attempt < w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(w.config.RetryDelay):
			}
		}

		event, err := w.checker.Check(ctx)
		if err == nil {
			return event, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("check failed after %d attempts: %w", w.config.MaxRetries, lastErr)
}
