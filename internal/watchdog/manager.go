package watchdog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/marketgate/marketgate/internal/events"
)

// ManagerConfig tunes the fleet manager
type ManagerConfig struct {
	// UnhealthyCooldown is how long an unhealthy watchdog is paused before
	// the manager restarts it.
	UnhealthyCooldown time.Duration `yaml:"unhealthy_cooldown"`
	// SupervisionInterval is how often the manager inspects fleet health.
	SupervisionInterval time.Duration `yaml:"supervision_interval"`
}

// DefaultManagerConfig returns the manager defaults
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		UnhealthyCooldown:   5 * time.Minute,
		SupervisionInterval: 30 * time.Second,
	}
}

// Manager owns the detector fleet: registration, concurrent start/stop,
// priority handlers on the shared stream, and a circuit-breaker pause for
// unhealthy watchdogs.
type Manager struct {
	stream *events.Stream
	config ManagerConfig

	mu        sync.Mutex
	watchdogs map[string]*Watchdog
	order     []string
	pausedAt  map[string]time.Time
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}

	priorityIDs []string
}

// NewManager creates a watchdog manager over a shared event stream
func NewManager(stream *events.Stream, config ManagerConfig) *Manager {
	if config.UnhealthyCooldown <= 0 {
		config.UnhealthyCooldown = DefaultManagerConfig().UnhealthyCooldown
	}
	if config.SupervisionInterval <= 0 {
		config.SupervisionInterval = DefaultManagerConfig().SupervisionInterval
	}
	return &Manager{
		stream:    stream,
		config:    config,
		watchdogs: make(map[string]*Watchdog),
		pausedAt:  make(map[string]time.Time),
	}
}

// Register adds a watchdog to the fleet; names must be unique
func (m *Manager) Register(w *Watchdog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := w.Name()
	if _, exists := m.watchdogs[name]; exists {
		return fmt.Errorf("watchdog already registered: %s", name)
	}
	m.watchdogs[name] = w
	m.order = append(m.order, name)
	return nil
}

// Initialize installs the default priority handlers for high and critical
// events. Extension point: external actions hang off these subscriptions.
func (m *Manager) Initialize() error {
	criticalID, err := m.stream.Subscribe(func(event *events.Event) {
		log.Error().
			Str("event", event.ID).
			Str("type", string(event.Type)).
			Str("watchdog", event.WatchdogName).
			Str("description", event.Description).
			Msg("critical market event")
	}, &events.Filter{Severities: []events.Severity{events.SeverityCritical}}, "manager-critical")
	if err != nil {
		return err
	}

	highID, err := m.stream.Subscribe(func(event *events.Event) {
		log.Warn().
			Str("event", event.ID).
			Str("type", string(event.Type)).
			Str("watchdog", event.WatchdogName).
			Str("description", event.Description).
			Msg("high-severity market event")
	}, &events.Filter{Severities: []events.Severity{events.SeverityHigh}}, "manager-high")
	if err != nil {
		return err
	}

	m.priorityIDs = []string{criticalID, highID}
	return nil
}

// Start concurrently starts every enabled watchdog and begins supervision
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	superCtx, cancel := context.WithCancel(ctx)
	m.running = true
	m.cancel = cancel
	m.done = make(chan struct{})
	watchdogs := m.snapshot()
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range watchdogs {
		wg.Add(1)
		go func(w *Watchdog) {
			defer wg.Done()
			w.Start(ctx)
		}(w)
	}
	wg.Wait()

	go m.supervise(superCtx)
	log.Info().Int("watchdogs", len(watchdogs)).Msg("watchdog fleet started")
}

// Stop signals every watchdog, waits for completion in parallel, and
// removes the priority handlers.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	done := m.done
	watchdogs := m.snapshot()
	m.mu.Unlock()

	cancel()
	<-done

	var wg sync.WaitGroup
	for _, w := range watchdogs {
		wg.Add(1)
		go func(w *Watchdog) {
			defer wg.Done()
			w.Stop()
		}(w)
	}
	wg.Wait()

	for _, id := range m.priorityIDs {
		m.stream.Unsubscribe(id)
	}
	log.Info().Msg("watchdog fleet stopped")
}

// Restart stops and restarts one watchdog by name
func (m *Manager) Restart(ctx context.Context, name string) error {
	w, err := m.get(name)
	if err != nil {
		return err
	}
	w.Stop()
	w.Start(ctx)
	return nil
}

// Enable marks a watchdog enabled and starts it
func (m *Manager) Enable(ctx context.Context, name string) error {
	w, err := m.get(name)
	if err != nil {
		return err
	}
	w.setEnabled(true)
	w.Start(ctx)
	return nil
}

// Disable stops a watchdog and marks it disabled
func (m *Manager) Disable(name string) error {
	w, err := m.get(name)
	if err != nil {
		return err
	}
	w.Stop()
	w.setEnabled(false)
	return nil
}

// FleetHealth returns health snapshots for every watchdog
func (m *Manager) FleetHealth() map[string]Health {
	m.mu.Lock()
	watchdogs := m.snapshot()
	m.mu.Unlock()

	out := make(map[string]Health, len(watchdogs))
	for _, w := range watchdogs {
		out[w.Name()] = w.Health()
	}
	return out
}

// Status summarizes the fleet for operational endpoints
func (m *Manager) Status() map[string]interface{} {
	health := m.FleetHealth()
	healthy, degraded, unhealthy := 0, 0, 0
	for _, h := range health {
		switch h.Status {
		case StatusHealthy:
			healthy++
		case StatusDegraded:
			degraded++
		case StatusUnhealthy:
			unhealthy++
		}
	}
	total, byType, bySeverity := m.stream.Counters()
	return map[string]interface{}{
		"watchdogs":          health,
		"healthy":            healthy,
		"degraded":           degraded,
		"unhealthy":          unhealthy,
		"events_total":       total,
		"events_by_type":     byType,
		"events_by_severity": bySeverity,
	}
}

// RecentEvents passes through to the stream history
func (m *Manager) RecentEvents(filter *events.Filter, limit int) []*events.Event {
	return m.stream.History(filter, limit)
}

// Subscribe passes through to the event stream
func (m *Manager) Subscribe(handler events.Handler, filter *events.Filter) (string, error) {
	return m.stream.Subscribe(handler, filter, "")
}

// Unsubscribe passes through to the event stream
func (m *Manager) Unsubscribe(id string) bool {
	return m.stream.Unsubscribe(id)
}

// supervise pauses unhealthy watchdogs for a cooldown, then restarts them
func (m *Manager) supervise(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.config.SupervisionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.inspectFleet(ctx)
		}
	}
}

func (m *Manager) inspectFleet(ctx context.Context) {
	m.mu.Lock()
	watchdogs := m.snapshot()
	m.mu.Unlock()

	now := time.Now()
	for _, w := range watchdogs {
		health := w.Health()
		name := w.Name()

		m.mu.Lock()
		pausedAt, paused := m.pausedAt[name]
		m.mu.Unlock()

		switch {
		case paused && now.Sub(pausedAt) >= m.config.UnhealthyCooldown:
			m.mu.Lock()
			delete(m.pausedAt, name)
			m.mu.Unlock()
			log.Info().Str("watchdog", name).Msg("cooldown elapsed, restarting watchdog")
			w.Start(ctx)

		case !paused && health.Status == StatusUnhealthy && w.Running():
			log.Warn().
				Str("watchdog", name).
				Int("consecutive_failures", health.ConsecutiveFailures).
				Dur("cooldown", m.config.UnhealthyCooldown).
				Msg("watchdog unhealthy, pausing for cooldown")
			w.Stop()
			m.mu.Lock()
			m.pausedAt[name] = now
			m.mu.Unlock()
		}
	}
}

func (m *Manager) get(name string) (*Watchdog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.watchdogs[name]
	if !ok {
		return nil, fmt.Errorf("watchdog not registered: %s", name)
	}
	return w, nil
}

// snapshot returns watchdogs in registration order; caller holds the lock
func (m *Manager) snapshot() []*Watchdog {
	out := make([]*Watchdog, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.watchdogs[name])
	}
	return out
}
