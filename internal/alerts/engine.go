package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/marketgate/marketgate/internal/events"
	"github.com/marketgate/marketgate/internal/metrics"
)

// EngineConfig tunes the delivery pipeline
type EngineConfig struct {
	QueueSize       int           `yaml:"queue_size"`
	Workers         int           `yaml:"workers"`
	DeliveryTimeout time.Duration `yaml:"delivery_timeout"`
}

// UnmarshalYAML accepts the timeout in Go duration syntax ("10s")
func (c *EngineConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		QueueSize       int    `yaml:"queue_size"`
		Workers         int    `yaml:"workers"`
		DeliveryTimeout string `yaml:"delivery_timeout"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.QueueSize = raw.QueueSize
	c.Workers = raw.Workers
	if raw.DeliveryTimeout != "" {
		d, err := time.ParseDuration(raw.DeliveryTimeout)
		if err != nil {
			return fmt.Errorf("delivery_timeout: %w", err)
		}
		c.DeliveryTimeout = d
	}
	return nil
}

// DefaultEngineConfig returns the delivery defaults
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		QueueSize:       512,
		Workers:         4,
		DeliveryTimeout: 10 * time.Second,
	}
}

type deliveryJob struct {
	alert *AlertConfig
	event *events.Event
}

// Engine connects the alert store to the event stream. Each active
// alert holds one stream subscription with the alert's trigger filter;
// matching events pass the cooldown gate and are fanned out to the
// alert's delivery channels through a bounded queue and worker pool.
type Engine struct {
	store      *Store
	stream     *events.Stream
	config     EngineConfig
	deliverers map[DeliveryMethod]Deliverer

	mu            sync.Mutex
	subscriptions map[string]string // alert id -> stream subscription id

	queue   chan deliveryJob
	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup

	deliveredCount int64
	failedCount    int64
	droppedCount   int64
	countMu        sync.Mutex

	metrics *metrics.Registry
}

// NewEngine creates the alert engine. Deliverers may omit channels that
// are not configured for this deployment; alerts using an absent channel
// fail delivery with a logged error.
func NewEngine(store *Store, stream *events.Stream, config EngineConfig, deliverers map[DeliveryMethod]Deliverer) *Engine {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultEngineConfig().QueueSize
	}
	if config.Workers <= 0 {
		config.Workers = DefaultEngineConfig().Workers
	}
	if config.DeliveryTimeout <= 0 {
		config.DeliveryTimeout = DefaultEngineConfig().DeliveryTimeout
	}
	return &Engine{
		store:         store,
		stream:        stream,
		config:        config,
		deliverers:    deliverers,
		subscriptions: make(map[string]string),
		queue:         make(chan deliveryJob, config.QueueSize),
		stopCh:        make(chan struct{}),
	}
}

// SetMetrics attaches delivery counters; safe to leave unset
func (e *Engine) SetMetrics(reg *metrics.Registry) {
	e.metrics = reg
}

// Start launches the worker pool and subscribes existing active alerts
func (e *Engine) Start() {
	for i := 0; i < e.config.Workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	for _, alert := range e.store.List() {
		if alert.Enabled {
			if err := e.Activate(alert.ID); err != nil {
				log.Warn().Err(err).Str("alert", alert.ID).Msg("alert activation failed at startup")
			}
		}
	}
	log.Info().Int("workers", e.config.Workers).Msg("alert engine started")
}

// Activate subscribes one alert to the stream with its trigger filter
func (e *Engine) Activate(alertID string) error {
	alert, err := e.store.Get(alertID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, active := e.subscriptions[alertID]; active {
		return nil
	}

	trigger := alert.Trigger
	subID, err := e.stream.Subscribe(func(event *events.Event) {
		e.onEvent(alertID, event)
	}, &trigger, "alert:"+alertID)
	if err != nil {
		return fmt.Errorf("subscribe alert %s: %w", alertID, err)
	}
	e.subscriptions[alertID] = subID
	return nil
}

// Deactivate removes an alert's stream subscription
func (e *Engine) Deactivate(alertID string) {
	e.mu.Lock()
	subID, ok := e.subscriptions[alertID]
	if ok {
		delete(e.subscriptions, alertID)
	}
	e.mu.Unlock()
	if ok {
		e.stream.Unsubscribe(subID)
	}
}

// onEvent runs on the stream's drain goroutine; it must only gate and
// enqueue, never deliver inline.
func (e *Engine) onEvent(alertID string, event *events.Event) {
	if !e.store.markTriggered(alertID, time.Now()) {
		return
	}
	alert, err := e.store.Get(alertID)
	if err != nil {
		return
	}

	select {
	case e.queue <- deliveryJob{alert: alert, event: event}:
	default:
		e.countMu.Lock()
		e.droppedCount++
		e.countMu.Unlock()
		if e.metrics != nil {
			e.metrics.AlertsDropped.Inc()
		}
		log.Warn().Str("alert", alertID).Str("event", event.ID).Msg("delivery queue full, notification dropped")
	}
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		case job := <-e.queue:
			e.dispatch(job)
		}
	}
}

// dispatch fans one job out to every enabled channel concurrently
func (e *Engine) dispatch(job deliveryJob) {
	ctx, cancel := context.WithTimeout(context.Background(), e.config.DeliveryTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, method := range job.alert.DeliveryMethods {
		deliverer, ok := e.deliverers[method]
		if !ok {
			log.Warn().
				Str("alert", job.alert.ID).
				Str("method", string(method)).
				Msg("no deliverer configured for method")
			continue
		}

		wg.Add(1)
		go func(method DeliveryMethod, deliverer Deliverer) {
			defer wg.Done()
			if err := deliverer.Deliver(ctx, job.alert, job.event); err != nil {
				e.countMu.Lock()
				e.failedCount++
				e.countMu.Unlock()
				if e.metrics != nil {
					e.metrics.AlertsFailed.WithLabelValues(string(method)).Inc()
				}
				// Failures never disable the alert; the next event may succeed
				log.Warn().Err(err).
					Str("alert", job.alert.ID).
					Str("method", string(method)).
					Str("event", job.event.ID).
					Msg("alert delivery failed")
				return
			}
			e.countMu.Lock()
			e.deliveredCount++
			e.countMu.Unlock()
			if e.metrics != nil {
				e.metrics.AlertsDelivered.WithLabelValues(string(method)).Inc()
			}
		}(method, deliverer)
	}
	wg.Wait()
}

// Stats reports delivered, failed, and dropped notification counts
func (e *Engine) Stats() (delivered, failed, dropped int64) {
	e.countMu.Lock()
	defer e.countMu.Unlock()
	return e.deliveredCount, e.failedCount, e.droppedCount
}

// Stop unsubscribes all alerts and drains the worker pool
func (e *Engine) Stop() {
	e.stopped.Do(func() {
		e.mu.Lock()
		subs := e.subscriptions
		e.subscriptions = make(map[string]string)
		e.mu.Unlock()
		for _, subID := range subs {
			e.stream.Unsubscribe(subID)
		}

		close(e.stopCh)
		e.wg.Wait()
		log.Info().Msg("alert engine stopped")
	})
}
