package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/marketgate/marketgate/internal/metrics"
)

// DropPolicy decides what happens when a subscriber queue is full
type DropPolicy string

const (
	DropNewest DropPolicy = "drop_newest"
	DropOldest DropPolicy = "drop_oldest"
)

// DurableLog is the optional append-only persistence behind the stream.
// Implementations are capacity-bounded and support resuming by id.
type DurableLog interface {
	Append(ctx context.Context, event *Event) error
	Read(ctx context.Context, startID string, count int) ([]*Event, error)
	Close() error
}

// Broadcaster forwards events to an external fan-out surface such as a
// WebSocket hub. It must not block.
type Broadcaster interface {
	Broadcast(event *Event)
}

// Handler consumes one event
type Handler func(event *Event)

// StreamConfig tunes the in-memory stream
type StreamConfig struct {
	MaxHistory      int        `yaml:"max_history"`
	SubscriberQueue int        `yaml:"subscriber_queue"`
	DropPolicy      DropPolicy `yaml:"drop_policy"`
}

// DefaultStreamConfig returns the stream defaults
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		MaxHistory:      1000,
		SubscriberQueue: 256,
		DropPolicy:      DropNewest,
	}
}

type subscriber struct {
	id      string
	filter  *Filter
	handler Handler
	queue   chan *Event
	done    chan struct{}
}

// Stream is the in-memory publish/subscribe bus. Emission order is
// preserved to every subscriber; each subscriber drains its own bounded
// queue so one slow consumer cannot starve the dispatcher.
type Stream struct {
	config      StreamConfig
	durable     DurableLog
	broadcaster Broadcaster
	metrics     *metrics.Registry

	mu          sync.RWMutex
	subscribers []*subscriber
	history     []*Event
	historyPos  int
	total       int64
	byType      map[Type]int64
	bySeverity  map[Severity]int64
	closed      bool

	wg sync.WaitGroup
}

// NewStream creates an event stream
func NewStream(config StreamConfig) *Stream {
	if config.MaxHistory <= 0 {
		config.MaxHistory = DefaultStreamConfig().MaxHistory
	}
	if config.SubscriberQueue <= 0 {
		config.SubscriberQueue = DefaultStreamConfig().SubscriberQueue
	}
	if config.DropPolicy == "" {
		config.DropPolicy = DropNewest
	}
	return &Stream{
		config:     config,
		history:    make([]*Event, 0, config.MaxHistory),
		byType:     make(map[Type]int64),
		bySeverity: make(map[Severity]int64),
	}
}

// SetDurableLog attaches the optional append-only log; call before Emit
func (s *Stream) SetDurableLog(durable DurableLog) {
	s.mu.Lock()
	s.durable = durable
	s.mu.Unlock()
}

// SetBroadcaster attaches the optional external fan-out; call before Emit
func (s *Stream) SetBroadcaster(b Broadcaster) {
	s.mu.Lock()
	s.broadcaster = b
	s.mu.Unlock()
}

// SetMetrics attaches emission and subscriber gauges; safe to leave unset
func (s *Stream) SetMetrics(reg *metrics.Registry) {
	s.mu.Lock()
	s.metrics = reg
	s.mu.Unlock()
}

// Emit publishes one event: counters, ring history, and subscriber
// enqueue happen atomically under the stream lock, so every subscriber
// sees events in history order even under concurrent emitters. The
// durable log and broadcaster run after the lock is released.
func (s *Stream) Emit(ctx context.Context, event *Event) {
	if event == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.total++
	s.byType[event.Type]++
	s.bySeverity[event.Severity]++

	if len(s.history) < s.config.MaxHistory {
		s.history = append(s.history, event)
	} else {
		// Ring buffer: overwrite the oldest slot
		s.history[s.historyPos] = event
		s.historyPos = (s.historyPos + 1) % s.config.MaxHistory
	}

	// enqueue never blocks, so fanning out under the lock is what ties
	// queue order to history order.
	for _, sub := range s.subscribers {
		if !sub.filter.Matches(event) {
			continue
		}
		s.enqueue(sub, event)
	}

	durable := s.durable
	broadcaster := s.broadcaster
	reg := s.metrics
	s.mu.Unlock()

	if reg != nil {
		reg.EventsEmitted.WithLabelValues(string(event.Type), string(event.Severity)).Inc()
	}
	if durable != nil {
		if err := durable.Append(ctx, event); err != nil {
			log.Warn().Err(err).Str("event", event.ID).Msg("durable log append failed")
		}
	}
	if broadcaster != nil {
		broadcaster.Broadcast(event)
	}
}

func (s *Stream) enqueue(sub *subscriber, event *Event) {
	select {
	case sub.queue <- event:
		return
	default:
	}

	switch s.config.DropPolicy {
	case DropOldest:
		select {
		case <-sub.queue:
		default:
		}
		select {
		case sub.queue <- event:
		default:
			log.Warn().Str("subscriber", sub.id).Str("event", event.ID).Msg("subscriber queue full, event dropped")
		}
	default: // DropNewest
		log.Warn().Str("subscriber", sub.id).Str("event", event.ID).Msg("subscriber queue full, event dropped")
	}
}

// Subscribe registers a handler. A nil filter matches every event; an
// empty id gets a generated one. Caller-supplied ids must be unique.
func (s *Stream) Subscribe(handler Handler, filter *Filter, id string) (string, error) {
	if handler == nil {
		return "", fmt.Errorf("subscriber handler is nil")
	}
	if id == "" {
		id = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", fmt.Errorf("stream is closed")
	}
	for _, sub := range s.subscribers {
		if sub.id == id {
			return "", fmt.Errorf("subscriber id already registered: %s", id)
		}
	}

	sub := &subscriber{
		id:      id,
		filter:  filter,
		handler: handler,
		queue:   make(chan *Event, s.config.SubscriberQueue),
		done:    make(chan struct{}),
	}
	s.subscribers = append(s.subscribers, sub)
	if s.metrics != nil {
		s.metrics.StreamSubscribers.Set(float64(len(s.subscribers)))
	}

	s.wg.Add(1)
	go s.drain(sub)

	return id, nil
}

// drain delivers queued events to one subscriber in FIFO order
func (s *Stream) drain(sub *subscriber) {
	defer s.wg.Done()
	for {
		select {
		case <-sub.done:
			// Flush what is already queued before exiting
			for {
				select {
				case event := <-sub.queue:
					s.deliver(sub, event)
				default:
					return
				}
			}
		case event := <-sub.queue:
			s.deliver(sub, event)
		}
	}
}

func (s *Stream) deliver(sub *subscriber, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("subscriber", sub.id).Msg("subscriber handler panicked")
		}
	}()
	sub.handler(event)
}

// Unsubscribe removes a subscriber; returns false when the id is unknown
func (s *Stream) Unsubscribe(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.subscribers {
		if sub.id == id {
			close(sub.done)
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			if s.metrics != nil {
				s.metrics.StreamSubscribers.Set(float64(len(s.subscribers)))
			}
			return true
		}
	}
	return false
}

// SubscriberCount reports the number of active subscribers
func (s *Stream) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}

// History returns the most recent matching events, newest first
func (s *Stream) History(filter *Filter, limit int) []*Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = s.config.MaxHistory
	}

	// Walk backwards from the newest slot
	out := make([]*Event, 0, limit)
	n := len(s.history)
	for i := 0; i < n && len(out) < limit; i++ {
		idx := (s.historyPos - 1 - i + n) % n
		if n < s.config.MaxHistory {
			// Buffer not yet wrapped: plain reverse order
			idx = n - 1 - i
		}
		event := s.history[idx]
		if filter.Matches(event) {
			out = append(out, event)
		}
	}
	return out
}

// Persisted reads from the durable log, resuming after startID
func (s *Stream) Persisted(ctx context.Context, startID string, count int) ([]*Event, error) {
	s.mu.RLock()
	durable := s.durable
	s.mu.RUnlock()

	if durable == nil {
		return nil, fmt.Errorf("no durable log configured")
	}
	return durable.Read(ctx, startID, count)
}

// Counters returns total, by-type, and by-severity emission counts
func (s *Stream) Counters() (int64, map[Type]int64, map[Severity]int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byType := make(map[Type]int64, len(s.byType))
	for k, v := range s.byType {
		byType[k] = v
	}
	bySeverity := make(map[Severity]int64, len(s.bySeverity))
	for k, v := range s.bySeverity {
		bySeverity[k] = v
	}
	return s.total, byType, bySeverity
}

// Close stops dispatch, flushes subscriber queues, and waits for drains
func (s *Stream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := s.subscribers
	s.subscribers = nil
	if s.metrics != nil {
		s.metrics.StreamSubscribers.Set(0)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		close(sub.done)
	}
	s.wg.Wait()
}
