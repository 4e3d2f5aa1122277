package events

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketgate/marketgate/internal/domain"
)

// collector is a subscriber handler that records deliveries
type collector struct {
	mu     sync.Mutex
	events []*Event
}

func (c *collector) handle(event *Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *collector) snapshot() []*Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Event, len(c.events))
	copy(out, c.events)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestStreamDeliversInOrder(t *testing.T) {
	s := NewStream(DefaultStreamConfig())
	defer s.Close()

	c := &collector{}
	_, err := s.Subscribe(c.handle, nil, "")
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		s.Emit(ctx, New(TypePriceAnomaly, SeverityMedium, fmt.Sprintf("event %d", i)))
	}

	waitFor(t, func() bool { return len(c.snapshot()) == 5 })
	got := c.snapshot()
	for i, e := range got {
		assert.Equal(t, fmt.Sprintf("event %d", i), e.Description, "FIFO order per subscriber")
	}
}

func TestStreamFilteredSubscription(t *testing.T) {
	s := NewStream(DefaultStreamConfig())
	defer s.Close()

	critical := &collector{}
	_, err := s.Subscribe(critical.handle, &Filter{Severities: []Severity{SeverityCritical}}, "critical-only")
	require.NoError(t, err)

	all := &collector{}
	_, err = s.Subscribe(all.handle, nil, "all")
	require.NoError(t, err)

	ctx := context.Background()
	s.Emit(ctx, New(TypePriceAnomaly, SeverityMedium, "medium"))
	s.Emit(ctx, New(TypeFlashCrash, SeverityCritical, "critical"))

	waitFor(t, func() bool { return len(all.snapshot()) == 2 })
	waitFor(t, func() bool { return len(critical.snapshot()) == 1 })
	assert.Equal(t, "critical", critical.snapshot()[0].Description)
}

func TestStreamDuplicateSubscriberID(t *testing.T) {
	s := NewStream(DefaultStreamConfig())
	defer s.Close()

	_, err := s.Subscribe(func(*Event) {}, nil, "dup")
	require.NoError(t, err)
	_, err = s.Subscribe(func(*Event) {}, nil, "dup")
	assert.Error(t, err)

	_, err = s.Subscribe(nil, nil, "")
	assert.Error(t, err, "nil handler is rejected")
}

func TestStreamUnsubscribe(t *testing.T) {
	s := NewStream(DefaultStreamConfig())
	defer s.Close()

	id, err := s.Subscribe(func(*Event) {}, nil, "")
	require.NoError(t, err)
	assert.Equal(t, 1, s.SubscriberCount())

	assert.True(t, s.Unsubscribe(id))
	assert.False(t, s.Unsubscribe(id), "second unsubscribe reports unknown id")
	assert.Equal(t, 0, s.SubscriberCount())
}

func TestStreamHistoryRing(t *testing.T) {
	s := NewStream(StreamConfig{MaxHistory: 3})
	defer s.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		s.Emit(ctx, New(TypePriceAnomaly, SeverityLow, fmt.Sprintf("event %d", i)))
	}

	history := s.History(nil, 0)
	require.Len(t, history, 3, "ring keeps only the newest MaxHistory events")
	assert.Equal(t, "event 4", history[0].Description, "newest first")
	assert.Equal(t, "event 3", history[1].Description)
	assert.Equal(t, "event 2", history[2].Description)

	limited := s.History(nil, 1)
	require.Len(t, limited, 1)
	assert.Equal(t, "event 4", limited[0].Description)
}

func TestStreamHistoryFilter(t *testing.T) {
	s := NewStream(DefaultStreamConfig())
	defer s.Close()

	ctx := context.Background()
	btc := domain.NewAsset("BTC", domain.AssetCrypto)
	eth := domain.NewAsset("ETH", domain.AssetCrypto)
	s.Emit(ctx, New(TypePriceAnomaly, SeverityHigh, "btc move").WithAsset(btc))
	s.Emit(ctx, New(TypeUnusualVolume, SeverityMedium, "eth volume").WithAsset(eth))

	history := s.History(&Filter{AssetSymbols: []string{"ETH"}}, 0)
	require.Len(t, history, 1)
	assert.Equal(t, "eth volume", history[0].Description)
}

func TestStreamCounters(t *testing.T) {
	s := NewStream(DefaultStreamConfig())
	defer s.Close()

	ctx := context.Background()
	s.Emit(ctx, New(TypePriceAnomaly, SeverityHigh, "a"))
	s.Emit(ctx, New(TypePriceAnomaly, SeverityCritical, "b"))
	s.Emit(ctx, New(TypeWhaleMovement, SeverityHigh, "c"))
	s.Emit(ctx, nil) // ignored

	total, byType, bySeverity := s.Counters()
	assert.Equal(t, int64(3), total)
	assert.Equal(t, int64(2), byType[TypePriceAnomaly])
	assert.Equal(t, int64(1), byType[TypeWhaleMovement])
	assert.Equal(t, int64(2), bySeverity[SeverityHigh])
	assert.Equal(t, int64(1), bySeverity[SeverityCritical])
}

func TestStreamConcurrentEmitMatchesHistoryOrder(t *testing.T) {
	const emitters, perEmitter = 8, 25
	total := emitters * perEmitter

	s := NewStream(StreamConfig{MaxHistory: total, SubscriberQueue: total})
	defer s.Close()

	c := &collector{}
	_, err := s.Subscribe(c.handle, nil, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < emitters; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ctx := context.Background()
			for j := 0; j < perEmitter; j++ {
				s.Emit(ctx, New(TypePriceAnomaly, SeverityLow, fmt.Sprintf("emitter %d event %d", n, j)))
			}
		}(i)
	}
	wg.Wait()

	waitFor(t, func() bool { return len(c.snapshot()) == total })

	// History is newest first; the subscriber saw oldest first. The two
	// must be the same sequence.
	history := s.History(nil, 0)
	require.Len(t, history, total)
	received := c.snapshot()
	for i, e := range received {
		assert.Equal(t, history[total-1-i].ID, e.ID, "delivery order diverged from history at %d", i)
	}
}

func TestStreamSlowSubscriberDoesNotBlockEmit(t *testing.T) {
	s := NewStream(StreamConfig{MaxHistory: 10, SubscriberQueue: 1, DropPolicy: DropNewest})
	defer s.Close()

	block := make(chan struct{})
	_, err := s.Subscribe(func(*Event) { <-block }, nil, "slow")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		ctx := context.Background()
		for i := 0; i < 50; i++ {
			s.Emit(ctx, New(TypePriceAnomaly, SeverityLow, "burst"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("emit blocked on a slow subscriber")
	}
	close(block)
}

func TestStreamPanickingSubscriberIsContained(t *testing.T) {
	s := NewStream(DefaultStreamConfig())
	defer s.Close()

	_, err := s.Subscribe(func(*Event) { panic("handler bug") }, nil, "panics")
	require.NoError(t, err)
	healthy := &collector{}
	_, err = s.Subscribe(healthy.handle, nil, "healthy")
	require.NoError(t, err)

	s.Emit(context.Background(), New(TypePriceAnomaly, SeverityLow, "a"))
	s.Emit(context.Background(), New(TypePriceAnomaly, SeverityLow, "b"))

	waitFor(t, func() bool { return len(healthy.snapshot()) == 2 })
}

func TestStreamClosedRejectsWork(t *testing.T) {
	s := NewStream(DefaultStreamConfig())
	s.Close()

	_, err := s.Subscribe(func(*Event) {}, nil, "")
	assert.Error(t, err)

	s.Emit(context.Background(), New(TypePriceAnomaly, SeverityLow, "late"))
	total, _, _ := s.Counters()
	assert.Equal(t, int64(0), total)

	s.Close() // idempotent
}

func TestStreamPersistedWithoutLog(t *testing.T) {
	s := NewStream(DefaultStreamConfig())
	defer s.Close()

	_, err := s.Persisted(context.Background(), "", 10)
	assert.Error(t, err)
}
