package watchdog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketgate/marketgate/internal/events"
)

// fakeChecker scripts Check results by call number
type fakeChecker struct {
	name string
	fn   func(call int) (*events.Event, error)

	mu    sync.Mutex
	calls int
}

func (c *fakeChecker) Name() string { return c.name }

func (c *fakeChecker) Check(ctx context.Context) (*events.Event, error) {
	c.mu.Lock()
	c.calls++
	n := c.calls
	c.mu.Unlock()
	return c.fn(n)
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

func fastConfig() Config {
	return Config{
		Enabled:       true,
		CheckInterval: 5 * time.Millisecond,
		MaxRetries:    1,
		RetryDelay:    time.Millisecond,
	}
}

func TestWatchdogDisabledIsNoop(t *testing.T) {
	s := events.NewStream(events.DefaultStreamConfig())
	defer s.Close()

	checker := &fakeChecker{name: "idle", fn: func(int) (*events.Event, error) { return nil, nil }}
	w := New(checker, Config{Enabled: false}, s)

	w.Start(context.Background())
	assert.False(t, w.Running())
	assert.Equal(t, StatusInitialized, w.Health().Status)

	w.Stop() // safe on a watchdog that never ran
}

func TestWatchdogEmitsTaggedEvents(t *testing.T) {
	s := events.NewStream(events.DefaultStreamConfig())
	defer s.Close()

	var mu sync.Mutex
	var received []*events.Event
	_, err := s.Subscribe(func(e *events.Event) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, e)
	}, nil, "")
	require.NoError(t, err)

	checker := &fakeChecker{name: "spotter", fn: func(call int) (*events.Event, error) {
		if call == 1 {
			return events.New(events.TypePriceAnomaly, events.SeverityHigh, "spike"), nil
		}
		return nil, nil
	}}
	w := New(checker, fastConfig(), s)
	w.Start(context.Background())
	defer w.Stop()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	})

	mu.Lock()
	event := received[0]
	mu.Unlock()
	assert.Equal(t, "spotter", event.WatchdogName, "emitted events carry the watchdog name")

	waitFor(t, func() bool { return w.Health().TotalChecks >= 2 })
	h := w.Health()
	assert.Equal(t, StatusHealthy, h.Status)
	assert.Equal(t, int64(1), h.EventsEmitted)
	assert.False(t, h.LastEvent.IsZero())
	assert.Greater(t, h.UptimeSeconds, 0.0)
}

func TestWatchdogFailureTransitions(t *testing.T) {
	s := events.NewStream(events.DefaultStreamConfig())
	defer s.Close()

	checker := &fakeChecker{name: "broken", fn: func(int) (*events.Event, error) {
		return nil, errors.New("source down")
	}}
	config := fastConfig()
	config.MaxRetries = 2
	w := New(checker, config, s)
	w.Start(context.Background())
	defer w.Stop()

	// One failed check degrades; reaching MaxRetries consecutive failures
	// marks the watchdog unhealthy.
	waitFor(t, func() bool { return w.Health().Status == StatusUnhealthy })
	h := w.Health()
	assert.GreaterOrEqual(t, h.Errors, int64(2))
	assert.GreaterOrEqual(t, h.ConsecutiveFailures, 2)
	assert.Equal(t, int64(0), h.TotalChecks, "failed checks do not count as completed")
}

func TestWatchdogRecovery(t *testing.T) {
	s := events.NewStream(events.DefaultStreamConfig())
	defer s.Close()

	checker := &fakeChecker{name: "flaky", fn: func(call int) (*events.Event, error) {
		if call == 1 {
			return nil, errors.New("transient")
		}
		return nil, nil
	}}
	w := New(checker, fastConfig(), s)
	w.Start(context.Background())
	defer w.Stop()

	waitFor(t, func() bool {
		h := w.Health()
		return h.Status == StatusHealthy && h.TotalChecks >= 1
	})
	h := w.Health()
	assert.Equal(t, int64(1), h.Errors)
	assert.Equal(t, 0, h.ConsecutiveFailures, "a success resets the failure streak")
}

func TestWatchdogStop(t *testing.T) {
	s := events.NewStream(events.DefaultStreamConfig())
	defer s.Close()

	checker := &fakeChecker{name: "stopper", fn: func(int) (*events.Event, error) { return nil, nil }}
	w := New(checker, fastConfig(), s)
	w.Start(context.Background())
	waitFor(t, func() bool { return w.Health().TotalChecks >= 1 })

	w.Stop()
	assert.False(t, w.Running())
	assert.Equal(t, StatusStopped, w.Health().Status)

	w.Stop() // idempotent
}

func TestCheckWithRetry(t *testing.T) {
	s := events.NewStream(events.DefaultStreamConfig())
	defer s.Close()

	t.Run("succeeds after transient failures", func(t *testing.T) {
		checker := &fakeChecker{name: "retry", fn: func(call int) (*events.Event, error) {
			if call < 3 {
				return nil, errors.New("transient")
			}
			return events.New(events.TypeUnusualVolume, events.SeverityMedium, "spike"), nil
		}}
		config := fastConfig()
		config.MaxRetries = 3
		w := New(checker, config, s)

		event, err := w.checkWithRetry(context.Background())
		require.NoError(t, err)
		require.NotNil(t, event)
		assert.Equal(t, 3, checker.calls)
	})

	t.Run("exhausted retries surface the last error", func(t *testing.T) {
		checker := &fakeChecker{name: "hopeless", fn: func(int) (*events.Event, error) {
			return nil, errors.New("source down")
		}}
		config := fastConfig()
		config.MaxRetries = 3
		w := New(checker, config, s)

		_, err := w.checkWithRetry(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "after 3 attempts")
		assert.Contains(t, err.Error(), "source down")
	})
}
