package provider

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// baseProvider carries the plumbing every concrete provider shares:
// rate limiting, the HTTP client, and the health counters.
type baseProvider struct {
	name    string
	config  Config
	client  *http.Client
	limiter *rate.Limiter

	mu            sync.Mutex
	initialized   bool
	totalRequests int64
	totalFailures int64
	errorDay      int // UTC year-day the 24h error counter belongs to
	errors24h     int64
	latencyEWMA   float64
	lastRequest   time.Time
	startedAt     time.Time
}

func newBaseProvider(config Config) baseProvider {
	rpm := config.RateLimitPerMinute
	if rpm <= 0 {
		rpm = 60
	}
	return baseProvider{
		name:      config.Name,
		config:    config,
		client:    &http.Client{Timeout: config.Timeout()},
		limiter:   rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm/6+1),
		startedAt: time.Now(),
	}
}

func (b *baseProvider) Name() string { return b.name }

func (b *baseProvider) markInitialized() {
	b.mu.Lock()
	b.initialized = true
	b.mu.Unlock()
}

// acquire blocks on the provider's rate limiter. A context expiring
// while waiting surfaces as a rate-limit error since the quota, not the
// upstream, caused the delay.
func (b *baseProvider) acquire(ctx context.Context) error {
	if err := b.limiter.Wait(ctx); err != nil {
		reservation := b.limiter.Reserve()
		retryAfter := reservation.Delay()
		reservation.Cancel()
		return NewRateLimitError(b.name, retryAfter)
	}
	return nil
}

// track records one request outcome into the health counters
func (b *baseProvider) track(start time.Time, err error) {
	elapsed := time.Since(start)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalRequests++
	b.lastRequest = time.Now()

	day := b.lastRequest.UTC().YearDay()
	if day != b.errorDay {
		b.errorDay = day
		b.errors24h = 0
	}
	if err != nil {
		b.totalFailures++
		b.errors24h++
	}

	ms := float64(elapsed.Milliseconds())
	if b.latencyEWMA == 0 {
		b.latencyEWMA = ms
	} else {
		b.latencyEWMA = 0.8*b.latencyEWMA + 0.2*ms
	}
}

// Health derives the snapshot from the counters. A provider is healthy
// once initialized with at least half its requests succeeding.
func (b *baseProvider) Health() Health {
	b.mu.Lock()
	defer b.mu.Unlock()

	successRate := 1.0
	if b.totalRequests > 0 {
		successRate = float64(b.totalRequests-b.totalFailures) / float64(b.totalRequests)
	}

	return Health{
		Name:            b.name,
		IsHealthy:       b.initialized && successRate >= 0.5,
		UptimePercent:   successRate * 100,
		AvgLatencyMS:    b.latencyEWMA,
		SuccessRate:     successRate,
		LastCheck:       time.Now(),
		ErrorCount24h:   b.errors24h,
		LastRequestTime: b.lastRequest,
	}
}

// mapHTTPError classifies an upstream HTTP status onto the taxonomy
func (b *baseProvider) mapHTTPError(status int, retryAfter time.Duration) error {
	switch {
	case status == http.StatusTooManyRequests:
		return NewRateLimitError(b.name, retryAfter)
	case status == http.StatusForbidden || status == http.StatusUnavailableForLegalReasons:
		return NewRegionBlockedError(b.name)
	case status == http.StatusNotFound:
		return NewNotSupportedError(b.name, "resource not found")
	case status >= 500:
		return &Error{
			Provider:  b.name,
			Code:      ErrCodeAPIError,
			Message:   http.StatusText(status),
			Temporary: true,
		}
	default:
		return &Error{
			Provider: b.name,
			Code:     ErrCodeAPIError,
			Message:  http.StatusText(status),
		}
	}
}
