package provider

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketgate/marketgate/internal/domain"
)

func newTestMock() *MockProvider {
	m := NewMockProvider(Config{Name: "mock", RateLimitPerMinute: 600, TimeoutSeconds: 2})
	m.markInitialized()
	return m
}

func TestMockFetchPriceDeterministic(t *testing.T) {
	m := newTestMock()
	ctx := context.Background()
	asset := domain.NewAsset("AAPL", domain.AssetEquity)

	first, err := m.FetchPrice(ctx, asset)
	require.NoError(t, err)
	second, err := m.FetchPrice(ctx, asset)
	require.NoError(t, err)

	assert.True(t, first.IsValid)
	assert.Equal(t, "mock", first.ProviderName)
	assert.Equal(t, domain.DataPrice, first.DataType)
	assert.Equal(t, first.Data["price"], second.Data["price"])
	assert.Greater(t, first.Data["price"].(float64), 0.0)
}

func TestMockFetchOHLCV(t *testing.T) {
	m := newTestMock()
	resp, err := m.FetchOHLCV(context.Background(), domain.NewAsset("BTC", domain.AssetCrypto), "", 0)
	require.NoError(t, err)

	assert.Equal(t, "1d", resp.Data["timeframe"])
	candles := resp.Data["candles"].([]map[string]interface{})
	require.Len(t, candles, 100)
	for _, c := range candles {
		high := c["high"].(float64)
		low := c["low"].(float64)
		assert.GreaterOrEqual(t, high, c["open"].(float64))
		assert.LessOrEqual(t, low, c["close"].(float64))
	}
}

func TestMockFundamentalsRejectsCrypto(t *testing.T) {
	m := newTestMock()
	_, err := m.FetchFundamentals(context.Background(), domain.NewAsset("BTC", domain.AssetCrypto))
	assert.Equal(t, ErrCodeNotSupported, CodeOf(err))

	resp, err := m.FetchFundamentals(context.Background(), domain.NewAsset("MSFT", domain.AssetEquity))
	require.NoError(t, err)
	assert.True(t, resp.IsValid)
	assert.Contains(t, resp.Data, "market_cap")
}

func TestMockFetchNewsLimit(t *testing.T) {
	m := newTestMock()
	resp, err := m.FetchNews(context.Background(), domain.NewAsset("AAPL", domain.AssetEquity), 3)
	require.NoError(t, err)
	assert.Len(t, resp.Data["articles"], 3)

	resp, err = m.FetchNews(context.Background(), domain.NewAsset("AAPL", domain.AssetEquity), 50)
	require.NoError(t, err)
	assert.Len(t, resp.Data["articles"], 5)
}

func TestBaseProviderHealthTracking(t *testing.T) {
	b := newBaseProvider(Config{Name: "test", RateLimitPerMinute: 600})

	h := b.Health()
	assert.False(t, h.IsHealthy, "uninitialized provider is unhealthy")

	b.markInitialized()
	b.track(time.Now().Add(-20*time.Millisecond), nil)
	b.track(time.Now().Add(-20*time.Millisecond), nil)
	b.track(time.Now().Add(-20*time.Millisecond), errors.New("boom"))

	h = b.Health()
	assert.True(t, h.IsHealthy)
	assert.InDelta(t, 2.0/3.0, h.SuccessRate, 1e-9)
	assert.Equal(t, int64(1), h.ErrorCount24h)
	assert.Greater(t, h.AvgLatencyMS, 0.0)
	assert.False(t, h.LastRequestTime.IsZero())
}

func TestBaseProviderAcquireExpiredContext(t *testing.T) {
	b := newBaseProvider(Config{Name: "test", RateLimitPerMinute: 60})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Burn the burst so the wait cannot complete instantly
	for i := 0; i < 20; i++ {
		b.limiter.Allow()
	}

	err := b.acquire(ctx)
	require.Error(t, err)
	assert.Equal(t, ErrCodeRateLimit, CodeOf(err))
}

func TestMapHTTPError(t *testing.T) {
	b := newBaseProvider(Config{Name: "test"})

	tests := []struct {
		status int
		code   string
	}{
		{http.StatusTooManyRequests, ErrCodeRateLimit},
		{http.StatusForbidden, ErrCodeRegionBlocked},
		{http.StatusUnavailableForLegalReasons, ErrCodeRegionBlocked},
		{http.StatusNotFound, ErrCodeNotSupported},
		{http.StatusInternalServerError, ErrCodeAPIError},
		{http.StatusBadRequest, ErrCodeAPIError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, CodeOf(b.mapHTTPError(tt.status, 0)), http.StatusText(tt.status))
	}

	assert.True(t, b.mapHTTPError(http.StatusBadGateway, 0).(*Error).Temporary)
	assert.False(t, b.mapHTTPError(http.StatusBadRequest, 0).(*Error).Temporary)
}
