package provider

import (
	"context"
	"hash/fnv"
	"math"
	"time"

	"github.com/marketgate/marketgate/internal/domain"
)

// MockProvider serves deterministic synthetic data. It backs local
// development and tests, and acts as the last-resort fallback when no
// real provider is configured.
type MockProvider struct {
	baseProvider
}

// NewMockProvider creates the deterministic mock provider
func NewMockProvider(config Config) *MockProvider {
	return &MockProvider{baseProvider: newBaseProvider(config)}
}

func (m *MockProvider) Initialize(ctx context.Context) error {
	m.markInitialized()
	return nil
}

func (m *MockProvider) Shutdown(ctx context.Context) error { return nil }

func (m *MockProvider) SupportsAsset(asset domain.Asset) bool { return asset.Symbol != "" }

func (m *MockProvider) Supports(dataType domain.DataType) bool { return dataType.Valid() }

// basePrice derives a stable price from the symbol so repeated calls
// and tests see consistent values.
func basePrice(symbol string) float64 {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return 10 + float64(h.Sum32()%100000)/100
}

func (m *MockProvider) FetchPrice(ctx context.Context, asset domain.Asset) (*Response, error) {
	if err := m.acquire(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	defer m.track(start, nil)

	price := basePrice(asset.Symbol)
	// A slow daily oscillation keeps change_percent nonzero but bounded
	change := 2 * math.Sin(float64(time.Now().UTC().YearDay()))

	return &Response{
		ProviderName: m.name,
		Asset:        asset,
		DataType:     domain.DataPrice,
		Data: map[string]interface{}{
			"price":              price,
			"change_percent_24h": change,
			"volume_24h":         price * 1e6,
			"currency":           "USD",
		},
		Timestamp:  time.Now(),
		IsValid:    true,
		IsFresh:    true,
		Confidence: 0.6,
	}, nil
}

func (m *MockProvider) FetchOHLCV(ctx context.Context, asset domain.Asset, timeframe string, limit int) (*Response, error) {
	if err := m.acquire(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	if timeframe == "" {
		timeframe = "1d"
	}
	start := time.Now()
	defer m.track(start, nil)

	base := basePrice(asset.Symbol)
	step := mockStep(timeframe)
	now := time.Now().UTC().Truncate(step)

	candles := make([]map[string]interface{}, 0, limit)
	for i := limit - 1; i >= 0; i-- {
		ts := now.Add(-time.Duration(i) * step)
		// Deterministic walk seeded by the bar index
		drift := math.Sin(float64(i)/7) * base * 0.02
		open := base + drift
		cls := base + math.Sin(float64(i+1)/7)*base*0.02
		high := math.Max(open, cls) * 1.005
		low := math.Min(open, cls) * 0.995
		candles = append(candles, map[string]interface{}{
			"timestamp": ts.Unix(),
			"open":      open,
			"high":      high,
			"low":       low,
			"close":     cls,
			"volume":    base * 1e4 * (1 + 0.1*math.Cos(float64(i))),
		})
	}

	return &Response{
		ProviderName: m.name,
		Asset:        asset,
		DataType:     domain.DataOHLCV,
		Data: map[string]interface{}{
			"timeframe": timeframe,
			"candles":   candles,
		},
		Timestamp:  time.Now(),
		IsValid:    true,
		IsFresh:    true,
		Confidence: 0.6,
	}, nil
}

func (m *MockProvider) FetchFundamentals(ctx context.Context, asset domain.Asset) (*Response, error) {
	if asset.IsCrypto() {
		return nil, NewNotSupportedError(m.name, "fundamentals for crypto")
	}
	if err := m.acquire(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	defer m.track(start, nil)

	base := basePrice(asset.Symbol)
	return &Response{
		ProviderName: m.name,
		Asset:        asset,
		DataType:     domain.DataFundamentals,
		Data: map[string]interface{}{
			"market_cap":       base * 1e9,
			"pe_ratio":         15 + math.Mod(base, 20),
			"eps":              base / 20,
			"dividend_yield":   math.Mod(base, 4),
			"sector":           "Technology",
			"fifty_two_week_high": base * 1.3,
			"fifty_two_week_low":  base * 0.7,
		},
		Timestamp:  time.Now(),
		IsValid:    true,
		IsFresh:    true,
		Confidence: 0.6,
	}, nil
}

func (m *MockProvider) FetchNews(ctx context.Context, asset domain.Asset, limit int) (*Response, error) {
	if err := m.acquire(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 10 {
		limit = 5
	}
	start := time.Now()
	defer m.track(start, nil)

	articles := make([]map[string]interface{}, 0, limit)
	for i := 0; i < limit; i++ {
		articles = append(articles, map[string]interface{}{
			"title":        asset.Symbol + " market update",
			"source":       "mock-wire",
			"published_at": time.Now().Add(-time.Duration(i) * time.Hour).UTC().Format(time.RFC3339),
			"sentiment":    "neutral",
		})
	}

	return &Response{
		ProviderName: m.name,
		Asset:        asset,
		DataType:     domain.DataNews,
		Data: map[string]interface{}{
			"articles": articles,
		},
		Timestamp:  time.Now(),
		IsValid:    true,
		IsFresh:    true,
		Confidence: 0.5,
	}, nil
}

func mockStep(timeframe string) time.Duration {
	switch timeframe {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	default:
		return 24 * time.Hour
	}
}
