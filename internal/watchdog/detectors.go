package watchdog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marketgate/marketgate/internal/arbiter"
	"github.com/marketgate/marketgate/internal/domain"
	"github.com/marketgate/marketgate/internal/events"
)

// Candle is one OHLCV bar as consumed by the detectors
type Candle struct {
	Timestamp int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Quotes is the market-data surface detectors poll. The arbitration
// engine implements it via EngineSource; tests substitute fakes.
type Quotes interface {
	Price(ctx context.Context, asset domain.Asset) (price, changePct, volume float64, err error)
	Candles(ctx context.Context, asset domain.Asset, timeframe string, limit int) ([]Candle, error)
}

// EngineSource adapts the arbitration engine to the Quotes interface
type EngineSource struct {
	Engine *arbiter.Engine
	Region string
}

func (s *EngineSource) Price(ctx context.Context, asset domain.Asset) (float64, float64, float64, error) {
	resp, _, err := s.Engine.Fetch(ctx, arbiter.Request{
		Asset:    asset,
		DataType: domain.DataPrice,
		Region:   s.Region,
	})
	if err != nil {
		return 0, 0, 0, err
	}
	if !resp.IsValid {
		return 0, 0, 0, fmt.Errorf("no valid price for %s", asset.Symbol)
	}
	return number(resp.Data["price"]), number(resp.Data["change_percent_24h"]), number(resp.Data["volume_24h"]), nil
}

func (s *EngineSource) Candles(ctx context.Context, asset domain.Asset, timeframe string, limit int) ([]Candle, error) {
	resp, _, err := s.Engine.Fetch(ctx, arbiter.Request{
		Asset:     asset,
		DataType:  domain.DataOHLCV,
		Region:    s.Region,
		Timeframe: timeframe,
		Limit:     limit,
	})
	if err != nil {
		return nil, err
	}
	if !resp.IsValid {
		return nil, fmt.Errorf("no valid candles for %s", asset.Symbol)
	}
	return CandlesFromData(resp.Data)
}

// CandlesFromData extracts OHLCV bars from a provider response payload
func CandlesFromData(data map[string]interface{}) ([]Candle, error) {
	raw, ok := data["candles"]
	if !ok {
		return nil, fmt.Errorf("response has no candles")
	}
	rows, ok := raw.([]map[string]interface{})
	if !ok {
		// JSON round-trips degrade to []interface{}
		anyRows, ok := raw.([]interface{})
		if !ok {
			return nil, fmt.Errorf("unexpected candles shape %T", raw)
		}
		rows = make([]map[string]interface{}, 0, len(anyRows))
		for _, r := range anyRows {
			if m, ok := r.(map[string]interface{}); ok {
				rows = append(rows, m)
			}
		}
	}

	out := make([]Candle, 0, len(rows))
	for _, row := range rows {
		out = append(out, Candle{
			Timestamp: int64(number(row["timestamp"])),
			Open:      number(row["open"]),
			High:      number(row["high"]),
			Low:       number(row["low"]),
			Close:     number(row["close"]),
			Volume:    number(row["volume"]),
		})
	}
	return out, nil
}

func number(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case uint32:
		return float64(n)
	}
	return 0
}

// dedupTracker suppresses identical re-emissions for (symbol, event type)
// until the trigger window closes. Per-detector state, not the stream's.
type dedupTracker struct {
	mu     sync.Mutex
	window time.Duration
	fired  map[string]time.Time
}

func newDedupTracker(window time.Duration) *dedupTracker {
	return &dedupTracker{
		window: window,
		fired:  make(map[string]time.Time),
	}
}

// shouldEmit records a trigger and reports whether it is a fresh one
func (d *dedupTracker) shouldEmit(symbol string, eventType events.Type) bool {
	key := symbol + "|" + string(eventType)

	d.mu.Lock()
	defer d.mu.Unlock()

	if at, ok := d.fired[key]; ok && time.Since(at) < d.window {
		return false
	}
	d.fired[key] = time.Now()
	return true
}
