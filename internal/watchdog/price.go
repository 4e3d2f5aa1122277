package watchdog

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/marketgate/marketgate/internal/domain"
	"github.com/marketgate/marketgate/internal/events"
)

// PriceAnomalyDetector watches a symbol set for sharp short-window moves.
// A move beyond the threshold within one minute emits price_anomaly; a
// drop beyond the crash threshold emits flash_crash.
type PriceAnomalyDetector struct {
	quotes         Quotes
	assets         []domain.Asset
	thresholdPct   float64
	crashPct       float64
	window         time.Duration
	dedup          *dedupTracker

	mu   sync.Mutex
	last map[string]pricePoint
}

type pricePoint struct {
	price float64
	at    time.Time
}

// NewPriceAnomalyDetector creates the price spike/crash detector.
// thresholdPct defaults to 5, crashPct to 10.
func NewPriceAnomalyDetector(quotes Quotes, assets []domain.Asset, thresholdPct, crashPct float64) *PriceAnomalyDetector {
	if thresholdPct <= 0 {
		thresholdPct = 5
	}
	if crashPct <= 0 {
		crashPct = 10
	}
	return &PriceAnomalyDetector{
		quotes:       quotes,
		assets:       assets,
		thresholdPct: thresholdPct,
		crashPct:     crashPct,
		window:       time.Minute,
		dedup:        newDedupTracker(time.Minute),
		last:         make(map[string]pricePoint),
	}
}

func (d *PriceAnomalyDetector) Name() string { return "price_anomaly" }

func (d *PriceAnomalyDetector) Check(ctx context.Context) (*events.Event, error) {
	for _, asset := range d.assets {
		price, _, _, err := d.quotes.Price(ctx, asset)
		if err != nil {
			return nil, fmt.Errorf("price fetch for %s: %w", asset.Symbol, err)
		}
		if price <= 0 {
			continue
		}

		d.mu.Lock()
		prev, seen := d.last[asset.Symbol]
		d.last[asset.Symbol] = pricePoint{price: price, at: time.Now()}
		d.mu.Unlock()

		// Samples arrive at the loop cadence, so a baseline up to one
		// missed tick old is still a valid comparison point.
		if !seen || time.Since(prev.at) > 2*d.window || prev.price <= 0 {
			continue
		}

		changePct := (price - prev.price) / prev.price * 100
		if math.Abs(changePct) <= d.thresholdPct {
			continue
		}

		eventType := events.TypePriceAnomaly
		severity := events.SeverityHigh
		if changePct < -d.crashPct {
			eventType = events.TypeFlashCrash
			severity = events.SeverityCritical
		} else if math.Abs(changePct) > d.crashPct {
			severity = events.SeverityCritical
		}

		if !d.dedup.shouldEmit(asset.Symbol, eventType) {
			continue
		}

		return events.New(eventType, severity,
			fmt.Sprintf("%s moved %.2f%% within %s", asset.Symbol, changePct, d.window)).
			WithAsset(asset).
			WithData("change_percent", changePct).
			WithData("previous_price", prev.price).
			WithData("current_price", price), nil
	}
	return nil, nil
}
