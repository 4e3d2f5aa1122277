package watchdog

import (
	"context"
	"fmt"
	"time"

	"github.com/marketgate/marketgate/internal/domain"
	"github.com/marketgate/marketgate/internal/events"
)

// UnusualVolumeDetector flags symbols whose current volume runs a
// multiple of their 30-day average.
type UnusualVolumeDetector struct {
	quotes     Quotes
	assets     []domain.Asset
	multiplier float64
	dedup      *dedupTracker
}

// NewUnusualVolumeDetector creates the volume detector; multiplier defaults to 3
func NewUnusualVolumeDetector(quotes Quotes, assets []domain.Asset, multiplier float64) *UnusualVolumeDetector {
	if multiplier <= 0 {
		multiplier = 3
	}
	return &UnusualVolumeDetector{
		quotes:     quotes,
		assets:     assets,
		multiplier: multiplier,
		dedup:      newDedupTracker(30 * time.Minute),
	}
}

func (d *UnusualVolumeDetector) Name() string { return "unusual_volume" }

func (d *UnusualVolumeDetector) Check(ctx context.Context) (*events.Event, error) {
	for _, asset := range d.assets {
		candles, err := d.quotes.Candles(ctx, asset, "1d", 31)
		if err != nil {
			return nil, fmt.Errorf("candles for %s: %w", asset.Symbol, err)
		}
		if len(candles) < 10 {
			continue
		}

		current := candles[len(candles)-1].Volume
		historical := candles[:len(candles)-1]
		sum := 0.0
		for _, c := range historical {
			sum += c.Volume
		}
		avg := sum / float64(len(historical))
		if avg <= 0 || current <= avg*d.multiplier {
			continue
		}

		ratio := current / avg
		severity := events.SeverityMedium
		if ratio > d.multiplier*2 {
			severity = events.SeverityHigh
		}

		if !d.dedup.shouldEmit(asset.Symbol, events.TypeUnusualVolume) {
			continue
		}

		return events.New(events.TypeUnusualVolume, severity,
			fmt.Sprintf("%s volume %.1fx its 30-day average", asset.Symbol, ratio)).
			WithAsset(asset).
			WithData("current_volume", current).
			WithData("average_volume", avg).
			WithData("ratio", ratio), nil
	}
	return nil, nil
}
