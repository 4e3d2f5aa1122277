package watchdog

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/marketgate/marketgate/internal/domain"
	"github.com/marketgate/marketgate/internal/events"
)

// CorrelationPair names two assets whose co-movement is tracked
type CorrelationPair struct {
	A domain.Asset
	B domain.Asset
}

// CorrelationBreakDetector compares short-window return correlation
// against the long-window baseline for each tracked pair and flags
// regime breaks.
type CorrelationBreakDetector struct {
	quotes    Quotes
	pairs     []CorrelationPair
	threshold float64
	shortDays int
	longDays  int
	dedup     *dedupTracker
}

// NewCorrelationBreakDetector creates the correlation detector.
// threshold defaults to 0.5 on the 7-day vs 90-day spread.
func NewCorrelationBreakDetector(quotes Quotes, pairs []CorrelationPair, threshold float64) *CorrelationBreakDetector {
	if threshold <= 0 {
		threshold = 0.5
	}
	return &CorrelationBreakDetector{
		quotes:    quotes,
		pairs:     pairs,
		threshold: threshold,
		shortDays: 7,
		longDays:  90,
		dedup:     newDedupTracker(6 * time.Hour),
	}
}

func (d *CorrelationBreakDetector) Name() string { return "correlation_break" }

func (d *CorrelationBreakDetector) Check(ctx context.Context) (*events.Event, error) {
	for _, pair := range d.pairs {
		// +1 candle because returns consume one observation
		candlesA, err := d.quotes.Candles(ctx, pair.A, "1d", d.longDays+1)
		if err != nil {
			return nil, fmt.Errorf("candles for %s: %w", pair.A.Symbol, err)
		}
		candlesB, err := d.quotes.Candles(ctx, pair.B, "1d", d.longDays+1)
		if err != nil {
			return nil, fmt.Errorf("candles for %s: %w", pair.B.Symbol, err)
		}

		returnsA := dailyReturns(candlesA)
		returnsB := dailyReturns(candlesB)
		n := len(returnsA)
		if len(returnsB) < n {
			n = len(returnsB)
		}
		if n < d.shortDays*2 {
			continue
		}
		returnsA = returnsA[len(returnsA)-n:]
		returnsB = returnsB[len(returnsB)-n:]

		longCorr := stat.Correlation(returnsA, returnsB, nil)
		shortCorr := stat.Correlation(returnsA[n-d.shortDays:], returnsB[n-d.shortDays:], nil)
		if math.IsNaN(longCorr) || math.IsNaN(shortCorr) {
			continue
		}

		spread := math.Abs(shortCorr - longCorr)
		if spread <= d.threshold {
			continue
		}

		severity := events.SeverityMedium
		if spread > d.threshold*1.5 {
			severity = events.SeverityHigh
		}

		pairKey := pair.A.Symbol + "/" + pair.B.Symbol
		if !d.dedup.shouldEmit(pairKey, events.TypeCorrelationBreak) {
			continue
		}

		return events.New(events.TypeCorrelationBreak, severity,
			fmt.Sprintf("%s correlation broke: %dd %.2f vs %dd %.2f",
				pairKey, d.shortDays, shortCorr, d.longDays, longCorr)).
			WithAsset(pair.A).
			WithData("pair", pairKey).
			WithData("short_correlation", shortCorr).
			WithData("long_correlation", longCorr).
			WithData("spread", spread), nil
	}
	return nil, nil
}

// dailyReturns converts closes to simple period returns
func dailyReturns(candles []Candle) []float64 {
	if len(candles) < 2 {
		return nil
	}
	out := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		prev := candles[i-1].Close
		if prev <= 0 {
			continue
		}
		out = append(out, (candles[i].Close-prev)/prev)
	}
	return out
}
