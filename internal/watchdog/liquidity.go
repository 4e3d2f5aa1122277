package watchdog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/marketgate/marketgate/internal/domain"
	"github.com/marketgate/marketgate/internal/events"
)

// DepthSource reads current order book depth near the touch
type DepthSource interface {
	BookDepth(ctx context.Context, asset domain.Asset) (bidDepth, askDepth float64, err error)
}

// LiquidityDropDetector flags books whose depth collapses below a
// fraction of their rolling average. The 7-day baseline builds up in
// memory from successive readings.
type LiquidityDropDetector struct {
	source   DepthSource
	assets   []domain.Asset
	fraction float64
	dedup    *dedupTracker

	mu       sync.Mutex
	readings map[string][]float64
	maxKeep  int
}

// NewLiquidityDropDetector creates the liquidity detector; fraction
// defaults to 0.5 (alert when depth < 50% of baseline).
func NewLiquidityDropDetector(source DepthSource, assets []domain.Asset, fraction float64) *LiquidityDropDetector {
	if fraction <= 0 || fraction >= 1 {
		fraction = 0.5
	}
	return &LiquidityDropDetector{
		source:   source,
		assets:   assets,
		fraction: fraction,
		dedup:    newDedupTracker(30 * time.Minute),
		readings: make(map[string][]float64),
		// 7 days of 3-minute readings
		maxKeep: 7 * 24 * 20,
	}
}

func (d *LiquidityDropDetector) Name() string { return "liquidity_drop" }

func (d *LiquidityDropDetector) Check(ctx context.Context) (*events.Event, error) {
	for _, asset := range d.assets {
		bid, ask, err := d.source.BookDepth(ctx, asset)
		if err != nil {
			return nil, fmt.Errorf("book depth for %s: %w", asset.Symbol, err)
		}
		depth := bid + ask

		avg, samples := d.record(asset.Symbol, depth)
		// Need a meaningful baseline before judging
		if samples < 20 || avg <= 0 {
			continue
		}
		if depth >= avg*d.fraction {
			continue
		}

		ratio := depth / avg
		severity := events.SeverityMedium
		if ratio < d.fraction/2 {
			severity = events.SeverityHigh
		}

		if !d.dedup.shouldEmit(asset.Symbol, events.TypeLiquidityDrop) {
			continue
		}

		return events.New(events.TypeLiquidityDrop, severity,
			fmt.Sprintf("%s book depth at %.0f%% of its rolling average", asset.Symbol, ratio*100)).
			WithAsset(asset).
			WithData("depth", depth).
			WithData("average_depth", avg).
			WithData("ratio", ratio), nil
	}
	return nil, nil
}

// record appends a reading and returns the prior average and sample count
func (d *LiquidityDropDetector) record(symbol string, depth float64) (float64, int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	prior := d.readings[symbol]
	avg := 0.0
	if len(prior) > 0 {
		sum := 0.0
		for _, v := range prior {
			sum += v
		}
		avg = sum / float64(len(prior))
	}

	next := append(prior, depth)
	if len(next) > d.maxKeep {
		next = next[len(next)-d.maxKeep:]
	}
	d.readings[symbol] = next
	return avg, len(prior)
}

// BinanceDepthSource reads top-of-book depth from the Binance REST API
type BinanceDepthSource struct {
	BaseURL string
	Client  *http.Client
}

// NewBinanceDepthSource creates the default depth source
func NewBinanceDepthSource() *BinanceDepthSource {
	return &BinanceDepthSource{
		BaseURL: "https://api.binance.com",
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *BinanceDepthSource) BookDepth(ctx context.Context, asset domain.Asset) (float64, float64, error) {
	base, quote := asset.Pair()
	url := fmt.Sprintf("%s/api/v3/depth?symbol=%s%s&limit=50", s.BaseURL, base, quote)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, 0, err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("depth endpoint status %d", resp.StatusCode)
	}

	var book struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&book); err != nil {
		return 0, 0, err
	}

	return notional(book.Bids), notional(book.Asks), nil
}

// notional sums price*size across levels
func notional(levels [][]string) float64 {
	total := 0.0
	for _, level := range levels {
		if len(level) < 2 {
			continue
		}
		price, _ := strconv.ParseFloat(level[0], 64)
		size, _ := strconv.ParseFloat(level[1], 64)
		total += price * size
	}
	return total
}
