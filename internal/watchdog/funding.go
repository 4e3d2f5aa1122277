package watchdog

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/marketgate/marketgate/internal/domain"
	"github.com/marketgate/marketgate/internal/events"
)

// FundingSource reads the recent average 8h funding rate for a perpetual
type FundingSource interface {
	AvgFundingRate(ctx context.Context, asset domain.Asset) (float64, error)
}

// FundingRateDetector flags perpetuals whose average 8h funding rate
// exceeds the threshold in either direction.
type FundingRateDetector struct {
	source       FundingSource
	assets       []domain.Asset
	thresholdPct float64
	dedup        *dedupTracker
}

// NewFundingRateDetector creates the funding detector; thresholdPct
// defaults to 0.1 (funding is quoted in percent).
func NewFundingRateDetector(source FundingSource, assets []domain.Asset, thresholdPct float64) *FundingRateDetector {
	if thresholdPct <= 0 {
		thresholdPct = 0.1
	}
	return &FundingRateDetector{
		source:       source,
		assets:       assets,
		thresholdPct: thresholdPct,
		dedup:        newDedupTracker(4 * time.Hour),
	}
}

func (d *FundingRateDetector) Name() string { return "funding_rate" }

func (d *FundingRateDetector) Check(ctx context.Context) (*events.Event, error) {
	for _, asset := range d.assets {
		rate, err := d.source.AvgFundingRate(ctx, asset)
		if err != nil {
			return nil, fmt.Errorf("funding rate for %s: %w", asset.Symbol, err)
		}

		ratePct := rate * 100
		if math.Abs(ratePct) <= d.thresholdPct {
			continue
		}

		severity := events.SeverityMedium
		if math.Abs(ratePct) > d.thresholdPct*3 {
			severity = events.SeverityHigh
		}

		if !d.dedup.shouldEmit(asset.Symbol, events.TypeFundingSpike) {
			continue
		}

		direction := "longs paying shorts"
		if ratePct < 0 {
			direction = "shorts paying longs"
		}
		return events.New(events.TypeFundingSpike, severity,
			fmt.Sprintf("%s avg 8h funding %.4f%% (%s)", asset.Symbol, ratePct, direction)).
			WithAsset(asset).
			WithData("funding_rate_percent", ratePct), nil
	}
	return nil, nil
}

// BinanceFundingSource reads funding history straight from the Binance
// futures REST API. Exchange-status and derivatives readings bypass the
// arbitration engine by design.
type BinanceFundingSource struct {
	BaseURL string
	Client  *http.Client
}

// NewBinanceFundingSource creates the default funding source
func NewBinanceFundingSource() *BinanceFundingSource {
	return &BinanceFundingSource{
		BaseURL: "https://fapi.binance.com",
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *BinanceFundingSource) AvgFundingRate(ctx context.Context, asset domain.Asset) (float64, error) {
	base, quote := asset.Pair()
	url := fmt.Sprintf("%s/fapi/v1/fundingRate?symbol=%s%s&limit=3", s.BaseURL, base, quote)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("funding endpoint status %d", resp.StatusCode)
	}

	var rows []struct {
		FundingRate string `json:"fundingRate"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("no funding history")
	}

	sum := 0.0
	for _, row := range rows {
		rate, err := strconv.ParseFloat(row.FundingRate, 64)
		if err != nil {
			return 0, err
		}
		sum += rate
	}
	return sum / float64(len(rows)), nil
}
