package watchdog

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/marketgate/marketgate/internal/domain"
	"github.com/marketgate/marketgate/internal/events"
)

// EarningsReport is one reported quarter with its consensus estimate
type EarningsReport struct {
	Symbol      string
	ReportDate  time.Time
	ActualEPS   float64
	EstimateEPS float64
}

// EarningsSource reads recently reported earnings for a symbol
type EarningsSource interface {
	LatestEarnings(ctx context.Context, asset domain.Asset) (*EarningsReport, error)
}

// EarningsAnomalyDetector flags earnings surprises beyond the threshold.
// Only reports from the last week are considered; older quarters are
// stale news, not anomalies.
type EarningsAnomalyDetector struct {
	source      EarningsSource
	assets      []domain.Asset
	surprisePct float64
	maxAge      time.Duration
	dedup       *dedupTracker
}

// NewEarningsAnomalyDetector creates the earnings detector; surprisePct
// defaults to 10.
func NewEarningsAnomalyDetector(source EarningsSource, assets []domain.Asset, surprisePct float64) *EarningsAnomalyDetector {
	if surprisePct <= 0 {
		surprisePct = 10
	}
	return &EarningsAnomalyDetector{
		source:      source,
		assets:      assets,
		surprisePct: surprisePct,
		maxAge:      7 * 24 * time.Hour,
		dedup:       newDedupTracker(24 * time.Hour),
	}
}

func (d *EarningsAnomalyDetector) Name() string { return "earnings_anomaly" }

func (d *EarningsAnomalyDetector) Check(ctx context.Context) (*events.Event, error) {
	for _, asset := range d.assets {
		if asset.Type != domain.AssetEquity && asset.Type != domain.AssetETF {
			continue
		}
		report, err := d.source.LatestEarnings(ctx, asset)
		if err != nil {
			return nil, fmt.Errorf("earnings for %s: %w", asset.Symbol, err)
		}
		if report == nil || report.EstimateEPS == 0 {
			continue
		}
		if time.Since(report.ReportDate) > d.maxAge {
			continue
		}

		surprise := (report.ActualEPS - report.EstimateEPS) / math.Abs(report.EstimateEPS) * 100
		if math.Abs(surprise) <= d.surprisePct {
			continue
		}

		severity := events.SeverityMedium
		if math.Abs(surprise) > d.surprisePct*2 {
			severity = events.SeverityHigh
		}

		if !d.dedup.shouldEmit(asset.Symbol, events.TypeEarningsAnomaly) {
			continue
		}

		direction := "beat"
		if surprise < 0 {
			direction = "missed"
		}
		return events.New(events.TypeEarningsAnomaly, severity,
			fmt.Sprintf("%s %s EPS consensus by %.1f%% (actual %.2f vs est %.2f)",
				asset.Symbol, direction, math.Abs(surprise), report.ActualEPS, report.EstimateEPS)).
			WithAsset(asset).
			WithData("actual_eps", report.ActualEPS).
			WithData("estimate_eps", report.EstimateEPS).
			WithData("surprise_percent", surprise), nil
	}
	return nil, nil
}

// FMPEarningsSource reads the earnings calendar from Financial Modeling Prep
type FMPEarningsSource struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// NewFMPEarningsSource creates the default earnings source
func NewFMPEarningsSource(apiKey string) *FMPEarningsSource {
	return &FMPEarningsSource{
		BaseURL: "https://financialmodelingprep.com/api/v3",
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *FMPEarningsSource) LatestEarnings(ctx context.Context, asset domain.Asset) (*EarningsReport, error) {
	url := fmt.Sprintf("%s/historical/earning_calendar/%s?limit=1&apikey=%s",
		s.BaseURL, asset.Symbol, s.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("earnings endpoint status %d", resp.StatusCode)
	}

	var rows []struct {
		Date         string   `json:"date"`
		EPS          *float64 `json:"eps"`
		EPSEstimated *float64 `json:"epsEstimated"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 || rows[0].EPS == nil || rows[0].EPSEstimated == nil {
		return nil, nil
	}

	reportDate, err := time.Parse("2006-01-02", rows[0].Date)
	if err != nil {
		return nil, fmt.Errorf("parse report date %q: %w", rows[0].Date, err)
	}
	return &EarningsReport{
		Symbol:      asset.Symbol,
		ReportDate:  reportDate,
		ActualEPS:   *rows[0].EPS,
		EstimateEPS: *rows[0].EPSEstimated,
	}, nil
}
