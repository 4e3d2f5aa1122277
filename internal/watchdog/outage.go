package watchdog

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/marketgate/marketgate/internal/events"
)

// Endpoint is one venue health URL probed by the outage detector
type Endpoint struct {
	Venue string `yaml:"venue" json:"venue"`
	URL   string `yaml:"url" json:"url"`
}

// ExchangeOutageDetector probes venue status endpoints. A non-200,
// a transport error, or a response slower than the latency budget
// fraction counts as an outage signal.
type ExchangeOutageDetector struct {
	endpoints      []Endpoint
	client         *http.Client
	budget         time.Duration
	budgetFraction float64
	dedup          *dedupTracker
}

// NewExchangeOutageDetector creates the outage detector. budget is the
// per-probe latency budget; responses past 80% of it are flagged slow.
func NewExchangeOutageDetector(endpoints []Endpoint, budget time.Duration) *ExchangeOutageDetector {
	if budget <= 0 {
		budget = 5 * time.Second
	}
	return &ExchangeOutageDetector{
		endpoints:      endpoints,
		client:         &http.Client{Timeout: budget},
		budget:         budget,
		budgetFraction: 0.8,
		dedup:          newDedupTracker(10 * time.Minute),
	}
}

func (d *ExchangeOutageDetector) Name() string { return "exchange_outage" }

// DefaultEndpoints covers the venues the exchange providers hit
func DefaultEndpoints() []Endpoint {
	return []Endpoint{
		{Venue: "binance", URL: "https://api.binance.com/api/v3/ping"},
		{Venue: "kraken", URL: "https://api.kraken.com/0/public/SystemStatus"},
	}
}

func (d *ExchangeOutageDetector) Check(ctx context.Context) (*events.Event, error) {
	for _, ep := range d.endpoints {
		status, elapsed, probeErr := d.probe(ctx, ep)

		switch {
		case probeErr != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !d.dedup.shouldEmit(ep.Venue, events.TypeExchangeOutage) {
				continue
			}
			return events.New(events.TypeExchangeOutage, events.SeverityCritical,
				fmt.Sprintf("%s unreachable: %v", ep.Venue, probeErr)).
				WithData("venue", ep.Venue).
				WithData("error", probeErr.Error()), nil

		case status != http.StatusOK:
			if !d.dedup.shouldEmit(ep.Venue, events.TypeExchangeOutage) {
				continue
			}
			severity := events.SeverityHigh
			if status >= 500 {
				severity = events.SeverityCritical
			}
			return events.New(events.TypeExchangeOutage, severity,
				fmt.Sprintf("%s status endpoint returned %d", ep.Venue, status)).
				WithData("venue", ep.Venue).
				WithData("status_code", status).
				WithData("latency_ms", elapsed.Milliseconds()), nil

		case elapsed > time.Duration(float64(d.budget)*d.budgetFraction):
			if !d.dedup.shouldEmit(ep.Venue, events.TypeExchangeOutage) {
				continue
			}
			return events.New(events.TypeExchangeOutage, events.SeverityMedium,
				fmt.Sprintf("%s degraded: responded in %s against a %s budget", ep.Venue, elapsed.Round(time.Millisecond), d.budget)).
				WithData("venue", ep.Venue).
				WithData("latency_ms", elapsed.Milliseconds()), nil
		}
	}
	return nil, nil
}

func (d *ExchangeOutageDetector) probe(ctx context.Context, ep Endpoint) (int, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.URL, nil)
	if err != nil {
		return 0, 0, err
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return 0, elapsed, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, elapsed, nil
}
