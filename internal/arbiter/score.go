package arbiter

import (
	"time"

	"github.com/marketgate/marketgate/internal/domain"
	"github.com/marketgate/marketgate/internal/provider"
)

// Weights blends the five scoring dimensions; the five fields sum to 100
type Weights struct {
	Freshness    float64 `yaml:"freshness"`
	Latency      float64 `yaml:"latency"`
	Uptime       float64 `yaml:"uptime"`
	Completeness float64 `yaml:"completeness"`
	Reliability  float64 `yaml:"reliability"`
}

// weightPolicy assigns per-data-type weights. Freshness and reliability
// dominate for price; completeness dominates for fundamentals.
var weightPolicy = map[domain.DataType]Weights{
	domain.DataPrice:        {Freshness: 30, Latency: 15, Uptime: 10, Completeness: 10, Reliability: 35},
	domain.DataOHLCV:        {Freshness: 25, Latency: 15, Uptime: 15, Completeness: 15, Reliability: 30},
	domain.DataFundamentals: {Freshness: 10, Latency: 10, Uptime: 15, Completeness: 40, Reliability: 25},
	domain.DataTechnical:    {Freshness: 25, Latency: 15, Uptime: 15, Completeness: 15, Reliability: 30},
	domain.DataNews:         {Freshness: 30, Latency: 10, Uptime: 15, Completeness: 20, Reliability: 25},
}

// WeightsFor returns the scoring weights for a data type
func WeightsFor(dataType domain.DataType) Weights {
	if w, ok := weightPolicy[dataType]; ok {
		return w
	}
	return weightPolicy[domain.DataPrice]
}

// completeness expresses how much of each data type a provider covers.
// Configured statically; unknown pairs fall back to a middling 60.
var completenessTable = map[string]map[domain.DataType]float64{
	"mock":         {domain.DataPrice: 70, domain.DataOHLCV: 70, domain.DataFundamentals: 60, domain.DataTechnical: 60, domain.DataNews: 50},
	"yahoo":        {domain.DataPrice: 85, domain.DataOHLCV: 90, domain.DataTechnical: 80},
	"fmp":          {domain.DataPrice: 90, domain.DataOHLCV: 85, domain.DataFundamentals: 95, domain.DataTechnical: 80, domain.DataNews: 85},
	"ccxt_binance": {domain.DataPrice: 95, domain.DataOHLCV: 95, domain.DataTechnical: 85},
	"ccxt_kraken":  {domain.DataPrice: 90, domain.DataOHLCV: 90, domain.DataTechnical: 80},
}

func completeness(providerName string, dataType domain.DataType) float64 {
	if table, ok := completenessTable[providerName]; ok {
		if v, ok := table[dataType]; ok {
			return v
		}
	}
	return 60
}

// Score is the per-request provider score; every dimension and the total
// live on a 0-100 scale.
type Score struct {
	Provider     string  `json:"provider"`
	Freshness    float64 `json:"freshness"`
	Latency      float64 `json:"latency"`
	Uptime       float64 `json:"uptime"`
	Completeness float64 `json:"completeness"`
	Reliability  float64 `json:"reliability"`
	Total        float64 `json:"total"`
}

// scoreProvider computes the weighted blend from a cached health snapshot
func scoreProvider(name string, health provider.Health, dataType domain.DataType, now time.Time) Score {
	w := WeightsFor(dataType)

	s := Score{
		Provider:     name,
		Freshness:    freshnessScore(health.LastRequestTime, dataType, now),
		Latency:      latencyScore(health.AvgLatencyMS),
		Uptime:       clamp(health.UptimePercent, 0, 100),
		Completeness: completeness(name, dataType),
		Reliability:  clamp(health.SuccessRate*100, 0, 100),
	}
	s.Total = (w.Freshness*s.Freshness +
		w.Latency*s.Latency +
		w.Uptime*s.Uptime +
		w.Completeness*s.Completeness +
		w.Reliability*s.Reliability) / 100
	return s
}

// freshnessScore rewards providers that served a usable value recently.
// Price-class data decays on a minutes horizon, fundamentals on hours.
// A provider that was never used scores neutral so cold starts are not
// punished.
func freshnessScore(lastRequest time.Time, dataType domain.DataType, now time.Time) float64 {
	if lastRequest.IsZero() {
		return 70
	}
	age := now.Sub(lastRequest)

	horizon := 15 * time.Minute
	if dataType == domain.DataFundamentals || dataType == domain.DataNews {
		horizon = 6 * time.Hour
	}

	if age <= 0 {
		return 100
	}
	if age >= horizon {
		return 20
	}
	return 100 - 80*float64(age)/float64(horizon)
}

// latencyScore maps average latency onto 0-100; <50ms is perfect, >2s floors
func latencyScore(avgMS float64) float64 {
	switch {
	case avgMS <= 0:
		return 80 // no data yet
	case avgMS < 50:
		return 100
	case avgMS >= 2000:
		return 10
	default:
		return 100 - 90*(avgMS-50)/1950
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
