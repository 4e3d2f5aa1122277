package arbiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/marketgate/marketgate/internal/domain"
	"github.com/marketgate/marketgate/internal/provider"
)

func TestWeightsFor(t *testing.T) {
	for _, dt := range domain.AllDataTypes {
		w := WeightsFor(dt)
		sum := w.Freshness + w.Latency + w.Uptime + w.Completeness + w.Reliability
		assert.InDelta(t, 100.0, sum, 1e-9, string(dt))
	}

	// Unknown data types fall back to the price weights
	assert.Equal(t, WeightsFor(domain.DataPrice), WeightsFor(domain.DataType("unknown")))
	assert.Greater(t, WeightsFor(domain.DataFundamentals).Completeness, WeightsFor(domain.DataPrice).Completeness)
}

func TestCompleteness(t *testing.T) {
	assert.Equal(t, 95.0, completeness("fmp", domain.DataFundamentals))
	assert.Equal(t, 60.0, completeness("unknown_provider", domain.DataPrice))
	assert.Equal(t, 60.0, completeness("yahoo", domain.DataNews))
}

func TestFreshnessScore(t *testing.T) {
	now := time.Now()

	t.Run("never used scores neutral", func(t *testing.T) {
		assert.Equal(t, 70.0, freshnessScore(time.Time{}, domain.DataPrice, now))
	})

	t.Run("just used scores full", func(t *testing.T) {
		assert.Equal(t, 100.0, freshnessScore(now, domain.DataPrice, now))
	})

	t.Run("beyond horizon floors at 20", func(t *testing.T) {
		assert.Equal(t, 20.0, freshnessScore(now.Add(-time.Hour), domain.DataPrice, now))
	})

	t.Run("fundamentals decay slower than price", func(t *testing.T) {
		age := now.Add(-time.Hour)
		assert.Greater(t, freshnessScore(age, domain.DataFundamentals, now), freshnessScore(age, domain.DataPrice, now))
	})

	t.Run("decay is monotonic", func(t *testing.T) {
		fresh := freshnessScore(now.Add(-time.Minute), domain.DataPrice, now)
		stale := freshnessScore(now.Add(-10*time.Minute), domain.DataPrice, now)
		assert.Greater(t, fresh, stale)
	})
}

func TestLatencyScore(t *testing.T) {
	assert.Equal(t, 80.0, latencyScore(0))
	assert.Equal(t, 100.0, latencyScore(20))
	assert.Equal(t, 10.0, latencyScore(5000))
	assert.Greater(t, latencyScore(100), latencyScore(1000))
}

func TestScoreProviderHealthDominance(t *testing.T) {
	now := time.Now()
	healthy := provider.Health{
		UptimePercent:   99,
		AvgLatencyMS:    40,
		SuccessRate:     0.99,
		LastRequestTime: now.Add(-time.Minute),
	}
	degraded := provider.Health{
		UptimePercent:   50,
		AvgLatencyMS:    1800,
		SuccessRate:     0.4,
		LastRequestTime: now.Add(-time.Hour),
	}

	a := scoreProvider("ccxt_binance", healthy, domain.DataPrice, now)
	b := scoreProvider("ccxt_kraken", degraded, domain.DataPrice, now)

	assert.Greater(t, a.Total, b.Total)
	assert.LessOrEqual(t, a.Total, 100.0)
	assert.GreaterOrEqual(t, b.Total, 0.0)
}
