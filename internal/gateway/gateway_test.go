package gateway

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketgate/marketgate/internal/arbiter"
	"github.com/marketgate/marketgate/internal/cache"
	"github.com/marketgate/marketgate/internal/domain"
	"github.com/marketgate/marketgate/internal/guardrail"
	"github.com/marketgate/marketgate/internal/provider"
)

type serviceFixture struct {
	service *Service
	cache   *cache.Manager
	tasks   *TaskRegistry
}

// newServiceFixture builds a gateway over the deterministic mock provider
func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	configs := []provider.Config{
		{Name: "mock", Enabled: true, Priority: 1, RateLimitPerMinute: 600, TimeoutSeconds: 2},
	}
	registry := provider.NewRegistry(configs)
	require.NoError(t, registry.Initialize(context.Background()))
	engine := arbiter.NewEngine(registry, configs, arbiter.Options{})

	cacheMgr := cache.NewManager(cache.NewMemoryCache(1000), nil)
	guard, err := guardrail.New(guardrail.DefaultOptions())
	require.NoError(t, err)
	tasks := NewTaskRegistry()

	t.Cleanup(func() {
		tasks.Close()
		cacheMgr.Close()
	})
	return &serviceFixture{
		service: NewService(engine, cacheMgr, guard, tasks, nil, "us", nil),
		cache:   cacheMgr,
		tasks:   tasks,
	}
}

// newFailingService builds a gateway whose registry has no providers
func newFailingService(t *testing.T) *Service {
	t.Helper()
	registry := provider.NewRegistry(nil)
	engine := arbiter.NewEngine(registry, nil, arbiter.Options{})
	cacheMgr := cache.NewManager(cache.NewMemoryCache(10), nil)
	guard, err := guardrail.New(guardrail.DefaultOptions())
	require.NoError(t, err)
	tasks := NewTaskRegistry()
	t.Cleanup(func() {
		tasks.Close()
		cacheMgr.Close()
	})
	return NewService(engine, cacheMgr, guard, tasks, nil, "us", nil)
}

func TestParseDepth(t *testing.T) {
	assert.Equal(t, DepthQuick, ParseDepth("quick"))
	assert.Equal(t, DepthDeep, ParseDepth("DEEP"))
	assert.Equal(t, DepthStandard, ParseDepth("standard"))
	assert.Equal(t, DepthStandard, ParseDepth(""))
	assert.Equal(t, DepthStandard, ParseDepth("bogus"))
}

func TestSearchBySymbolQuick(t *testing.T) {
	f := newServiceFixture(t)

	resp := f.service.SearchBySymbol(context.Background(), SearchRequest{Symbol: "AAPL", Depth: DepthQuick})

	require.True(t, resp.IsValid)
	assert.Equal(t, "AAPL", resp.Symbol)
	assert.Equal(t, domain.AssetEquity, resp.AssetType)
	assert.Equal(t, DepthQuick, resp.Depth)
	assert.Equal(t, "mock", resp.Cached.Source)
	assert.Greater(t, resp.Cached.Price, 0.0)
	assert.Greater(t, resp.Cached.TTLSeconds, int64(0))
	assert.Nil(t, resp.StructuralData, "quick depth skips structural blocks")
	assert.Nil(t, resp.CryptoMetrics)
	assert.NotEmpty(t, resp.Disclaimer)
	require.NotNil(t, resp.DataLineage)
	assert.Equal(t, []string{"mock"}, resp.DataLineage.ProvidersConsulted)
}

func TestSearchBySymbolMarketMapping(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	tests := []struct {
		market string
		want   domain.AssetType
	}{
		{"", domain.AssetEquity},
		{"etf", domain.AssetETF},
		{"forex", domain.AssetForex},
		{"fx", domain.AssetForex},
		{"commodity", domain.AssetCommodity},
		{"commodities", domain.AssetCommodity},
	}
	for _, tt := range tests {
		resp := f.service.SearchBySymbol(ctx, SearchRequest{Symbol: "SPY", Market: tt.market, Depth: DepthQuick})
		assert.Equal(t, tt.want, resp.AssetType, "market %q", tt.market)
	}
}

func TestSearchByCoinStandard(t *testing.T) {
	f := newServiceFixture(t)

	resp := f.service.SearchByCoin(context.Background(), SearchRequest{Symbol: "BTC"})

	require.True(t, resp.IsValid)
	assert.Equal(t, domain.AssetCrypto, resp.AssetType)
	assert.Equal(t, DepthStandard, resp.Depth, "empty depth defaults to standard")

	require.NotNil(t, resp.StructuralData)
	assert.Contains(t, resp.StructuralData, "ohlcv")
	assert.Contains(t, resp.StructuralData, "technical", "60 daily candles cover the indicator window")

	require.NotNil(t, resp.CryptoMetrics)
	assert.Greater(t, resp.CryptoMetrics.Volume24h, 0.0)
}

func TestSearchByCoinPairOverridesSymbol(t *testing.T) {
	f := newServiceFixture(t)

	resp := f.service.SearchByCoin(context.Background(), SearchRequest{Symbol: "BTC", Pair: "ETH", Depth: DepthQuick})
	assert.Equal(t, "ETH", resp.Symbol)
}

func TestSearchDeepAttachesFundamentalsAndNews(t *testing.T) {
	f := newServiceFixture(t)

	resp := f.service.SearchBySymbol(context.Background(), SearchRequest{Symbol: "AAPL", Depth: DepthDeep})

	require.True(t, resp.IsValid)
	require.NotNil(t, resp.StructuralData)
	assert.Contains(t, resp.StructuralData, "fundamentals")
	assert.Contains(t, resp.StructuralData, "news")
	assert.Nil(t, resp.TaskInfo, "no narrative task without include_narrative")
}

func TestSearchDeepCryptoSkipsFundamentals(t *testing.T) {
	f := newServiceFixture(t)

	resp := f.service.SearchByCoin(context.Background(), SearchRequest{Symbol: "BTC", Depth: DepthDeep})

	require.True(t, resp.IsValid)
	assert.NotContains(t, resp.StructuralData, "fundamentals")
	assert.Contains(t, resp.StructuralData, "news")
}

func TestSearchDeepNarrativeTask(t *testing.T) {
	f := newServiceFixture(t)

	resp := f.service.SearchBySymbol(context.Background(), SearchRequest{
		Symbol:           "AAPL",
		Depth:            DepthDeep,
		IncludeNarrative: true,
	})
	require.True(t, resp.IsValid)
	require.NotNil(t, resp.TaskInfo)
	assert.Equal(t, "narrative", resp.TaskInfo.Type)

	waitFor(t, func() bool {
		task, err := f.tasks.Get(resp.TaskInfo.ID)
		return err == nil && task.Status == TaskSucceeded
	})

	task, err := f.tasks.Get(resp.TaskInfo.ID)
	require.NoError(t, err)
	narrative, ok := task.Result.(string)
	require.True(t, ok)
	assert.Contains(t, narrative, "AAPL")
	assert.Contains(t, strings.ToLower(narrative), "does not constitute investment advice",
		"the guardrail finalizes every narrative")

	// The processed narrative lands in its own cache slot
	cached, ok := f.cache.Get(context.Background(), cache.NarrativeKey("AAPL", "auto", "general"))
	require.True(t, ok)
	assert.Equal(t, narrative, cached)
}

func TestSearchReadThroughHitsCache(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	first := f.service.SearchBySymbol(ctx, SearchRequest{Symbol: "AAPL", Depth: DepthQuick})
	require.True(t, first.IsValid)

	second := f.service.SearchBySymbol(ctx, SearchRequest{Symbol: "AAPL", Depth: DepthQuick})
	require.True(t, second.IsValid)
	assert.Equal(t, first.Cached.Price, second.Cached.Price, "repeat reads come from cache")

	require.NotNil(t, second.DataLineage, "cache hits still carry lineage")
	assert.Equal(t, []string{"mock"}, second.DataLineage.ProvidersConsulted)
	assert.Equal(t, 1, second.DataLineage.SourceCount)
}

func TestSearchNoProviderIsWellFormed(t *testing.T) {
	svc := newFailingService(t)

	resp := svc.SearchBySymbol(context.Background(), SearchRequest{Symbol: "AAPL", Depth: DepthQuick})

	assert.False(t, resp.IsValid)
	assert.Equal(t, "error", resp.Cached.Source)
	assert.Equal(t, "no provider could serve this request", resp.Error)
	assert.NotEmpty(t, resp.Disclaimer, "even failures carry the disclaimer")
	assert.Equal(t, "AAPL", resp.Symbol)
}

func TestResponseFromCache(t *testing.T) {
	t.Run("pointer passes through", func(t *testing.T) {
		original := &provider.Response{ProviderName: "mock", IsValid: true}
		assert.Same(t, original, responseFromCache(original))
	})

	t.Run("map round-trips through json", func(t *testing.T) {
		decoded := responseFromCache(map[string]interface{}{
			"provider_name": "mock",
			"is_valid":      true,
			"confidence":    0.8,
			"data":          map[string]interface{}{"price": 101.5},
		})
		require.NotNil(t, decoded)
		assert.Equal(t, "mock", decoded.ProviderName)
		assert.True(t, decoded.IsValid)
		assert.Equal(t, 101.5, decoded.Data["price"])
	})

	t.Run("unknown shapes are nil", func(t *testing.T) {
		assert.Nil(t, responseFromCache(42))
		assert.Nil(t, responseFromCache(nil))
	})
}

func TestClosesFrom(t *testing.T) {
	t.Run("typed rows", func(t *testing.T) {
		closes := closesFrom(map[string]interface{}{
			"candles": []map[string]interface{}{
				{"close": 10.0}, {"close": 11.0}, {"close": 0.0},
			},
		})
		assert.Equal(t, []float64{10, 11}, closes, "non-positive closes are dropped")
	})

	t.Run("json degraded rows", func(t *testing.T) {
		closes := closesFrom(map[string]interface{}{
			"candles": []interface{}{
				map[string]interface{}{"close": 10.0},
				map[string]interface{}{"close": 12.0},
			},
		})
		assert.Equal(t, []float64{10, 12}, closes)
	})

	t.Run("missing candles", func(t *testing.T) {
		assert.Nil(t, closesFrom(map[string]interface{}{}))
	})
}
