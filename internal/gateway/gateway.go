// Package gateway composes the arbitration engine, cache tiers,
// guardrail, and task registry into the public search surface.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/marketgate/marketgate/internal/arbiter"
	"github.com/marketgate/marketgate/internal/cache"
	"github.com/marketgate/marketgate/internal/domain"
	"github.com/marketgate/marketgate/internal/guardrail"
	"github.com/marketgate/marketgate/internal/indicators"
	"github.com/marketgate/marketgate/internal/metrics"
	"github.com/marketgate/marketgate/internal/provider"
)

// Depth controls how much data a search fetches
type Depth string

const (
	DepthQuick    Depth = "quick"
	DepthStandard Depth = "standard"
	DepthDeep     Depth = "deep"
)

// ParseDepth normalizes a raw depth parameter, defaulting to standard
func ParseDepth(raw string) Depth {
	switch Depth(strings.ToLower(raw)) {
	case DepthQuick:
		return DepthQuick
	case DepthDeep:
		return DepthDeep
	default:
		return DepthStandard
	}
}

// SearchRequest is one inbound search
type SearchRequest struct {
	Symbol           string `json:"symbol"`
	Market           string `json:"market,omitempty"`
	Exchange         string `json:"exchange,omitempty"`
	Pair             string `json:"pair,omitempty"`
	Depth            Depth  `json:"depth"`
	Language         string `json:"language,omitempty"`
	ExpertiseLevel   string `json:"expertise_level,omitempty"`
	IncludeNarrative bool   `json:"include_narrative"`
	SessionID        string `json:"session_id,omitempty"`
	Region           string `json:"region,omitempty"`
}

// CachedBlock is the always-present price summary of a search response
type CachedBlock struct {
	Price         float64 `json:"price"`
	ChangePercent float64 `json:"change_percent"`
	Confidence    float64 `json:"confidence"`
	Source        string  `json:"source"`
	TTLSeconds    int64   `json:"ttl_seconds"`
}

// CryptoMetrics is the extra block attached to coin searches
type CryptoMetrics struct {
	ChangePercent24h float64 `json:"change_percent_24h"`
	Volume24h        float64 `json:"volume_24h"`
	FundingRate      float64 `json:"funding_rate,omitempty"`
	Venue            string  `json:"venue,omitempty"`
}

// SearchResponse is the structured search result. A failed search is
// still well-formed: IsValid=false, Source="error", and the error text
// in Error.
type SearchResponse struct {
	Symbol           string                 `json:"symbol"`
	AssetType        domain.AssetType       `json:"asset_type"`
	Depth            Depth                  `json:"depth"`
	IsValid          bool                   `json:"is_valid"`
	Cached           CachedBlock            `json:"cached"`
	StructuralData   map[string]interface{} `json:"structural_data,omitempty"`
	CryptoMetrics    *CryptoMetrics         `json:"crypto_metrics,omitempty"`
	TaskInfo         *TaskInfo              `json:"task_info,omitempty"`
	DataLineage      *arbiter.Lineage       `json:"data_lineage,omitempty"`
	Disclaimer       string                 `json:"disclaimer"`
	NarrativeSummary string                 `json:"narrative_summary,omitempty"`
	Error            string                 `json:"error,omitempty"`
	Timestamp        time.Time              `json:"timestamp"`
}

// Service is the gateway core shared by all transports
type Service struct {
	engine    *arbiter.Engine
	cache     *cache.Manager
	guard     *guardrail.Guardrail
	tasks     *TaskRegistry
	metrics   *metrics.Registry
	narrate   NarrativeFunc
	defRegion string
}

// NarrativeFunc produces narrative text for deep searches. Injected so
// transports and tests control the generation backend.
type NarrativeFunc func(ctx context.Context, req SearchRequest, resp *SearchResponse) (string, error)

// NewService creates the gateway service. narrate may be nil; deep
// searches then fall back to a data-derived summary.
func NewService(engine *arbiter.Engine, cacheMgr *cache.Manager, guard *guardrail.Guardrail, tasks *TaskRegistry, m *metrics.Registry, defaultRegion string, narrate NarrativeFunc) *Service {
	s := &Service{
		engine:    engine,
		cache:     cacheMgr,
		guard:     guard,
		tasks:     tasks,
		metrics:   m,
		narrate:   narrate,
		defRegion: defaultRegion,
	}
	if s.narrate == nil {
		s.narrate = s.templateNarrative
	}
	return s
}

// SearchBySymbol serves equity/ETF/forex/commodity searches. The
// market parameter picks the asset class; bare symbols are equities.
func (s *Service) SearchBySymbol(ctx context.Context, req SearchRequest) *SearchResponse {
	assetType := domain.AssetEquity
	switch strings.ToLower(req.Market) {
	case "etf":
		assetType = domain.AssetETF
	case "forex", "fx":
		assetType = domain.AssetForex
	case "commodity", "commodities":
		assetType = domain.AssetCommodity
	}
	asset := domain.NewAsset(req.Symbol, assetType)
	asset.Market = req.Market
	return s.search(ctx, req, asset)
}

// SearchByCoin serves crypto searches; pair overrides the bare symbol
func (s *Service) SearchByCoin(ctx context.Context, req SearchRequest) *SearchResponse {
	symbol := req.Symbol
	if req.Pair != "" {
		symbol = req.Pair
	}
	asset := domain.NewAsset(symbol, domain.AssetCrypto)
	asset.Exchange = req.Exchange
	return s.search(ctx, req, asset)
}

func (s *Service) search(ctx context.Context, req SearchRequest, asset domain.Asset) *SearchResponse {
	start := time.Now()
	if req.Depth == "" {
		req.Depth = DepthStandard
	}
	region := req.Region
	if region == "" {
		region = s.defRegion
	}

	resp := &SearchResponse{
		Symbol:    asset.Symbol,
		AssetType: asset.Type,
		Depth:     req.Depth,
		Timestamp: time.Now(),
	}

	endpoint := "search_symbol"
	if asset.IsCrypto() {
		endpoint = "search_coin"
	}

	priceResp, lineage := s.fetchCached(ctx, asset, domain.DataPrice, region, "", 0, 0)
	resp.DataLineage = lineage
	if priceResp == nil || !priceResp.IsValid {
		resp.IsValid = false
		resp.Cached = CachedBlock{Source: "error"}
		resp.Error = "no provider could serve this request"
		resp.Disclaimer = s.guard.Disclaimer(string(asset.Type), region)
		s.observe(endpoint, req.Depth, "error", start)
		return resp
	}

	volatility := numberField(priceResp.Data, "change_percent_24h")
	ttl := cache.TTLPolicy(domain.DataPrice, asset, volatility, time.Now())

	resp.IsValid = true
	resp.Cached = CachedBlock{
		Price:         numberField(priceResp.Data, "price"),
		ChangePercent: volatility,
		Confidence:    priceResp.Confidence,
		Source:        priceResp.ProviderName,
		TTLSeconds:    int64(ttl.Seconds()),
	}

	if req.Depth != DepthQuick {
		s.attachStructural(ctx, req, asset, region, volatility, resp)
		if asset.IsCrypto() {
			resp.CryptoMetrics = &CryptoMetrics{
				ChangePercent24h: volatility,
				Volume24h:        numberField(priceResp.Data, "volume_24h"),
				Venue:            stringField(priceResp.Data, "venue"),
			}
		}
	}

	if req.Depth == DepthDeep {
		s.attachDeep(ctx, req, asset, region, volatility, resp)
	}

	resp.Disclaimer = s.guard.Disclaimer(string(asset.Type), region)
	s.observe(endpoint, req.Depth, "ok", start)
	return resp
}

// attachStructural adds OHLCV and technical blocks for standard depth
func (s *Service) attachStructural(ctx context.Context, req SearchRequest, asset domain.Asset, region string, volatility float64, resp *SearchResponse) {
	resp.StructuralData = make(map[string]interface{})

	ohlcv, _ := s.fetchCached(ctx, asset, domain.DataOHLCV, region, "1d", 60, volatility)
	if ohlcv != nil && ohlcv.IsValid {
		resp.StructuralData["ohlcv"] = ohlcv.Data

		if closes := closesFrom(ohlcv.Data); len(closes) >= 34 {
			if summary, err := indicators.Compute(closes); err == nil {
				resp.StructuralData["technical"] = summary
			}
		}
	}
}

// attachDeep adds fundamentals, news, and the async narrative task
func (s *Service) attachDeep(ctx context.Context, req SearchRequest, asset domain.Asset, region string, volatility float64, resp *SearchResponse) {
	if resp.StructuralData == nil {
		resp.StructuralData = make(map[string]interface{})
	}

	if !asset.IsCrypto() {
		if fundamentals, _ := s.fetchCached(ctx, asset, domain.DataFundamentals, region, "", 0, volatility); fundamentals != nil && fundamentals.IsValid {
			resp.StructuralData["fundamentals"] = fundamentals.Data
		}
	}
	if news, _ := s.fetchCached(ctx, asset, domain.DataNews, region, "", 5, volatility); news != nil && news.IsValid {
		resp.StructuralData["news"] = news.Data
	}

	if req.IncludeNarrative {
		resp.TaskInfo = s.submitNarrative(req, asset, region, resp)
	}
}

// submitNarrative runs narrative generation as an async task with its
// own cache keyed by language and expertise.
func (s *Service) submitNarrative(req SearchRequest, asset domain.Asset, region string, resp *SearchResponse) *TaskInfo {
	language := req.Language
	if language == "" {
		language = "auto"
	}
	expertise := req.ExpertiseLevel
	if expertise == "" {
		expertise = "general"
	}
	key := cache.NarrativeKey(asset.Symbol, language, expertise)

	// Snapshot for the task goroutine; resp escapes to the HTTP handler
	snapshot := *resp

	return s.tasks.Submit(context.Background(), "narrative", 15*time.Second, func(ctx context.Context, progress func(float64)) (interface{}, error) {
		if cached, ok := s.cache.Get(ctx, key); ok {
			if text, ok := cached.(string); ok {
				return text, nil
			}
		}
		progress(0.2)

		raw, err := s.narrate(ctx, req, &snapshot)
		if err != nil {
			return nil, fmt.Errorf("narrative generation: %w", err)
		}
		progress(0.8)

		result := s.guard.Process(raw, string(asset.Type), region, req.Language)
		if result.Action == guardrail.ActionBlocked {
			return nil, fmt.Errorf("narrative blocked by compliance guardrail")
		}

		s.cache.Set(ctx, key, result.ProcessedText, cache.NarrativeTTL(string(req.Depth)))
		return result.ProcessedText, nil
	})
}

// templateNarrative is the built-in narrative backend: a plain data
// recitation that the guardrail then finalizes.
func (s *Service) templateNarrative(ctx context.Context, req SearchRequest, resp *SearchResponse) (string, error) {
	direction := "up"
	if resp.Cached.ChangePercent < 0 {
		direction = "down"
	}
	text := fmt.Sprintf("%s last traded at %.2f, %s %.2f%% over the past 24 hours, according to %s.",
		resp.Symbol, resp.Cached.Price, direction, absFloat(resp.Cached.ChangePercent), resp.Cached.Source)

	if technical, ok := resp.StructuralData["technical"].(*indicators.Summary); ok {
		text += fmt.Sprintf(" Technical readings show RSI at %.0f with a %s bias.", technical.RSI14, technical.Trend)
	}
	return text, nil
}

// fetchCached reads one data type through the cache tiers, falling back
// to the arbitration engine on a miss.
func (s *Service) fetchCached(ctx context.Context, asset domain.Asset, dataType domain.DataType, region, timeframe string, limit int, volatility float64) (*provider.Response, *arbiter.Lineage) {
	scope := "any"
	if timeframe != "" {
		scope = timeframe
	}
	key := cache.Key(string(dataType), asset.Symbol, scope)

	var lineage *arbiter.Lineage
	value, err := s.cache.GetWithReadThrough(ctx, key, dataType, asset, volatility, func(fetchCtx context.Context) (interface{}, error) {
		resp, l, err := s.engine.Fetch(fetchCtx, arbiter.Request{
			Asset:     asset,
			DataType:  dataType,
			Region:    region,
			Timeframe: timeframe,
			Limit:     limit,
		})
		if err != nil {
			return nil, err
		}
		lineage = l
		if s.metrics != nil && l != nil && len(l.ProvidersConsulted) > 1 {
			s.metrics.FallbacksUsed.Inc()
		}
		return resp, nil
	})
	if err != nil {
		log.Debug().Err(err).Str("key", key).Msg("fetch failed")
		return nil, lineage
	}

	resp := responseFromCache(value)
	// Cache hits (and coalesced callers that never ran the fetch) still
	// carry lineage: the provider that originally produced the value.
	if lineage == nil && resp != nil {
		lineage = &arbiter.Lineage{
			ProvidersConsulted: []string{resp.ProviderName},
			SourceCount:        1,
		}
	}
	return resp, lineage
}

func (s *Service) observe(endpoint string, depth Depth, result string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.RequestDuration.WithLabelValues(endpoint, string(depth), result).Observe(time.Since(start).Seconds())
}

// responseFromCache coerces a cached value back into a Response. L1
// returns the original pointer; L2 round-trips through msgpack and
// comes back as a generic map.
func responseFromCache(value interface{}) *provider.Response {
	switch v := value.(type) {
	case *provider.Response:
		return v
	case map[string]interface{}:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		var resp provider.Response
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil
		}
		return &resp
	default:
		return nil
	}
}

// closesFrom extracts the close series from an OHLCV payload, oldest first
func closesFrom(data map[string]interface{}) []float64 {
	raw, ok := data["candles"]
	if !ok {
		return nil
	}

	var closes []float64
	appendClose := func(row map[string]interface{}) {
		if c := numberField(row, "close"); c > 0 {
			closes = append(closes, c)
		}
	}
	switch rows := raw.(type) {
	case []map[string]interface{}:
		for _, row := range rows {
			appendClose(row)
		}
	case []interface{}:
		for _, r := range rows {
			if row, ok := r.(map[string]interface{}); ok {
				appendClose(row)
			}
		}
	}
	return closes
}

func numberField(data map[string]interface{}, key string) float64 {
	switch v := data[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	}
	return 0
}

func stringField(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
