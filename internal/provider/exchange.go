package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/marketgate/marketgate/internal/domain"
)

// venueSpec describes how to talk to one crypto exchange's public REST API.
// Keeping this a static table (instead of reflective construction) keeps the
// provider set closed and auditable.
type venueSpec struct {
	venue       string
	baseURL     string
	pairSymbol  func(asset domain.Asset) string
	tickerPath  func(symbol string) string
	klinesPath  func(symbol, interval string, limit int) string
	parseTicker func(body []byte) (price, changePct, volume float64, err error)
	parseKlines func(body []byte) ([]map[string]interface{}, error)
}

// ExchangeProvider serves crypto market data straight from one exchange's
// public REST API.
type ExchangeProvider struct {
	baseProvider
	spec venueSpec
}

// NewExchangeProvider creates a provider for a known venue ("binance", "kraken")
func NewExchangeProvider(config Config, venue string) (*ExchangeProvider, error) {
	spec, ok := venueSpecs[venue]
	if !ok {
		return nil, fmt.Errorf("unknown exchange venue: %s", venue)
	}
	if config.BaseURL != "" {
		spec.baseURL = config.BaseURL
	}
	return &ExchangeProvider{
		baseProvider: newBaseProvider(config),
		spec:         spec,
	}, nil
}

func (e *ExchangeProvider) Initialize(ctx context.Context) error {
	// A single ticker probe proves connectivity without burning quota
	probe := e.spec.pairSymbol(domain.NewAsset("BTC", domain.AssetCrypto))
	if _, err := e.getRaw(ctx, e.spec.baseURL+e.spec.tickerPath(probe)); err != nil {
		return fmt.Errorf("exchange %s probe failed: %w", e.spec.venue, err)
	}
	e.markInitialized()
	return nil
}

func (e *ExchangeProvider) Shutdown(ctx context.Context) error {
	e.client.CloseIdleConnections()
	return nil
}

func (e *ExchangeProvider) SupportsAsset(asset domain.Asset) bool {
	return asset.IsCrypto() && asset.Symbol != ""
}

func (e *ExchangeProvider) Supports(dataType domain.DataType) bool {
	switch dataType {
	case domain.DataPrice, domain.DataOHLCV, domain.DataTechnical:
		return true
	}
	return false
}

func (e *ExchangeProvider) FetchPrice(ctx context.Context, asset domain.Asset) (*Response, error) {
	if !e.SupportsAsset(asset) {
		return nil, NewNotSupportedError(e.name, asset.String())
	}
	if err := e.acquire(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	body, err := e.getRaw(ctx, e.spec.baseURL+e.spec.tickerPath(e.spec.pairSymbol(asset)))
	e.track(start, err)
	if err != nil {
		return nil, err
	}

	price, changePct, volume, perr := e.spec.parseTicker(body)
	if perr != nil {
		return nil, NewAPIError(e.name, fmt.Errorf("ticker parse for %s: %w", asset.Symbol, perr))
	}

	return &Response{
		ProviderName: e.name,
		Asset:        asset,
		DataType:     domain.DataPrice,
		Data: map[string]interface{}{
			"price":              price,
			"change_percent_24h": changePct,
			"volume_24h":         volume,
			"pair":               e.spec.pairSymbol(asset),
			"venue":              e.spec.venue,
		},
		Timestamp:  time.Now(),
		IsValid:    price > 0,
		IsFresh:    true,
		Confidence: 0.95,
	}, nil
}

func (e *ExchangeProvider) FetchOHLCV(ctx context.Context, asset domain.Asset, timeframe string, limit int) (*Response, error) {
	if !e.SupportsAsset(asset) {
		return nil, NewNotSupportedError(e.name, asset.String())
	}
	if limit <= 0 {
		limit = 100
	}
	if timeframe == "" {
		timeframe = "1h"
	}
	if err := e.acquire(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	body, err := e.getRaw(ctx, e.spec.baseURL+e.spec.klinesPath(e.spec.pairSymbol(asset), timeframe, limit))
	e.track(start, err)
	if err != nil {
		return nil, err
	}

	candles, perr := e.spec.parseKlines(body)
	if perr != nil {
		return nil, NewAPIError(e.name, fmt.Errorf("klines parse for %s: %w", asset.Symbol, perr))
	}
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}

	return &Response{
		ProviderName: e.name,
		Asset:        asset,
		DataType:     domain.DataOHLCV,
		Data: map[string]interface{}{
			"timeframe": timeframe,
			"candles":   candles,
			"venue":     e.spec.venue,
		},
		Timestamp:  time.Now(),
		IsValid:    len(candles) > 0,
		IsFresh:    true,
		Confidence: 0.95,
	}, nil
}

func (e *ExchangeProvider) FetchFundamentals(ctx context.Context, asset domain.Asset) (*Response, error) {
	return nil, NewNotSupportedError(e.name, "fundamentals on exchange venue")
}

func (e *ExchangeProvider) FetchNews(ctx context.Context, asset domain.Asset, limit int) (*Response, error) {
	return nil, NewNotSupportedError(e.name, "news on exchange venue")
}

// getRaw performs a GET against the venue and maps failures onto the taxonomy
func (e *ExchangeProvider) getRaw(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, NewAPIError(e.name, err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Timeout") {
			return nil, NewTimeoutError(e.name, err)
		}
		return nil, NewAPIError(e.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		retryAfter := time.Duration(0)
		if s := resp.Header.Get("Retry-After"); s != "" {
			if secs, perr := strconv.Atoi(s); perr == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return nil, e.mapHTTPError(resp.StatusCode, retryAfter)
	}

	return io.ReadAll(io.LimitReader(resp.Body, 4<<20))
}

var venueSpecs = map[string]venueSpec{
	"binance": {
		venue:   "binance",
		baseURL: "https://api.binance.com",
		pairSymbol: func(asset domain.Asset) string {
			base, quote := asset.Pair()
			return base + quote
		},
		tickerPath: func(symbol string) string {
			return "/api/v3/ticker/24hr?symbol=" + symbol
		},
		klinesPath: func(symbol, interval string, limit int) string {
			return fmt.Sprintf("/api/v3/klines?symbol=%s&interval=%s&limit=%d", symbol, interval, limit)
		},
		parseTicker: func(body []byte) (float64, float64, float64, error) {
			var t struct {
				LastPrice          string `json:"lastPrice"`
				PriceChangePercent string `json:"priceChangePercent"`
				QuoteVolume        string `json:"quoteVolume"`
			}
			if err := json.Unmarshal(body, &t); err != nil {
				return 0, 0, 0, err
			}
			price, err := strconv.ParseFloat(t.LastPrice, 64)
			if err != nil {
				return 0, 0, 0, err
			}
			change, _ := strconv.ParseFloat(t.PriceChangePercent, 64)
			volume, _ := strconv.ParseFloat(t.QuoteVolume, 64)
			return price, change, volume, nil
		},
		parseKlines: parseBinanceKlines,
	},
	"kraken": {
		venue:   "kraken",
		baseURL: "https://api.kraken.com",
		pairSymbol: func(asset domain.Asset) string {
			base, quote := asset.Pair()
			if base == "BTC" {
				base = "XBT" // Kraken's legacy Bitcoin code
			}
			return base + quote
		},
		tickerPath: func(symbol string) string {
			return "/0/public/Ticker?pair=" + symbol
		},
		klinesPath: func(symbol, interval string, limit int) string {
			return fmt.Sprintf("/0/public/OHLC?pair=%s&interval=%d", symbol, krakenIntervalMinutes(interval))
		},
		parseTicker: parseKrakenTicker,
		parseKlines: parseKrakenKlines,
	},
}

func parseBinanceKlines(body []byte) ([]map[string]interface{}, error) {
	var raw [][]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	candles := make([]map[string]interface{}, 0, len(raw))
	for _, k := range raw {
		if len(k) < 6 {
			continue
		}
		open, _ := strconv.ParseFloat(fmt.Sprint(k[1]), 64)
		high, _ := strconv.ParseFloat(fmt.Sprint(k[2]), 64)
		low, _ := strconv.ParseFloat(fmt.Sprint(k[3]), 64)
		cls, _ := strconv.ParseFloat(fmt.Sprint(k[4]), 64)
		vol, _ := strconv.ParseFloat(fmt.Sprint(k[5]), 64)
		ts := int64(0)
		if f, ok := k[0].(float64); ok {
			ts = int64(f) / 1000
		}
		candles = append(candles, map[string]interface{}{
			"timestamp": ts, "open": open, "high": high, "low": low, "close": cls, "volume": vol,
		})
	}
	return candles, nil
}

func parseKrakenTicker(body []byte) (float64, float64, float64, error) {
	var t struct {
		Error  []string `json:"error"`
		Result map[string]struct {
			C []string `json:"c"` // last trade [price, lot volume]
			O string   `json:"o"` // today's opening price
			V []string `json:"v"` // volume [today, 24h]
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &t); err != nil {
		return 0, 0, 0, err
	}
	if len(t.Error) > 0 {
		return 0, 0, 0, fmt.Errorf("kraken: %s", strings.Join(t.Error, "; "))
	}
	for _, pair := range t.Result {
		if len(pair.C) == 0 {
			continue
		}
		price, err := strconv.ParseFloat(pair.C[0], 64)
		if err != nil {
			return 0, 0, 0, err
		}
		open, _ := strconv.ParseFloat(pair.O, 64)
		change := 0.0
		if open > 0 {
			change = (price - open) / open * 100
		}
		volume := 0.0
		if len(pair.V) > 1 {
			volume, _ = strconv.ParseFloat(pair.V[1], 64)
		}
		return price, change, volume * price, nil
	}
	return 0, 0, 0, fmt.Errorf("kraken: empty ticker result")
}

func parseKrakenKlines(body []byte) ([]map[string]interface{}, error) {
	var t struct {
		Error  []string                   `json:"error"`
		Result map[string]json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, err
	}
	if len(t.Error) > 0 {
		return nil, fmt.Errorf("kraken: %s", strings.Join(t.Error, "; "))
	}
	for key, raw := range t.Result {
		if key == "last" {
			continue
		}
		var rows [][]interface{}
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, err
		}
		candles := make([]map[string]interface{}, 0, len(rows))
		for _, k := range rows {
			if len(k) < 7 {
				continue
			}
			open, _ := strconv.ParseFloat(fmt.Sprint(k[1]), 64)
			high, _ := strconv.ParseFloat(fmt.Sprint(k[2]), 64)
			low, _ := strconv.ParseFloat(fmt.Sprint(k[3]), 64)
			cls, _ := strconv.ParseFloat(fmt.Sprint(k[4]), 64)
			vol, _ := strconv.ParseFloat(fmt.Sprint(k[6]), 64)
			ts := int64(0)
			if f, ok := k[0].(float64); ok {
				ts = int64(f)
			}
			candles = append(candles, map[string]interface{}{
				"timestamp": ts, "open": open, "high": high, "low": low, "close": cls, "volume": vol,
			})
		}
		return candles, nil
	}
	return nil, fmt.Errorf("kraken: empty OHLC result")
}

func krakenIntervalMinutes(interval string) int {
	switch interval {
	case "1m":
		return 1
	case "5m":
		return 5
	case "15m":
		return 15
	case "4h":
		return 240
	case "1d":
		return 1440
	default:
		return 60
	}
}
