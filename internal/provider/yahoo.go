package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/marketgate/marketgate/internal/domain"
)

// YahooProvider serves equity and ETF quotes from the Yahoo Finance chart
// API. No API key is required, which makes it the default equity fallback.
type YahooProvider struct {
	baseProvider
	baseURL string
}

// NewYahooProvider creates a Yahoo Finance provider
func NewYahooProvider(config Config) *YahooProvider {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = "https://query1.finance.yahoo.com"
	}
	return &YahooProvider{
		baseProvider: newBaseProvider(config),
		baseURL:      baseURL,
	}
}

func (y *YahooProvider) Initialize(ctx context.Context) error {
	y.markInitialized()
	return nil
}

func (y *YahooProvider) Shutdown(ctx context.Context) error {
	y.client.CloseIdleConnections()
	return nil
}

func (y *YahooProvider) SupportsAsset(asset domain.Asset) bool {
	switch asset.Type {
	case domain.AssetEquity, domain.AssetETF, domain.AssetForex, domain.AssetCommodity:
		return asset.Symbol != ""
	}
	return false
}

func (y *YahooProvider) Supports(dataType domain.DataType) bool {
	switch dataType {
	case domain.DataPrice, domain.DataOHLCV, domain.DataTechnical:
		return true
	}
	return false
}

type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				PreviousClose      float64 `json:"chartPreviousClose"`
				Currency           string  `json:"currency"`
				ExchangeName       string  `json:"exchangeName"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []float64 `json:"open"`
					High   []float64 `json:"high"`
					Low    []float64 `json:"low"`
					Close  []float64 `json:"close"`
					Volume []float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (y *YahooProvider) FetchPrice(ctx context.Context, asset domain.Asset) (*Response, error) {
	if !y.SupportsAsset(asset) {
		return nil, NewNotSupportedError(y.name, asset.String())
	}
	chart, err := y.fetchChart(ctx, asset.Symbol, "1d", "1d")
	if err != nil {
		return nil, err
	}

	meta := chart.Chart.Result[0].Meta
	change := 0.0
	if meta.PreviousClose > 0 {
		change = (meta.RegularMarketPrice - meta.PreviousClose) / meta.PreviousClose * 100
	}

	return &Response{
		ProviderName: y.name,
		Asset:        asset,
		DataType:     domain.DataPrice,
		Data: map[string]interface{}{
			"price":              meta.RegularMarketPrice,
			"previous_close":     meta.PreviousClose,
			"change_percent_24h": change,
			"currency":           meta.Currency,
			"exchange":           meta.ExchangeName,
		},
		Timestamp:  time.Now(),
		IsValid:    meta.RegularMarketPrice > 0,
		IsFresh:    true,
		Confidence: 0.85,
	}, nil
}

func (y *YahooProvider) FetchOHLCV(ctx context.Context, asset domain.Asset, timeframe string, limit int) (*Response, error) {
	if !y.SupportsAsset(asset) {
		return nil, NewNotSupportedError(y.name, asset.String())
	}
	interval, rng := yahooRange(timeframe, limit)
	chart, err := y.fetchChart(ctx, asset.Symbol, interval, rng)
	if err != nil {
		return nil, err
	}

	result := chart.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, NewAPIError(y.name, fmt.Errorf("no quote series for %s", asset.Symbol))
	}
	quote := result.Indicators.Quote[0]

	candles := make([]map[string]interface{}, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(quote.Close) || quote.Close[i] == 0 {
			continue
		}
		candles = append(candles, map[string]interface{}{
			"timestamp": ts,
			"open":      quote.Open[i],
			"high":      quote.High[i],
			"low":       quote.Low[i],
			"close":     quote.Close[i],
			"volume":    quote.Volume[i],
		})
	}
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}

	return &Response{
		ProviderName: y.name,
		Asset:        asset,
		DataType:     domain.DataOHLCV,
		Data: map[string]interface{}{
			"timeframe": timeframe,
			"candles":   candles,
		},
		Timestamp:  time.Now(),
		IsValid:    len(candles) > 0,
		IsFresh:    true,
		Confidence: 0.85,
	}, nil
}

func (y *YahooProvider) FetchFundamentals(ctx context.Context, asset domain.Asset) (*Response, error) {
	return nil, NewNotSupportedError(y.name, "fundamentals")
}

func (y *YahooProvider) FetchNews(ctx context.Context, asset domain.Asset, limit int) (*Response, error) {
	return nil, NewNotSupportedError(y.name, "news")
}

func (y *YahooProvider) fetchChart(ctx context.Context, symbol, interval, rng string) (*yahooChartResponse, error) {
	if err := y.acquire(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v8/finance/chart/%s?interval=%s&range=%s", y.baseURL, symbol, interval, rng)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, NewAPIError(y.name, err)
	}
	req.Header.Set("User-Agent", "marketgate/1.0")

	start := time.Now()
	resp, err := y.client.Do(req)
	if err != nil {
		y.track(start, err)
		if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Timeout") {
			return nil, NewTimeoutError(y.name, err)
		}
		return nil, NewAPIError(y.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		y.track(start, fmt.Errorf("status %d", resp.StatusCode))
		return nil, y.mapHTTPError(resp.StatusCode, 0)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	y.track(start, err)
	if err != nil {
		return nil, NewAPIError(y.name, err)
	}

	var chart yahooChartResponse
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, NewAPIError(y.name, err)
	}
	if chart.Chart.Error != nil {
		if chart.Chart.Error.Code == "Not Found" {
			return nil, NewNotSupportedError(y.name, symbol)
		}
		return nil, NewAPIError(y.name, fmt.Errorf("%s: %s", chart.Chart.Error.Code, chart.Chart.Error.Description))
	}
	if len(chart.Chart.Result) == 0 {
		return nil, NewAPIError(y.name, fmt.Errorf("empty chart result for %s", symbol))
	}
	return &chart, nil
}

func yahooRange(timeframe string, limit int) (interval, rng string) {
	switch timeframe {
	case "1m", "5m", "15m":
		return timeframe, "5d"
	case "1d":
		if limit > 120 {
			return "1d", "1y"
		}
		return "1d", "6mo"
	default:
		return "1h", "1mo"
	}
}
