package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/marketgate/marketgate/internal/domain"
)

// FMPProvider serves equity quotes, fundamentals and news from the
// Financial Modeling Prep REST API. Requires an API key; the registry
// skips construction when none is configured.
type FMPProvider struct {
	baseProvider
	baseURL string
	apiKey  string
}

// NewFMPProvider creates a Financial Modeling Prep provider
func NewFMPProvider(config Config) (*FMPProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("fmp: api key required")
	}
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = "https://financialmodelingprep.com/api/v3"
	}
	return &FMPProvider{
		baseProvider: newBaseProvider(config),
		baseURL:      baseURL,
		apiKey:       config.APIKey,
	}, nil
}

func (f *FMPProvider) Initialize(ctx context.Context) error {
	f.markInitialized()
	return nil
}

func (f *FMPProvider) Shutdown(ctx context.Context) error {
	f.client.CloseIdleConnections()
	return nil
}

func (f *FMPProvider) SupportsAsset(asset domain.Asset) bool {
	switch asset.Type {
	case domain.AssetEquity, domain.AssetETF:
		return asset.Symbol != ""
	}
	return false
}

func (f *FMPProvider) Supports(dataType domain.DataType) bool {
	switch dataType {
	case domain.DataPrice, domain.DataOHLCV, domain.DataFundamentals, domain.DataNews, domain.DataTechnical:
		return true
	}
	return false
}

func (f *FMPProvider) FetchPrice(ctx context.Context, asset domain.Asset) (*Response, error) {
	if !f.SupportsAsset(asset) {
		return nil, NewNotSupportedError(f.name, asset.String())
	}

	var quotes []struct {
		Symbol           string  `json:"symbol"`
		Price            float64 `json:"price"`
		ChangesPercent   float64 `json:"changesPercentage"`
		Volume           float64 `json:"volume"`
		MarketCap        float64 `json:"marketCap"`
		PreviousClose    float64 `json:"previousClose"`
		ExchangeShortNme string  `json:"exchange"`
	}
	if err := f.getJSON(ctx, "/quote/"+url.PathEscape(asset.Symbol), nil, &quotes); err != nil {
		return nil, err
	}
	if len(quotes) == 0 {
		return nil, NewNotSupportedError(f.name, asset.Symbol)
	}
	q := quotes[0]

	return &Response{
		ProviderName: f.name,
		Asset:        asset,
		DataType:     domain.DataPrice,
		Data: map[string]interface{}{
			"price":              q.Price,
			"change_percent_24h": q.ChangesPercent,
			"volume_24h":         q.Volume,
			"market_cap":         q.MarketCap,
			"previous_close":     q.PreviousClose,
			"exchange":           q.ExchangeShortNme,
		},
		Timestamp:  time.Now(),
		IsValid:    q.Price > 0,
		IsFresh:    true,
		Confidence: 0.95,
	}, nil
}

func (f *FMPProvider) FetchOHLCV(ctx context.Context, asset domain.Asset, timeframe string, limit int) (*Response, error) {
	if !f.SupportsAsset(asset) {
		return nil, NewNotSupportedError(f.name, asset.String())
	}
	if limit <= 0 {
		limit = 100
	}

	var hist struct {
		Symbol     string `json:"symbol"`
		Historical []struct {
			Date   string  `json:"date"`
			Open   float64 `json:"open"`
			High   float64 `json:"high"`
			Low    float64 `json:"low"`
			Close  float64 `json:"close"`
			Volume float64 `json:"volume"`
		} `json:"historical"`
	}
	params := url.Values{"timeseries": {fmt.Sprint(limit)}}
	if err := f.getJSON(ctx, "/historical-price-full/"+url.PathEscape(asset.Symbol), params, &hist); err != nil {
		return nil, err
	}

	// FMP returns newest first; candles are served oldest first
	candles := make([]map[string]interface{}, 0, len(hist.Historical))
	for i := len(hist.Historical) - 1; i >= 0; i-- {
		h := hist.Historical[i]
		ts, _ := time.Parse("2006-01-02", h.Date)
		candles = append(candles, map[string]interface{}{
			"timestamp": ts.Unix(),
			"open":      h.Open,
			"high":      h.High,
			"low":       h.Low,
			"close":     h.Close,
			"volume":    h.Volume,
		})
	}

	return &Response{
		ProviderName: f.name,
		Asset:        asset,
		DataType:     domain.DataOHLCV,
		Data: map[string]interface{}{
			"timeframe": "1d",
			"candles":   candles,
		},
		Timestamp:  time.Now(),
		IsValid:    len(candles) > 0,
		IsFresh:    true,
		Confidence: 0.95,
	}, nil
}

func (f *FMPProvider) FetchFundamentals(ctx context.Context, asset domain.Asset) (*Response, error) {
	if !f.SupportsAsset(asset) {
		return nil, NewNotSupportedError(f.name, asset.String())
	}

	var profiles []struct {
		Symbol    string  `json:"symbol"`
		MktCap    float64 `json:"mktCap"`
		Industry  string  `json:"industry"`
		Sector    string  `json:"sector"`
		Beta      float64 `json:"beta"`
		LastDiv   float64 `json:"lastDiv"`
		CompanyNm string  `json:"companyName"`
	}
	if err := f.getJSON(ctx, "/profile/"+url.PathEscape(asset.Symbol), nil, &profiles); err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return nil, NewNotSupportedError(f.name, asset.Symbol)
	}
	p := profiles[0]

	return &Response{
		ProviderName: f.name,
		Asset:        asset,
		DataType:     domain.DataFundamentals,
		Data: map[string]interface{}{
			"company":    p.CompanyNm,
			"market_cap": p.MktCap,
			"sector":     p.Sector,
			"industry":   p.Industry,
			"beta":       p.Beta,
			"dividend":   p.LastDiv,
		},
		Timestamp:  time.Now(),
		IsValid:    p.Symbol != "",
		IsFresh:    true,
		Confidence: 0.9,
	}, nil
}

func (f *FMPProvider) FetchNews(ctx context.Context, asset domain.Asset, limit int) (*Response, error) {
	if !f.SupportsAsset(asset) {
		return nil, NewNotSupportedError(f.name, asset.String())
	}
	if limit <= 0 || limit > 50 {
		limit = 10
	}

	var articles []struct {
		Symbol        string `json:"symbol"`
		PublishedDate string `json:"publishedDate"`
		Title         string `json:"title"`
		Site          string `json:"site"`
		URL           string `json:"url"`
	}
	params := url.Values{"tickers": {asset.Symbol}, "limit": {fmt.Sprint(limit)}}
	if err := f.getJSON(ctx, "/stock_news", params, &articles); err != nil {
		return nil, err
	}

	items := make([]map[string]interface{}, 0, len(articles))
	for _, a := range articles {
		items = append(items, map[string]interface{}{
			"headline":  a.Title,
			"source":    a.Site,
			"published": a.PublishedDate,
			"url":       a.URL,
		})
	}

	return &Response{
		ProviderName: f.name,
		Asset:        asset,
		DataType:     domain.DataNews,
		Data:         map[string]interface{}{"items": items},
		Timestamp:    time.Now(),
		IsValid:      true,
		IsFresh:      true,
		Confidence:   0.9,
	}, nil
}

func (f *FMPProvider) getJSON(ctx context.Context, path string, params url.Values, out interface{}) error {
	if err := f.acquire(ctx); err != nil {
		return err
	}
	if params == nil {
		params = url.Values{}
	}
	params.Set("apikey", f.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return NewAPIError(f.name, err)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		f.track(start, err)
		if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Timeout") {
			return NewTimeoutError(f.name, err)
		}
		return NewAPIError(f.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		f.track(start, fmt.Errorf("status %d", resp.StatusCode))
		return f.mapHTTPError(resp.StatusCode, 0)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	f.track(start, err)
	if err != nil {
		return NewAPIError(f.name, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return NewAPIError(f.name, err)
	}
	return nil
}
