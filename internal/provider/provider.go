// Package provider defines the data-provider abstraction and its
// concrete implementations. Providers are constructed from config,
// registered by the Registry, and selected per-request by the
// arbitration engine.
package provider

import (
	"context"
	"time"

	"github.com/marketgate/marketgate/internal/domain"
)

// Provider is one upstream market-data source. Implementations must be
// safe for concurrent use; all fetches honor the context deadline.
type Provider interface {
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error

	FetchPrice(ctx context.Context, asset domain.Asset) (*Response, error)
	FetchOHLCV(ctx context.Context, asset domain.Asset, timeframe string, limit int) (*Response, error)
	FetchFundamentals(ctx context.Context, asset domain.Asset) (*Response, error)
	FetchNews(ctx context.Context, asset domain.Asset, limit int) (*Response, error)

	SupportsAsset(asset domain.Asset) bool
	Supports(dataType domain.DataType) bool

	Name() string
	Health() Health
}

// Response is the uniform envelope all providers return. When IsValid
// is false the caller must not use Data.
type Response struct {
	ProviderName string                 `json:"provider_name"`
	Asset        domain.Asset           `json:"asset"`
	DataType     domain.DataType        `json:"data_type"`
	Data         map[string]interface{} `json:"data"`
	Timestamp    time.Time              `json:"timestamp"`
	IsValid      bool                   `json:"is_valid"`
	IsFresh      bool                   `json:"is_fresh"`
	Confidence   float64                `json:"confidence"`
	Metadata     map[string]string      `json:"metadata,omitempty"`
}

// Health is a provider's operational snapshot, refreshed periodically
// by the registry.
type Health struct {
	Name            string    `json:"name"`
	IsHealthy       bool      `json:"is_healthy"`
	UptimePercent   float64   `json:"uptime_percent"`
	AvgLatencyMS    float64   `json:"avg_latency_ms"`
	SuccessRate     float64   `json:"success_rate"`
	LastCheck       time.Time `json:"last_check"`
	ErrorCount24h   int64     `json:"error_count_24h"`
	LastRequestTime time.Time `json:"last_request_time"`
}

// Config is one provider's startup configuration
type Config struct {
	Name               string `yaml:"name" json:"name"`
	Enabled            bool   `yaml:"enabled" json:"enabled"`
	Priority           int    `yaml:"priority" json:"priority"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute" json:"rate_limit_per_minute"`
	TimeoutSeconds     int    `yaml:"timeout_seconds" json:"timeout_seconds"`
	APIKey             string `yaml:"api_key" json:"-"`
	BaseURL            string `yaml:"base_url" json:"base_url,omitempty"`
}

// Timeout returns the per-request timeout, defaulting to 10s
func (c Config) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ErrorResponse is the sentinel returned when every provider in a plan
// has failed. It is well-formed but carries no usable data.
func ErrorResponse(asset domain.Asset, dataType domain.DataType, message string) *Response {
	return &Response{
		ProviderName: "error",
		Asset:        asset,
		DataType:     dataType,
		Data:         map[string]interface{}{},
		Timestamp:    time.Now(),
		IsValid:      false,
		IsFresh:      false,
		Confidence:   0,
		Metadata:     map[string]string{"error": message},
	}
}
