package cache

import (
	"context"
	"time"
)

// Cache is the uniform contract across both tiers. Values are arbitrary
// JSON-shaped structures; each tier owns its own serialization.
type Cache interface {
	Get(ctx context.Context, key string) (interface{}, bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// DeletePattern removes every key matching a glob ("price:AAPL:*")
	DeletePattern(ctx context.Context, pattern string) (int, error)
	Close() error
}

// Entry is the stored envelope carrying provenance alongside the value
type Entry struct {
	Key            string      `json:"key" msgpack:"key"`
	Value          interface{} `json:"value" msgpack:"value"`
	CreatedAt      time.Time   `json:"created_at" msgpack:"created_at"`
	ExpiresAt      time.Time   `json:"expires_at" msgpack:"expires_at"`
	SourceProvider string      `json:"source_provider,omitempty" msgpack:"source_provider,omitempty"`
	Confidence     float64     `json:"confidence,omitempty" msgpack:"confidence,omitempty"`
}

// Key builds the structured cache key "{data_type}:{symbol}:{scope}"
func Key(dataType, symbol, scope string) string {
	if scope == "" {
		scope = "any"
	}
	return dataType + ":" + symbol + ":" + scope
}

// NarrativeKey builds the key for cached narrative text, which carries
// language and expertise-level suffixes.
func NarrativeKey(symbol, language, expertise string) string {
	return "narrative:" + symbol + ":" + language + ":" + expertise
}
