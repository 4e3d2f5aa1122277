package cache

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/marketgate/marketgate/internal/domain"
	"github.com/marketgate/marketgate/internal/events"
	"github.com/marketgate/marketgate/internal/metrics"
)

// FetchFunc produces the value on a cache miss, typically by invoking the
// arbitration engine.
type FetchFunc func(ctx context.Context) (interface{}, error)

// l1WriteBehindTTL is the short TTL used when promoting an L2 hit into L1
const l1WriteBehindTTL = 60 * time.Second

// Manager is the read-through layer over both cache tiers. Concurrent
// misses for the same key coalesce into one upstream fetch; cache
// failures degrade to a direct fetch and never poison either tier.
type Manager struct {
	l1 Cache
	l2 Cache
	sf singleflight.Group

	metrics *metrics.Registry
}

// NewManager creates a cache manager; l2 may be nil for single-tier setups
func NewManager(l1, l2 Cache) *Manager {
	return &Manager{l1: l1, l2: l2}
}

// SetMetrics attaches hit and miss counters; safe to leave unset
func (m *Manager) SetMetrics(reg *metrics.Registry) {
	m.metrics = reg
}

// tierGet reads one tier. Tier errors count as misses so a broken tier
// degrades to the next layer instead of failing the request.
func (m *Manager) tierGet(ctx context.Context, tier Cache, key, name string) (interface{}, bool) {
	value, ok, err := tier.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Str("tier", name).Msg("cache read failed")
		ok = false
	}
	if m.metrics != nil {
		if ok {
			m.metrics.CacheHits.WithLabelValues(name).Inc()
		} else {
			m.metrics.CacheMisses.WithLabelValues(name).Inc()
		}
	}
	if !ok {
		return nil, false
	}
	return value, true
}

// GetWithReadThrough serves key from L1, then L2 (promoting hits into L1
// with a short TTL), then fetchFn. Fetched values are written to both
// tiers with the policy TTL. fetchFn failures propagate without caching.
func (m *Manager) GetWithReadThrough(ctx context.Context, key string, dataType domain.DataType, asset domain.Asset, volatility float64, fetchFn FetchFunc) (interface{}, error) {
	if value, ok := m.tierGet(ctx, m.l1, key, "l1"); ok {
		return value, nil
	}
	if m.l2 != nil {
		if value, ok := m.tierGet(ctx, m.l2, key, "l2"); ok {
			if err := m.l1.Set(ctx, key, value, l1WriteBehindTTL); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("l1 write-behind failed")
			}
			return value, nil
		}
	}

	value, err, _ := m.sf.Do(key, func() (interface{}, error) {
		// Re-check L1 for callers that lost the single-flight race
		if value, ok := m.tierGet(ctx, m.l1, key, "l1"); ok {
			return value, nil
		}

		value, err := fetchFn(ctx)
		if err != nil {
			return nil, err
		}

		ttl := TTLPolicy(dataType, asset, volatility, time.Now())
		if err := m.l1.Set(ctx, key, value, ttl); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("l1 set failed")
		}
		if m.l2 != nil {
			if err := m.l2.Set(ctx, key, value, ttl); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("l2 set failed")
			}
		}
		return value, nil
	})
	return value, err
}

// Get reads through the tiers without fetching
func (m *Manager) Get(ctx context.Context, key string) (interface{}, bool) {
	if value, ok := m.tierGet(ctx, m.l1, key, "l1"); ok {
		return value, true
	}
	if m.l2 != nil {
		if value, ok := m.tierGet(ctx, m.l2, key, "l2"); ok {
			return value, true
		}
	}
	return nil, false
}

// Set writes to both tiers with an explicit TTL
func (m *Manager) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if err := m.l1.Set(ctx, key, value, ttl); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("l1 set failed")
	}
	if m.l2 != nil {
		if err := m.l2.Set(ctx, key, value, ttl); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("l2 set failed")
		}
	}
}

// Delete removes a key from both tiers
func (m *Manager) Delete(ctx context.Context, key string) {
	if err := m.l1.Delete(ctx, key); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("l1 delete failed")
	}
	if m.l2 != nil {
		if err := m.l2.Delete(ctx, key); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("l2 delete failed")
		}
	}
}

// InvalidatePattern removes matching keys from both tiers
func (m *Manager) InvalidatePattern(ctx context.Context, pattern string) int {
	removed := 0
	if n, err := m.l1.DeletePattern(ctx, pattern); err != nil {
		log.Warn().Err(err).Str("pattern", pattern).Msg("l1 pattern delete failed")
	} else {
		removed += n
	}
	if m.l2 != nil {
		if n, err := m.l2.DeletePattern(ctx, pattern); err != nil {
			log.Warn().Err(err).Str("pattern", pattern).Msg("l2 pattern delete failed")
		} else {
			removed += n
		}
	}
	return removed
}

// InvalidateSymbol drops every cached data type for a symbol
func (m *Manager) InvalidateSymbol(ctx context.Context, symbol string) int {
	removed := 0
	for _, dt := range domain.AllDataTypes {
		removed += m.InvalidatePattern(ctx, string(dt)+":"+symbol+":*")
	}
	removed += m.InvalidatePattern(ctx, "narrative:"+symbol+":*")
	return removed
}

// HandleEvent invalidates cached values for assets hit by significant
// events. Wired as an event stream subscriber at startup.
func (m *Manager) HandleEvent(event *events.Event) {
	if event.Asset == nil {
		return
	}
	if !invalidatingEvent(event) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	removed := m.InvalidateSymbol(ctx, event.Asset.Symbol)
	log.Info().
		Str("symbol", event.Asset.Symbol).
		Str("event_type", string(event.Type)).
		Str("severity", string(event.Severity)).
		Int("removed", removed).
		Msg("cache invalidated by event")
}

func invalidatingEvent(event *events.Event) bool {
	switch event.Type {
	case events.TypeFlashCrash, events.TypeEarningsAnomaly:
		return true
	case events.TypePriceAnomaly:
		return event.Severity.Rank() >= events.SeverityHigh.Rank() || priceChangeOver(event, 3)
	case events.TypeNewsImpact:
		return event.Severity.Rank() >= events.SeverityHigh.Rank()
	default:
		return event.Severity == events.SeverityCritical
	}
}

func priceChangeOver(event *events.Event, pct float64) bool {
	v, ok := event.Data["change_percent"]
	if !ok {
		return false
	}
	f, ok := v.(float64)
	return ok && math.Abs(f) > pct
}

// Close shuts down both tiers
func (m *Manager) Close() {
	if err := m.l1.Close(); err != nil {
		log.Warn().Err(err).Msg("l1 close failed")
	}
	if m.l2 != nil {
		if err := m.l2.Close(); err != nil {
			log.Warn().Err(err).Msg("l2 close failed")
		}
	}
}

// TTLPolicy computes the storage TTL by data type, asset class, and
// recent volatility (abs 24h change percent). Equities stretch TTLs
// outside market hours; crypto shrinks TTLs as the 24h move grows.
func TTLPolicy(dataType domain.DataType, asset domain.Asset, volatility float64, now time.Time) time.Duration {
	switch dataType {
	case domain.DataPrice, domain.DataOHLCV, domain.DataTechnical:
		if asset.IsCrypto() {
			return cryptoPriceTTL(volatility)
		}
		return equityPriceTTL(volatility, now)
	case domain.DataFundamentals:
		return 6 * time.Hour
	case domain.DataNews:
		return 30 * time.Minute
	default:
		return 10 * time.Minute
	}
}

func equityPriceTTL(volatility float64, now time.Time) time.Duration {
	if !domain.MarketOpen(now) {
		return 45 * time.Minute
	}
	if math.Abs(volatility) > 5 {
		return 5 * time.Minute
	}
	return 15 * time.Minute
}

func cryptoPriceTTL(volatility float64) time.Duration {
	abs := math.Abs(volatility)
	switch {
	case abs > 10:
		return 3 * time.Minute
	case abs > 5:
		return 5 * time.Minute
	default:
		return 10 * time.Minute
	}
}

// NarrativeTTL is the sub-policy for cached narrative text
func NarrativeTTL(depth string) time.Duration {
	switch depth {
	case "quick":
		return time.Hour
	case "deep":
		return 2 * time.Hour
	default:
		return 30 * time.Minute
	}
}
