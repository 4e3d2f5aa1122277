package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/marketgate/marketgate/internal/domain"
)

// factory constructs a provider from its configuration. The table is the
// closed set of supported provider names; names with a "ccxt_" prefix map
// to exchange-native venues.
type factory func(config Config) (Provider, error)

var factories = map[string]factory{
	"mock": func(config Config) (Provider, error) {
		return NewMockProvider(config), nil
	},
	"yahoo": func(config Config) (Provider, error) {
		return NewYahooProvider(config), nil
	},
	"fmp": func(config Config) (Provider, error) {
		return NewFMPProvider(config)
	},
	"ccxt_binance": func(config Config) (Provider, error) {
		return NewExchangeProvider(config, "binance")
	},
	"ccxt_kraken": func(config Config) (Provider, error) {
		return NewExchangeProvider(config, "kraken")
	},
}

// Registry owns the provider fleet. Providers are constructed from config,
// initialized in parallel, and registered only when initialization
// succeeds. The provider map is read-only after Initialize; health
// snapshots are refreshed separately.
type Registry struct {
	configs []Config

	mu        sync.RWMutex
	providers map[string]Provider
	priority  map[string]int
	health    map[string]Health
	started   bool
}

// NewRegistry creates a registry from provider configurations
func NewRegistry(configs []Config) *Registry {
	return &Registry{
		configs:   configs,
		providers: make(map[string]Provider),
		priority:  make(map[string]int),
		health:    make(map[string]Health),
	}
}

// Initialize constructs every configured provider and initializes them in
// parallel. Providers that fail to construct or initialize are skipped and
// logged; registration is atomic per provider.
func (r *Registry) Initialize(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = true
	r.mu.Unlock()

	type candidate struct {
		config   Config
		provider Provider
	}

	var candidates []candidate
	for _, cfg := range r.configs {
		if !cfg.Enabled {
			log.Debug().Str("provider", cfg.Name).Msg("provider disabled, skipping")
			continue
		}
		build, ok := factories[cfg.Name]
		if !ok {
			log.Warn().Str("provider", cfg.Name).Msg("unknown provider name, skipping")
			continue
		}
		p, err := build(cfg)
		if err != nil {
			log.Warn().Err(err).Str("provider", cfg.Name).Msg("provider construction failed, skipping")
			continue
		}
		candidates = append(candidates, candidate{config: cfg, provider: p})
	}

	var wg sync.WaitGroup
	for _, c := range candidates {
		wg.Add(1)
		go func(c candidate) {
			defer wg.Done()
			initCtx, cancel := context.WithTimeout(ctx, c.config.Timeout())
			defer cancel()

			if err := c.provider.Initialize(initCtx); err != nil {
				log.Warn().Err(err).Str("provider", c.config.Name).Msg("provider initialization failed, skipping")
				return
			}

			r.mu.Lock()
			r.providers[c.config.Name] = c.provider
			r.priority[c.config.Name] = c.config.Priority
			r.health[c.config.Name] = c.provider.Health()
			r.mu.Unlock()

			log.Info().Str("provider", c.config.Name).Int("priority", c.config.Priority).Msg("provider registered")
		}(c)
	}
	wg.Wait()

	r.mu.RLock()
	count := len(r.providers)
	r.mu.RUnlock()
	if count == 0 {
		return fmt.Errorf("no providers registered")
	}

	log.Info().Int("providers", count).Msg("provider registry initialized")
	return nil
}

// Shutdown stops all registered providers in parallel
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	providers := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		providers = append(providers, p)
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, p := range providers {
		wg.Add(1)
		go func(p Provider) {
			defer wg.Done()
			if err := p.Shutdown(ctx); err != nil {
				log.Warn().Err(err).Str("provider", p.Name()).Msg("provider shutdown failed")
			}
		}(p)
	}
	wg.Wait()
	return nil
}

// ProvidersFor returns the providers able to serve (asset, dataType),
// ordered by descending static priority with name as the stable tie-break.
func (r *Registry) ProvidersFor(asset domain.Asset, dataType domain.DataType) ([]Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []Provider
	for _, p := range r.providers {
		if p.Supports(dataType) && p.SupportsAsset(asset) {
			matched = append(matched, p)
		}
	}
	if len(matched) == 0 {
		return nil, &NoProviderError{Symbol: asset.Symbol, DataType: string(dataType)}
	}

	sort.Slice(matched, func(i, j int) bool {
		pi, pj := r.priority[matched[i].Name()], r.priority[matched[j].Name()]
		if pi != pj {
			return pi > pj
		}
		return matched[i].Name() < matched[j].Name()
	})
	return matched, nil
}

// Provider retrieves one provider by name
func (r *Registry) Provider(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider not registered: %s", name)
	}
	return p, nil
}

// Priority returns the static priority of a registered provider
func (r *Registry) Priority(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.priority[name]
}

// CachedHealth returns the last refreshed health snapshot for a provider
func (r *Registry) CachedHealth(name string) Health {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.health[name]
}

// AllHealth returns health snapshots for every registered provider
func (r *Registry) AllHealth() map[string]Health {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Health, len(r.health))
	for name, h := range r.health {
		out[name] = h
	}
	return out
}

// RefreshHealth re-queries every provider's health. Scheduled periodically
// by the application cron.
func (r *Registry) RefreshHealth() {
	r.mu.RLock()
	providers := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		providers = append(providers, p)
	}
	r.mu.RUnlock()

	snapshots := make(map[string]Health, len(providers))
	for _, p := range providers {
		h := p.Health()
		h.LastCheck = time.Now()
		snapshots[p.Name()] = h
	}

	r.mu.Lock()
	for name, h := range snapshots {
		r.health[name] = h
	}
	r.mu.Unlock()
}

// Names lists registered provider names sorted by descending priority
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if r.priority[names[i]] != r.priority[names[j]] {
			return r.priority[names[i]] > r.priority[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}
