package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketgate/marketgate/internal/domain"
)

func mustAsset(symbol string) domain.Asset {
	return domain.NewAsset(symbol, domain.AssetEquity)
}

func testConfigs() []Config {
	return []Config{
		{Name: "mock", Enabled: true, Priority: 1, RateLimitPerMinute: 600, TimeoutSeconds: 2},
		{Name: "yahoo", Enabled: true, Priority: 50, RateLimitPerMinute: 600, TimeoutSeconds: 2},
		// No API key: construction fails and the provider is skipped
		{Name: "fmp", Enabled: true, Priority: 70, TimeoutSeconds: 2},
		// Unknown names are skipped, not fatal
		{Name: "bloomberg", Enabled: true, Priority: 99},
		// Disabled providers never register
		{Name: "ccxt_binance", Enabled: false, Priority: 80},
	}
}

func initializedRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(testConfigs())
	require.NoError(t, r.Initialize(context.Background()))
	return r
}

func TestRegistryInitializeSkipsFailures(t *testing.T) {
	r := initializedRegistry(t)

	names := r.Names()
	assert.Equal(t, []string{"yahoo", "mock"}, names)

	_, err := r.Provider("fmp")
	assert.Error(t, err)
	_, err = r.Provider("bloomberg")
	assert.Error(t, err)
	_, err = r.Provider("ccxt_binance")
	assert.Error(t, err)
}

func TestRegistryInitializeNoProviders(t *testing.T) {
	r := NewRegistry([]Config{{Name: "fmp", Enabled: true}})
	assert.Error(t, r.Initialize(context.Background()))
}

func TestRegistryInitializeIdempotent(t *testing.T) {
	r := initializedRegistry(t)
	require.NoError(t, r.Initialize(context.Background()))
	assert.Len(t, r.Names(), 2)
}

func TestProvidersForOrdering(t *testing.T) {
	r := initializedRegistry(t)

	t.Run("equity price prefers higher priority", func(t *testing.T) {
		providers, err := r.ProvidersFor(domain.NewAsset("AAPL", domain.AssetEquity), domain.DataPrice)
		require.NoError(t, err)
		require.Len(t, providers, 2)
		assert.Equal(t, "yahoo", providers[0].Name())
		assert.Equal(t, "mock", providers[1].Name())
	})

	t.Run("crypto price excludes equity-only providers", func(t *testing.T) {
		providers, err := r.ProvidersFor(domain.NewAsset("BTC", domain.AssetCrypto), domain.DataPrice)
		require.NoError(t, err)
		require.Len(t, providers, 1)
		assert.Equal(t, "mock", providers[0].Name())
	})

	t.Run("news falls through to the mock", func(t *testing.T) {
		providers, err := r.ProvidersFor(domain.NewAsset("AAPL", domain.AssetEquity), domain.DataNews)
		require.NoError(t, err)
		require.Len(t, providers, 1)
		assert.Equal(t, "mock", providers[0].Name())
	})

	t.Run("empty symbol has no provider", func(t *testing.T) {
		_, err := r.ProvidersFor(domain.Asset{Type: domain.AssetEquity}, domain.DataPrice)
		var npe *NoProviderError
		assert.ErrorAs(t, err, &npe)
	})
}

func TestRegistryHealth(t *testing.T) {
	r := initializedRegistry(t)

	h := r.CachedHealth("mock")
	assert.Equal(t, "mock", h.Name)
	assert.True(t, h.IsHealthy)

	r.RefreshHealth()
	all := r.AllHealth()
	require.Len(t, all, 2)
	assert.False(t, all["mock"].LastCheck.IsZero())
	assert.Equal(t, 1, r.Priority("mock"))
	assert.Equal(t, 50, r.Priority("yahoo"))
}
