package events

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/marketgate/marketgate/internal/domain"
)

func TestSeverityRank(t *testing.T) {
	assert.Greater(t, SeverityCritical.Rank(), SeverityHigh.Rank())
	assert.Greater(t, SeverityHigh.Rank(), SeverityMedium.Rank())
	assert.Greater(t, SeverityMedium.Rank(), SeverityLow.Rank())
	assert.Equal(t, 0, Severity("unknown").Rank())
}

func TestEventBuilders(t *testing.T) {
	asset := domain.NewAsset("BTC", domain.AssetCrypto)
	e := New(TypePriceAnomaly, SeverityHigh, "moved fast").
		WithAsset(asset).
		WithData("change_percent", 6.5)

	assert.NotEmpty(t, e.ID)
	assert.False(t, e.Timestamp.IsZero())
	assert.Equal(t, "BTC", e.Asset.Symbol)
	assert.Equal(t, 6.5, e.Data["change_percent"])
}

func TestFilterMatches(t *testing.T) {
	asset := domain.NewAsset("BTC", domain.AssetCrypto)
	event := New(TypePriceAnomaly, SeverityHigh, "move").WithAsset(asset)
	event.WatchdogName = "price_anomaly"

	tests := []struct {
		name   string
		filter *Filter
		want   bool
	}{
		{"nil filter matches everything", nil, true},
		{"empty filter matches everything", &Filter{}, true},
		{"matching type", &Filter{Types: []Type{TypePriceAnomaly}}, true},
		{"non-matching type", &Filter{Types: []Type{TypeWhaleMovement}}, false},
		{"type list ORs", &Filter{Types: []Type{TypeWhaleMovement, TypePriceAnomaly}}, true},
		{"matching severity", &Filter{Severities: []Severity{SeverityHigh}}, true},
		{"non-matching severity", &Filter{Severities: []Severity{SeverityCritical}}, false},
		{"matching symbol", &Filter{AssetSymbols: []string{"BTC"}}, true},
		{"non-matching symbol", &Filter{AssetSymbols: []string{"ETH"}}, false},
		{"matching watchdog", &Filter{WatchdogNames: []string{"price_anomaly"}}, true},
		{"non-matching watchdog", &Filter{WatchdogNames: []string{"unusual_volume"}}, false},
		{
			"dimensions AND together",
			&Filter{Types: []Type{TypePriceAnomaly}, Severities: []Severity{SeverityCritical}},
			false,
		},
		{
			"all dimensions matching",
			&Filter{
				Types:         []Type{TypePriceAnomaly},
				Severities:    []Severity{SeverityHigh},
				AssetSymbols:  []string{"BTC"},
				WatchdogNames: []string{"price_anomaly"},
			},
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(event))
		})
	}
}

func TestFilterSymbolRequiresAsset(t *testing.T) {
	event := New(TypeExchangeOutage, SeverityCritical, "venue down")
	filter := &Filter{AssetSymbols: []string{"BTC"}}
	assert.False(t, filter.Matches(event), "symbol filter cannot match an event without an asset")
}
