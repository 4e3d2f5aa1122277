package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/marketgate/marketgate/internal/domain"
)

// Type enumerates the anomaly event types published by the watchdog fleet
type Type string

const (
	TypeEarningsAnomaly  Type = "earnings_anomaly"
	TypeUnusualVolume    Type = "unusual_volume"
	TypeWhaleMovement    Type = "whale_movement"
	TypeFundingSpike     Type = "funding_spike"
	TypeLiquidityDrop    Type = "liquidity_drop"
	TypeCorrelationBreak Type = "correlation_break"
	TypeExchangeOutage   Type = "exchange_outage"
	TypePriceAnomaly     Type = "price_anomaly"
	TypeFlashCrash       Type = "flash_crash"
	TypeNewsImpact       Type = "news_impact"
)

// Severity ranks events from low to critical
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for comparisons; critical ranks highest
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// Event is one anomaly observation published on the stream
type Event struct {
	ID           string                 `json:"event_id"`
	Type         Type                   `json:"type"`
	Severity     Severity               `json:"severity"`
	Asset        *domain.Asset          `json:"asset,omitempty"`
	Description  string                 `json:"description"`
	Data         map[string]interface{} `json:"data,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
	WatchdogName string                 `json:"watchdog_name"`
	Metadata     map[string]string      `json:"metadata,omitempty"`
}

// New constructs an event with a generated id and current timestamp
func New(eventType Type, severity Severity, description string) *Event {
	return &Event{
		ID:          uuid.NewString(),
		Type:        eventType,
		Severity:    severity,
		Description: description,
		Timestamp:   time.Now(),
		Data:        make(map[string]interface{}),
	}
}

// WithAsset attaches the subject asset
func (e *Event) WithAsset(asset domain.Asset) *Event {
	e.Asset = &asset
	return e
}

// WithData attaches one data field
func (e *Event) WithData(key string, value interface{}) *Event {
	if e.Data == nil {
		e.Data = make(map[string]interface{})
	}
	e.Data[key] = value
	return e
}

// Filter restricts which events a subscriber receives. Dimensions are
// ANDed; values within a dimension are ORed; an omitted dimension matches
// everything.
type Filter struct {
	Types         []Type     `json:"event_types,omitempty"`
	Severities    []Severity `json:"severities,omitempty"`
	AssetSymbols  []string   `json:"asset_symbols,omitempty"`
	WatchdogNames []string   `json:"watchdog_names,omitempty"`
}

// Matches reports whether the event passes the filter
func (f *Filter) Matches(e *Event) bool {
	if f == nil {
		return true
	}
	if len(f.Types) > 0 && !containsType(f.Types, e.Type) {
		return false
	}
	if len(f.Severities) > 0 && !containsSeverity(f.Severities, e.Severity) {
		return false
	}
	if len(f.AssetSymbols) > 0 {
		if e.Asset == nil || !containsString(f.AssetSymbols, e.Asset.Symbol) {
			return false
		}
	}
	if len(f.WatchdogNames) > 0 && !containsString(f.WatchdogNames, e.WatchdogName) {
		return false
	}
	return true
}

func containsType(list []Type, v Type) bool {
	for _, t := range list {
		if t == v {
			return true
		}
	}
	return false
}

func containsSeverity(list []Severity, v Severity) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
