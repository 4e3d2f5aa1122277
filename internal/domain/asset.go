package domain

import (
	"fmt"
	"strings"
	"time"
)

// AssetType classifies the instrument class of an asset
type AssetType string

const (
	AssetEquity     AssetType = "equity"
	AssetCrypto     AssetType = "crypto"
	AssetForex      AssetType = "forex"
	AssetCommodity  AssetType = "commodity"
	AssetETF        AssetType = "etf"
	AssetBond       AssetType = "bond"
	AssetDerivative AssetType = "derivative"
)

// DataType is the closed set of data categories served by the gateway
type DataType string

const (
	DataPrice        DataType = "price"
	DataOHLCV        DataType = "ohlcv"
	DataFundamentals DataType = "fundamentals"
	DataTechnical    DataType = "technical"
	DataNews         DataType = "news"
)

// AllDataTypes lists every supported data type
var AllDataTypes = []DataType{DataPrice, DataOHLCV, DataFundamentals, DataTechnical, DataNews}

// Valid reports whether dt is a member of the closed data-type set
func (dt DataType) Valid() bool {
	switch dt {
	case DataPrice, DataOHLCV, DataFundamentals, DataTechnical, DataNews:
		return true
	}
	return false
}

// Asset identifies a tradable instrument. Symbol is stored normalized
// (uppercase, trimmed). For crypto the symbol may be bare ("BTC") or in
// pair form ("BTC/USDT"); pair normalization happens at the provider boundary.
type Asset struct {
	Symbol   string    `json:"symbol"`
	Type     AssetType `json:"asset_type"`
	Market   string    `json:"market,omitempty"`
	Exchange string    `json:"exchange,omitempty"`
	Currency string    `json:"currency,omitempty"`
}

// NewAsset constructs an asset with a normalized symbol
func NewAsset(symbol string, assetType AssetType) Asset {
	return Asset{
		Symbol: NormalizeSymbol(symbol),
		Type:   assetType,
	}
}

// NormalizeSymbol uppercases and trims a raw symbol
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Pair splits a crypto symbol into base and quote. Bare symbols get the
// asset currency as quote, defaulting to USDT.
func (a Asset) Pair() (base, quote string) {
	if idx := strings.IndexAny(a.Symbol, "/-"); idx > 0 {
		return a.Symbol[:idx], a.Symbol[idx+1:]
	}
	quote = a.Currency
	if quote == "" {
		quote = "USDT"
	}
	return a.Symbol, quote
}

// PairSymbol returns the symbol in "BASE/QUOTE" form for exchange providers
func (a Asset) PairSymbol() string {
	base, quote := a.Pair()
	return base + "/" + quote
}

// BaseSymbol returns the bare symbol without any quote suffix
func (a Asset) BaseSymbol() string {
	base, _ := a.Pair()
	return base
}

// String renders the asset for logs and cache keys
func (a Asset) String() string {
	return fmt.Sprintf("%s(%s)", a.Symbol, a.Type)
}

// IsCrypto reports whether the asset trades on crypto venues
func (a Asset) IsCrypto() bool {
	return a.Type == AssetCrypto
}

// MarketOpen reports whether US equity cash markets are open at t.
// Weekends and the 20:00-13:30 UTC overnight window count as closed;
// exchange holidays are not modeled.
func MarketOpen(t time.Time) bool {
	utc := t.UTC()
	switch utc.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	minutes := utc.Hour()*60 + utc.Minute()
	// 13:30-20:00 UTC covers 09:30-16:00 US/Eastern outside DST shifts
	return minutes >= 13*60+30 && minutes < 20*60
}
