// Package indicators derives technical readings from OHLCV series.
package indicators

import (
	"fmt"

	talib "github.com/markcheno/go-talib"
)

// Summary is the technical block served under the technical data type
type Summary struct {
	SMA20      float64 `json:"sma_20"`
	SMA50      float64 `json:"sma_50,omitempty"`
	RSI14      float64 `json:"rsi_14"`
	MACD       float64 `json:"macd"`
	MACDSignal float64 `json:"macd_signal"`
	MACDHist   float64 `json:"macd_histogram"`
	Trend      string  `json:"trend"`
}

// Compute derives the summary from a close series, oldest first. At
// least 34 closes are needed for the MACD signal line to settle.
func Compute(closes []float64) (*Summary, error) {
	if len(closes) < 34 {
		return nil, fmt.Errorf("need at least 34 closes, got %d", len(closes))
	}

	sma20 := talib.Sma(closes, 20)
	rsi := talib.Rsi(closes, 14)
	macd, signal, hist := talib.Macd(closes, 12, 26, 9)

	s := &Summary{
		SMA20:      last(sma20),
		RSI14:      last(rsi),
		MACD:       last(macd),
		MACDSignal: last(signal),
		MACDHist:   last(hist),
	}
	if len(closes) >= 50 {
		s.SMA50 = last(talib.Sma(closes, 50))
	}
	s.Trend = trend(closes[len(closes)-1], s)
	return s, nil
}

func last(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

// trend is a coarse read for narrative and summary surfaces
func trend(price float64, s *Summary) string {
	switch {
	case s.SMA50 > 0 && price > s.SMA20 && s.SMA20 > s.SMA50 && s.MACDHist > 0:
		return "bullish"
	case s.SMA50 > 0 && price < s.SMA20 && s.SMA20 < s.SMA50 && s.MACDHist < 0:
		return "bearish"
	case price > s.SMA20 && s.MACDHist > 0:
		return "bullish"
	case price < s.SMA20 && s.MACDHist < 0:
		return "bearish"
	default:
		return "neutral"
	}
}
