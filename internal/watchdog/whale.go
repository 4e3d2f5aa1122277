package watchdog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/marketgate/marketgate/internal/domain"
	"github.com/marketgate/marketgate/internal/events"
)

// Transfer is one large on-chain movement
type Transfer struct {
	Symbol    string
	Hash      string
	AmountUSD float64
	From      string
	To        string
	Timestamp time.Time
}

// TransferSource reads recent large transfers for an asset
type TransferSource interface {
	RecentTransfers(ctx context.Context, asset domain.Asset) ([]Transfer, error)
}

// WhaleMovementDetector flags single transfers above the USD threshold.
// Exchange-inbound transfers rank higher since they often precede sells.
type WhaleMovementDetector struct {
	source       TransferSource
	assets       []domain.Asset
	thresholdUSD float64
	dedup        *dedupTracker

	seenHashes map[string]struct{}
}

// NewWhaleMovementDetector creates the whale detector; thresholdUSD
// defaults to 1,000,000.
func NewWhaleMovementDetector(source TransferSource, assets []domain.Asset, thresholdUSD float64) *WhaleMovementDetector {
	if thresholdUSD <= 0 {
		thresholdUSD = 1_000_000
	}
	return &WhaleMovementDetector{
		source:       source,
		assets:       assets,
		thresholdUSD: thresholdUSD,
		dedup:        newDedupTracker(2 * time.Minute),
		seenHashes:   make(map[string]struct{}),
	}
}

func (d *WhaleMovementDetector) Name() string { return "whale_movement" }

func (d *WhaleMovementDetector) Check(ctx context.Context) (*events.Event, error) {
	for _, asset := range d.assets {
		if asset.Type != domain.AssetCrypto {
			continue
		}
		transfers, err := d.source.RecentTransfers(ctx, asset)
		if err != nil {
			return nil, fmt.Errorf("transfers for %s: %w", asset.Symbol, err)
		}

		for _, tx := range transfers {
			if tx.AmountUSD < d.thresholdUSD {
				continue
			}
			if _, seen := d.seenHashes[tx.Hash]; seen {
				continue
			}
			d.seenHashes[tx.Hash] = struct{}{}
			d.pruneHashes()

			severity := events.SeverityMedium
			if tx.AmountUSD >= d.thresholdUSD*10 {
				severity = events.SeverityHigh
			}
			if tx.To == "exchange" && severity == events.SeverityMedium {
				severity = events.SeverityHigh
			}

			if !d.dedup.shouldEmit(asset.Symbol, events.TypeWhaleMovement) {
				continue
			}

			return events.New(events.TypeWhaleMovement, severity,
				fmt.Sprintf("%s transfer of $%.0f (%s -> %s)", asset.Symbol, tx.AmountUSD, tx.From, tx.To)).
				WithAsset(asset).
				WithData("amount_usd", tx.AmountUSD).
				WithData("tx_hash", tx.Hash).
				WithData("from", tx.From).
				WithData("to", tx.To), nil
		}
	}
	return nil, nil
}

// pruneHashes bounds the seen set; exact eviction order does not matter
func (d *WhaleMovementDetector) pruneHashes() {
	if len(d.seenHashes) <= 10000 {
		return
	}
	for h := range d.seenHashes {
		delete(d.seenHashes, h)
		if len(d.seenHashes) <= 5000 {
			break
		}
	}
}

// BinanceTradeWhaleSource approximates on-chain whale flow with large
// single prints from the Binance aggregated trade feed. Direction is
// inferred from the taker side.
type BinanceTradeWhaleSource struct {
	BaseURL string
	Client  *http.Client
}

// NewBinanceTradeWhaleSource creates the default transfer source
func NewBinanceTradeWhaleSource() *BinanceTradeWhaleSource {
	return &BinanceTradeWhaleSource{
		BaseURL: "https://api.binance.com",
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *BinanceTradeWhaleSource) RecentTransfers(ctx context.Context, asset domain.Asset) ([]Transfer, error) {
	base, quote := asset.Pair()
	url := fmt.Sprintf("%s/api/v3/aggTrades?symbol=%s%s&limit=200", s.BaseURL, base, quote)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("aggTrades endpoint status %d", resp.StatusCode)
	}

	var rows []struct {
		ID       int64  `json:"a"`
		Price    string `json:"p"`
		Quantity string `json:"q"`
		Time     int64  `json:"T"`
		IsMaker  bool   `json:"m"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, err
	}

	transfers := make([]Transfer, 0, len(rows))
	for _, row := range rows {
		price, _ := strconv.ParseFloat(row.Price, 64)
		qty, _ := strconv.ParseFloat(row.Quantity, 64)
		from, to := "unknown", "exchange"
		if row.IsMaker {
			from, to = "exchange", "unknown"
		}
		transfers = append(transfers, Transfer{
			Symbol:    asset.Symbol,
			Hash:      fmt.Sprintf("%s-%d", asset.Symbol, row.ID),
			AmountUSD: price * qty,
			From:      from,
			To:        to,
			Timestamp: time.UnixMilli(row.Time),
		})
	}
	return transfers, nil
}
