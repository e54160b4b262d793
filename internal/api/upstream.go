package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"marketfeed/models"
	"marketfeed/processor"
)

// Upstream answers reads the cache cannot serve.
type Upstream interface {
	Ticker(ctx context.Context, symbol string) (models.TickerSnapshot, error)
	OrderBook(ctx context.Context, symbol string, limit int) (models.OrderBookSnapshot, error)
}

// BinanceREST reads the spot REST API directly.
type BinanceREST struct {
	client *binance.Client
	now    func() time.Time
}

// NewBinanceREST points a go-binance spot client at baseURL. timeout bounds
// each HTTP round trip.
func NewBinanceREST(baseURL string, timeout time.Duration) *BinanceREST {
	client := binance.NewClient("", "")
	client.HTTPClient = &http.Client{Timeout: timeout}
	if baseURL != "" {
		client.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &BinanceREST{client: client, now: time.Now}
}

func (b *BinanceREST) Ticker(ctx context.Context, symbol string) (models.TickerSnapshot, error) {
	stats, err := b.client.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return models.TickerSnapshot{}, fmt.Errorf("binance ticker error: %w", err)
	}
	if len(stats) == 0 {
		return models.TickerSnapshot{}, fmt.Errorf("binance ticker error: no data for %s", symbol)
	}
	s := stats[0]

	var p restParser
	out := models.TickerSnapshot{
		Symbol:           symbol,
		LastPrice:        p.float("lastPrice", s.LastPrice),
		High24h:          p.float("highPrice", s.HighPrice),
		Low24h:           p.float("lowPrice", s.LowPrice),
		Volume24h:        p.float("volume", s.Volume),
		AbsoluteChange:   p.float("priceChange", s.PriceChange),
		PercentChange:    p.float("priceChangePercent", s.PriceChangePercent),
		ObservedAtMillis: b.now().UnixMilli(),
	}
	if p.err != nil {
		return models.TickerSnapshot{}, fmt.Errorf("binance ticker error: %w", p.err)
	}
	return out, nil
}

func (b *BinanceREST) OrderBook(ctx context.Context, symbol string, limit int) (models.OrderBookSnapshot, error) {
	depth, err := b.client.NewDepthService().Symbol(symbol).Limit(limit).Do(ctx)
	if err != nil {
		return models.OrderBookSnapshot{}, fmt.Errorf("binance orderbook error: %w", err)
	}

	bids := make([]models.PriceLevel, 0, len(depth.Bids))
	for i, lvl := range depth.Bids {
		pl, err := priceLevel(lvl.Price, lvl.Quantity)
		if err != nil {
			return models.OrderBookSnapshot{}, fmt.Errorf("binance orderbook error: bids[%d]: %w", i, err)
		}
		bids = append(bids, pl)
	}
	asks := make([]models.PriceLevel, 0, len(depth.Asks))
	for i, lvl := range depth.Asks {
		pl, err := priceLevel(lvl.Price, lvl.Quantity)
		if err != nil {
			return models.OrderBookSnapshot{}, fmt.Errorf("binance orderbook error: asks[%d]: %w", i, err)
		}
		asks = append(asks, pl)
	}

	ob := processor.BuildOrderBook(symbol, bids, asks)
	ob.ObservedAtMillis = b.now().UnixMilli()
	return ob, nil
}

func priceLevel(price, size string) (models.PriceLevel, error) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return models.PriceLevel{}, fmt.Errorf("price: %w", err)
	}
	q, err := decimal.NewFromString(size)
	if err != nil {
		return models.PriceLevel{}, fmt.Errorf("size: %w", err)
	}
	return models.PriceLevel{Price: p, Size: q}, nil
}

type restParser struct {
	err error
}

func (p *restParser) float(field, s string) float64 {
	if p.err != nil {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		p.err = fmt.Errorf("field %q: %w", field, err)
		return 0
	}
	return d.InexactFloat64()
}
