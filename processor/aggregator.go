package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"marketfeed/config"
	"marketfeed/logger"
	"marketfeed/models"
)

// Publisher receives aggregated records. Implementations are best effort and
// never report failures back into the frame loop.
type Publisher interface {
	PublishTicker(ctx context.Context, t models.TickerSnapshot)
	PublishOrderBook(ctx context.Context, ob models.OrderBookSnapshot)
	PublishTrade(ctx context.Context, t models.Trade)
	PublishCandle(ctx context.Context, c models.Candle)
	PublishAlert(ctx context.Context, a models.Alert)
}

// Recorder is the counter surface the aggregator reports into.
type Recorder interface {
	RecordTicker()
	RecordOrderBook()
	RecordTrade()
	RecordCandle()
	RecordUnknown()
	RecordDecodeError()
}

// orderBookLogEvery throttles the spread log line.
const orderBookLogEvery = 50

// Aggregator decodes frames and applies the per-stream transformations. It is
// driven by a single goroutine, so its own state needs no locking.
type Aggregator struct {
	codec        *Codec
	pub          Publisher
	stats        Recorder
	largeTrade   float64
	highSeverity float64
	log          *logger.Log

	now   func() time.Time
	newID func() string

	orderBooks int64
}

func NewAggregator(cfg *config.Config, pub Publisher, stats Recorder) *Aggregator {
	return &Aggregator{
		codec:        NewCodec(cfg.Stream.Symbol, cfg.Stream.DepthLevels),
		pub:          pub,
		stats:        stats,
		largeTrade:   cfg.Alerts.LargeTradeQuantity,
		highSeverity: cfg.Alerts.HighSeverityAbove,
		log:          logger.GetLogger(),
		now:          time.Now,
		newID:        func() string { return uuid.NewString() },
	}
}

// HandleFrame decodes one raw frame and processes it. Decode errors are
// logged and counted; they never reach the caller.
func (a *Aggregator) HandleFrame(ctx context.Context, raw []byte) {
	kind, rec, err := a.codec.Decode(raw)
	if err != nil {
		a.stats.RecordDecodeError()
		a.log.WithComponent("codec").WithError(err).WithField("bytes", len(raw)).Warn("dropping malformed frame")
		return
	}
	if rec == nil {
		if kind == models.KindUnknown {
			a.stats.RecordUnknown()
			a.log.WithComponent("codec").WithField("bytes", len(raw)).Debug("dropping frame without known stream")
		}
		return
	}
	a.Handle(ctx, rec)
}

// Handle applies the transformation for one decoded record.
func (a *Aggregator) Handle(ctx context.Context, rec Record) {
	switch r := rec.(type) {
	case models.TickerSnapshot:
		a.handleTicker(ctx, r)
	case models.DepthUpdate:
		a.handleDepth(ctx, r)
	case models.Trade:
		a.handleTrade(ctx, r)
	case models.Kline:
		a.handleKline(ctx, r)
	default:
		a.stats.RecordUnknown()
	}
}

func (a *Aggregator) handleTicker(ctx context.Context, t models.TickerSnapshot) {
	a.stats.RecordTicker()
	t.ObservedAtMillis = a.now().UnixMilli()
	a.pub.PublishTicker(ctx, t)

	a.log.WithComponent("aggregator").WithFields(logger.Fields{
		"symbol":         t.Symbol,
		"price":          t.LastPrice,
		"change_percent": t.PercentChange,
	}).Debug("ticker")
}

func (a *Aggregator) handleDepth(ctx context.Context, d models.DepthUpdate) {
	a.stats.RecordOrderBook()
	ob := BuildOrderBook(d.Symbol, d.Bids, d.Asks)
	ob.ObservedAtMillis = a.now().UnixMilli()
	a.pub.PublishOrderBook(ctx, ob)

	a.orderBooks++
	if a.orderBooks%orderBookLogEvery == 0 {
		fields := logger.Fields{"bids": len(ob.Bids), "asks": len(ob.Asks)}
		if spread, ok := ob.Spread(); ok {
			fields["spread"] = spread
		}
		entry := a.log.WithComponent("aggregator")
		entry.WithFields(fields).Info("order book updated")
		logger.LogDataFlowEntry(entry, "binance", "redis", orderBookLogEvery, "orderbook")
	}
}

func (a *Aggregator) handleTrade(ctx context.Context, t models.Trade) {
	a.stats.RecordTrade()
	t.ObservedAtMillis = a.now().UnixMilli()
	a.pub.PublishTrade(ctx, t)

	severity, large := ClassifyTrade(t.Quantity, a.largeTrade, a.highSeverity)
	if !large {
		return
	}
	alert := models.Alert{
		ID:              a.newID(),
		Type:            models.AlertLargeTrade,
		Symbol:          t.Symbol,
		Message:         fmt.Sprintf("large trade: %.2f %s @ %.2f", t.Quantity, t.Symbol, t.Price),
		Severity:        severity,
		Price:           t.Price,
		Quantity:        t.Quantity,
		TimestampMillis: t.ObservedAtMillis,
	}
	a.pub.PublishAlert(ctx, alert)

	a.log.WithComponent("aggregator").WithFields(logger.Fields{
		"symbol":   t.Symbol,
		"quantity": t.Quantity,
		"price":    t.Price,
		"severity": severity,
	}).Info("large trade")
}

func (a *Aggregator) handleKline(ctx context.Context, k models.Kline) {
	a.stats.RecordCandle()
	if !k.Closed {
		return
	}
	a.pub.PublishCandle(ctx, k.Candle)

	a.log.WithComponent("aggregator").WithFields(logger.Fields{
		"open":  k.Open,
		"high":  k.High,
		"low":   k.Low,
		"close": k.Close,
	}).Info("kline completed")
}

// ClassifyTrade reports whether quantity is above threshold and, if so, its
// severity: high strictly above highAbove, medium otherwise.
func ClassifyTrade(quantity, threshold, highAbove float64) (models.Severity, bool) {
	if quantity <= threshold {
		return "", false
	}
	if quantity > highAbove {
		return models.SeverityHigh, true
	}
	return models.SeverityMedium, true
}

// BuildOrderBook computes cumulative depth for each side independently.
func BuildOrderBook(symbol string, bids, asks []models.PriceLevel) models.OrderBookSnapshot {
	return models.OrderBookSnapshot{
		Symbol: symbol,
		Bids:   CumulativeLevels(bids),
		Asks:   CumulativeLevels(asks),
	}
}

// CumulativeLevels folds sizes from the best level outward, starting at zero.
// Totals are summed exactly and rounded to three decimals. The result is never
// nil so empty sides serialise as [].
func CumulativeLevels(levels []models.PriceLevel) []models.OrderBookLevel {
	out := make([]models.OrderBookLevel, 0, len(levels))
	total := decimal.Zero
	for _, lvl := range levels {
		total = total.Add(lvl.Size)
		out = append(out, models.OrderBookLevel{
			Price:          lvl.Price.InexactFloat64(),
			Size:           lvl.Size.InexactFloat64(),
			CumulativeSize: total.Round(3).InexactFloat64(),
		})
	}
	return out
}
