package writer

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	appconfig "marketfeed/config"
	"marketfeed/internal/cache"
	"marketfeed/logger"
	"marketfeed/models"
)

type latestWriter interface {
	Put(ctx context.Context, payload []byte) error
	Key() string
}

type listWriter interface {
	Push(ctx context.Context, payload []byte) error
	Key() string
}

type broadcaster interface {
	Publish(ctx context.Context, payload []byte) error
	Name() string
}

// Sink publishes aggregated records to the cache and the broadcast channels.
// Every write is independent: a failed cache write still broadcasts and a
// failed broadcast never undoes the cache write. Failures are logged only.
type Sink struct {
	ticker    latestWriter
	orderBook latestWriter
	stats     latestWriter
	trades    listWriter
	candles   listWriter

	tickerUpdates    broadcaster
	orderBookUpdates broadcaster
	alerts           broadcaster

	timeout  time.Duration
	log      *logger.Log
	failures atomic.Int64
}

func NewSink(cfg *appconfig.Config, client redis.UniversalClient) *Sink {
	ttl := cfg.Redis.TTL
	capacity := cfg.Redis.ListCapacity
	return &Sink{
		ticker:           cache.NewSlot(client, cache.KeyTicker, ttl),
		orderBook:        cache.NewSlot(client, cache.KeyOrderBook, ttl),
		stats:            cache.NewSlot(client, cache.KeyWorkerStats, ttl),
		trades:           cache.NewList(client, cache.KeyTrades, capacity),
		candles:          cache.NewList(client, cache.KeyKlines, capacity),
		tickerUpdates:    cache.NewChannel(client, cache.ChannelTicker),
		orderBookUpdates: cache.NewChannel(client, cache.ChannelOrderBook),
		alerts:           cache.NewChannel(client, cache.ChannelAlerts),
		timeout:          cfg.Redis.WriteTimeout,
		log:              logger.GetLogger(),
	}
}

func (s *Sink) PublishTicker(ctx context.Context, t models.TickerSnapshot) {
	payload, ok := s.encode("ticker", t)
	if !ok {
		return
	}
	s.store(ctx, s.ticker, payload)
	s.broadcast(ctx, s.tickerUpdates, payload)
}

func (s *Sink) PublishOrderBook(ctx context.Context, ob models.OrderBookSnapshot) {
	payload, ok := s.encode("orderbook", ob)
	if !ok {
		return
	}
	s.store(ctx, s.orderBook, payload)
	s.broadcast(ctx, s.orderBookUpdates, payload)
}

func (s *Sink) PublishTrade(ctx context.Context, t models.Trade) {
	payload, ok := s.encode("trade", t)
	if !ok {
		return
	}
	s.push(ctx, s.trades, payload)
}

func (s *Sink) PublishCandle(ctx context.Context, c models.Candle) {
	payload, ok := s.encode("candle", c)
	if !ok {
		return
	}
	s.push(ctx, s.candles, payload)
}

func (s *Sink) PublishAlert(ctx context.Context, a models.Alert) {
	payload, ok := s.encode("alert", a)
	if !ok {
		return
	}
	s.broadcast(ctx, s.alerts, payload)
}

// PublishStats stores the health snapshot.
func (s *Sink) PublishStats(ctx context.Context, st models.WorkerStats) {
	payload, ok := s.encode("stats", st)
	if !ok {
		return
	}
	s.store(ctx, s.stats, payload)
}

// Failures reports how many individual writes have failed so far.
func (s *Sink) Failures() int64 {
	return s.failures.Load()
}

func (s *Sink) encode(kind string, v interface{}) ([]byte, bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		s.failures.Add(1)
		s.log.WithComponent("sink").WithError(err).WithField("type", kind).Warn("failed to encode record")
		return nil, false
	}
	return payload, true
}

func (s *Sink) writeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Sink) store(ctx context.Context, w latestWriter, payload []byte) {
	wctx, cancel := s.writeCtx(ctx)
	defer cancel()
	if err := w.Put(wctx, payload); err != nil {
		s.failures.Add(1)
		s.log.WithComponent("sink").WithError(err).WithField("key", w.Key()).Warn("cache write failed")
	}
}

func (s *Sink) push(ctx context.Context, w listWriter, payload []byte) {
	wctx, cancel := s.writeCtx(ctx)
	defer cancel()
	if err := w.Push(wctx, payload); err != nil {
		s.failures.Add(1)
		s.log.WithComponent("sink").WithError(err).WithField("key", w.Key()).Warn("list push failed")
	}
}

func (s *Sink) broadcast(ctx context.Context, b broadcaster, payload []byte) {
	wctx, cancel := s.writeCtx(ctx)
	defer cancel()
	if err := b.Publish(wctx, payload); err != nil {
		s.failures.Add(1)
		s.log.WithComponent("sink").WithError(err).WithField("channel", b.Name()).Warn("broadcast failed")
	}
}
