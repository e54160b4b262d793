package health

import (
	"sync/atomic"
	"time"

	"marketfeed/models"
)

// Stats holds the process-lifetime counters. The frame loop increments them;
// the reporter only reads.
type Stats struct {
	ticker    atomic.Int64
	orderBook atomic.Int64
	trade     atomic.Int64
	candle    atomic.Int64
	unknown   atomic.Int64
	decodeErr atomic.Int64
	startedAt time.Time
}

func NewStats(startedAt time.Time) *Stats {
	return &Stats{startedAt: startedAt}
}

func (s *Stats) RecordTicker()      { s.ticker.Add(1) }
func (s *Stats) RecordOrderBook()   { s.orderBook.Add(1) }
func (s *Stats) RecordTrade()       { s.trade.Add(1) }
func (s *Stats) RecordCandle()      { s.candle.Add(1) }
func (s *Stats) RecordUnknown()     { s.unknown.Add(1) }
func (s *Stats) RecordDecodeError() { s.decodeErr.Add(1) }

func (s *Stats) StartedAt() time.Time { return s.startedAt }

// Snapshot captures the counters at now.
func (s *Stats) Snapshot(now time.Time, connected bool) models.WorkerStats {
	uptime := now.Sub(s.startedAt) / time.Second
	if uptime < 0 {
		uptime = 0
	}
	return models.WorkerStats{
		TickerCount:       s.ticker.Load(),
		OrderBookCount:    s.orderBook.Load(),
		TradeCount:        s.trade.Load(),
		CandleCount:       s.candle.Load(),
		UnknownFrameCount: s.unknown.Load(),
		DecodeErrorCount:  s.decodeErr.Load(),
		StartedAtMillis:   s.startedAt.UnixMilli(),
		UptimeSeconds:     int64(uptime),
		Connected:         connected,
	}
}
