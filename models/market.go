package models

// TickerSnapshot is the latest 24h rolling ticker.
type TickerSnapshot struct {
	Symbol           string  `json:"symbol"`
	LastPrice        float64 `json:"price"`
	High24h          float64 `json:"high24h"`
	Low24h           float64 `json:"low24h"`
	Volume24h        float64 `json:"volume24h"`
	AbsoluteChange   float64 `json:"change"`
	PercentChange    float64 `json:"changePercent"`
	ObservedAtMillis int64   `json:"timestamp"`
}

func (TickerSnapshot) StreamKind() StreamKind { return KindTicker }

// Trade is a single print from the trade stream.
type Trade struct {
	Symbol           string  `json:"symbol"`
	Price            float64 `json:"price"`
	Quantity         float64 `json:"quantity"`
	TradeTimeMillis  int64   `json:"time"`
	IsBuyerMaker     bool    `json:"isBuyerMaker"`
	ObservedAtMillis int64   `json:"timestamp"`
}

func (Trade) StreamKind() StreamKind { return KindTrade }

// Candle is a completed 1m bar.
type Candle struct {
	OpenTimeMillis int64   `json:"time"`
	Open           float64 `json:"open"`
	High           float64 `json:"high"`
	Low            float64 `json:"low"`
	Close          float64 `json:"close"`
	Volume         float64 `json:"volume"`
}

// Kline is a decoded candle together with its closed flag.
type Kline struct {
	Candle
	Symbol string
	Closed bool
}

func (Kline) StreamKind() StreamKind { return KindKline }

type Severity string

const (
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

const AlertLargeTrade = "large_trade"

// Alert is the side-channel record emitted for large trades.
type Alert struct {
	ID              string   `json:"id"`
	Type            string   `json:"type"`
	Symbol          string   `json:"symbol"`
	Message         string   `json:"message"`
	Severity        Severity `json:"severity"`
	Price           float64  `json:"price"`
	Quantity        float64  `json:"quantity"`
	TimestampMillis int64    `json:"timestamp"`
}

// WorkerStats is the health snapshot stored under worker:stats.
type WorkerStats struct {
	TickerCount       int64 `json:"tickerCount"`
	OrderBookCount    int64 `json:"orderBookCount"`
	TradeCount        int64 `json:"tradeCount"`
	CandleCount       int64 `json:"candleCount"`
	UnknownFrameCount int64 `json:"unknownFrameCount"`
	DecodeErrorCount  int64 `json:"decodeErrorCount"`
	StartedAtMillis   int64 `json:"startedAtMillis"`
	UptimeSeconds     int64 `json:"uptimeSeconds"`
	Connected         bool  `json:"connected"`
}
