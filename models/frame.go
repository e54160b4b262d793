package models

import "encoding/json"

// StreamFrame is the combined-stream envelope: {"stream": "...", "data": {...}}.
type StreamFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// StreamKind names which of the four sub-streams a frame belongs to.
type StreamKind int

const (
	KindUnknown StreamKind = iota
	KindTicker
	KindDepth
	KindTrade
	KindKline
	// KindEmpty is a frame without data, such as a subscription ack.
	KindEmpty
)

func (k StreamKind) String() string {
	switch k {
	case KindTicker:
		return "ticker"
	case KindDepth:
		return "depth"
	case KindTrade:
		return "trade"
	case KindKline:
		return "kline"
	case KindEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// The wire payloads below declare every single-letter key whose other-case
// twin they decode, because encoding/json falls back to case-insensitive
// matching and would otherwise let "t" overwrite "T".

// WsTickerEvent is the payload of <symbol>@ticker.
type WsTickerEvent struct {
	Symbol             string `json:"s"`
	PriceChange        string `json:"p"`
	PriceChangePercent string `json:"P"`
	LastPrice          string `json:"c"`
	CloseTime          int64  `json:"C"`
	HighPrice          string `json:"h"`
	LowPrice           string `json:"l"`
	LastTradeID        int64  `json:"L"`
	Volume             string `json:"v"`
}

// WsDepthEvent is the payload of <symbol>@depth<N>@100ms (partial book).
type WsDepthEvent struct {
	Symbol       string      `json:"s"`
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

// WsTradeEvent is the payload of <symbol>@trade.
type WsTradeEvent struct {
	Symbol       string `json:"s"`
	TradeID      int64  `json:"t"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	EventTime    int64  `json:"E"`
	EventType    string `json:"e"`
	IsBuyerMaker bool   `json:"m"`
	Ignore       bool   `json:"M"`
}

// WsKlineEvent is the payload of <symbol>@kline_<interval>.
type WsKlineEvent struct {
	Symbol string  `json:"s"`
	Kline  WsKline `json:"k"`
}

type WsKline struct {
	StartTime   int64  `json:"t"`
	CloseTime   int64  `json:"T"`
	Interval    string `json:"i"`
	Open        string `json:"o"`
	Close       string `json:"c"`
	High        string `json:"h"`
	Low         string `json:"l"`
	LastTradeID int64  `json:"L"`
	Volume      string `json:"v"`
	BuyVolume   string `json:"V"`
	QuoteVolume string `json:"q"`
	BuyQuote    string `json:"Q"`
	IsClosed    bool   `json:"x"`
}
