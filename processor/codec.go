package processor

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"marketfeed/models"
)

// ErrMissingData marks a required numeric field that is empty.
var ErrMissingData = errors.New("missing value")

// Record is anything the codec can hand to the aggregator.
type Record interface {
	StreamKind() models.StreamKind
}

// streamMatchers is checked in order; the first substring found wins.
var streamMatchers = []struct {
	substr string
	kind   models.StreamKind
}{
	{"ticker", models.KindTicker},
	{"depth", models.KindDepth},
	{"trade", models.KindTrade},
	{"kline", models.KindKline},
}

// Classify maps a combined-stream name to its sub-stream kind.
func Classify(stream string) models.StreamKind {
	for _, m := range streamMatchers {
		if strings.Contains(stream, m.substr) {
			return m.kind
		}
	}
	return models.KindUnknown
}

// Codec turns raw combined-stream frames into typed records.
type Codec struct {
	symbol string
	depth  int
}

// NewCodec returns a codec that falls back to symbol when a depth payload has
// none and keeps at most depth levels per side.
func NewCodec(symbol string, depth int) *Codec {
	return &Codec{symbol: strings.ToUpper(symbol), depth: depth}
}

// Decode parses one frame. A frame without data (KindEmpty) or with an
// unrecognised stream name (KindUnknown) yields a nil record and no error.
func (c *Codec) Decode(raw []byte) (models.StreamKind, Record, error) {
	var frame models.StreamFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return models.KindUnknown, nil, fmt.Errorf("decode envelope: %w", err)
	}
	if len(frame.Data) == 0 || string(frame.Data) == "null" {
		return models.KindEmpty, nil, nil
	}

	kind := Classify(frame.Stream)
	var (
		rec Record
		err error
	)
	switch kind {
	case models.KindTicker:
		rec, err = c.decodeTicker(frame.Data)
	case models.KindDepth:
		rec, err = c.decodeDepth(frame.Data)
	case models.KindTrade:
		rec, err = c.decodeTrade(frame.Data)
	case models.KindKline:
		rec, err = c.decodeKline(frame.Data)
	default:
		return kind, nil, nil
	}
	if err != nil {
		return kind, nil, fmt.Errorf("decode %s frame from %q: %w", kind, frame.Stream, err)
	}
	return kind, rec, nil
}

func (c *Codec) decodeTicker(data json.RawMessage) (models.TickerSnapshot, error) {
	var ev models.WsTickerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return models.TickerSnapshot{}, err
	}
	p := numberParser{}
	t := models.TickerSnapshot{
		Symbol:         ev.Symbol,
		LastPrice:      p.float("c", ev.LastPrice),
		High24h:        p.float("h", ev.HighPrice),
		Low24h:         p.float("l", ev.LowPrice),
		Volume24h:      p.float("v", ev.Volume),
		AbsoluteChange: p.float("p", ev.PriceChange),
		PercentChange:  p.float("P", ev.PriceChangePercent),
	}
	if t.Symbol == "" {
		t.Symbol = c.symbol
	}
	return t, p.err
}

func (c *Codec) decodeDepth(data json.RawMessage) (models.DepthUpdate, error) {
	var ev models.WsDepthEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return models.DepthUpdate{}, err
	}
	bids, err := c.levels("bids", ev.Bids)
	if err != nil {
		return models.DepthUpdate{}, err
	}
	asks, err := c.levels("asks", ev.Asks)
	if err != nil {
		return models.DepthUpdate{}, err
	}
	symbol := ev.Symbol
	if symbol == "" {
		symbol = c.symbol
	}
	return models.DepthUpdate{Symbol: symbol, Bids: bids, Asks: asks}, nil
}

func (c *Codec) levels(side string, raw [][2]string) ([]models.PriceLevel, error) {
	if c.depth > 0 && len(raw) > c.depth {
		raw = raw[:c.depth]
	}
	out := make([]models.PriceLevel, 0, len(raw))
	for i, pair := range raw {
		price, err := parseDecimal(pair[0])
		if err != nil {
			return nil, fmt.Errorf("%s[%d] price: %w", side, i, err)
		}
		size, err := parseDecimal(pair[1])
		if err != nil {
			return nil, fmt.Errorf("%s[%d] size: %w", side, i, err)
		}
		out = append(out, models.PriceLevel{Price: price, Size: size})
	}
	return out, nil
}

func (c *Codec) decodeTrade(data json.RawMessage) (models.Trade, error) {
	var ev models.WsTradeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return models.Trade{}, err
	}
	p := numberParser{}
	t := models.Trade{
		Symbol:          ev.Symbol,
		Price:           p.float("p", ev.Price),
		Quantity:        p.float("q", ev.Quantity),
		TradeTimeMillis: ev.TradeTime,
		IsBuyerMaker:    ev.IsBuyerMaker,
	}
	if t.Symbol == "" {
		t.Symbol = c.symbol
	}
	return t, p.err
}

func (c *Codec) decodeKline(data json.RawMessage) (models.Kline, error) {
	var ev models.WsKlineEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return models.Kline{}, err
	}
	k := ev.Kline
	p := numberParser{}
	out := models.Kline{
		Candle: models.Candle{
			OpenTimeMillis: k.StartTime,
			Open:           p.float("o", k.Open),
			High:           p.float("h", k.High),
			Low:            p.float("l", k.Low),
			Close:          p.float("c", k.Close),
			Volume:         p.float("v", k.Volume),
		},
		Symbol: ev.Symbol,
		Closed: k.IsClosed,
	}
	return out, p.err
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, ErrMissingData
	}
	return decimal.NewFromString(s)
}

// numberParser keeps the first coercion error so a payload can be mapped in
// one expression and checked once.
type numberParser struct {
	err error
}

func (p *numberParser) float(field, s string) float64 {
	if p.err != nil {
		return 0
	}
	d, err := parseDecimal(s)
	if err != nil {
		p.err = fmt.Errorf("field %q: %w", field, err)
		return 0
	}
	return d.InexactFloat64()
}
