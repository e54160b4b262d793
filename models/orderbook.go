package models

import "github.com/shopspring/decimal"

// PriceLevel is a decoded [price, size] pair before cumulative depth is known.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// DepthUpdate is a decoded partial book in feed order (best first per side).
type DepthUpdate struct {
	Symbol string
	Bids   []PriceLevel
	Asks   []PriceLevel
}

func (DepthUpdate) StreamKind() StreamKind { return KindDepth }

// OrderBookLevel is one published level. CumulativeSize sums Size over this
// level and every better level on the same side.
type OrderBookLevel struct {
	Price          float64 `json:"price"`
	Size           float64 `json:"size"`
	CumulativeSize float64 `json:"total"`
}

// OrderBookSnapshot replaces the previous snapshot wholesale.
type OrderBookSnapshot struct {
	Symbol           string           `json:"symbol"`
	Bids             []OrderBookLevel `json:"bids"`
	Asks             []OrderBookLevel `json:"asks"`
	ObservedAtMillis int64            `json:"timestamp"`
}

// Spread is best ask minus best bid, false when either side is empty.
func (s OrderBookSnapshot) Spread() (float64, bool) {
	if len(s.Bids) == 0 || len(s.Asks) == 0 {
		return 0, false
	}
	return s.Asks[0].Price - s.Bids[0].Price, true
}
