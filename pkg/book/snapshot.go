// Package book maintains the aggregated per-symbol market depth and
// distributes it to subscribers.
package book

import (
	"time"

	"github.com/shopspring/decimal"
)

// Level is one aggregated price level: the summed live quantity of every
// resting order at that price on one side.
type Level struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Total    decimal.Decimal `json:"total"` // price * quantity
}

type Spread struct {
	Absolute decimal.Decimal `json:"absolute"`
	Percent  decimal.Decimal `json:"percent"`
}

// Snapshot is the complete aggregated book for a symbol at one instant.
// Snapshots are immutable once published; the aggregator always builds a
// fresh one and swaps the reference.
type Snapshot struct {
	Symbol       string    `json:"symbol"`
	Bids         []Level   `json:"bids"` // descending by price
	Asks         []Level   `json:"asks"` // ascending by price
	Spread       Spread    `json:"spread"`
	Timestamp    time.Time `json:"timestamp"`
	LastUpdateID uint64    `json:"lastUpdateId"`
}

// Empty is the placeholder served to subscribers of a symbol that has
// not aggregated yet.
func Empty(symbol string) *Snapshot {
	return &Snapshot{
		Symbol: symbol,
		Bids:   []Level{},
		Asks:   []Level{},
	}
}

// BestBid returns the top bid level, if any.
func (s *Snapshot) BestBid() (Level, bool) {
	if len(s.Bids) == 0 {
		return Level{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the top ask level, if any.
func (s *Snapshot) BestAsk() (Level, bool) {
	if len(s.Asks) == 0 {
		return Level{}, false
	}
	return s.Asks[0], true
}

// Truncate returns a copy bounded to depth levels per side. The level
// slices alias the original backing arrays, which is safe because
// published snapshots are never mutated.
func (s *Snapshot) Truncate(depth int) *Snapshot {
	if depth <= 0 || (depth >= len(s.Bids) && depth >= len(s.Asks)) {
		return s
	}
	out := *s
	if depth < len(s.Bids) {
		out.Bids = s.Bids[:depth]
	}
	if depth < len(s.Asks) {
		out.Asks = s.Asks[:depth]
	}
	return &out
}

// computeSpread derives absolute and percent spread from the top of the
// book; both are zero when either side is empty.
func computeSpread(bids, asks []Level) Spread {
	if len(bids) == 0 || len(asks) == 0 {
		return Spread{}
	}
	bestBid := bids[0].Price
	bestAsk := asks[0].Price
	abs := bestAsk.Sub(bestBid)
	if bestAsk.IsZero() {
		return Spread{Absolute: abs}
	}
	return Spread{
		Absolute: abs,
		Percent:  abs.Div(bestAsk).Mul(decimal.NewFromInt(100)),
	}
}
