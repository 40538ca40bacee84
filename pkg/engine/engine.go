// Package engine defines the matching-engine collaborator surface the
// trading subsystem is built against, plus an in-memory price-time
// reference implementation used by the node and the test suite.
package engine

import (
	"github.com/shopspring/decimal"

	"github.com/tigerex/marketflow/pkg/app/core/order"
)

// DepthRow is one raw resting order as reported by the engine. Rows are
// not aggregated; several rows may share a price.
type DepthRow struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// Depth is the raw per-symbol book view, bids best-first (descending),
// asks best-first (ascending).
type Depth struct {
	Symbol string
	Bids   []DepthRow
	Asks   []DepthRow
}

// Result reports the outcome of order submission.
type Result struct {
	Accepted        bool
	RejectionReason string

	// Fills are the taker-side executions, in match order.
	Fills []order.Fill
	// Trades pairs every fill with its maker counterparty.
	Trades []Trade

	// RestedQuantity remained on the book after matching (GTC only).
	RestedQuantity decimal.Decimal
	// CanceledRemainder is set when the unfilled remainder was dropped
	// (market orders exhausting liquidity, IOC leftovers).
	CanceledRemainder bool
	CancelReason      string
}

// CancelResult reports the outcome of a cancel command.
type CancelResult struct {
	Success bool
	Reason  string
}

// DepthSource is the read side the book aggregator depends on.
type DepthSource interface {
	// Depth returns up to limit price levels per side. Implementations
	// return an error when the book cannot be read; callers must treat
	// that as transient and keep their last-known-good state.
	Depth(symbol string, limit int) (Depth, error)
}

// Engine is the full matching collaborator surface.
type Engine interface {
	DepthSource

	ProcessOrder(o *order.Order) (Result, error)
	CancelOrder(orderID, reason string) (CancelResult, error)
}
