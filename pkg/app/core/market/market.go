package market

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type Status string

const (
	Active   Status = "ACTIVE"
	Halted   Status = "HALTED"
	Delisted Status = "DELISTED"
)

// Market is the static configuration of one traded instrument. Base and
// quote assets are explicit fields; symbols are opaque identifiers and
// never parsed for asset names.
type Market struct {
	Symbol     string
	BaseAsset  string
	QuoteAsset string
	Status     Status

	// TickSize and LotSize are the price and quantity increments.
	// MinNotional is the minimum order value (price * quantity).
	TickSize    decimal.Decimal
	LotSize     decimal.Decimal
	MinNotional decimal.Decimal
}

// Defaults matches the increments used across the spot venue.
var defaults = struct {
	TickSize    decimal.Decimal
	LotSize     decimal.Decimal
	MinNotional decimal.Decimal
}{
	TickSize:    decimal.RequireFromString("0.01"),
	LotSize:     decimal.RequireFromString("0.00000001"),
	MinNotional: decimal.RequireFromString("10"),
}

func New(symbol, baseAsset, quoteAsset string) (*Market, error) {
	if symbol == "" || baseAsset == "" || quoteAsset == "" {
		return nil, fmt.Errorf("market requires symbol, baseAsset and quoteAsset")
	}
	if baseAsset == quoteAsset {
		return nil, fmt.Errorf("market %s: base and quote assets must differ", symbol)
	}
	return &Market{
		Symbol:      symbol,
		BaseAsset:   baseAsset,
		QuoteAsset:  quoteAsset,
		Status:      Active,
		TickSize:    defaults.TickSize,
		LotSize:     defaults.LotSize,
		MinNotional: defaults.MinNotional,
	}, nil
}

// ValidateOrder checks price and quantity against market increments.
// Price zero is allowed (market orders carry no price).
func (m *Market) ValidateOrder(price, quantity decimal.Decimal) error {
	if m.Status != Active {
		return fmt.Errorf("market %s is %s", m.Symbol, m.Status)
	}
	if !quantity.IsPositive() {
		return fmt.Errorf("quantity must be positive")
	}
	if !quantity.Mod(m.LotSize).IsZero() {
		return fmt.Errorf("quantity %s is not a multiple of lot size %s", quantity, m.LotSize)
	}
	if price.IsZero() {
		return nil
	}
	if price.IsNegative() {
		return fmt.Errorf("price must be positive")
	}
	if !price.Mod(m.TickSize).IsZero() {
		return fmt.Errorf("price %s is not a multiple of tick size %s", price, m.TickSize)
	}
	if price.Mul(quantity).LessThan(m.MinNotional) {
		return fmt.Errorf("order notional %s below minimum %s", price.Mul(quantity), m.MinNotional)
	}
	return nil
}
