package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fill is one execution against a counterparty order, recorded in
// emission order.
type Fill struct {
	TradeID        string          `json:"tradeId"`
	Price          decimal.Decimal `json:"price"`
	Quantity       decimal.Decimal `json:"quantity"`
	CounterOrderID string          `json:"counterOrderId"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Order is the lifecycle entity. It is exclusively written by the order
// service; every other component sees it read-only.
type Order struct {
	OrderID       string      `json:"orderId"`
	ClientOrderID string      `json:"clientOrderId,omitempty"`
	UserID        string      `json:"userId"`
	Symbol        string      `json:"symbol"`
	BaseAsset     string      `json:"baseAsset"`
	QuoteAsset    string      `json:"quoteAsset"`
	Side          Side        `json:"side"`
	Type          Type        `json:"type"`
	TimeInForce   TimeInForce `json:"timeInForce"`

	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	StopPrice decimal.Decimal `json:"stopPrice"`

	Status                  Status          `json:"status"`
	Fills                   []Fill          `json:"fills"`
	ExecutedQuantity        decimal.Decimal `json:"executedQuantity"`
	CumulativeQuoteQuantity decimal.Decimal `json:"cumulativeQuoteQuantity"`

	OrderTime    time.Time `json:"orderTime"`
	CancelTime   time.Time `json:"cancelTime,omitzero"`
	CancelReason string    `json:"cancelReason,omitempty"`
	RejectReason string    `json:"rejectReason,omitempty"`
	IsWorking    bool      `json:"isWorking"`
}

// Params carries the caller-supplied fields of a placement request before
// normalization.
type Params struct {
	ClientOrderID string
	UserID        string
	Symbol        string
	Side          string
	Type          string
	TimeInForce   string
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	StopPrice     decimal.Decimal
}

// New validates and normalizes placement parameters into a NEW working
// order. Base/quote assets are resolved by the caller against the symbol
// registry; they are not derived from symbol string slicing.
func New(p Params, now time.Time) (*Order, error) {
	if p.UserID == "" {
		return nil, Validationf("userId is required")
	}
	if p.Symbol == "" {
		return nil, Validationf("symbol is required")
	}

	side, ok := ParseSide(p.Side)
	if !ok {
		return nil, Validationf("invalid side %q", p.Side)
	}
	typ, ok := ParseType(p.Type)
	if !ok {
		return nil, Validationf("invalid order type %q", p.Type)
	}
	tif, ok := ParseTimeInForce(p.TimeInForce)
	if !ok {
		return nil, Validationf("invalid timeInForce %q", p.TimeInForce)
	}

	if !p.Quantity.IsPositive() {
		return nil, Validationf("quantity must be positive")
	}
	if typ.RequiresPrice() && !p.Price.IsPositive() {
		return nil, Validationf("price is required for %s orders", typ)
	}
	if typ.RequiresStopPrice() && !p.StopPrice.IsPositive() {
		return nil, Validationf("stopPrice is required for %s orders", typ)
	}
	if typ == Market && !p.Price.IsZero() {
		return nil, Validationf("price is not allowed for MARKET orders")
	}

	return &Order{
		ClientOrderID: p.ClientOrderID,
		UserID:        p.UserID,
		Symbol:        p.Symbol,
		Side:          side,
		Type:          typ,
		TimeInForce:   tif,
		Quantity:      p.Quantity,
		Price:         p.Price,
		StopPrice:     p.StopPrice,
		Status:        StatusNew,
		OrderTime:     now,
		IsWorking:     true,
	}, nil
}

// RemainingQuantity is the unexecuted portion.
func (o *Order) RemainingQuantity() decimal.Decimal {
	return o.Quantity.Sub(o.ExecutedQuantity)
}

// AveragePrice is cumulative quote quantity over executed quantity, zero
// before the first fill.
func (o *Order) AveragePrice() decimal.Decimal {
	if o.ExecutedQuantity.IsZero() {
		return decimal.Zero
	}
	return o.CumulativeQuoteQuantity.Div(o.ExecutedQuantity)
}

// ApplyFill records one execution and advances the state machine.
// Overfills are rejected, keeping executedQuantity <= quantity.
func (o *Order) ApplyFill(f Fill) error {
	if o.Status.IsTerminal() {
		return InvalidStatef("order %s is %s and cannot be filled", o.OrderID, o.Status)
	}
	if !f.Quantity.IsPositive() {
		return Validationf("fill quantity must be positive")
	}
	if f.Quantity.GreaterThan(o.RemainingQuantity()) {
		return InvalidStatef("fill quantity %s exceeds remaining %s on order %s",
			f.Quantity, o.RemainingQuantity(), o.OrderID)
	}

	o.Fills = append(o.Fills, f)
	o.ExecutedQuantity = o.ExecutedQuantity.Add(f.Quantity)
	o.CumulativeQuoteQuantity = o.CumulativeQuoteQuantity.Add(f.Quantity.Mul(f.Price))

	if o.ExecutedQuantity.Equal(o.Quantity) {
		o.Status = StatusFilled
		o.IsWorking = false
	} else {
		o.Status = StatusPartiallyFilled
	}
	return nil
}

// Cancel moves a working order to CANCELED. Terminal or non-working
// orders fail with InvalidState; the single-order cancel path relies on
// this to surface the cancel-vs-fill race.
func (o *Order) Cancel(reason string, now time.Time) error {
	if !o.IsWorking || !CanTransition(o.Status, StatusCanceled) {
		return InvalidStatef("order %s is %s and cannot be canceled", o.OrderID, o.Status)
	}
	o.Status = StatusCanceled
	o.IsWorking = false
	o.CancelTime = now
	o.CancelReason = reason
	return nil
}

// Reject marks a NEW order declined by the engine.
func (o *Order) Reject(reason string) {
	o.Status = StatusRejected
	o.IsWorking = false
	o.RejectReason = reason
}
