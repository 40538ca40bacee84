package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tigerex/marketflow/pkg/app/core/order"
)

// Bus topics for the lifecycle events published at the engine boundary.
const (
	TopicOrderProcessed = "order.processed"
	TopicOrderCanceled  = "order.canceled"
	TopicTradeExecuted  = "trade.executed"
)

// Trade is one execution between two orders.
type Trade struct {
	TradeID       string          `json:"tradeId"`
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	Quantity      decimal.Decimal `json:"quantity"`
	QuoteQuantity decimal.Decimal `json:"quoteQuantity"`
	BuyOrderID    string          `json:"buyOrderId"`
	SellOrderID   string          `json:"sellOrderId"`
	BuyUserID     string          `json:"buyUserId"`
	SellUserID    string          `json:"sellUserId"`
	IsBuyerMaker  bool            `json:"isBuyerMaker"`
	Timestamp     time.Time       `json:"timestamp"`
}

// OrderProcessed is published after every accepted or rejected submission.
type OrderProcessed struct {
	Order  *order.Order
	Result Result
}

// OrderCanceled is published after a successful cancel.
type OrderCanceled struct {
	Order  *order.Order
	Reason string
}

// TradeExecuted is published once per trade, after both orders reflect
// the fill.
type TradeExecuted struct {
	Trade Trade
}

// SymbolOf extracts the symbol from any lifecycle event payload, so
// per-symbol consumers can route without type-switching at every site.
func SymbolOf(payload any) (string, bool) {
	switch ev := payload.(type) {
	case OrderProcessed:
		return ev.Order.Symbol, true
	case OrderCanceled:
		return ev.Order.Symbol, true
	case TradeExecuted:
		return ev.Trade.Symbol, true
	}
	return "", false
}
