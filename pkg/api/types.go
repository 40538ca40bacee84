package api

import (
	"time"

	"github.com/shopspring/decimal"
)

// ==============================
// REST Request Types
// ==============================

// PlaceOrderRequest is the payload for POST /api/v1/orders. Decimal
// fields accept JSON numbers or strings.
type PlaceOrderRequest struct {
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	Type          string          `json:"type"`
	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	StopPrice     decimal.Decimal `json:"stopPrice"`
	TimeInForce   string          `json:"timeInForce"`
	ClientOrderID string          `json:"clientOrderId"`
}

// CancelOrderRequest is the optional body for DELETE /api/v1/orders/{orderId}.
type CancelOrderRequest struct {
	Reason string `json:"reason"`
}

// BulkCancelRequest is the optional body for DELETE /api/v1/orders/cancel/all.
type BulkCancelRequest struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
}

// ==============================
// REST Response Types
// ==============================

// CancelOrderResponse confirms a single-order cancellation.
type CancelOrderResponse struct {
	OrderID    string    `json:"orderId"`
	Status     string    `json:"status"`
	CancelTime time.Time `json:"cancelTime"`
}

// MarketInfo is the public view of one traded instrument.
type MarketInfo struct {
	Symbol      string          `json:"symbol"`
	BaseAsset   string          `json:"baseAsset"`
	QuoteAsset  string          `json:"quoteAsset"`
	Status      string          `json:"status"`
	TickSize    decimal.Decimal `json:"tickSize"`
	LotSize     decimal.Decimal `json:"lotSize"`
	MinNotional decimal.Decimal `json:"minNotional"`
}

// Ticker is the book-derived top-of-book view for one symbol.
type Ticker struct {
	Symbol        string          `json:"symbol"`
	BidPrice      decimal.Decimal `json:"bidPrice"`
	BidQuantity   decimal.Decimal `json:"bidQuantity"`
	AskPrice      decimal.Decimal `json:"askPrice"`
	AskQuantity   decimal.Decimal `json:"askQuantity"`
	Spread        decimal.Decimal `json:"spread"`
	SpreadPercent decimal.Decimal `json:"spreadPercent"`
	LastUpdateID  uint64          `json:"lastUpdateId"`
	Timestamp     time.Time       `json:"timestamp"`
}

// HistoryResponse pages through a user's order history.
type HistoryResponse struct {
	Total int   `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Items []any `json:"items"`
}

// SymbolSubscriptions is the per-symbol slice of the hub introspection.
type SymbolSubscriptions struct {
	Symbol      string     `json:"symbol"`
	Subscribers int        `json:"subscribers"`
	LastUpdate  *time.Time `json:"lastUpdate,omitempty"`
}

// SubscriptionStats is the hub-wide introspection view.
type SubscriptionStats struct {
	TotalSubscribers int                   `json:"totalSubscribers"`
	Symbols          []SymbolSubscriptions `json:"symbols"`
	CachedBooks      []string              `json:"cachedBooks"`
}

// Health reports liveness plus the venue counters.
type Health struct {
	Status             string  `json:"status"`
	UptimeSeconds      float64 `json:"uptimeSeconds"`
	ProcessedOrders    uint64  `json:"processedOrders"`
	ExecutedTrades     uint64  `json:"executedTrades"`
	PublishedSnapshots uint64  `json:"publishedSnapshots"`
	ActiveBooks        int     `json:"activeBooks"`
	TotalSubscribers   int     `json:"totalSubscribers"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSRequest is sent by clients to manage symbol subscriptions.
type WSRequest struct {
	Op      string   `json:"op"` // "subscribe" or "unsubscribe"
	Symbols []string `json:"symbols"`
}

// WSMessage is the envelope for every pushed event.
type WSMessage struct {
	Type   string `json:"type"` // "snapshot", "depthUpdate", "orderUpdate", "trade"
	Symbol string `json:"symbol"`
	Data   any    `json:"data"`
}

// WSOrderUpdate is the lifecycle notification pushed to subscribers.
type WSOrderUpdate struct {
	OrderID          string          `json:"orderId"`
	Status           string          `json:"status"`
	ExecutedQuantity decimal.Decimal `json:"executedQuantity"`
	Reason           string          `json:"reason,omitempty"`
}
