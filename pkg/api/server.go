// Package api exposes the REST and WebSocket surface of the trading
// subsystem. Validation and not-found failures are resolved here and
// never reach the aggregator or the hub.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/tigerex/marketflow/params"
	"github.com/tigerex/marketflow/pkg/app/core/market"
	"github.com/tigerex/marketflow/pkg/app/core/order"
	"github.com/tigerex/marketflow/pkg/book"
	"github.com/tigerex/marketflow/pkg/orders"
)

const defaultBookDepth = 20

// EngineStats is the counter surface the health endpoint reads.
type EngineStats interface {
	ProcessedOrders() uint64
	ExecutedTrades() uint64
}

type Server struct {
	orders  *orders.Service
	books   *book.Aggregator
	hub     *book.Hub
	markets *market.Registry
	stats   EngineStats
	cfg     params.Config
	log     *zap.SugaredLogger

	router *mux.Router
	srv    *http.Server
	start  time.Time
}

func NewServer(
	ordersSvc *orders.Service,
	books *book.Aggregator,
	hub *book.Hub,
	markets *market.Registry,
	stats EngineStats,
	cfg params.Config,
	log *zap.SugaredLogger,
) *Server {
	s := &Server{
		orders:  ordersSvc,
		books:   books,
		hub:     hub,
		markets: markets,
		stats:   stats,
		cfg:     cfg,
		log:     log,
		router:  mux.NewRouter(),
		start:   time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Order endpoints. Literal paths are registered before the
	// {orderId} wildcard so mux matches them first.
	api.HandleFunc("/orders", s.handlePlaceOrder).Methods("POST")
	api.HandleFunc("/orders/active", s.handleActiveOrders).Methods("GET")
	api.HandleFunc("/orders/history/all", s.handleOrderHistory).Methods("GET")
	api.HandleFunc("/orders/cancel/all", s.handleBulkCancel).Methods("DELETE")
	api.HandleFunc("/orders/{orderId}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders/{orderId}", s.handleCancelOrder).Methods("DELETE")
	api.HandleFunc("/orders/{orderId}/fills", s.handleOrderFills).Methods("GET")

	// Market data endpoints
	api.HandleFunc("/markets", s.handleGetMarkets).Methods("GET")
	api.HandleFunc("/markets/{symbol}", s.handleGetMarket).Methods("GET")
	api.HandleFunc("/markets/{symbol}/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/markets/{symbol}/ticker", s.handleGetTicker).Methods("GET")

	// Introspection
	api.HandleFunc("/stats/subscriptions", s.handleSubscriptionStats).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Router exposes the handler tree for tests.
func (s *Server) Router() http.Handler { return s.router }

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start(addr string) error {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.HTTP.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-User-Id"},
		AllowCredentials: true,
	})

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      c.Handler(s.router),
		ReadTimeout:  s.cfg.HTTP.ReadTimeout,
		WriteTimeout: s.cfg.HTTP.WriteTimeout,
	}

	s.log.Infow("api_server_starting", "addr", addr)
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// userID resolves the caller identity. Authentication itself is handled
// upstream by the gateway; the principal arrives as a header.
func userID(r *http.Request) string {
	return r.Header.Get("X-User-Id")
}

// ==============================
// Order Handlers
// ==============================

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		respondError(w, http.StatusBadRequest, "missing X-User-Id header", "")
		return
	}

	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	o, err := s.orders.Place(order.Params{
		ClientOrderID: req.ClientOrderID,
		UserID:        user,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		TimeInForce:   req.TimeInForce,
		Quantity:      req.Quantity,
		Price:         req.Price,
		StopPrice:     req.StopPrice,
	})
	if err != nil {
		s.respondOrderError(w, err)
		return
	}

	respondStatusJSON(w, http.StatusCreated, o)
}

func (s *Server) handleActiveOrders(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		respondError(w, http.StatusBadRequest, "missing X-User-Id header", "")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	active := s.orders.Active(user, r.URL.Query().Get("symbol"), limit)
	respondJSON(w, active)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		respondError(w, http.StatusBadRequest, "missing X-User-Id header", "")
		return
	}

	o, err := s.orders.Get(user, mux.Vars(r)["orderId"])
	if err != nil {
		s.respondOrderError(w, err)
		return
	}
	respondJSON(w, o)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		respondError(w, http.StatusBadRequest, "missing X-User-Id header", "")
		return
	}

	var req CancelOrderRequest
	_ = json.NewDecoder(r.Body).Decode(&req) // body is optional

	o, err := s.orders.Cancel(user, mux.Vars(r)["orderId"], req.Reason)
	if err != nil {
		s.respondOrderError(w, err)
		return
	}

	respondJSON(w, CancelOrderResponse{
		OrderID:    o.OrderID,
		Status:     string(o.Status),
		CancelTime: o.CancelTime,
	})
}

func (s *Server) handleOrderHistory(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		respondError(w, http.StatusBadRequest, "missing X-User-Id header", "")
		return
	}

	q := r.URL.Query()
	f := orders.HistoryFilter{
		Symbol: q.Get("symbol"),
		Status: order.Status(q.Get("status")),
		Side:   order.Side(q.Get("side")),
	}
	if v := q.Get("startTime"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			f.StartTime = time.UnixMilli(ms)
		}
	}
	if v := q.Get("endTime"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			f.EndTime = time.UnixMilli(ms)
		}
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Limit = n
		}
	}
	if v := q.Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Page = n
		}
	}

	items, total := s.orders.History(user, f)

	limit, page := f.Applied()
	resp := HistoryResponse{Total: total, Page: page, Limit: limit, Items: make([]any, len(items))}
	for i, o := range items {
		resp.Items[i] = o
	}
	respondJSON(w, resp)
}

func (s *Server) handleBulkCancel(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		respondError(w, http.StatusBadRequest, "missing X-User-Id header", "")
		return
	}

	var req BulkCancelRequest
	_ = json.NewDecoder(r.Body).Decode(&req) // body is optional
	if req.Symbol == "" {
		req.Symbol = r.URL.Query().Get("symbol")
	}

	// Always 200 with itemized results, even when members fail.
	respondJSON(w, s.orders.BulkCancel(user, req.Symbol, req.Reason))
}

func (s *Server) handleOrderFills(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		respondError(w, http.StatusBadRequest, "missing X-User-Id header", "")
		return
	}

	report, err := s.orders.Fills(user, mux.Vars(r)["orderId"])
	if err != nil {
		s.respondOrderError(w, err)
		return
	}
	respondJSON(w, report)
}

// ==============================
// Market Data Handlers
// ==============================

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	markets := s.markets.List()
	resp := make([]MarketInfo, len(markets))
	for i, m := range markets {
		resp[i] = marketInfo(m)
	}
	respondJSON(w, resp)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := s.markets.Get(mux.Vars(r)["symbol"])
	if err != nil {
		respondError(w, http.StatusNotFound, "market not found", err.Error())
		return
	}
	respondJSON(w, marketInfo(m))
}

func marketInfo(m *market.Market) MarketInfo {
	return MarketInfo{
		Symbol:      m.Symbol,
		BaseAsset:   m.BaseAsset,
		QuoteAsset:  m.QuoteAsset,
		Status:      string(m.Status),
		TickSize:    m.TickSize,
		LotSize:     m.LotSize,
		MinNotional: m.MinNotional,
	}
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	if !s.markets.Exists(symbol) {
		respondError(w, http.StatusNotFound, "market not found", "")
		return
	}

	depth := defaultBookDepth
	if v := r.URL.Query().Get("depth"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			depth = n
		}
	}

	// Served from the cached snapshot; never triggers re-aggregation.
	respondJSON(w, s.books.OrderBook(symbol, depth))
}

func (s *Server) handleGetTicker(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	if !s.markets.Exists(symbol) {
		respondError(w, http.StatusNotFound, "market not found", "")
		return
	}

	snap := s.books.OrderBook(symbol, 1)
	t := Ticker{
		Symbol:        symbol,
		Spread:        snap.Spread.Absolute,
		SpreadPercent: snap.Spread.Percent,
		LastUpdateID:  snap.LastUpdateID,
		Timestamp:     snap.Timestamp,
	}
	if best, ok := snap.BestBid(); ok {
		t.BidPrice, t.BidQuantity = best.Price, best.Quantity
	}
	if best, ok := snap.BestAsk(); ok {
		t.AskPrice, t.AskQuantity = best.Price, best.Quantity
	}
	respondJSON(w, t)
}

// ==============================
// Introspection Handlers
// ==============================

func (s *Server) handleSubscriptionStats(w http.ResponseWriter, r *http.Request) {
	stats := SubscriptionStats{
		TotalSubscribers: s.hub.TotalSubscribers(),
		CachedBooks:      s.hub.CachedSymbols(),
		Symbols:          []SymbolSubscriptions{},
	}
	for _, m := range s.markets.List() {
		sub := SymbolSubscriptions{
			Symbol:      m.Symbol,
			Subscribers: s.hub.SubscriberCount(m.Symbol),
		}
		if t, ok := s.hub.LastUpdate(m.Symbol); ok {
			sub.LastUpdate = &t
		}
		stats.Symbols = append(stats.Symbols, sub)
	}
	respondJSON(w, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := Health{
		Status:             "ok",
		UptimeSeconds:      time.Since(s.start).Seconds(),
		PublishedSnapshots: s.books.PublishedSnapshots(),
		ActiveBooks:        len(s.books.Symbols()),
		TotalSubscribers:   s.hub.TotalSubscribers(),
	}
	if s.stats != nil {
		h.ProcessedOrders = s.stats.ProcessedOrders()
		h.ExecutedTrades = s.stats.ExecutedTrades()
	}
	respondJSON(w, h)
}

// ==============================
// Helper Functions
// ==============================

// respondOrderError maps the lifecycle error taxonomy onto HTTP codes.
func (s *Server) respondOrderError(w http.ResponseWriter, err error) {
	reason := order.ReasonOf(err)
	switch order.CodeOf(err) {
	case order.CodeValidation:
		respondError(w, http.StatusBadRequest, "validation error", reason)
	case order.CodeNotFound:
		respondError(w, http.StatusNotFound, "not found", reason)
	case order.CodeInvalidState:
		respondError(w, http.StatusBadRequest, "invalid state", reason)
	case order.CodeEngineRejected:
		respondError(w, http.StatusBadRequest, "order rejected", reason)
	case order.CodeEngineUnavailable:
		respondError(w, http.StatusServiceUnavailable, "engine unavailable", reason)
	default:
		s.log.Errorw("unclassified_error", "err", err)
		respondError(w, http.StatusInternalServerError, "internal error", "")
	}
}

func respondJSON(w http.ResponseWriter, data any) {
	respondStatusJSON(w, http.StatusOK, data)
}

func respondStatusJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, errStr, message string) {
	respondStatusJSON(w, status, ErrorResponse{Error: errStr, Message: message})
}
