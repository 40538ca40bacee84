// Package orders drives the order lifecycle: placement, cancellation,
// bulk cancellation and history queries. The service is the only writer
// of order entities; everything downstream sees copies.
package orders

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tigerex/marketflow/pkg/app/core/market"
	"github.com/tigerex/marketflow/pkg/app/core/order"
	"github.com/tigerex/marketflow/pkg/bus"
	"github.com/tigerex/marketflow/pkg/engine"
	"github.com/tigerex/marketflow/pkg/util"
)

type Service struct {
	engine  engine.Engine
	markets *market.Registry
	bus     *bus.Bus
	clock   util.Clock
	log     *zap.SugaredLogger

	mu       sync.Mutex
	byID     map[string]*order.Order
	byClient map[string]string   // userID+"\x00"+clientOrderID -> orderID
	byUser   map[string][]string // orderIDs in placement order
}

func NewService(eng engine.Engine, markets *market.Registry, b *bus.Bus, clock util.Clock, log *zap.SugaredLogger) *Service {
	return &Service{
		engine:   eng,
		markets:  markets,
		bus:      b,
		clock:    clock,
		log:      log,
		byID:     make(map[string]*order.Order),
		byClient: make(map[string]string),
		byUser:   make(map[string][]string),
	}
}

func clientKey(userID, clientOrderID string) string {
	return userID + "\x00" + clientOrderID
}

// Place validates, normalizes and submits a new order. On engine
// rejection the stored order is REJECTED and the returned error carries
// the engine's reason; the rejected order is returned alongside so
// callers can echo its identity.
func (s *Service) Place(p order.Params) (*order.Order, error) {
	mkt, err := s.markets.Get(p.Symbol)
	if err != nil {
		return nil, order.NotFoundf("unknown symbol %q", p.Symbol)
	}

	o, err := order.New(p, s.clock.Now())
	if err != nil {
		return nil, err
	}
	o.BaseAsset = mkt.BaseAsset
	o.QuoteAsset = mkt.QuoteAsset

	if err := mkt.ValidateOrder(o.Price, o.Quantity); err != nil {
		return nil, order.Validationf("%s", err.Error())
	}

	s.mu.Lock()
	if o.ClientOrderID != "" {
		if _, dup := s.byClient[clientKey(o.UserID, o.ClientOrderID)]; dup {
			s.mu.Unlock()
			return nil, order.Validationf("duplicate clientOrderId %q", o.ClientOrderID)
		}
	}
	o.OrderID = uuid.NewString()

	res, err := s.engine.ProcessOrder(o)
	if err != nil {
		s.mu.Unlock()
		s.log.Errorw("engine_submit_failed", "symbol", o.Symbol, "orderId", o.OrderID, "err", err)
		return nil, order.EngineUnavailable("order submission failed", err)
	}

	if !res.Accepted {
		o.Reject(res.RejectionReason)
		s.store(o)
		s.mu.Unlock()
		s.publishProcessed(o, res)
		return clone(o), order.EngineRejected(res.RejectionReason)
	}

	for _, f := range res.Fills {
		if err := o.ApplyFill(f); err != nil {
			s.log.Errorw("taker_fill_apply_failed", "orderId", o.OrderID, "err", err)
		}
	}
	s.applyMakerFills(o, res.Trades)

	if res.CanceledRemainder {
		if err := o.Cancel(res.CancelReason, s.clock.Now()); err != nil {
			s.log.Errorw("remainder_cancel_failed", "orderId", o.OrderID, "err", err)
		}
	}

	s.store(o)
	s.mu.Unlock()

	s.publishProcessed(o, res)
	for _, t := range res.Trades {
		s.bus.Publish(engine.TopicTradeExecuted, engine.TradeExecuted{Trade: t})
	}

	return clone(o), nil
}

// applyMakerFills mirrors every trade onto the resting counterparty.
// Caller holds s.mu.
func (s *Service) applyMakerFills(taker *order.Order, trades []engine.Trade) {
	for _, t := range trades {
		makerID := t.BuyOrderID
		if taker.Side == order.Buy {
			makerID = t.SellOrderID
		}
		maker, ok := s.byID[makerID]
		if !ok {
			s.log.Warnw("maker_order_missing", "orderId", makerID, "tradeId", t.TradeID)
			continue
		}
		fill := order.Fill{
			TradeID:        t.TradeID,
			Price:          t.Price,
			Quantity:       t.Quantity,
			CounterOrderID: taker.OrderID,
			Timestamp:      t.Timestamp,
		}
		if err := maker.ApplyFill(fill); err != nil {
			s.log.Errorw("maker_fill_apply_failed", "orderId", makerID, "err", err)
		}
	}
}

// Cancel cancels one working order. A cancel racing a fill fails with
// InvalidState once the fill lands first; this path never treats a
// terminal order as success.
func (s *Service) Cancel(userID, orderID, reason string) (*order.Order, error) {
	if reason == "" {
		reason = "USER_CANCELED"
	}

	s.mu.Lock()
	o, ok := s.byID[orderID]
	if !ok || o.UserID != userID {
		s.mu.Unlock()
		return nil, order.NotFoundf("order %s not found", orderID)
	}
	if !o.IsWorking || o.Status.IsTerminal() {
		s.mu.Unlock()
		return nil, order.InvalidStatef("order %s is %s and cannot be canceled", orderID, o.Status)
	}

	res, err := s.engine.CancelOrder(orderID, reason)
	if err != nil {
		s.mu.Unlock()
		s.log.Errorw("engine_cancel_failed", "orderId", orderID, "err", err)
		return nil, order.EngineUnavailable("cancel failed", err)
	}
	if !res.Success {
		s.mu.Unlock()
		return nil, order.InvalidStatef("order %s cannot be canceled: %s", orderID, res.Reason)
	}

	if err := o.Cancel(reason, s.clock.Now()); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	out := clone(o)
	s.mu.Unlock()

	s.bus.Publish(engine.TopicOrderCanceled, engine.OrderCanceled{Order: out, Reason: reason})
	return out, nil
}

func (s *Service) store(o *order.Order) {
	s.byID[o.OrderID] = o
	s.byUser[o.UserID] = append(s.byUser[o.UserID], o.OrderID)
	if o.ClientOrderID != "" {
		s.byClient[clientKey(o.UserID, o.ClientOrderID)] = o.OrderID
	}
}

func (s *Service) publishProcessed(o *order.Order, res engine.Result) {
	s.bus.Publish(engine.TopicOrderProcessed, engine.OrderProcessed{Order: clone(o), Result: res})
}

// clone copies an order so readers never alias service-owned state.
func clone(o *order.Order) *order.Order {
	cp := *o
	cp.Fills = make([]order.Fill, len(o.Fills))
	copy(cp.Fills, o.Fills)
	return &cp
}

// Get returns one order owned by the caller.
func (s *Service) Get(userID, orderID string) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.byID[orderID]
	if !ok || o.UserID != userID {
		return nil, order.NotFoundf("order %s not found", orderID)
	}
	return clone(o), nil
}

// Active lists the caller's working orders in placement order.
func (s *Service) Active(userID, symbol string, limit int) []*order.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*order.Order
	for _, id := range s.byUser[userID] {
		o := s.byID[id]
		if !o.IsWorking {
			continue
		}
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		out = append(out, clone(o))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// sortByTimeDesc orders most recent first, order id as tie-break.
func sortByTimeDesc(os []*order.Order) {
	sort.Slice(os, func(i, j int) bool {
		if !os[i].OrderTime.Equal(os[j].OrderTime) {
			return os[i].OrderTime.After(os[j].OrderTime)
		}
		return os[i].OrderID > os[j].OrderID
	})
}
