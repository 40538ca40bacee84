package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"github.com/tigerex/marketflow/pkg/app/core/order"
	"github.com/tigerex/marketflow/pkg/util"
)

// Rejection reasons surfaced to the order service.
const (
	ReasonSelfTrade             = "SELF_TRADE"
	ReasonNoLiquidity           = "NO_LIQUIDITY"
	ReasonInsufficientLiquidity = "INSUFFICIENT_LIQUIDITY"
	ReasonFOKNotFillable        = "FOK_NOT_FILLABLE"
	ReasonIOCExpired            = "IOC_EXPIRED"
)

type restingOrder struct {
	orderID  string
	userID   string
	quantity decimal.Decimal
}

// level is one price with its FIFO order queue.
type level struct {
	price  decimal.Decimal
	orders []*restingOrder
}

type book struct {
	bids *btree.BTreeG[*level] // best (highest) first
	asks *btree.BTreeG[*level] // best (lowest) first
}

func newBook() *book {
	return &book{
		bids: btree.NewBTreeG(func(a, b *level) bool { return a.price.GreaterThan(b.price) }),
		asks: btree.NewBTreeG(func(a, b *level) bool { return a.price.LessThan(b.price) }),
	}
}

func (bk *book) side(s order.Side) *btree.BTreeG[*level] {
	if s == order.Buy {
		return bk.bids
	}
	return bk.asks
}

type restingRef struct {
	symbol string
	side   order.Side
	price  decimal.Decimal
}

// MemoryEngine is the in-process reference matching engine: price-time
// priority, maker-price executions. Stop orders are parked until an
// external trigger feed arms them; they never contribute depth.
type MemoryEngine struct {
	mu    sync.Mutex
	books map[string]*book
	index map[string]restingRef // resting orderID -> location
	stops map[string]string     // parked stop orderID -> symbol
	clock util.Clock

	processedOrders uint64
	executedTrades  uint64
}

func NewMemoryEngine(clock util.Clock) *MemoryEngine {
	return &MemoryEngine{
		books: make(map[string]*book),
		index: make(map[string]restingRef),
		stops: make(map[string]string),
		clock: clock,
	}
}

// planned is one execution the match plan commits to.
type planned struct {
	lvl   *level
	maker *restingOrder
	qty   decimal.Decimal
}

// matchPlan walks the opposite side best-first and reserves quantity
// while prices cross. The plan is computed before any mutation so a
// self-trade rejects the whole order without partial effects.
func (e *MemoryEngine) matchPlan(bk *book, o *order.Order) (plan []planned, selfTrade bool) {
	opposite := bk.side(o.Side.Opposite())
	remaining := o.Quantity

	opposite.Scan(func(lvl *level) bool {
		if o.Type != order.Market {
			crosses := (o.Side == order.Buy && lvl.price.LessThanOrEqual(o.Price)) ||
				(o.Side == order.Sell && lvl.price.GreaterThanOrEqual(o.Price))
			if !crosses {
				return false
			}
		}
		for _, maker := range lvl.orders {
			if maker.userID == o.UserID {
				selfTrade = true
				return false
			}
			qty := decimal.Min(remaining, maker.quantity)
			plan = append(plan, planned{lvl: lvl, maker: maker, qty: qty})
			remaining = remaining.Sub(qty)
			if !remaining.IsPositive() {
				return false
			}
		}
		return true
	})
	return plan, selfTrade
}

func (e *MemoryEngine) ProcessOrder(o *order.Order) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.processedOrders++

	if o.Type.RequiresStopPrice() {
		// Parked until triggered; cancelable, invisible to depth.
		e.stops[o.OrderID] = o.Symbol
		return Result{Accepted: true}, nil
	}

	bk := e.books[o.Symbol]
	if bk == nil {
		bk = newBook()
		e.books[o.Symbol] = bk
	}

	plan, selfTrade := e.matchPlan(bk, o)
	if selfTrade {
		return Result{Accepted: false, RejectionReason: ReasonSelfTrade}, nil
	}

	var plannedQty decimal.Decimal
	for _, p := range plan {
		plannedQty = plannedQty.Add(p.qty)
	}

	if o.Type == order.Market && plannedQty.IsZero() {
		return Result{Accepted: false, RejectionReason: ReasonNoLiquidity}, nil
	}
	if o.Type == order.Limit && o.TimeInForce == order.FOK && plannedQty.LessThan(o.Quantity) {
		return Result{Accepted: false, RejectionReason: ReasonFOKNotFillable}, nil
	}

	res := Result{Accepted: true}
	now := e.clock.Now()
	for _, p := range plan {
		e.executedTrades++
		tradeID := uuid.NewString()

		res.Fills = append(res.Fills, order.Fill{
			TradeID:        tradeID,
			Price:          p.lvl.price,
			Quantity:       p.qty,
			CounterOrderID: p.maker.orderID,
			Timestamp:      now,
		})
		res.Trades = append(res.Trades, e.tradeFor(o, p, tradeID, now))

		p.maker.quantity = p.maker.quantity.Sub(p.qty)
		if !p.maker.quantity.IsPositive() {
			e.removeResting(bk, o.Side.Opposite(), p.lvl.price, p.maker.orderID)
		}
	}

	remainder := o.Quantity.Sub(plannedQty)
	if remainder.IsPositive() {
		switch {
		case o.Type == order.Market:
			res.CanceledRemainder = true
			res.CancelReason = ReasonInsufficientLiquidity
		case o.TimeInForce == order.IOC:
			res.CanceledRemainder = true
			res.CancelReason = ReasonIOCExpired
		default:
			e.rest(bk, o, remainder)
			res.RestedQuantity = remainder
		}
	}

	return res, nil
}

// tradeFor builds the trade record for one planned execution. The maker
// quoted the price, so the buyer is maker exactly when the taker sells.
func (e *MemoryEngine) tradeFor(taker *order.Order, p planned, tradeID string, now time.Time) Trade {
	t := Trade{
		TradeID:       tradeID,
		Symbol:        taker.Symbol,
		Price:         p.lvl.price,
		Quantity:      p.qty,
		QuoteQuantity: p.qty.Mul(p.lvl.price),
		IsBuyerMaker:  taker.Side == order.Sell,
		Timestamp:     now,
	}
	if taker.Side == order.Buy {
		t.BuyOrderID, t.BuyUserID = taker.OrderID, taker.UserID
		t.SellOrderID, t.SellUserID = p.maker.orderID, p.maker.userID
	} else {
		t.BuyOrderID, t.BuyUserID = p.maker.orderID, p.maker.userID
		t.SellOrderID, t.SellUserID = taker.OrderID, taker.UserID
	}
	return t
}

func (e *MemoryEngine) rest(bk *book, o *order.Order, qty decimal.Decimal) {
	tree := bk.side(o.Side)
	lvl, ok := tree.Get(&level{price: o.Price})
	if !ok {
		lvl = &level{price: o.Price}
		tree.Set(lvl)
	}
	lvl.orders = append(lvl.orders, &restingOrder{
		orderID:  o.OrderID,
		userID:   o.UserID,
		quantity: qty,
	})
	e.index[o.OrderID] = restingRef{symbol: o.Symbol, side: o.Side, price: o.Price}
}

func (e *MemoryEngine) removeResting(bk *book, side order.Side, price decimal.Decimal, orderID string) {
	tree := bk.side(side)
	lvl, ok := tree.Get(&level{price: price})
	if !ok {
		return
	}
	for i, ro := range lvl.orders {
		if ro.orderID == orderID {
			lvl.orders = append(lvl.orders[:i], lvl.orders[i+1:]...)
			break
		}
	}
	if len(lvl.orders) == 0 {
		tree.Delete(lvl)
	}
	delete(e.index, orderID)
}

func (e *MemoryEngine) CancelOrder(orderID, reason string) (CancelResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.stops[orderID]; ok {
		delete(e.stops, orderID)
		return CancelResult{Success: true}, nil
	}

	ref, ok := e.index[orderID]
	if !ok {
		return CancelResult{Success: false, Reason: "order not resting in book"}, nil
	}

	e.removeResting(e.books[ref.symbol], ref.side, ref.price, orderID)
	return CancelResult{Success: true}, nil
}

// Depth returns up to limit price levels per side, one row per resting
// order, best prices first.
func (e *MemoryEngine) Depth(symbol string, limit int) (Depth, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if limit <= 0 {
		return Depth{}, fmt.Errorf("depth limit must be positive, got %d", limit)
	}

	d := Depth{Symbol: symbol}
	bk := e.books[symbol]
	if bk == nil {
		return d, nil
	}

	d.Bids = collectRows(bk.bids, limit)
	d.Asks = collectRows(bk.asks, limit)
	return d, nil
}

func collectRows(tree *btree.BTreeG[*level], limit int) []DepthRow {
	var rows []DepthRow
	levels := 0
	tree.Scan(func(lvl *level) bool {
		if levels >= limit {
			return false
		}
		for _, ro := range lvl.orders {
			rows = append(rows, DepthRow{Price: lvl.price, Quantity: ro.quantity})
		}
		levels++
		return true
	})
	return rows
}

// ProcessedOrders reports submissions seen since start.
func (e *MemoryEngine) ProcessedOrders() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.processedOrders
}

// ExecutedTrades reports matches executed since start.
func (e *MemoryEngine) ExecutedTrades() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.executedTrades
}
