package orders

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tigerex/marketflow/pkg/app/core/market"
	"github.com/tigerex/marketflow/pkg/app/core/order"
	"github.com/tigerex/marketflow/pkg/bus"
	"github.com/tigerex/marketflow/pkg/engine"
	"github.com/tigerex/marketflow/pkg/util"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// stubEngine scripts engine responses per call.
type stubEngine struct {
	processFn func(o *order.Order) (engine.Result, error)
	cancelFn  func(orderID, reason string) (engine.CancelResult, error)
}

func (s *stubEngine) ProcessOrder(o *order.Order) (engine.Result, error) {
	if s.processFn != nil {
		return s.processFn(o)
	}
	return engine.Result{Accepted: true, RestedQuantity: o.Quantity}, nil
}

func (s *stubEngine) CancelOrder(orderID, reason string) (engine.CancelResult, error) {
	if s.cancelFn != nil {
		return s.cancelFn(orderID, reason)
	}
	return engine.CancelResult{Success: true}, nil
}

func (s *stubEngine) Depth(symbol string, limit int) (engine.Depth, error) {
	return engine.Depth{Symbol: symbol}, nil
}

type fixture struct {
	svc    *Service
	eng    *stubEngine
	bus    *bus.Bus
	clock  *util.FixedClock
	events map[string]int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	reg := market.NewRegistry()
	btc, err := market.New("BTC-USDT", "BTC", "USDT")
	require.NoError(t, err)
	require.NoError(t, reg.Register(btc))
	eth, err := market.New("ETH-USDT", "ETH", "USDT")
	require.NoError(t, err)
	require.NoError(t, reg.Register(eth))

	log := zap.NewNop().Sugar()
	b := bus.New(log)
	eng := &stubEngine{}
	clock := &util.FixedClock{T: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}

	f := &fixture{
		svc:    NewService(eng, reg, b, clock, log),
		eng:    eng,
		bus:    b,
		clock:  clock,
		events: make(map[string]int),
	}
	for _, topic := range []string{engine.TopicOrderProcessed, engine.TopicOrderCanceled, engine.TopicTradeExecuted} {
		b.Subscribe(topic, func(topic string, _ any) { f.events[topic]++ })
	}
	return f
}

func limitParams(userID, qty, price string) order.Params {
	return order.Params{
		UserID:   userID,
		Symbol:   "BTC-USDT",
		Side:     "BUY",
		Type:     "LIMIT",
		Quantity: dec(qty),
		Price:    dec(price),
	}
}

func TestPlaceRestingOrder(t *testing.T) {
	f := newFixture(t)

	o, err := f.svc.Place(limitParams("alice", "1", "50000"))
	require.NoError(t, err)
	assert.NotEmpty(t, o.OrderID)
	assert.Equal(t, order.StatusNew, o.Status)
	assert.True(t, o.IsWorking)
	assert.Equal(t, "BTC", o.BaseAsset)
	assert.Equal(t, "USDT", o.QuoteAsset)
	assert.Equal(t, 1, f.events[engine.TopicOrderProcessed])
	assert.Equal(t, 0, f.events[engine.TopicTradeExecuted])

	got, err := f.svc.Get("alice", o.OrderID)
	require.NoError(t, err)
	assert.Equal(t, o.OrderID, got.OrderID)
}

func TestPlaceValidation(t *testing.T) {
	f := newFixture(t)

	t.Run("unknown symbol", func(t *testing.T) {
		p := limitParams("alice", "1", "50000")
		p.Symbol = "DOGE-USDT"
		_, err := f.svc.Place(p)
		assert.Equal(t, order.CodeNotFound, order.CodeOf(err))
	})

	t.Run("off tick price", func(t *testing.T) {
		_, err := f.svc.Place(limitParams("alice", "1", "50000.001"))
		assert.Equal(t, order.CodeValidation, order.CodeOf(err))
	})

	t.Run("duplicate clientOrderId per user", func(t *testing.T) {
		p := limitParams("alice", "1", "50000")
		p.ClientOrderID = "my-1"
		_, err := f.svc.Place(p)
		require.NoError(t, err)

		_, err = f.svc.Place(p)
		assert.Equal(t, order.CodeValidation, order.CodeOf(err))

		// Another user may reuse the same clientOrderId.
		p.UserID = "bob"
		_, err = f.svc.Place(p)
		assert.NoError(t, err)
	})

	t.Run("nothing reaches the engine or bus", func(t *testing.T) {
		before := f.events[engine.TopicOrderProcessed]
		_, err := f.svc.Place(limitParams("alice", "0", "50000"))
		require.Error(t, err)
		assert.Equal(t, before, f.events[engine.TopicOrderProcessed])
	})
}

func TestPlaceWithFills(t *testing.T) {
	f := newFixture(t)

	// Rest a maker first so the taker's trades can mirror onto it.
	maker, err := f.svc.Place(order.Params{
		UserID: "carol", Symbol: "BTC-USDT", Side: "SELL", Type: "LIMIT",
		Quantity: dec("1"), Price: dec("50000"),
	})
	require.NoError(t, err)

	f.eng.processFn = func(o *order.Order) (engine.Result, error) {
		now := f.clock.Now()
		return engine.Result{
			Accepted: true,
			Fills: []order.Fill{{
				TradeID: "t-1", Price: dec("50000"), Quantity: dec("0.4"),
				CounterOrderID: maker.OrderID, Timestamp: now,
			}},
			Trades: []engine.Trade{{
				TradeID: "t-1", Symbol: "BTC-USDT",
				Price: dec("50000"), Quantity: dec("0.4"), QuoteQuantity: dec("20000"),
				BuyOrderID: o.OrderID, BuyUserID: o.UserID,
				SellOrderID: maker.OrderID, SellUserID: "carol",
				IsBuyerMaker: false, Timestamp: now,
			}},
			RestedQuantity: dec("0.6"),
		}, nil
	}

	taker, err := f.svc.Place(limitParams("alice", "1", "50000"))
	require.NoError(t, err)

	assert.Equal(t, order.StatusPartiallyFilled, taker.Status)
	assert.Equal(t, "0.4", taker.ExecutedQuantity.String())
	assert.Equal(t, "20000", taker.CumulativeQuoteQuantity.String())
	require.Len(t, taker.Fills, 1)

	// The maker side reflects the trade too.
	makerNow, err := f.svc.Get("carol", maker.OrderID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPartiallyFilled, makerNow.Status)
	assert.Equal(t, "0.4", makerNow.ExecutedQuantity.String())
	require.Len(t, makerNow.Fills, 1)
	assert.Equal(t, taker.OrderID, makerNow.Fills[0].CounterOrderID)

	assert.Equal(t, 1, f.events[engine.TopicTradeExecuted])
}

func TestPlaceEngineRejection(t *testing.T) {
	f := newFixture(t)

	f.eng.processFn = func(*order.Order) (engine.Result, error) {
		return engine.Result{Accepted: false, RejectionReason: "SELF_TRADE"}, nil
	}

	o, err := f.svc.Place(limitParams("alice", "1", "50000"))
	require.Error(t, err)
	assert.Equal(t, order.CodeEngineRejected, order.CodeOf(err))
	require.NotNil(t, o, "rejected order is returned for identity echo")
	assert.Equal(t, order.StatusRejected, o.Status)
	assert.Equal(t, "SELF_TRADE", o.RejectReason)
	assert.False(t, o.IsWorking)

	// The rejection is stored and published.
	stored, err := f.svc.Get("alice", o.OrderID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusRejected, stored.Status)
	assert.Equal(t, 1, f.events[engine.TopicOrderProcessed])

	// The echoed order is a copy; tampering with it leaves the store intact.
	o.RejectReason = "tampered"
	o.Status = order.StatusNew
	stored, err = f.svc.Get("alice", o.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "SELF_TRADE", stored.RejectReason)
	assert.Equal(t, order.StatusRejected, stored.Status)
}

func TestPlaceEngineUnavailable(t *testing.T) {
	f := newFixture(t)

	f.eng.processFn = func(*order.Order) (engine.Result, error) {
		return engine.Result{}, errors.New("engine offline")
	}

	o, err := f.svc.Place(limitParams("alice", "1", "50000"))
	assert.Nil(t, o)
	assert.Equal(t, order.CodeEngineUnavailable, order.CodeOf(err))
	assert.Equal(t, 0, f.events[engine.TopicOrderProcessed], "failed submission is not stored or published")
	assert.Empty(t, f.svc.Active("alice", "", 0))
}

func TestPlaceMarketRemainderAutoCancels(t *testing.T) {
	f := newFixture(t)

	f.eng.processFn = func(o *order.Order) (engine.Result, error) {
		return engine.Result{
			Accepted: true,
			Fills: []order.Fill{{
				TradeID: "t-1", Price: dec("50000"), Quantity: dec("0.4"), Timestamp: f.clock.Now(),
			}},
			CanceledRemainder: true,
			CancelReason:      "INSUFFICIENT_LIQUIDITY",
		}, nil
	}

	o, err := f.svc.Place(order.Params{
		UserID: "alice", Symbol: "BTC-USDT", Side: "BUY", Type: "MARKET", Quantity: dec("1"),
	})
	require.NoError(t, err)
	assert.Equal(t, order.StatusCanceled, o.Status)
	assert.Equal(t, "INSUFFICIENT_LIQUIDITY", o.CancelReason)
	assert.Equal(t, "0.4", o.ExecutedQuantity.String())
	assert.False(t, o.IsWorking)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)

	o, err := f.svc.Place(limitParams("alice", "1", "50000"))
	require.NoError(t, err)

	canceled, err := f.svc.Cancel("alice", o.OrderID, "")
	require.NoError(t, err)
	assert.Equal(t, order.StatusCanceled, canceled.Status)
	assert.Equal(t, "USER_CANCELED", canceled.CancelReason)
	assert.Equal(t, f.clock.T, canceled.CancelTime)
	assert.Equal(t, 1, f.events[engine.TopicOrderCanceled])

	t.Run("second cancel is invalid state", func(t *testing.T) {
		_, err := f.svc.Cancel("alice", o.OrderID, "")
		assert.Equal(t, order.CodeInvalidState, order.CodeOf(err))
	})

	t.Run("unknown order", func(t *testing.T) {
		_, err := f.svc.Cancel("alice", "missing", "")
		assert.Equal(t, order.CodeNotFound, order.CodeOf(err))
	})

	t.Run("other user's order looks not found", func(t *testing.T) {
		o2, err := f.svc.Place(limitParams("alice", "1", "50000"))
		require.NoError(t, err)
		_, err = f.svc.Cancel("bob", o2.OrderID, "")
		assert.Equal(t, order.CodeNotFound, order.CodeOf(err))
	})
}

func TestCancelRacingFill(t *testing.T) {
	f := newFixture(t)

	o, err := f.svc.Place(limitParams("alice", "1", "50000"))
	require.NoError(t, err)

	// The engine reports the order already gone: the fill won the race.
	f.eng.cancelFn = func(string, string) (engine.CancelResult, error) {
		return engine.CancelResult{Success: false, Reason: "order not resting in book"}, nil
	}

	_, err = f.svc.Cancel("alice", o.OrderID, "")
	assert.Equal(t, order.CodeInvalidState, order.CodeOf(err))
	assert.Equal(t, 0, f.events[engine.TopicOrderCanceled])
}

func TestCancelEngineUnavailable(t *testing.T) {
	f := newFixture(t)

	o, err := f.svc.Place(limitParams("alice", "1", "50000"))
	require.NoError(t, err)

	f.eng.cancelFn = func(string, string) (engine.CancelResult, error) {
		return engine.CancelResult{}, errors.New("engine offline")
	}

	_, err = f.svc.Cancel("alice", o.OrderID, "")
	assert.Equal(t, order.CodeEngineUnavailable, order.CodeOf(err))

	// The order is still working once the engine recovers.
	got, err := f.svc.Get("alice", o.OrderID)
	require.NoError(t, err)
	assert.True(t, got.IsWorking)
}

func TestActive(t *testing.T) {
	f := newFixture(t)

	first, err := f.svc.Place(limitParams("alice", "1", "50000"))
	require.NoError(t, err)
	second, err := f.svc.Place(order.Params{
		UserID: "alice", Symbol: "ETH-USDT", Side: "SELL", Type: "LIMIT",
		Quantity: dec("2"), Price: dec("3000"),
	})
	require.NoError(t, err)
	_, err = f.svc.Place(limitParams("bob", "1", "50000"))
	require.NoError(t, err)

	all := f.svc.Active("alice", "", 0)
	require.Len(t, all, 2)
	assert.Equal(t, first.OrderID, all[0].OrderID, "placement order")
	assert.Equal(t, second.OrderID, all[1].OrderID)

	bySymbol := f.svc.Active("alice", "ETH-USDT", 0)
	require.Len(t, bySymbol, 1)
	assert.Equal(t, second.OrderID, bySymbol[0].OrderID)

	limited := f.svc.Active("alice", "", 1)
	assert.Len(t, limited, 1)

	// Canceled orders disappear from the active set.
	_, err = f.svc.Cancel("alice", first.OrderID, "")
	require.NoError(t, err)
	assert.Len(t, f.svc.Active("alice", "", 0), 1)
}

func TestReturnedOrdersAreCopies(t *testing.T) {
	f := newFixture(t)

	o, err := f.svc.Place(limitParams("alice", "1", "50000"))
	require.NoError(t, err)

	o.Status = order.StatusFilled
	o.Quantity = dec("99")

	got, err := f.svc.Get("alice", o.OrderID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusNew, got.Status)
	assert.Equal(t, "1", got.Quantity.String())
}
