package book

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tigerex/marketflow/pkg/app/core/order"
	"github.com/tigerex/marketflow/pkg/engine"
	"github.com/tigerex/marketflow/pkg/util"
)

// stubSource scripts the raw depth returned per query.
type stubSource struct {
	depth engine.Depth
	err   error
	calls int
}

func (s *stubSource) Depth(symbol string, limit int) (engine.Depth, error) {
	s.calls++
	if s.err != nil {
		return engine.Depth{}, s.err
	}
	d := s.depth
	d.Symbol = symbol
	return d, nil
}

func row(price, qty string) engine.DepthRow {
	return engine.DepthRow{Price: dec(price), Quantity: dec(qty)}
}

func newTestAggregator(src engine.DepthSource) (*Aggregator, *Hub) {
	clock := &util.FixedClock{T: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	log := zap.NewNop().Sugar()
	hub := NewHub(clock, log)
	return NewAggregator(src, hub, 50, clock, log), hub
}

func TestRefreshBuildsSnapshot(t *testing.T) {
	src := &stubSource{depth: engine.Depth{
		Bids: []engine.DepthRow{row("50000", "1")},
	}}
	agg, _ := newTestAggregator(src)

	agg.Refresh("BTC-USDT")

	snap := agg.OrderBook("BTC-USDT", 0)
	require.Len(t, snap.Bids, 1)
	bid, ok := snap.BestBid()
	require.True(t, ok)
	assert.Equal(t, "50000", bid.Price.String())
	assert.Equal(t, "1", bid.Quantity.String())
	assert.Empty(t, snap.Asks)
	assert.Equal(t, uint64(1), snap.LastUpdateID)
	assert.True(t, snap.Spread.Absolute.IsZero(), "one-sided book has zero spread")
}

func TestAggregationSumsSamePrice(t *testing.T) {
	src := &stubSource{depth: engine.Depth{
		Bids: []engine.DepthRow{row("50000", "0.5"), row("50000", "0.7")},
		Asks: []engine.DepthRow{row("50010", "1"), row("50005", "2")},
	}}
	agg, _ := newTestAggregator(src)

	agg.Refresh("BTC-USDT")
	snap := agg.OrderBook("BTC-USDT", 0)

	require.Len(t, snap.Bids, 1)
	assert.Equal(t, "1.2", snap.Bids[0].Quantity.String())
	assert.Equal(t, "60000", snap.Bids[0].Total.String())

	// Asks come back ascending regardless of row order.
	require.Len(t, snap.Asks, 2)
	assert.Equal(t, "50005", snap.Asks[0].Price.String())
	assert.Equal(t, "50010", snap.Asks[1].Price.String())

	assert.Equal(t, "5", snap.Spread.Absolute.String())
}

func TestLastUpdateIDMonotonic(t *testing.T) {
	src := &stubSource{depth: engine.Depth{Bids: []engine.DepthRow{row("50000", "1")}}}
	agg, _ := newTestAggregator(src)

	var ids []uint64
	for i := 0; i < 5; i++ {
		agg.Refresh("BTC-USDT")
		ids = append(ids, agg.OrderBook("BTC-USDT", 0).LastUpdateID)
	}
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, ids)

	// Per-symbol counters are independent.
	agg.Refresh("ETH-USDT")
	assert.Equal(t, uint64(1), agg.OrderBook("ETH-USDT", 0).LastUpdateID)
}

func TestRefreshFailureKeepsLastKnownGood(t *testing.T) {
	src := &stubSource{depth: engine.Depth{Bids: []engine.DepthRow{row("50000", "1")}}}
	agg, hub := newTestAggregator(src)

	agg.Refresh("BTC-USDT")
	good := agg.OrderBook("BTC-USDT", 0)
	require.Equal(t, uint64(1), good.LastUpdateID)

	var updates int
	sub := hub.Subscribe("BTC-USDT", func(_ string, event EventType, _ any) {
		if event == EventDepthUpdate {
			updates++
		}
	})
	defer sub.Unsubscribe()

	src.err = errors.New("engine offline")
	agg.Refresh("BTC-USDT")

	// Readers still see the last good snapshot; nothing was fanned out.
	snap := agg.OrderBook("BTC-USDT", 0)
	assert.Equal(t, uint64(1), snap.LastUpdateID)
	require.Len(t, snap.Bids, 1)
	assert.Equal(t, 0, updates)

	// Recovery resumes where the counter left off.
	src.err = nil
	agg.Refresh("BTC-USDT")
	assert.Equal(t, uint64(2), agg.OrderBook("BTC-USDT", 0).LastUpdateID)
	assert.Equal(t, 1, updates)
}

func TestOrderBookUnknownSymbol(t *testing.T) {
	agg, _ := newTestAggregator(&stubSource{})

	snap := agg.OrderBook("DOGE-USDT", 0)
	assert.Equal(t, "DOGE-USDT", snap.Symbol)
	assert.Empty(t, snap.Bids)
	assert.Empty(t, snap.Asks)
	assert.Zero(t, snap.LastUpdateID)
}

func TestOrderBookTruncates(t *testing.T) {
	src := &stubSource{depth: engine.Depth{
		Bids: []engine.DepthRow{row("50000", "1"), row("49990", "1"), row("49980", "1")},
	}}
	agg, _ := newTestAggregator(src)
	agg.Refresh("BTC-USDT")

	snap := agg.OrderBook("BTC-USDT", 2)
	assert.Len(t, snap.Bids, 2)

	// The cached snapshot keeps its full depth.
	assert.Len(t, agg.OrderBook("BTC-USDT", 0).Bids, 3)
}

func TestHandleEventRoutesBySymbol(t *testing.T) {
	src := &stubSource{}
	agg, _ := newTestAggregator(src)

	agg.HandleEvent(engine.TopicOrderProcessed, engine.OrderProcessed{
		Order: &order.Order{Symbol: "BTC-USDT"},
	})
	assert.Equal(t, 1, src.calls)
	assert.Equal(t, []string{"BTC-USDT"}, agg.Symbols())

	// Payloads without a symbol are dropped, not aggregated.
	agg.HandleEvent("order.processed", "garbage")
	assert.Equal(t, 1, src.calls)
}

func TestPublishedSnapshots(t *testing.T) {
	src := &stubSource{}
	agg, _ := newTestAggregator(src)

	agg.Refresh("BTC-USDT")
	agg.Refresh("ETH-USDT")
	assert.Equal(t, uint64(2), agg.PublishedSnapshots())

	src.err = errors.New("down")
	agg.Refresh("BTC-USDT")
	assert.Equal(t, uint64(2), agg.PublishedSnapshots(), "failed refresh publishes nothing")
}
