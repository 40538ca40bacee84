package book

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/tigerex/marketflow/pkg/engine"
	"github.com/tigerex/marketflow/pkg/util"
)

// Aggregator owns the symbol -> snapshot store. It is the only writer;
// readers get immutable snapshots and observe either the fully-old or
// fully-new one, never a partial build.
type Aggregator struct {
	source     engine.DepthSource
	hub        *Hub
	depthLimit int
	clock      util.Clock
	log        *zap.SugaredLogger

	mu        sync.RWMutex
	snapshots map[string]*Snapshot
	updateIDs map[string]uint64
	published uint64

	// symLocks serializes the query-build-swap cycle per symbol so
	// snapshots of one symbol publish in engine emission order while
	// other symbols aggregate concurrently.
	symMu    sync.Mutex
	symLocks map[string]*sync.Mutex
}

func NewAggregator(source engine.DepthSource, hub *Hub, depthLimit int, clock util.Clock, log *zap.SugaredLogger) *Aggregator {
	return &Aggregator{
		source:     source,
		hub:        hub,
		depthLimit: depthLimit,
		clock:      clock,
		log:        log,
		snapshots:  make(map[string]*Snapshot),
		updateIDs:  make(map[string]uint64),
		symLocks:   make(map[string]*sync.Mutex),
	}
}

// HandleEvent is the bus entry point: any lifecycle event for a symbol
// triggers a full re-aggregation of that symbol.
func (a *Aggregator) HandleEvent(topic string, payload any) {
	symbol, ok := engine.SymbolOf(payload)
	if !ok {
		a.log.Warnw("unroutable_event", "topic", topic)
		return
	}
	a.Refresh(symbol)
}

// Refresh queries raw depth, builds a fresh snapshot off to the side and
// atomically replaces the stored one, then hands it to the hub. On a
// failed engine query the last-known-good snapshot is retained and
// nothing reaches subscribers.
func (a *Aggregator) Refresh(symbol string) {
	lock := a.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	depth, err := a.source.Depth(symbol, a.depthLimit)
	if err != nil {
		a.log.Errorw("depth_query_failed", "symbol", symbol, "err", err)
		return
	}

	snap := &Snapshot{
		Symbol: symbol,
		Bids:   aggregate(depth.Bids, true),
		Asks:   aggregate(depth.Asks, false),
	}
	snap.Spread = computeSpread(snap.Bids, snap.Asks)
	snap.Timestamp = a.clock.Now()

	a.mu.Lock()
	a.updateIDs[symbol]++
	snap.LastUpdateID = a.updateIDs[symbol]
	a.snapshots[symbol] = snap
	a.published++
	a.mu.Unlock()

	a.hub.PublishSnapshot(snap)
}

// OrderBook serves the cached snapshot truncated to the requested depth.
// It never re-aggregates; a symbol that has not aggregated yet gets the
// empty placeholder.
func (a *Aggregator) OrderBook(symbol string, depth int) *Snapshot {
	a.mu.RLock()
	snap := a.snapshots[symbol]
	a.mu.RUnlock()

	if snap == nil {
		return Empty(symbol)
	}
	return snap.Truncate(depth)
}

// Symbols lists every symbol with a cached snapshot.
func (a *Aggregator) Symbols() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]string, 0, len(a.snapshots))
	for s := range a.snapshots {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// PublishedSnapshots reports snapshots published since start.
func (a *Aggregator) PublishedSnapshots() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.published
}

func (a *Aggregator) symbolLock(symbol string) *sync.Mutex {
	a.symMu.Lock()
	defer a.symMu.Unlock()
	lock, ok := a.symLocks[symbol]
	if !ok {
		lock = &sync.Mutex{}
		a.symLocks[symbol] = lock
	}
	return lock
}

// aggregate sums raw per-order rows into price levels and sorts one side
// of the book, bids descending, asks ascending.
func aggregate(rows []engine.DepthRow, descending bool) []Level {
	byPrice := make(map[string]*Level, len(rows))
	levels := make([]Level, 0, len(rows))

	order := make([]string, 0, len(rows))
	for _, row := range rows {
		key := row.Price.String()
		if lvl, ok := byPrice[key]; ok {
			lvl.Quantity = lvl.Quantity.Add(row.Quantity)
			continue
		}
		byPrice[key] = &Level{Price: row.Price, Quantity: row.Quantity}
		order = append(order, key)
	}

	for _, key := range order {
		lvl := byPrice[key]
		lvl.Total = lvl.Price.Mul(lvl.Quantity)
		levels = append(levels, *lvl)
	}

	sort.Slice(levels, func(i, j int) bool {
		if descending {
			return levels[i].Price.GreaterThan(levels[j].Price)
		}
		return levels[i].Price.LessThan(levels[j].Price)
	})
	return levels
}

