package book

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tigerex/marketflow/pkg/util"
)

type EventType string

const (
	// EventSnapshot is delivered exactly once, synchronously, when a
	// consumer subscribes.
	EventSnapshot EventType = "snapshot"
	// EventDepthUpdate carries each newly published snapshot.
	EventDepthUpdate EventType = "depthUpdate"
	// EventOrderUpdate carries order lifecycle notifications.
	EventOrderUpdate EventType = "orderUpdate"
)

// Handler consumes events for one subscribed symbol. A handler that
// panics is logged and skipped; it never blocks delivery to the rest.
type Handler func(symbol string, event EventType, payload any)

// Subscription is the unsubscribe handle returned by Subscribe.
type Subscription struct {
	hub    *Hub
	symbol string
	id     uint64
}

func (s *Subscription) Symbol() string { return s.symbol }

// Unsubscribe removes the handler. Safe to call more than once.
func (s *Subscription) Unsubscribe() { s.hub.unsubscribe(s) }

// Hub owns the per-symbol consumer registries and the read reference to
// each symbol's latest snapshot.
type Hub struct {
	clock util.Clock
	log   *zap.SugaredLogger

	mu          sync.RWMutex
	subs        map[string]map[uint64]Handler
	nextID      uint64
	latest      map[string]*Snapshot
	lastPublish map[string]time.Time

	// symLocks serializes deliveries per symbol. Subscribe holds the
	// lock across registration plus the initial snapshot, so a handler
	// never sees a later event before its snapshot.
	symMu    sync.Mutex
	symLocks map[string]*sync.Mutex
}

func NewHub(clock util.Clock, log *zap.SugaredLogger) *Hub {
	return &Hub{
		clock:       clock,
		log:         log,
		subs:        make(map[string]map[uint64]Handler),
		latest:      make(map[string]*Snapshot),
		lastPublish: make(map[string]time.Time),
		symLocks:    make(map[string]*sync.Mutex),
	}
}

// Subscribe registers the handler and synchronously delivers one
// snapshot event from the cached book (or an empty placeholder) before
// returning, so a new consumer never waits for the next mutation.
// Concurrent publishes for the symbol queue behind the registration, so
// the snapshot is always the handler's first event.
func (h *Hub) Subscribe(symbol string, fn Handler) *Subscription {
	lock := h.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	h.mu.Lock()
	if h.subs[symbol] == nil {
		h.subs[symbol] = make(map[uint64]Handler)
	}
	id := h.nextID
	h.nextID++
	h.subs[symbol][id] = fn

	snap := h.latest[symbol]
	h.mu.Unlock()

	if snap == nil {
		snap = Empty(symbol)
	}
	h.deliver(fn, symbol, EventSnapshot, snap)

	return &Subscription{hub: h, symbol: symbol, id: id}
}

func (h *Hub) unsubscribe(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if hs, ok := h.subs[s.symbol]; ok {
		delete(hs, s.id)
		// Only the registry entry goes away; the cached snapshot
		// persists for the next subscriber.
		if len(hs) == 0 {
			delete(h.subs, s.symbol)
		}
	}
}

// PublishSnapshot caches the snapshot as the symbol's latest and fans it
// out. Called only by the aggregator.
func (h *Hub) PublishSnapshot(snap *Snapshot) {
	lock := h.symbolLock(snap.Symbol)
	lock.Lock()
	defer lock.Unlock()

	h.mu.Lock()
	h.latest[snap.Symbol] = snap
	h.lastPublish[snap.Symbol] = h.clock.Now()
	h.mu.Unlock()

	h.publish(snap.Symbol, EventDepthUpdate, snap)
}

// Publish fans any event out to the symbol's consumer set.
func (h *Hub) Publish(symbol string, event EventType, payload any) {
	lock := h.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	h.publish(symbol, event, payload)
}

// publish delivers under the symbol's delivery lock.
func (h *Hub) publish(symbol string, event EventType, payload any) {
	h.mu.RLock()
	handlers := make([]Handler, 0, len(h.subs[symbol]))
	for _, fn := range h.subs[symbol] {
		handlers = append(handlers, fn)
	}
	h.mu.RUnlock()

	for _, fn := range handlers {
		h.deliver(fn, symbol, event, payload)
	}
}

func (h *Hub) symbolLock(symbol string) *sync.Mutex {
	h.symMu.Lock()
	defer h.symMu.Unlock()
	lock, ok := h.symLocks[symbol]
	if !ok {
		lock = &sync.Mutex{}
		h.symLocks[symbol] = lock
	}
	return lock
}

func (h *Hub) deliver(fn Handler, symbol string, event EventType, payload any) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Errorw("subscriber_handler_panic", "symbol", symbol, "event", event, "panic", r)
		}
	}()
	fn(symbol, event, payload)
}

// SubscriberCount reports the consumer count for one symbol.
func (h *Hub) SubscriberCount(symbol string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[symbol])
}

// TotalSubscribers reports the hub-wide consumer count.
func (h *Hub) TotalSubscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, hs := range h.subs {
		total += len(hs)
	}
	return total
}

// LastUpdate reports when the symbol's snapshot was last published.
func (h *Hub) LastUpdate(symbol string) (time.Time, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	t, ok := h.lastPublish[symbol]
	return t, ok
}

// CachedSymbols lists the symbols holding a cached book.
func (h *Hub) CachedSymbols() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, len(h.latest))
	for s := range h.latest {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Latest returns the cached snapshot for a symbol, if any.
func (h *Hub) Latest(symbol string) *Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest[symbol]
}
