package market

import (
	"fmt"
	"sort"
	"sync"
)

// Registry manages the traded symbols in a thread-safe manner. It is the
// one place base/quote assets are resolved from a symbol.
type Registry struct {
	mu      sync.RWMutex
	markets map[string]*Market // symbol -> market
}

func NewRegistry() *Registry {
	return &Registry{
		markets: make(map[string]*Market),
	}
}

// Register adds a new market. Returns an error if the symbol already
// exists.
func (r *Registry) Register(m *Market) error {
	if m == nil {
		return fmt.Errorf("cannot register nil market")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.markets[m.Symbol]; exists {
		return fmt.Errorf("market %s already registered", m.Symbol)
	}

	r.markets[m.Symbol] = m
	return nil
}

// Get retrieves a market by symbol.
func (r *Registry) Get(symbol string) (*Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, exists := r.markets[symbol]
	if !exists {
		return nil, fmt.Errorf("market %s not found", symbol)
	}

	return m, nil
}

// List returns all registered markets sorted by symbol.
func (r *Registry) List() []*Market {
	r.mu.RLock()
	defer r.mu.RUnlock()

	markets := make([]*Market, 0, len(r.markets))
	for _, m := range r.markets {
		markets = append(markets, m)
	}
	sort.Slice(markets, func(i, j int) bool { return markets[i].Symbol < markets[j].Symbol })

	return markets
}

// UpdateStatus changes the trading status of a market. Delisted is
// terminal.
func (r *Registry) UpdateStatus(symbol string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, exists := r.markets[symbol]
	if !exists {
		return fmt.Errorf("market %s not found", symbol)
	}
	if m.Status == Delisted {
		return fmt.Errorf("market %s is delisted", symbol)
	}

	m.Status = status
	return nil
}

func (r *Registry) Exists(symbol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.markets[symbol]
	return exists
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.markets)
}
