package orders

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tigerex/marketflow/pkg/app/core/order"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// HistoryFilter narrows a history query. Zero fields match everything.
type HistoryFilter struct {
	Symbol    string
	Status    order.Status
	Side      order.Side
	StartTime time.Time
	EndTime   time.Time
	Limit     int
	Page      int // 1-based
}

// Applied reports the limit and page actually used after defaulting and
// clamping, so callers can echo accurate pagination metadata.
func (f HistoryFilter) Applied() (limit, page int) {
	limit = f.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	page = f.Page
	if page <= 0 {
		page = 1
	}
	return limit, page
}

// History returns the caller's orders, most recent first, paginated.
// Read-only: no side effects on lifecycle state.
func (s *Service) History(userID string, f HistoryFilter) (items []*order.Order, total int) {
	limit, page := f.Applied()

	s.mu.Lock()
	var matched []*order.Order
	for _, id := range s.byUser[userID] {
		o := s.byID[id]
		if f.Symbol != "" && o.Symbol != f.Symbol {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.Side != "" && o.Side != f.Side {
			continue
		}
		if !f.StartTime.IsZero() && o.OrderTime.Before(f.StartTime) {
			continue
		}
		if !f.EndTime.IsZero() && o.OrderTime.After(f.EndTime) {
			continue
		}
		matched = append(matched, clone(o))
	}
	s.mu.Unlock()

	sortByTimeDesc(matched)
	total = len(matched)

	start := (page - 1) * limit
	if start >= total {
		return []*order.Order{}, total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return matched[start:end], total
}

// FillsReport summarizes the executions of one order.
type FillsReport struct {
	OrderID                 string          `json:"orderId"`
	Fills                   []order.Fill    `json:"fills"`
	ExecutedQuantity        decimal.Decimal `json:"executedQuantity"`
	CumulativeQuoteQuantity decimal.Decimal `json:"cumulativeQuoteQuantity"`
	AveragePrice            decimal.Decimal `json:"averagePrice"`
}

// Fills returns the execution report for one owned order.
func (s *Service) Fills(userID, orderID string) (FillsReport, error) {
	o, err := s.Get(userID, orderID)
	if err != nil {
		return FillsReport{}, err
	}
	return FillsReport{
		OrderID:                 o.OrderID,
		Fills:                   o.Fills,
		ExecutedQuantity:        o.ExecutedQuantity,
		CumulativeQuoteQuantity: o.CumulativeQuoteQuantity,
		AveragePrice:            o.AveragePrice(),
	}, nil
}
