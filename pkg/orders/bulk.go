package orders

import (
	"github.com/tigerex/marketflow/pkg/app/core/order"
	"github.com/tigerex/marketflow/pkg/engine"
)

// ItemResult is the per-order outcome of a bulk cancellation.
type ItemResult struct {
	OrderID string `json:"orderId"`
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// BulkResult itemizes a bulk cancellation. Partial failure is reported
// per order, never as a blanket error.
type BulkResult struct {
	TotalOrders             int          `json:"totalOrders"`
	SuccessfulCancellations int          `json:"successfulCancellations"`
	Results                 []ItemResult `json:"results"`
}

// BulkCancel cancels every working order of the user, optionally
// restricted to one symbol. Each member is canceled independently: one
// failure never blocks the rest, and an order that reached a terminal
// state between selection and execution counts as a successful no-op.
// Unlike the single-order path, this tolerance is deliberate.
func (s *Service) BulkCancel(userID, symbol, reason string) BulkResult {
	if reason == "" {
		reason = "BULK_CANCELED"
	}

	s.mu.Lock()
	candidates := make([]string, 0)
	for _, id := range s.byUser[userID] {
		o := s.byID[id]
		if !o.IsWorking {
			continue
		}
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		candidates = append(candidates, id)
	}
	s.mu.Unlock()

	// Candidates keep placement order so itemized results line up with
	// what the user sees.
	res := BulkResult{TotalOrders: len(candidates)}
	var canceled []*order.Order

	for _, id := range candidates {
		item := s.cancelOne(id, reason, &canceled)
		if item.Success {
			res.SuccessfulCancellations++
		}
		res.Results = append(res.Results, item)
	}

	for _, o := range canceled {
		s.bus.Publish(engine.TopicOrderCanceled, engine.OrderCanceled{Order: o, Reason: reason})
	}
	return res
}

// cancelOne performs the idempotent per-member cancellation. Orders
// already terminal are successful no-ops: cancelTime is untouched and no
// event is re-emitted.
func (s *Service) cancelOne(orderID, reason string, canceled *[]*order.Order) ItemResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.byID[orderID]
	if !ok {
		return ItemResult{OrderID: orderID, Success: false, Reason: "order not found"}
	}
	if o.Status.IsTerminal() || !o.IsWorking {
		return ItemResult{OrderID: orderID, Success: true}
	}

	res, err := s.engine.CancelOrder(orderID, reason)
	if err != nil {
		s.log.Errorw("bulk_cancel_engine_failed", "orderId", orderID, "err", err)
		return ItemResult{OrderID: orderID, Success: false, Reason: order.ReasonOf(order.EngineUnavailable("cancel failed", err))}
	}
	if !res.Success {
		return ItemResult{OrderID: orderID, Success: false, Reason: res.Reason}
	}

	if err := o.Cancel(reason, s.clock.Now()); err != nil {
		return ItemResult{OrderID: orderID, Success: false, Reason: order.ReasonOf(err)}
	}
	*canceled = append(*canceled, clone(o))
	return ItemResult{OrderID: orderID, Success: true}
}
