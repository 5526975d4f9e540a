package public

import (
	"context"
	"fmt"
	"time"

	"github.com/Checker-Finance/public-sdk/pkg/model"
)

// OrderHandle tracks one placed order: fetch its state, cancel it, subscribe
// to its status transitions, and block until it reaches a status. Handles are
// cheap; PlaceOrder returns one and Order builds one for an existing order.
type OrderHandle struct {
	c         *Client
	accountID string
	orderID   string
}

func newOrderHandle(c *Client, accountID, orderID string) *OrderHandle {
	return &OrderHandle{c: c, accountID: accountID, orderID: orderID}
}

// ID returns the upstream order id.
func (h *OrderHandle) ID() string { return h.orderID }

// AccountID returns the account the order was placed in.
func (h *OrderHandle) AccountID() string { return h.accountID }

// GetStatus fetches the current upstream state of the order.
func (h *OrderHandle) GetStatus(ctx context.Context) (*model.Order, error) {
	return h.c.rest.GetOrder(ctx, h.accountID, h.orderID)
}

// Cancel requests cancellation. It fails loudly when the order is already in
// a terminal status, so callers never mistake a no-op for a cancellation.
func (h *OrderHandle) Cancel(ctx context.Context) error {
	order, err := h.GetStatus(ctx)
	if err != nil {
		return err
	}
	if order.Status.IsTerminal() {
		return fmt.Errorf("public: order %s is already %s and cannot be cancelled", h.orderID, order.Status)
	}
	return h.c.rest.CancelOrder(ctx, h.accountID, h.orderID)
}

// SubscribeUpdates registers a callback for this order's status transitions.
// The subscription cancels itself after delivering a terminal transition.
func (h *OrderHandle) SubscribeUpdates(cb OrderCallback, cfg *SubscriptionConfig) (string, error) {
	return h.c.orderManager().Subscribe(h.key(), h.c.tapOrder(cb), cfg)
}

// Unsubscribe removes a subscription created by SubscribeUpdates.
func (h *OrderHandle) Unsubscribe(id string) bool {
	return h.c.orderManager().Unsubscribe(id)
}

// WaitForStatus blocks until the order reaches the target status, the timeout
// elapses, or ctx is cancelled. On timeout the returned error is a
// *apierr.WaitTimeoutError.
func (h *OrderHandle) WaitForStatus(ctx context.Context, target model.OrderStatus, timeout time.Duration, cfg *SubscriptionConfig) (*model.Order, error) {
	return h.c.orderManager().WaitForStatus(ctx, h.key(), target, timeout, cfg)
}

// WaitForTerminalStatus blocks until the order reaches any terminal status
// (FILLED, CANCELLED, REJECTED, or EXPIRED).
func (h *OrderHandle) WaitForTerminalStatus(ctx context.Context, timeout time.Duration, cfg *SubscriptionConfig) (*model.Order, error) {
	return h.c.orderManager().WaitForTerminalStatus(ctx, h.key(), timeout, cfg)
}

func (h *OrderHandle) key() OrderKey {
	return OrderKey{AccountID: h.accountID, OrderID: h.orderID}
}
