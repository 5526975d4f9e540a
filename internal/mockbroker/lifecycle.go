package mockbroker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/public-sdk/pkg/model"
)

// Lifecycle advances simulated orders through NEW, PENDING and FILLED on a
// timer, the way a real broker's book would. Cancellation from the API wins
// any race: a terminal order is never advanced.
type Lifecycle struct {
	logger *zap.Logger
	store  Store
	quotes *QuoteEngine

	// PendingAfter and FillAfter are measured from order creation.
	PendingAfter time.Duration
	FillAfter    time.Duration
}

func NewLifecycle(logger *zap.Logger, store Store, quotes *QuoteEngine) *Lifecycle {
	return &Lifecycle{
		logger:       logger,
		store:        store,
		quotes:       quotes,
		PendingAfter: 1 * time.Second,
		FillAfter:    3 * time.Second,
	}
}

// Track schedules the transitions of a freshly placed order.
func (l *Lifecycle) Track(order model.Order) {
	go l.advance(order.AccountID, order.OrderID)
}

func (l *Lifecycle) advance(accountID, orderID string) {
	ctx := context.Background()

	time.Sleep(l.PendingAfter)
	l.transition(ctx, accountID, orderID, model.OrderPending, false)

	time.Sleep(l.FillAfter - l.PendingAfter)
	l.transition(ctx, accountID, orderID, model.OrderFilled, true)
}

func (l *Lifecycle) transition(ctx context.Context, accountID, orderID string, to model.OrderStatus, fill bool) {
	order, err := l.store.GetOrder(ctx, accountID, orderID)
	if err != nil {
		return
	}
	if order.Status.IsTerminal() {
		return
	}

	order.Status = to
	order.UpdatedAt = time.Now().UTC()
	if fill {
		price := l.fillPrice(*order)
		order.FilledQuantity = order.Quantity
		order.AveragePrice = &price
		order.Fills = append(order.Fills, model.OrderFill{
			Quantity:  order.Quantity,
			Price:     price,
			Timestamp: order.UpdatedAt,
		})
	}
	if err := l.store.PutOrder(ctx, *order); err != nil {
		l.logger.Warn("mockbroker.transition_failed",
			zap.String("order_id", orderID),
			zap.Error(err))
		return
	}
	l.logger.Debug("mockbroker.order_transitioned",
		zap.String("order_id", orderID),
		zap.String("status", string(to)))
}

func (l *Lifecycle) fillPrice(order model.Order) decimal.Decimal {
	if order.Type == model.TypeLimit && order.LimitPrice != nil {
		return *order.LimitPrice
	}
	q := l.quotes.Quote(order.Instrument)
	if q.Last != nil {
		return *q.Last
	}
	return decimal.Zero
}
