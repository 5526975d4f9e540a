package subscription

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/public-sdk/pkg/apierr"
	"github.com/Checker-Finance/public-sdk/pkg/model"
)

// OrderKey identifies the polling subject of an order subscription.
type OrderKey struct {
	AccountID string
	OrderID   string
}

// OrderUpdate is the event delivered to order subscribers. Order is nil only
// for the final event of a subscription that entered ERROR, in which case Err
// carries the terminal cause.
type OrderUpdate struct {
	SubscriptionID string
	OrderID        string
	OldStatus      *model.OrderStatus
	NewStatus      model.OrderStatus
	Order          *model.Order
	At             time.Time
	Err            error
}

// OrderHandler consumes order update events.
type OrderHandler func(OrderUpdate)

// OrderCallback tags a handler with its dispatch kind.
type OrderCallback struct {
	kind CallbackKind
	fn   OrderHandler
}

// SyncOrder wraps a handler executed inline on a dispatch worker.
func SyncOrder(fn OrderHandler) OrderCallback {
	return OrderCallback{kind: KindSync, fn: fn}
}

// AsyncOrder wraps a handler routed to the deferred execution loop.
func AsyncOrder(fn OrderHandler) OrderCallback {
	return OrderCallback{kind: KindAsync, fn: fn}
}

// Tap returns a callback of the same kind that invokes the original handler
// and then fn. The client uses it to forward events and journal terminal
// orders.
func (c OrderCallback) Tap(fn OrderHandler) OrderCallback {
	orig := c.fn
	return OrderCallback{kind: c.kind, fn: func(ev OrderUpdate) {
		orig(ev)
		fn(ev)
	}}
}

// OrderFetcher returns the current upstream state of one order.
type OrderFetcher interface {
	FetchOrder(ctx context.Context, accountID, orderID string) (*model.Order, error)
}

// waitResult is what a released waiter receives.
type waitResult struct {
	order model.Order
	err   error
}

// waiter is one blocked wait_* caller, released when its predicate matches a
// fresh observation or its subscription goes away.
type waiter struct {
	pred func(model.Order) bool
	ch   chan waitResult
}

// OrderManager tracks a set of orders, polls their statuses, dispatches
// update events, and releases predicate waiters so order handles can block
// until a status is reached. Waiters piggy-back on the same poll loop that
// feeds callbacks; there is no per-waiter polling.
type OrderManager struct {
	logger *zap.Logger
	eng    *engine[OrderKey, model.Order]

	wmu     sync.Mutex
	waiters map[OrderKey]map[*waiter]struct{}
}

// NewOrderManager constructs an order subscription manager over the given
// order fetcher. The manager starts lazily on first subscribe.
func NewOrderManager(logger *zap.Logger, fetcher OrderFetcher, opts Options) *OrderManager {
	m := &OrderManager{
		logger:  logger,
		waiters: make(map[OrderKey]map[*waiter]struct{}),
	}

	hooks := engineHooks[OrderKey, model.Order]{
		subjectOf: func(o model.Order) OrderKey {
			return OrderKey{AccountID: o.AccountID, OrderID: o.OrderID}
		},
		equal: func(a, b model.Order) bool {
			return a.SameObservation(b)
		},
		afterObservation: m.afterObservation,
		onRemoved:        m.releaseWaitersFor,
		authRefresh:      opts.AuthRefresh,
	}

	// The upstream exposes no batch order endpoint, so the per-tick batch is
	// a loop over the due keys. Partial failures still surface the successes,
	// reported per key so the failing subscriptions keep consuming their
	// retry budget.
	fetch := func(ctx context.Context, keys []OrderKey) ([]model.Order, map[OrderKey]error, error) {
		out := make([]model.Order, 0, len(keys))
		var failed map[OrderKey]error
		for _, key := range keys {
			order, err := fetcher.FetchOrder(ctx, key.AccountID, key.OrderID)
			if err != nil {
				if apierr.IsAuth(err) {
					// A stale token fails every remaining key the same way;
					// surface it tick-wide so the engine refreshes once.
					return nil, nil, err
				}
				if failed == nil {
					failed = make(map[OrderKey]error)
				}
				failed[key] = err
				continue
			}
			o := *order
			o.AccountID = key.AccountID
			out = append(out, o)
		}
		return out, failed, nil
	}

	m.eng = newEngine(logger, opts.Clock, "order", fetch, hooks, opts.Workers, opts.QueueSize)
	return m
}

// Start launches the scheduler. Idempotent; Subscribe calls it implicitly.
func (m *OrderManager) Start() {
	m.eng.start()
}

// Stop cancels all subscriptions, releases all waiters, and shuts the
// scheduler down with a bounded grace period. Idempotent.
func (m *OrderManager) Stop() {
	m.eng.stop()
}

// Subscribe registers a callback for updates of one order. A nil config uses
// the defaults.
func (m *OrderManager) Subscribe(key OrderKey, cb OrderCallback, cfg *Config) (string, error) {
	if key.OrderID == "" {
		return "", apierr.ErrEmptySubscription
	}

	conf := DefaultConfig()
	if cfg != nil {
		conf = *cfg
	}

	wrapped := callback[OrderKey, model.Order]{
		kind: cb.kind,
		fn: func(id string, subject OrderKey, old, obs *model.Order, at time.Time, err error) {
			update := OrderUpdate{
				SubscriptionID: id,
				OrderID:        subject.OrderID,
				At:             at,
				Err:            err,
			}
			if old != nil {
				status := old.Status
				update.OldStatus = &status
			}
			if obs != nil {
				update.NewStatus = obs.Status
				update.Order = obs
			}
			cb.fn(update)
		},
	}

	m.eng.start()
	return m.eng.subscribe([]OrderKey{key}, wrapped, conf)
}

// Unsubscribe removes a subscription; returns false for an unknown id.
func (m *OrderManager) Unsubscribe(id string) bool {
	return m.eng.unsubscribe(id)
}

// UnsubscribeAll removes every subscription.
func (m *OrderManager) UnsubscribeAll() {
	m.eng.unsubscribeAll()
}

// Pause suspends delivery and polling for a subscription.
func (m *OrderManager) Pause(id string) bool {
	return m.eng.pause(id)
}

// Resume reactivates a paused subscription.
func (m *OrderManager) Resume(id string) bool {
	return m.eng.resume(id)
}

// SetPollingFrequency updates the polling frequency of a subscription.
func (m *OrderManager) SetPollingFrequency(id string, seconds float64) (bool, error) {
	return m.eng.setPollingFrequency(id, seconds)
}

// GetActiveSubscriptions returns the ids of all ACTIVE subscriptions.
func (m *OrderManager) GetActiveSubscriptions() []string {
	return m.eng.activeSubscriptions()
}

// GetSubscriptionInfo returns an immutable snapshot of one subscription.
func (m *OrderManager) GetSubscriptionInfo(id string) (Info[OrderKey], bool) {
	return m.eng.subscriptionInfo(id)
}

// WaitFor blocks until the order identified by key satisfies pred, the
// timeout elapses, or ctx is cancelled. It registers a temporary
// subscription so the order rides the shared poll loop, and a predicate
// waiter released on the scheduler's diff path.
func (m *OrderManager) WaitFor(ctx context.Context, key OrderKey, pred func(model.Order) bool, timeout time.Duration, cfg *Config) (*model.Order, error) {
	w := &waiter{pred: pred, ch: make(chan waitResult, 1)}
	m.addWaiter(key, w)
	defer m.removeWaiter(key, w)

	// The order may already satisfy the predicate from a previous poll.
	if obs, ok := m.eng.reg.lastObservation(key); ok && pred(obs) {
		return &obs, nil
	}

	subID, err := m.Subscribe(key, SyncOrder(func(OrderUpdate) {}), cfg)
	if err != nil {
		return nil, err
	}
	defer m.eng.unsubscribe(subID)

	select {
	case res := <-w.ch:
		if res.err != nil {
			return nil, res.err
		}
		return &res.order, nil
	case <-m.eng.clk.After(timeout):
		return nil, &apierr.WaitTimeoutError{OrderID: key.OrderID, Timeout: timeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WaitForStatus blocks until the order reaches the target status.
func (m *OrderManager) WaitForStatus(ctx context.Context, key OrderKey, target model.OrderStatus, timeout time.Duration, cfg *Config) (*model.Order, error) {
	return m.WaitFor(ctx, key, func(o model.Order) bool { return o.Status == target }, timeout, cfg)
}

// WaitForTerminalStatus blocks until the order reaches any terminal status.
func (m *OrderManager) WaitForTerminalStatus(ctx context.Context, key OrderKey, timeout time.Duration, cfg *Config) (*model.Order, error) {
	return m.WaitFor(ctx, key, func(o model.Order) bool { return o.Status.IsTerminal() }, timeout, cfg)
}

func (m *OrderManager) addWaiter(key OrderKey, w *waiter) {
	m.wmu.Lock()
	defer m.wmu.Unlock()
	set, ok := m.waiters[key]
	if !ok {
		set = make(map[*waiter]struct{})
		m.waiters[key] = set
	}
	set[w] = struct{}{}
}

func (m *OrderManager) removeWaiter(key OrderKey, w *waiter) {
	m.wmu.Lock()
	defer m.wmu.Unlock()
	if set, ok := m.waiters[key]; ok {
		delete(set, w)
		if len(set) == 0 {
			delete(m.waiters, key)
		}
	}
}

// afterObservation runs on the scheduler goroutine after each recorded order
// observation: it releases matching waiters and, for terminal orders,
// auto-cancels the subject's subscriptions once their final dispatch has been
// delivered.
func (m *OrderManager) afterObservation(key OrderKey, obs model.Order, at time.Time) {
	m.wmu.Lock()
	if set, ok := m.waiters[key]; ok {
		for w := range set {
			if w.pred(obs) {
				select {
				case w.ch <- waitResult{order: obs}:
				default:
				}
				delete(set, w)
			}
		}
		if len(set) == 0 {
			delete(m.waiters, key)
		}
	}
	m.wmu.Unlock()

	if !obs.Status.IsTerminal() {
		return
	}

	// No further transitions can arrive: cancel the subject's subscriptions.
	// The removal rides the same per-subscription queue as the change event
	// just dispatched, so the final update is delivered first.
	for _, snap := range m.eng.reg.subscribersOf(key) {
		id := snap.id
		m.eng.disp.submit(id, snap.cb.kind, func() {
			if m.eng.reg.remove(id) {
				m.logger.Debug("order.subscription_auto_cancelled",
					zap.String("subscription_id", id),
					zap.String("order_id", key.OrderID),
					zap.String("final_status", string(obs.Status)))
			}
		})
	}

	// Waiters whose predicate can no longer match are not stranded either.
	m.releaseWaitersFor("", []OrderKey{key}, &apierr.WaitCancelledError{
		OrderID: key.OrderID,
		Reason:  "order reached terminal status " + string(obs.Status),
	})
}

// releaseWaitersFor wakes every waiter attached to the given subjects with
// the provided cause.
func (m *OrderManager) releaseWaitersFor(_ string, subjects []OrderKey, cause error) {
	m.wmu.Lock()
	defer m.wmu.Unlock()
	for _, key := range subjects {
		set, ok := m.waiters[key]
		if !ok {
			continue
		}
		for w := range set {
			select {
			case w.ch <- waitResult{err: cause}:
			default:
			}
		}
		delete(m.waiters, key)
	}
}
