package subscription

import (
	"context"
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/Checker-Finance/public-sdk/pkg/apierr"
	"github.com/Checker-Finance/public-sdk/pkg/model"
)

// PriceChange is the event delivered to price subscribers. OldQuote is nil
// when the subscription entered ERROR and this is its final event; in that
// case Err carries the terminal cause and NewQuote is nil too.
type PriceChange struct {
	SubscriptionID string
	Instrument     model.Instrument
	OldQuote       *model.Quote
	NewQuote       *model.Quote
	At             time.Time
	Err            error
}

// PriceHandler consumes price change events.
type PriceHandler func(PriceChange)

// PriceCallback tags a handler with its dispatch kind.
type PriceCallback struct {
	kind CallbackKind
	fn   PriceHandler
}

// SyncPrice wraps a handler executed inline on a dispatch worker.
func SyncPrice(fn PriceHandler) PriceCallback {
	return PriceCallback{kind: KindSync, fn: fn}
}

// AsyncPrice wraps a handler routed to the deferred execution loop, for
// callbacks that block or take their time.
func AsyncPrice(fn PriceHandler) PriceCallback {
	return PriceCallback{kind: KindAsync, fn: fn}
}

// Tap returns a callback of the same kind that invokes the original handler
// and then fn. The client uses it to forward events to the message bus.
func (c PriceCallback) Tap(fn PriceHandler) PriceCallback {
	orig := c.fn
	return PriceCallback{kind: c.kind, fn: func(ev PriceChange) {
		orig(ev)
		fn(ev)
	}}
}

// QuoteFetcher returns current quotes for a batch of instruments. The result
// carries subject identity so responses can be matched to subscriptions.
type QuoteFetcher interface {
	FetchQuotes(ctx context.Context, instruments []model.Instrument) ([]model.Quote, error)
}

// Options tunes a manager's dispatcher and hooks it to the auth layer.
type Options struct {
	Clock       clock.Clock
	Workers     int
	QueueSize   int
	AuthRefresh func(ctx context.Context) error
}

// PriceManager multiplexes many price subscriptions over a single periodic
// quote-polling loop.
type PriceManager struct {
	logger *zap.Logger
	eng    *engine[model.Instrument, model.Quote]
}

// NewPriceManager constructs a price subscription manager over the given
// quote fetcher. The manager starts lazily on first subscribe.
func NewPriceManager(logger *zap.Logger, fetcher QuoteFetcher, opts Options) *PriceManager {
	hooks := engineHooks[model.Instrument, model.Quote]{
		subjectOf: func(q model.Quote) model.Instrument {
			return q.Instrument.Normalized()
		},
		equal: func(a, b model.Quote) bool {
			return a.Equal(b)
		},
		authRefresh: opts.AuthRefresh,
	}
	// Quotes ride one batch endpoint, so failures are all-or-nothing.
	fetch := func(ctx context.Context, instruments []model.Instrument) ([]model.Quote, map[model.Instrument]error, error) {
		quotes, err := fetcher.FetchQuotes(ctx, instruments)
		return quotes, nil, err
	}
	return &PriceManager{
		logger: logger,
		eng:    newEngine(logger, opts.Clock, "price", fetch, hooks, opts.Workers, opts.QueueSize),
	}
}

// Start launches the scheduler. Idempotent; Subscribe calls it implicitly.
func (m *PriceManager) Start() {
	m.eng.start()
}

// Stop cancels all subscriptions and shuts the scheduler and worker pool
// down with a bounded grace period. Idempotent.
func (m *PriceManager) Stop() {
	m.eng.stop()
}

// Subscribe registers a callback for price changes on the given instruments.
// Unseen instruments are polled immediately so their first observation is
// seeded. A nil config uses the defaults.
func (m *PriceManager) Subscribe(instruments []model.Instrument, cb PriceCallback, cfg *Config) (string, error) {
	if len(instruments) == 0 {
		return "", apierr.ErrEmptySubscription
	}
	subjects := make([]model.Instrument, 0, len(instruments))
	for _, in := range instruments {
		n := in.Normalized()
		if n.Symbol == "" {
			return "", apierr.ErrEmptySubscription
		}
		subjects = append(subjects, n)
	}

	conf := DefaultConfig()
	if cfg != nil {
		conf = *cfg
	}

	wrapped := callback[model.Instrument, model.Quote]{
		kind: cb.kind,
		fn: func(id string, subject model.Instrument, old, obs *model.Quote, at time.Time, err error) {
			cb.fn(PriceChange{
				SubscriptionID: id,
				Instrument:     subject,
				OldQuote:       old,
				NewQuote:       obs,
				At:             at,
				Err:            err,
			})
		},
	}

	m.eng.start()
	return m.eng.subscribe(subjects, wrapped, conf)
}

// Unsubscribe removes a subscription; returns false for an unknown id.
func (m *PriceManager) Unsubscribe(id string) bool {
	return m.eng.unsubscribe(id)
}

// UnsubscribeAll removes every subscription.
func (m *PriceManager) UnsubscribeAll() {
	m.eng.unsubscribeAll()
}

// Pause suspends delivery and polling for a subscription.
func (m *PriceManager) Pause(id string) bool {
	return m.eng.pause(id)
}

// Resume reactivates a paused subscription.
func (m *PriceManager) Resume(id string) bool {
	return m.eng.resume(id)
}

// SetPollingFrequency updates the polling frequency of a subscription.
func (m *PriceManager) SetPollingFrequency(id string, seconds float64) (bool, error) {
	return m.eng.setPollingFrequency(id, seconds)
}

// GetActiveSubscriptions returns the ids of all ACTIVE subscriptions.
func (m *PriceManager) GetActiveSubscriptions() []string {
	return m.eng.activeSubscriptions()
}

// GetSubscriptionInfo returns an immutable snapshot of one subscription.
func (m *PriceManager) GetSubscriptionInfo(id string) (Info[model.Instrument], bool) {
	return m.eng.subscriptionInfo(id)
}
