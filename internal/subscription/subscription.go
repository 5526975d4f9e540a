package subscription

import "time"

// Status is the lifecycle state of a subscription.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusPaused    Status = "PAUSED"
	StatusError     Status = "ERROR"
	StatusCancelled Status = "CANCELLED"
)

// CallbackKind distinguishes callbacks executed inline on a dispatch worker
// from deferred-async callbacks routed to the dedicated deferred loop.
type CallbackKind string

const (
	KindSync  CallbackKind = "sync"
	KindAsync CallbackKind = "async"
)

// eventFn is the engine-facing callback shape. Managers wrap user callbacks
// into this form at subscribe time: old is nil for a synthesized terminal
// error event, err is non-nil only for that final event.
type eventFn[S comparable, O any] func(subscriptionID string, subject S, old *O, obs *O, at time.Time, err error)

// callback pairs an eventFn with its dispatch kind.
type callback[S comparable, O any] struct {
	kind CallbackKind
	fn   eventFn[S, O]
}

// subscription is the authoritative record for one subscriber.
type subscription[S comparable, O any] struct {
	id                  string
	subjects            []S
	cb                  callback[S, O]
	config              Config
	status              Status
	consecutiveFailures int
	nextDueAt           time.Time
	createdAt           time.Time
	lastEventAt         time.Time
}

// Info is an immutable snapshot of a subscription's externally observable
// state.
type Info[S comparable] struct {
	ID                  string
	Status              Status
	Subjects            []S
	Config              Config
	ConsecutiveFailures int
	CreatedAt           time.Time
	LastEventAt         time.Time
}
