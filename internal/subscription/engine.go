package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/Checker-Finance/public-sdk/internal/metrics"
	"github.com/Checker-Finance/public-sdk/pkg/apierr"
)

// stopGrace bounds how long stop() waits for the scheduler to acknowledge and
// for the dispatch queues to drain.
const stopGrace = 5 * time.Second

// fetchFunc is the batched upstream call a manager makes once per tick with
// the deduplicated list of due subjects. A non-nil error fails the whole
// tick; the failures map reports subjects that individually failed while the
// rest of the batch succeeded, so their subscriptions still consume retry
// budget.
type fetchFunc[S comparable, O any] func(ctx context.Context, subjects []S) ([]O, map[S]error, error)

// engineHooks let the price and order managers specialize the shared
// scheduler without subclassing it.
type engineHooks[S comparable, O any] struct {
	// subjectOf extracts the subject identity an observation belongs to.
	subjectOf func(O) S

	// equal defines change detection for the subject type.
	equal func(O, O) bool

	// afterObservation runs on the scheduler goroutine after the observation
	// has been recorded and any change dispatched. The order manager uses it
	// to release waiters and auto-cancel terminal subscriptions.
	afterObservation func(subject S, obs O, at time.Time)

	// onRemoved runs whenever a subscription leaves the registry (explicit
	// unsubscribe, terminal error, or manager shutdown), so attached waiters
	// can be released.
	onRemoved func(id string, subjects []S, cause error)

	// authRefresh is tried once per failing tick when the fetch error is
	// classified as an auth failure, before it counts toward retry budgets.
	authRefresh func(ctx context.Context) error
}

// engine is the poll scheduler shared by both managers: one long-lived
// goroutine that wakes at the earliest deadline, batches the union of due
// subjects into a single fetch, diffs against last observations, and fans
// changes out through the dispatcher.
type engine[S comparable, O any] struct {
	logger *zap.Logger
	clk    clock.Clock
	name   string
	reg    *registry[S, O]
	fetch  fetchFunc[S, O]
	hooks  engineHooks[S, O]

	workers   int
	queueSize int

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	disp    *dispatcher
	wake    chan struct{}
}

func newEngine[S comparable, O any](
	logger *zap.Logger,
	clk clock.Clock,
	name string,
	fetch fetchFunc[S, O],
	hooks engineHooks[S, O],
	workers, queueSize int,
) *engine[S, O] {
	if clk == nil {
		clk = clock.WallClock
	}
	return &engine[S, O]{
		logger:    logger,
		clk:       clk,
		name:      name,
		reg:       newRegistry[S, O](),
		fetch:     fetch,
		hooks:     hooks,
		workers:   workers,
		queueSize: queueSize,
		wake:      make(chan struct{}, 1),
	}
}

// start launches the scheduler loop and worker pool. Idempotent.
func (e *engine[S, O]) start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	e.disp = newDispatcher(e.logger, e.name, e.workers, e.queueSize)

	e.logger.Info("subscription.manager_started", zap.String("manager", e.name))
	go e.run(ctx)
}

// stop signals cancellation, waits (bounded) for the scheduler to exit,
// drains the worker pool, and cancels every remaining subscription.
func (e *engine[S, O]) stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel, done, disp := e.cancel, e.done, e.disp
	e.mu.Unlock()

	cancel()
	select {
	case <-done:
		disp.stop(stopGrace)
	case <-time.After(stopGrace):
		e.logger.Warn("subscription.scheduler_stop_timeout", zap.String("manager", e.name))
		// The scheduler may still be blocked enqueueing a dispatch; closing
		// the queues under it would panic the send. Leave the pool running
		// and close it once the scheduler finally exits.
		go func() {
			<-done
			disp.stop(stopGrace)
		}()
	}

	removed := e.reg.removeAll()
	for _, sub := range removed {
		if e.hooks.onRemoved != nil {
			e.hooks.onRemoved(sub.id, sub.subjects, &apierr.WaitCancelledError{Reason: "manager stopped"})
		}
	}
	metrics.SetActiveSubscriptions(e.name, 0)
	e.logger.Info("subscription.manager_stopped",
		zap.String("manager", e.name),
		zap.Int("cancelled", len(removed)))
}

func (e *engine[S, O]) isRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// poke wakes the scheduler early, e.g. when a new subscription is due now.
func (e *engine[S, O]) poke() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *engine[S, O]) run(ctx context.Context) {
	defer close(e.done)

	// One timer for the life of the loop. Creating a fresh After per
	// iteration would abandon a timer every time the wake channel fires
	// first, leaking one per poke.
	timer := e.clk.NewTimer(e.reg.nextWake(e.clk.Now()))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.wake:
			if !timer.Stop() {
				select {
				case <-timer.Chan():
				default:
				}
			}
		case <-timer.Chan():
		}
		e.tick(ctx)
		timer.Reset(e.reg.nextWake(e.clk.Now()))
	}
}

// tick is one scheduler iteration: select due subjects, fetch once, diff,
// dispatch, reschedule.
func (e *engine[S, O]) tick(ctx context.Context) {
	now := e.clk.Now()
	subjects, dueIDs := e.reg.collectDue(now)
	if len(subjects) == 0 {
		metrics.IncPollTick(e.name, "idle")
		return
	}

	obs, failures, err := e.fetch(ctx, subjects)
	if err != nil && apierr.IsAuth(err) && e.hooks.authRefresh != nil {
		// One auth refresh before the failure counts toward retry budgets.
		e.logger.Info("subscription.auth_refresh_attempt", zap.String("manager", e.name))
		if rerr := e.hooks.authRefresh(ctx); rerr == nil {
			obs, failures, err = e.fetch(ctx, subjects)
		}
	}
	if err != nil {
		e.failTick(dueIDs, err, now)
		return
	}

	metrics.IncPollTick(e.name, "ok")
	metrics.SetLastPoll(e.name, now)

	for _, o := range obs {
		subject := e.hooks.subjectOf(o)
		old, existed := e.reg.recordObservation(subject, o)
		if existed && !e.hooks.equal(old, o) {
			e.dispatchChange(subject, old, o, now)
		}
		if e.hooks.afterObservation != nil {
			e.hooks.afterObservation(subject, o, now)
		}
	}

	okIDs := dueIDs
	if len(failures) > 0 {
		okIDs = e.failSubjects(dueIDs, failures, now)
	}
	e.reg.markPolled(okIDs, now)
}

// dispatchChange fans one observed change out to every ACTIVE subscriber of
// the subject. PAUSED subscribers are skipped but keep the observation
// tracked. Delivery is re-checked at execution time so a subscription
// unsubscribed while the job was queued receives nothing.
func (e *engine[S, O]) dispatchChange(subject S, old O, obs O, at time.Time) {
	for _, snap := range e.reg.subscribersOf(subject) {
		if snap.status != StatusActive {
			continue
		}
		id, cb := snap.id, snap.cb
		oldCopy, obsCopy := old, obs
		e.disp.submit(id, cb.kind, func() {
			if !e.reg.deliverable(id) {
				return
			}
			e.reg.touchEvent(id, at)
			cb.fn(id, subject, &oldCopy, &obsCopy, at, nil)
		})
	}
}

// failTick applies the retry policy after a wholesale fetch failure.
// Subscriptions that exhausted their budget move to ERROR and receive one
// final event carrying the terminal cause, so wait_* callers are not
// stranded.
func (e *engine[S, O]) failTick(dueIDs []string, fetchErr error, now time.Time) {
	metrics.IncPollTick(e.name, "error")
	e.logger.Warn("subscription.poll_failed",
		zap.String("manager", e.name),
		zap.Int("due_subscriptions", len(dueIDs)),
		zap.String("kind", string(apierr.KindOf(fetchErr))),
		zap.Error(fetchErr))

	hint, _ := apierr.RetryAfterOf(fetchErr)
	e.emitErrored(e.reg.markFailed(dueIDs, now, hint), fetchErr, now)
	metrics.SetActiveSubscriptions(e.name, e.reg.activeCount())
}

// failSubjects applies the retry policy to the due subscriptions whose
// subjects failed individually while the rest of the batch succeeded, and
// returns the ids whose subjects all succeeded so only those reset their
// failure counts.
func (e *engine[S, O]) failSubjects(dueIDs []string, failures map[S]error, now time.Time) []string {
	okIDs := make([]string, 0, len(dueIDs))
	for _, id := range dueIDs {
		info, ok := e.reg.info(id)
		if !ok {
			continue
		}
		var cause error
		for _, subject := range info.Subjects {
			if ferr, failed := failures[subject]; failed {
				cause = ferr
				break
			}
		}
		if cause == nil {
			okIDs = append(okIDs, id)
			continue
		}
		e.logger.Warn("subscription.subject_poll_failed",
			zap.String("manager", e.name),
			zap.String("subscription_id", id),
			zap.String("kind", string(apierr.KindOf(cause))),
			zap.Error(cause))
		hint, _ := apierr.RetryAfterOf(cause)
		e.emitErrored(e.reg.markFailed([]string{id}, now, hint), cause, now)
	}
	metrics.SetActiveSubscriptions(e.name, e.reg.activeCount())
	return okIDs
}

// emitErrored dispatches the final error event for each subscription that
// just moved to ERROR and releases its waiters. The queued job rechecks the
// registry so an unsubscribe racing the dispatch suppresses the callback.
func (e *engine[S, O]) emitErrored(errored []erroredSub[S, O], cause error, now time.Time) {
	for _, es := range errored {
		e.logger.Warn("subscription.entered_error_state",
			zap.String("manager", e.name),
			zap.String("subscription_id", es.id),
			zap.Error(cause))

		id, cb, subject := es.id, es.cb, es.subjects[0]
		e.disp.submit(id, cb.kind, func() {
			if !e.reg.exists(id) {
				return
			}
			cb.fn(id, subject, nil, nil, now, cause)
		})
		if e.hooks.onRemoved != nil {
			e.hooks.onRemoved(es.id, es.subjects, cause)
		}
	}
}

// ─── Generic manager operations (shared by both managers) ────────────────────

// subscribe registers a new ACTIVE subscription due immediately, so unseen
// subjects get their first observation seeded on the next wake.
func (e *engine[S, O]) subscribe(subjects []S, cb callback[S, O], cfg Config) (string, error) {
	if len(subjects) == 0 {
		return "", apierr.ErrEmptySubscription
	}
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	now := e.clk.Now()
	sub := &subscription[S, O]{
		id:        uuid.NewString(),
		subjects:  subjects,
		cb:        cb,
		config:    cfg,
		status:    StatusActive,
		nextDueAt: now,
		createdAt: now,
	}
	e.reg.add(sub)
	metrics.SetActiveSubscriptions(e.name, e.reg.activeCount())

	e.logger.Debug("subscription.created",
		zap.String("manager", e.name),
		zap.String("subscription_id", sub.id),
		zap.Int("subjects", len(subjects)),
		zap.Float64("polling_frequency_seconds", cfg.PollingFrequencySeconds))

	e.poke()
	return sub.id, nil
}

// unsubscribe removes a subscription. After it returns, no new callback for
// the id will start; one already-running dispatch may complete.
func (e *engine[S, O]) unsubscribe(id string) bool {
	info, ok := e.reg.info(id)
	if !ok {
		return false
	}
	if !e.reg.remove(id) {
		return false
	}
	if e.hooks.onRemoved != nil {
		e.hooks.onRemoved(id, info.Subjects, &apierr.WaitCancelledError{Reason: "unsubscribed"})
	}
	metrics.SetActiveSubscriptions(e.name, e.reg.activeCount())
	e.logger.Debug("subscription.removed",
		zap.String("manager", e.name),
		zap.String("subscription_id", id))
	return true
}

// unsubscribeAll removes every subscription.
func (e *engine[S, O]) unsubscribeAll() {
	removed := e.reg.removeAll()
	for _, sub := range removed {
		if e.hooks.onRemoved != nil {
			e.hooks.onRemoved(sub.id, sub.subjects, &apierr.WaitCancelledError{Reason: "unsubscribed"})
		}
	}
	metrics.SetActiveSubscriptions(e.name, 0)
}

// pause stops dispatching and polling for a subscription without removing it.
func (e *engine[S, O]) pause(id string) bool {
	return e.reg.pause(id)
}

// resume reactivates a PAUSED or ERROR subscription; the next tick catches up.
func (e *engine[S, O]) resume(id string) bool {
	if !e.reg.resume(id) {
		return false
	}
	metrics.SetActiveSubscriptions(e.name, e.reg.activeCount())
	e.poke()
	return true
}

// setPollingFrequency updates a subscription's polling frequency. It returns
// false for an unknown id and an error for an out-of-range frequency.
func (e *engine[S, O]) setPollingFrequency(id string, seconds float64) (bool, error) {
	if err := validateFrequency(seconds); err != nil {
		return false, err
	}
	if !e.reg.setFrequency(id, seconds) {
		return false, nil
	}
	e.poke()
	return true, nil
}

func (e *engine[S, O]) activeSubscriptions() []string {
	return e.reg.activeIDs()
}

func (e *engine[S, O]) subscriptionInfo(id string) (Info[S], bool) {
	return e.reg.info(id)
}
