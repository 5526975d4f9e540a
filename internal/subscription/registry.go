package subscription

import (
	"sync"
	"time"
)

// registry is the sole mutable shared structure of a manager. It keeps the
// subscription records, a subject index for fan-out, and the last observation
// per subject. All operations serialize on one mutex; critical sections never
// perform I/O or invoke callbacks.
type registry[S comparable, O any] struct {
	mu        sync.Mutex
	subs      map[string]*subscription[S, O]
	bySubject map[S]map[string]struct{}
	lastObs   map[S]O
}

func newRegistry[S comparable, O any]() *registry[S, O] {
	return &registry[S, O]{
		subs:      make(map[string]*subscription[S, O]),
		bySubject: make(map[S]map[string]struct{}),
		lastObs:   make(map[S]O),
	}
}

func (r *registry[S, O]) add(sub *subscription[S, O]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.subs[sub.id] = sub
	for _, subject := range sub.subjects {
		ids, ok := r.bySubject[subject]
		if !ok {
			ids = make(map[string]struct{})
			r.bySubject[subject] = ids
		}
		ids[sub.id] = struct{}{}
	}
}

// remove unlinks a subscription from both indexes and evicts last
// observations for subjects that lost their final subscriber.
func (r *registry[S, O]) remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[id]
	if !ok {
		return false
	}
	sub.status = StatusCancelled
	delete(r.subs, id)
	r.unlinkSubjectsLocked(sub)
	return true
}

func (r *registry[S, O]) unlinkSubjectsLocked(sub *subscription[S, O]) {
	for _, subject := range sub.subjects {
		if ids, ok := r.bySubject[subject]; ok {
			delete(ids, sub.id)
			if len(ids) == 0 {
				delete(r.bySubject, subject)
				delete(r.lastObs, subject)
			}
		}
	}
}

// removeAll cancels every subscription and clears all indexes. It returns the
// removed records so the caller can notify waiters outside the lock.
func (r *registry[S, O]) removeAll() []*subscription[S, O] {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := make([]*subscription[S, O], 0, len(r.subs))
	for _, sub := range r.subs {
		sub.status = StatusCancelled
		removed = append(removed, sub)
	}
	r.subs = make(map[string]*subscription[S, O])
	r.bySubject = make(map[S]map[string]struct{})
	r.lastObs = make(map[S]O)
	return removed
}

func (r *registry[S, O]) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

func (r *registry[S, O]) activeIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for id, sub := range r.subs {
		if sub.status == StatusActive {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *registry[S, O]) activeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, sub := range r.subs {
		if sub.status == StatusActive {
			n++
		}
	}
	return n
}

// info returns an immutable snapshot of one subscription.
func (r *registry[S, O]) info(id string) (Info[S], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[id]
	if !ok {
		return Info[S]{}, false
	}
	subjects := make([]S, len(sub.subjects))
	copy(subjects, sub.subjects)
	return Info[S]{
		ID:                  sub.id,
		Status:              sub.status,
		Subjects:            subjects,
		Config:              sub.config,
		ConsecutiveFailures: sub.consecutiveFailures,
		CreatedAt:           sub.createdAt,
		LastEventAt:         sub.lastEventAt,
	}, true
}

// pause flips an ACTIVE subscription to PAUSED. It returns false when no
// transition happened, including for subscriptions already PAUSED or in
// ERROR.
func (r *registry[S, O]) pause(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[id]
	if !ok || sub.status != StatusActive {
		return false
	}
	sub.status = StatusPaused
	return true
}

// resume flips a PAUSED or ERROR subscription back to ACTIVE and resets its
// failure count. NextDueAt is left untouched; the next tick catches up.
func (r *registry[S, O]) resume(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[id]
	if !ok {
		return false
	}
	if sub.status == StatusPaused || sub.status == StatusError {
		sub.status = StatusActive
		sub.consecutiveFailures = 0
	}
	return true
}

func (r *registry[S, O]) setFrequency(id string, seconds float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[id]
	if !ok {
		return false
	}
	sub.config.PollingFrequencySeconds = seconds
	return true
}

// exists reports whether the subscription is still registered, whatever its
// status. Queued final-error dispatches check it so an unsubscribe racing
// the dispatch suppresses the callback.
func (r *registry[S, O]) exists(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.subs[id]
	return ok
}

// deliverable reports whether a queued dispatch for id may still run.
func (r *registry[S, O]) deliverable(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[id]
	return ok && sub.status == StatusActive
}

func (r *registry[S, O]) touchEvent(id string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sub, ok := r.subs[id]; ok {
		sub.lastEventAt = at
	}
}

// collectDue returns the deduplicated subjects referenced by at least one
// ACTIVE subscription whose deadline has passed, plus the ids of those due
// subscriptions.
func (r *registry[S, O]) collectDue(now time.Time) ([]S, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	seen := make(map[S]struct{})
	var subjects []S
	for id, sub := range r.subs {
		if sub.status != StatusActive || sub.nextDueAt.After(now) {
			continue
		}
		ids = append(ids, id)
		for _, subject := range sub.subjects {
			if _, ok := seen[subject]; !ok {
				seen[subject] = struct{}{}
				subjects = append(subjects, subject)
			}
		}
	}
	return subjects, ids
}

// nextWake returns how long the scheduler should sleep from now: the time
// until the earliest deadline of an ACTIVE subscription, or idleSleep when
// nothing is active.
func (r *registry[S, O]) nextWake(now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	var earliest time.Time
	for _, sub := range r.subs {
		if sub.status != StatusActive {
			continue
		}
		if earliest.IsZero() || sub.nextDueAt.Before(earliest) {
			earliest = sub.nextDueAt
		}
	}
	if earliest.IsZero() {
		return idleSleep
	}
	d := earliest.Sub(now)
	if d < 0 {
		return 0
	}
	if d > idleSleep {
		// Stay responsive to newly added subscriptions even while a long
		// deadline is pending; the wake channel covers most cases but a
		// bounded sleep keeps the loop from oversleeping across races.
		return idleSleep
	}
	return d
}

// recordObservation stores obs as the latest value for subject and returns
// the prior one, if any. Subjects without subscribers are not tracked.
func (r *registry[S, O]) recordObservation(subject S, obs O) (O, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero O
	if ids, ok := r.bySubject[subject]; !ok || len(ids) == 0 {
		return zero, false
	}
	old, existed := r.lastObs[subject]
	r.lastObs[subject] = obs
	if !existed {
		return zero, false
	}
	return old, true
}

// lastObservation returns the seeded observation for subject, if any.
func (r *registry[S, O]) lastObservation(subject S) (O, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	obs, ok := r.lastObs[subject]
	return obs, ok
}

// subscriberSnapshot is the per-subscription data a dispatch needs, copied
// out so callbacks run outside the lock.
type subscriberSnapshot[S comparable, O any] struct {
	id     string
	status Status
	cb     callback[S, O]
}

func (r *registry[S, O]) subscribersOf(subject S) []subscriberSnapshot[S, O] {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids, ok := r.bySubject[subject]
	if !ok {
		return nil
	}
	snaps := make([]subscriberSnapshot[S, O], 0, len(ids))
	for id := range ids {
		if sub, ok := r.subs[id]; ok {
			snaps = append(snaps, subscriberSnapshot[S, O]{id: id, status: sub.status, cb: sub.cb})
		}
	}
	return snaps
}

// markPolled resets failure counts and advances deadlines for the given
// subscriptions after a successful fetch.
func (r *registry[S, O]) markPolled(ids []string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range ids {
		if sub, ok := r.subs[id]; ok && sub.status == StatusActive {
			sub.consecutiveFailures = 0
			sub.nextDueAt = now.Add(sub.config.Interval())
		}
	}
}

// erroredSub carries what the engine needs to synthesize a final error event
// for a subscription that exhausted its retry budget.
type erroredSub[S comparable, O any] struct {
	id       string
	subjects []S
	cb       callback[S, O]
}

// markFailed applies the retry policy to every due subscription after a
// failed fetch. hint, when positive, is a server-provided minimum delay that
// overrides a smaller computed backoff. Subscriptions that exhausted their
// budget (or have retries disabled) move to ERROR and are returned so the
// caller can emit their final events outside the lock.
func (r *registry[S, O]) markFailed(ids []string, now time.Time, hint time.Duration) []erroredSub[S, O] {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errored []erroredSub[S, O]
	for _, id := range ids {
		sub, ok := r.subs[id]
		if !ok || sub.status != StatusActive {
			continue
		}
		sub.consecutiveFailures++
		if sub.config.RetryOnError && sub.consecutiveFailures <= sub.config.MaxRetries {
			delay := sub.config.backoffDelay(sub.consecutiveFailures)
			if hint > delay {
				delay = hint
			}
			sub.nextDueAt = now.Add(delay)
			continue
		}
		sub.status = StatusError
		subjects := make([]S, len(sub.subjects))
		copy(subjects, sub.subjects)
		errored = append(errored, erroredSub[S, O]{id: id, subjects: subjects, cb: sub.cb})
	}
	return errored
}
