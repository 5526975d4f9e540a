package subscription

import (
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/public-sdk/internal/metrics"
)

// dispatchJob is one callback invocation queued for a worker.
type dispatchJob struct {
	subscriptionID string
	run            func()
}

// dispatcher invokes subscriber callbacks on a bounded worker pool. Jobs for
// the same subscription always land on the same worker, which preserves
// per-subscription ordering; async callbacks are routed to a single deferred
// loop instead so the workers never block on them.
//
// Enqueueing blocks when a queue is full: the scheduler slows to the pace of
// the slowest subscriber rather than buffering without bound.
type dispatcher struct {
	logger   *zap.Logger
	manager  string
	queues   []chan dispatchJob
	deferred chan dispatchJob
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func newDispatcher(logger *zap.Logger, manager string, workers, queueSize int) *dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}

	d := &dispatcher{
		logger:   logger,
		manager:  manager,
		queues:   make([]chan dispatchJob, workers),
		deferred: make(chan dispatchJob, queueSize),
	}
	for i := range d.queues {
		d.queues[i] = make(chan dispatchJob, queueSize)
		d.wg.Add(1)
		go d.worker(d.queues[i])
	}
	d.wg.Add(1)
	go d.worker(d.deferred)
	return d
}

// submit queues one callback invocation. Sync callbacks go to the worker
// owned by the subscription's hash; async callbacks go to the deferred loop.
// Only the scheduler goroutine submits, so stop() may close the queues once
// the scheduler has exited.
func (d *dispatcher) submit(subscriptionID string, kind CallbackKind, run func()) {
	job := dispatchJob{subscriptionID: subscriptionID, run: run}
	metrics.IncDispatch(d.manager, string(kind))
	if kind == KindAsync {
		d.deferred <- job
		return
	}
	d.queues[d.workerIndex(subscriptionID)] <- job
}

func (d *dispatcher) workerIndex(subscriptionID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(subscriptionID))
	return int(h.Sum32() % uint32(len(d.queues)))
}

func (d *dispatcher) worker(queue chan dispatchJob) {
	defer d.wg.Done()
	for job := range queue {
		d.invoke(job)
	}
}

// invoke runs one callback with failure isolation: a panicking callback is
// logged and counted but never disturbs the pool or the scheduler.
func (d *dispatcher) invoke(job dispatchJob) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.IncCallbackError(d.manager)
			d.logger.Error("subscription.callback_panicked",
				zap.String("manager", d.manager),
				zap.String("subscription_id", job.subscriptionID),
				zap.Any("panic", rec))
		}
	}()
	job.run()
}

// stop closes the queues and waits for in-flight callbacks to drain, up to
// the grace period. Must only be called after the scheduler goroutine exited.
func (d *dispatcher) stop(grace time.Duration) {
	d.stopOnce.Do(func() {
		for _, q := range d.queues {
			close(q)
		}
		close(d.deferred)

		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(grace):
			d.logger.Warn("subscription.dispatch_drain_timeout",
				zap.String("manager", d.manager),
				zap.Duration("grace", grace))
		}
	})
}
