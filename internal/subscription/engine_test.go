package subscription

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/public-sdk/pkg/apierr"
	"github.com/Checker-Finance/public-sdk/pkg/model"
)

// The scheduler takes its time source from Options, so these tests pin it to
// a fake clock: polls may only happen when the clock is advanced, never
// because wall time passed.

func TestScheduler_PollsOnlyWhenClockAdvances(t *testing.T) {
	t0 := time.Date(2026, 8, 24, 9, 30, 0, 0, time.UTC)
	tc := testclock.NewClock(t0)

	var fetches atomic.Int32
	fetch := quoteFetchFunc(func(_ context.Context, _ []model.Instrument) ([]model.Quote, error) {
		return []model.Quote{quoteAt("AAPL", fmt.Sprintf("%d.00", 100+fetches.Add(1)))}, nil
	})

	opts := testOpts()
	opts.Clock = tc
	m := NewPriceManager(zap.NewNop(), fetch, opts)
	defer m.Stop()

	cfg := DefaultConfig() // 5s polling frequency
	id, err := m.Subscribe([]model.Instrument{eq("AAPL")}, SyncPrice(func(PriceChange) {}), &cfg)
	require.NoError(t, err)

	// The first observation is seeded immediately, without a clock advance.
	require.Eventually(t, func() bool { return fetches.Load() == 1 }, 3*time.Second, 10*time.Millisecond)

	// No amount of wall time triggers another poll while the clock stands still.
	time.Sleep(150 * time.Millisecond)
	require.EqualValues(t, 1, fetches.Load())

	// Re-waking the scheduler must not disturb its timer accounting.
	ok, err := m.SetPollingFrequency(id, 5.0)
	require.NoError(t, err)
	require.True(t, ok)
	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 1, fetches.Load())

	require.Eventually(t, func() bool {
		_ = tc.WaitAdvance(5*time.Second, 100*time.Millisecond, 1)
		return fetches.Load() >= 3
	}, 5*time.Second, 10*time.Millisecond)
}

func TestScheduler_RetryWaitsForClockNotWallTime(t *testing.T) {
	t0 := time.Date(2026, 8, 24, 9, 30, 0, 0, time.UTC)
	tc := testclock.NewClock(t0)

	var fetches atomic.Int32
	fetch := quoteFetchFunc(func(_ context.Context, _ []model.Instrument) ([]model.Quote, error) {
		fetches.Add(1)
		return nil, apierr.FromStatus(500, "upstream down")
	})

	opts := testOpts()
	opts.Clock = tc
	m := NewPriceManager(zap.NewNop(), fetch, opts)
	defer m.Stop()

	cfg := DefaultConfig()
	cfg.MaxRetries = 10
	id, err := m.Subscribe([]model.Instrument{eq("AAPL")}, SyncPrice(func(PriceChange) {}), &cfg)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		info, ok := m.GetSubscriptionInfo(id)
		return ok && info.ConsecutiveFailures == 1
	}, 3*time.Second, 10*time.Millisecond)
	require.EqualValues(t, 1, fetches.Load())

	// The failure is recorded but no retry fires until the clock moves past
	// the backoff deadline.
	time.Sleep(150 * time.Millisecond)
	require.EqualValues(t, 1, fetches.Load())

	require.Eventually(t, func() bool {
		_ = tc.WaitAdvance(5*time.Second, 100*time.Millisecond, 1)
		return fetches.Load() >= 2
	}, 5*time.Second, 10*time.Millisecond)

	info, ok := m.GetSubscriptionInfo(id)
	require.True(t, ok)
	assert.Equal(t, StatusActive, info.Status)
	assert.GreaterOrEqual(t, info.ConsecutiveFailures, 1)
}

func TestScheduler_AlignedSubscriptionsShareOneBatch(t *testing.T) {
	t0 := time.Date(2026, 8, 24, 9, 30, 0, 0, time.UTC)
	tc := testclock.NewClock(t0)

	var mu sync.Mutex
	var batches [][]model.Instrument
	var calls atomic.Int32
	fetch := quoteFetchFunc(func(_ context.Context, instruments []model.Instrument) ([]model.Quote, error) {
		mu.Lock()
		batch := make([]model.Instrument, len(instruments))
		copy(batch, instruments)
		batches = append(batches, batch)
		mu.Unlock()

		n := calls.Add(1)
		quotes := make([]model.Quote, 0, len(instruments))
		for _, in := range instruments {
			quotes = append(quotes, quoteAt(in.Symbol, fmt.Sprintf("%d.00", 100+n)))
		}
		return quotes, nil
	})

	opts := testOpts()
	opts.Clock = tc
	m := NewPriceManager(zap.NewNop(), fetch, opts)
	defer m.Stop()

	// Two subscriptions at the same frequency: the frozen clock keeps their
	// deadlines aligned, so each tick fetches both subjects in one batch.
	cfg := DefaultConfig()
	_, err := m.Subscribe([]model.Instrument{eq("AAPL")}, SyncPrice(func(PriceChange) {}), &cfg)
	require.NoError(t, err)
	_, err = m.Subscribe([]model.Instrument{eq("MSFT")}, SyncPrice(func(PriceChange) {}), &cfg)
	require.NoError(t, err)

	hasPair := func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, b := range batches {
			if len(b) == 2 {
				return true
			}
		}
		return false
	}
	require.Eventually(t, func() bool {
		_ = tc.WaitAdvance(5*time.Second, 100*time.Millisecond, 1)
		return hasPair()
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, b := range batches {
		assert.LessOrEqual(t, len(b), 2, "a subject is never fetched twice per tick")
		if len(b) == 2 {
			assert.ElementsMatch(t, []model.Instrument{eq("AAPL"), eq("MSFT")}, b)
		}
	}
}
