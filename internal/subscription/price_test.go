package subscription

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/public-sdk/pkg/apierr"
	"github.com/Checker-Finance/public-sdk/pkg/model"
)

type quoteFetchFunc func(ctx context.Context, instruments []model.Instrument) ([]model.Quote, error)

func (f quoteFetchFunc) FetchQuotes(ctx context.Context, instruments []model.Instrument) ([]model.Quote, error) {
	return f(ctx, instruments)
}

func eq(symbol string) model.Instrument {
	return model.Instrument{Symbol: symbol, Type: model.InstrumentEquity}
}

func quoteAt(symbol, last string) model.Quote {
	d := decimal.RequireFromString(last)
	return model.Quote{Instrument: eq(symbol), Last: &d, Outcome: model.QuoteSuccess}
}

func fastCfg() *Config {
	cfg := DefaultConfig()
	cfg.PollingFrequencySeconds = 0.1
	return &cfg
}

func testOpts() Options {
	return Options{Workers: 2, QueueSize: 64}
}

// eventSink collects dispatched events behind a mutex.
type eventSink struct {
	mu     sync.Mutex
	events []PriceChange
}

func (s *eventSink) add(ev PriceChange) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *eventSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *eventSink) at(i int) PriceChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[i]
}

func TestPriceManager_DispatchesOnlyOnChange(t *testing.T) {
	var calls atomic.Int32
	fetch := quoteFetchFunc(func(_ context.Context, _ []model.Instrument) ([]model.Quote, error) {
		price := "150.00"
		if calls.Add(1) >= 3 {
			price = "151.00"
		}
		return []model.Quote{quoteAt("AAPL", price)}, nil
	})

	m := NewPriceManager(zap.NewNop(), fetch, testOpts())
	defer m.Stop()

	sink := &eventSink{}
	id, err := m.Subscribe([]model.Instrument{eq("AAPL")}, SyncPrice(sink.add), fastCfg())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool { return sink.len() >= 1 }, 3*time.Second, 20*time.Millisecond)

	// The first observation seeds silently and repeats dispatch nothing.
	time.Sleep(400 * time.Millisecond)
	require.Equal(t, 1, sink.len(), "equal polls must not dispatch")

	ev := sink.at(0)
	assert.Equal(t, id, ev.SubscriptionID)
	assert.Equal(t, eq("AAPL"), ev.Instrument)
	require.NotNil(t, ev.OldQuote)
	require.NotNil(t, ev.NewQuote)
	assert.True(t, ev.OldQuote.Last.Equal(decimal.RequireFromString("150.00")))
	assert.True(t, ev.NewQuote.Last.Equal(decimal.RequireFromString("151.00")))
	assert.NoError(t, ev.Err)
}

func TestPriceManager_SubscribeValidation(t *testing.T) {
	fetch := quoteFetchFunc(func(_ context.Context, _ []model.Instrument) ([]model.Quote, error) {
		return nil, nil
	})
	m := NewPriceManager(zap.NewNop(), fetch, testOpts())
	defer m.Stop()

	_, err := m.Subscribe(nil, SyncPrice(func(PriceChange) {}), nil)
	assert.ErrorIs(t, err, apierr.ErrEmptySubscription)

	_, err = m.Subscribe([]model.Instrument{{Symbol: "  "}}, SyncPrice(func(PriceChange) {}), nil)
	assert.ErrorIs(t, err, apierr.ErrEmptySubscription)

	bad := DefaultConfig()
	bad.PollingFrequencySeconds = 0.05
	_, err = m.Subscribe([]model.Instrument{eq("AAPL")}, SyncPrice(func(PriceChange) {}), &bad)
	assert.ErrorIs(t, err, apierr.ErrInvalidPollingFrequency)
}

func TestPriceManager_UnknownIDs(t *testing.T) {
	fetch := quoteFetchFunc(func(_ context.Context, _ []model.Instrument) ([]model.Quote, error) {
		return nil, nil
	})
	m := NewPriceManager(zap.NewNop(), fetch, testOpts())
	defer m.Stop()

	assert.False(t, m.Unsubscribe("nope"))
	assert.False(t, m.Pause("nope"))
	assert.False(t, m.Resume("nope"))

	ok, err := m.SetPollingFrequency("nope", 1.0)
	assert.False(t, ok)
	assert.NoError(t, err)

	_, err = m.SetPollingFrequency("nope", 999)
	assert.ErrorIs(t, err, apierr.ErrInvalidPollingFrequency)

	_, found := m.GetSubscriptionInfo("nope")
	assert.False(t, found)
}

func TestPriceManager_UnsubscribeStopsDelivery(t *testing.T) {
	var calls atomic.Int32
	fetch := quoteFetchFunc(func(_ context.Context, _ []model.Instrument) ([]model.Quote, error) {
		// A new price every poll, so delivery only stops when the
		// subscription is gone.
		return []model.Quote{quoteAt("AAPL", fmt.Sprintf("%d.00", 100+calls.Add(1)))}, nil
	})

	m := NewPriceManager(zap.NewNop(), fetch, testOpts())
	defer m.Stop()

	sink := &eventSink{}
	id, err := m.Subscribe([]model.Instrument{eq("AAPL")}, SyncPrice(sink.add), fastCfg())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return sink.len() >= 1 }, 3*time.Second, 20*time.Millisecond)
	require.True(t, m.Unsubscribe(id))

	seen := sink.len()
	time.Sleep(400 * time.Millisecond)
	assert.LessOrEqual(t, sink.len(), seen+1, "at most one in-flight event may land after unsubscribe")
	assert.Empty(t, m.GetActiveSubscriptions())
}

func TestPriceManager_SharedSubjectFetchedOnce(t *testing.T) {
	var mu sync.Mutex
	var batches [][]model.Instrument
	var calls atomic.Int32
	fetch := quoteFetchFunc(func(_ context.Context, instruments []model.Instrument) ([]model.Quote, error) {
		mu.Lock()
		batches = append(batches, instruments)
		mu.Unlock()
		return []model.Quote{quoteAt("AAPL", fmt.Sprintf("%d.00", 100+calls.Add(1)))}, nil
	})

	m := NewPriceManager(zap.NewNop(), fetch, testOpts())
	defer m.Stop()

	sink1, sink2 := &eventSink{}, &eventSink{}
	_, err := m.Subscribe([]model.Instrument{eq("AAPL")}, SyncPrice(sink1.add), fastCfg())
	require.NoError(t, err)
	_, err = m.Subscribe([]model.Instrument{eq("aapl ")}, SyncPrice(sink2.add), fastCfg())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return sink1.len() >= 1 && sink2.len() >= 1
	}, 3*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, batch := range batches {
		assert.LessOrEqual(t, len(batch), 1, "the shared subject must be deduplicated per tick")
	}
}

func TestPriceManager_PauseSuppressesDelivery(t *testing.T) {
	var calls atomic.Int32
	fetch := quoteFetchFunc(func(_ context.Context, _ []model.Instrument) ([]model.Quote, error) {
		return []model.Quote{quoteAt("AAPL", fmt.Sprintf("%d.00", 100+calls.Add(1)))}, nil
	})

	m := NewPriceManager(zap.NewNop(), fetch, testOpts())
	defer m.Stop()

	sink := &eventSink{}
	id, err := m.Subscribe([]model.Instrument{eq("AAPL")}, SyncPrice(sink.add), fastCfg())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return sink.len() >= 1 }, 3*time.Second, 20*time.Millisecond)
	require.True(t, m.Pause(id))

	info, ok := m.GetSubscriptionInfo(id)
	require.True(t, ok)
	assert.Equal(t, StatusPaused, info.Status)
	assert.NotContains(t, m.GetActiveSubscriptions(), id)

	time.Sleep(300 * time.Millisecond)
	seen := sink.len()
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, seen, sink.len(), "no delivery while paused")

	require.True(t, m.Resume(id))
	require.Eventually(t, func() bool { return sink.len() > seen }, 3*time.Second, 20*time.Millisecond)
}

func TestPriceManager_AuthFailureRefreshesOnce(t *testing.T) {
	var authFailures atomic.Int32
	authFailures.Store(1)
	fetch := quoteFetchFunc(func(_ context.Context, _ []model.Instrument) ([]model.Quote, error) {
		if authFailures.Load() > 0 {
			return nil, apierr.FromStatus(401, "token expired")
		}
		return []model.Quote{quoteAt("AAPL", "150.00")}, nil
	})

	var refreshes atomic.Int32
	opts := testOpts()
	opts.AuthRefresh = func(context.Context) error {
		refreshes.Add(1)
		authFailures.Store(0)
		return nil
	}

	m := NewPriceManager(zap.NewNop(), fetch, opts)
	defer m.Stop()

	id, err := m.Subscribe([]model.Instrument{eq("AAPL")}, SyncPrice(func(PriceChange) {}), fastCfg())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return refreshes.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	assert.EqualValues(t, 1, refreshes.Load())

	// The refreshed tick succeeded, so the failure never counted.
	info, ok := m.GetSubscriptionInfo(id)
	require.True(t, ok)
	assert.Equal(t, StatusActive, info.Status)
	assert.Equal(t, 0, info.ConsecutiveFailures)
}

func TestPriceManager_ExhaustedRetriesDeliverFinalError(t *testing.T) {
	fetch := quoteFetchFunc(func(_ context.Context, _ []model.Instrument) ([]model.Quote, error) {
		return nil, apierr.FromStatus(500, "upstream down")
	})

	m := NewPriceManager(zap.NewNop(), fetch, testOpts())
	defer m.Stop()

	sink := &eventSink{}
	cfg := fastCfg()
	cfg.MaxRetries = 1
	id, err := m.Subscribe([]model.Instrument{eq("AAPL")}, SyncPrice(sink.add), cfg)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return sink.len() >= 1 }, 5*time.Second, 20*time.Millisecond)

	ev := sink.at(0)
	assert.Equal(t, id, ev.SubscriptionID)
	require.Error(t, ev.Err)
	assert.Equal(t, apierr.KindServer, apierr.KindOf(ev.Err))
	assert.Nil(t, ev.OldQuote)
	assert.Nil(t, ev.NewQuote)

	info, ok := m.GetSubscriptionInfo(id)
	require.True(t, ok)
	assert.Equal(t, StatusError, info.Status)
	assert.NotContains(t, m.GetActiveSubscriptions(), id)
}

func TestPriceManager_StressSubscribeUnsubscribe(t *testing.T) {
	fetch := quoteFetchFunc(func(_ context.Context, instruments []model.Instrument) ([]model.Quote, error) {
		quotes := make([]model.Quote, 0, len(instruments))
		for _, in := range instruments {
			quotes = append(quotes, quoteAt(in.Symbol, "100.00"))
		}
		return quotes, nil
	})

	m := NewPriceManager(zap.NewNop(), fetch, testOpts())
	defer m.Stop()

	var wg sync.WaitGroup
	for g := 0; g < 5; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				symbol := fmt.Sprintf("SYM%d", g)
				id, err := m.Subscribe([]model.Instrument{eq(symbol)}, SyncPrice(func(PriceChange) {}), fastCfg())
				assert.NoError(t, err)
				assert.True(t, m.Unsubscribe(id))
			}
		}(g)
	}
	wg.Wait()

	assert.Empty(t, m.GetActiveSubscriptions())
}

func TestPriceManager_StopSurvivesBackloggedDispatcher(t *testing.T) {
	// A stuck subscriber fills its one-slot queue until the scheduler blocks
	// enqueueing. Stop must not close the queues under the blocked send; it
	// times out, leaves the pool running, and the shutdown completes once
	// the subscriber recovers.
	var calls atomic.Int32
	fetch := quoteFetchFunc(func(_ context.Context, _ []model.Instrument) ([]model.Quote, error) {
		return []model.Quote{quoteAt("AAPL", fmt.Sprintf("%d.00", 100+calls.Add(1)))}, nil
	})

	m := NewPriceManager(zap.NewNop(), fetch, Options{Workers: 1, QueueSize: 1})
	defer m.Stop()

	entered := make(chan struct{})
	release := make(chan struct{})
	var enteredOnce, releaseOnce sync.Once
	releaseAll := func() { releaseOnce.Do(func() { close(release) }) }
	defer releaseAll()

	_, err := m.Subscribe([]model.Instrument{eq("AAPL")}, SyncPrice(func(PriceChange) {
		enteredOnce.Do(func() { close(entered) })
		<-release
	}), fastCfg())
	require.NoError(t, err)

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("no event arrived")
	}
	// Let the queue fill and the scheduler block on the next enqueue.
	time.Sleep(500 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		m.Stop()
		close(stopped)
	}()
	go func() {
		// Keep the subscriber stuck past the stop grace so the shutdown has
		// to take the timeout path while the send is still blocked.
		time.Sleep(stopGrace + 500*time.Millisecond)
		releaseAll()
	}()

	select {
	case <-stopped:
	case <-time.After(stopGrace + 3*time.Second):
		t.Fatal("Stop never returned")
	}
	assert.Empty(t, m.GetActiveSubscriptions())
}

func TestPriceManager_StopIsIdempotent(t *testing.T) {
	fetch := quoteFetchFunc(func(_ context.Context, _ []model.Instrument) ([]model.Quote, error) {
		return nil, nil
	})
	m := NewPriceManager(zap.NewNop(), fetch, testOpts())

	_, err := m.Subscribe([]model.Instrument{eq("AAPL")}, SyncPrice(func(PriceChange) {}), fastCfg())
	require.NoError(t, err)

	m.Stop()
	m.Stop()
	assert.Empty(t, m.GetActiveSubscriptions())
}
