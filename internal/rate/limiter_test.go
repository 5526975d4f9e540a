package rate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_AllowConsumesBurst(t *testing.T) {
	l := New(Config{RequestsPerSecond: 1, Burst: 3})

	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow(), "burst exhausted")
}

func TestLimiter_Refills(t *testing.T) {
	l := New(Config{RequestsPerSecond: 50, Burst: 1})

	require.True(t, l.Allow())
	require.False(t, l.Allow())

	time.Sleep(50 * time.Millisecond)
	assert.True(t, l.Allow(), "tokens refill at the configured rate")
}

func TestLimiter_WaitBlocksUntilToken(t *testing.T) {
	l := New(Config{RequestsPerSecond: 20, Burst: 1})
	require.True(t, l.Allow())

	start := time.Now()
	require.NoError(t, l.Wait(context.Background()))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestLimiter_WaitHonorsContextCancel(t *testing.T) {
	// Zero refill rate: Wait can only return via the context.
	l := New(Config{RequestsPerSecond: 0, Burst: 1})
	require.True(t, l.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := l.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestManager_ScopesLimitersPerKey(t *testing.T) {
	m := NewManager(Config{RequestsPerSecond: 1, Burst: 1})

	require.NoError(t, m.Wait(context.Background(), "marketdata"))

	// A different key has its own bucket and is not starved.
	start := time.Now()
	require.NoError(t, m.Wait(context.Background(), "trading"))
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	assert.Same(t, m.GetLimiter("marketdata"), m.GetLimiter("marketdata"))
	assert.NotSame(t, m.GetLimiter("marketdata"), m.GetLimiter("trading"))
}
