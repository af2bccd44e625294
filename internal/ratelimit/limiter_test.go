package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_MinimumInterval(t *testing.T) {
	t.Parallel()

	// 10 per second = one permit every 100ms.
	l := New(10)
	ctx := context.Background()

	// First permit is immediate.
	start := time.Now()
	require.NoError(t, l.Wait(ctx))
	if d := time.Since(start); d > 50*time.Millisecond {
		t.Logf("warning: first wait took %v", d)
	}

	// Subsequent permits are spaced by at least ~100ms even with
	// concurrent waiters.
	var mu sync.Mutex
	var grants []time.Time
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, l.Wait(ctx))
			mu.Lock()
			grants = append(grants, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, grants, 3)
	for i := 1; i < len(grants); i++ {
		gap := grants[i].Sub(grants[i-1])
		assert.GreaterOrEqual(t, gap, 80*time.Millisecond, "grant %d too close", i)
	}
}

func TestLimiter_ContextCancellation(t *testing.T) {
	t.Parallel()

	l := New(1)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, l.Wait(ctx))
	cancel()
	assert.Error(t, l.Wait(ctx))
}

func TestLimiter_Unlimited(t *testing.T) {
	t.Parallel()

	l := New(0)
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), time.Second)
}
