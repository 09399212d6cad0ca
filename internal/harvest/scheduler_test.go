package harvest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func makeTargets(n int) []Target {
	targets := make([]Target, n)
	for i := range targets {
		targets[i] = Target{Row: i + 2, URL: "https://site.test"}
	}
	return targets
}

func TestSchedulerConcurrencyCeiling(t *testing.T) {
	t.Parallel()

	var active, maxSeen, done atomic.Int32
	sched := NewScheduler(3, 0, 0)
	err := sched.Run(context.Background(), makeTargets(10), func(context.Context, Target) {
		n := active.Add(1)
		for {
			seen := maxSeen.Load()
			if n <= seen || maxSeen.CompareAndSwap(seen, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
		done.Add(1)
	})
	require.NoError(t, err)
	require.Equal(t, int32(10), done.Load())
	require.LessOrEqual(t, maxSeen.Load(), int32(3))
	require.Equal(t, int32(3), maxSeen.Load())
}

func TestSchedulerSleepsJitterAfterEachTask(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		sleeps []time.Duration
		bounds [][2]time.Duration
	)
	sched := NewScheduler(2, 2*time.Second, 5*time.Second,
		WithJitter(func(lo, hi time.Duration) time.Duration {
			mu.Lock()
			bounds = append(bounds, [2]time.Duration{lo, hi})
			mu.Unlock()
			return 3 * time.Second
		}),
		WithSleeper(func(_ context.Context, d time.Duration) {
			mu.Lock()
			sleeps = append(sleeps, d)
			mu.Unlock()
		}),
	)
	require.NoError(t, sched.Run(context.Background(), makeTargets(4), func(context.Context, Target) {}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, sleeps, 4)
	for i := range sleeps {
		require.Equal(t, 3*time.Second, sleeps[i])
		require.Equal(t, [2]time.Duration{2 * time.Second, 5 * time.Second}, bounds[i])
	}
}

func TestSchedulerStopsSubmittingAfterCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Int32
	sched := NewScheduler(1, 0, 0)
	err := sched.Run(ctx, makeTargets(10), func(context.Context, Target) {
		if ran.Add(1) == 2 {
			cancel()
		}
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, ran.Load(), int32(10))
}

func TestUniformJitterBounds(t *testing.T) {
	t.Parallel()

	for i := 0; i < 200; i++ {
		d := uniformJitter(2*time.Second, 5*time.Second)
		require.GreaterOrEqual(t, d, 2*time.Second)
		require.LessOrEqual(t, d, 5*time.Second)
	}
	require.Equal(t, time.Second, uniformJitter(time.Second, time.Second))
	require.Equal(t, 2*time.Second, NewScheduler(0, 2*time.Second, time.Second).delayMax)
}
