package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock drives the limiter deterministically: sleeps advance the
// clock instead of blocking.
type fakeClock struct {
	now    time.Time
	slept  []time.Duration
	sleeps int
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) install(l *WeightLimiter) {
	l.now = func() time.Time { return c.now }
	l.sleep = func(_ context.Context, d time.Duration) error {
		c.now = c.now.Add(d)
		c.slept = append(c.slept, d)
		c.sleeps++
		return nil
	}
}

func TestLimiterAllowsUnderCeiling(t *testing.T) {
	l := NewWeightLimiter(10, time.Minute)
	clock := newFakeClock()
	clock.install(l)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Wait(ctx, 2))
	}
	assert.Equal(t, 0, clock.sleeps, "calls under the ceiling must not block")
	assert.Equal(t, 10, l.Used())
}

func TestLimiterBlocksAtCeiling(t *testing.T) {
	l := NewWeightLimiter(10, time.Minute)
	clock := newFakeClock()
	clock.install(l)

	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, 10))
	before := clock.now

	// The ceiling is exhausted: this call must wait out the window.
	require.NoError(t, l.Wait(ctx, 5))
	assert.GreaterOrEqual(t, clock.sleeps, 1)
	assert.True(t, clock.now.Sub(before) >= time.Minute,
		"second call must wait for the first entry to leave the window")
	assert.Equal(t, 5, l.Used())
}

func TestLimiterNeverExceedsCeilingWithoutDroppingCalls(t *testing.T) {
	const ceiling = 6
	l := NewWeightLimiter(ceiling, time.Minute)
	clock := newFakeClock()
	clock.install(l)

	ctx := context.Background()
	completed := 0
	for i := 0; i < 12; i++ {
		require.NoError(t, l.Wait(ctx, 2))
		completed++
		assert.LessOrEqual(t, l.Used(), ceiling,
			"consumed weight must never exceed the ceiling")
	}
	assert.Equal(t, 12, completed, "no call may be dropped")
	assert.Greater(t, clock.sleeps, 0, "later calls must have been delayed")
}

func TestLimiterWindowSlides(t *testing.T) {
	l := NewWeightLimiter(10, time.Minute)
	clock := newFakeClock()
	clock.install(l)

	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, 10))

	// After the window passes, the budget is free again.
	clock.now = clock.now.Add(61 * time.Second)
	require.NoError(t, l.Wait(ctx, 10))
	assert.Equal(t, 0, clock.sleeps)
}

func TestLimiterClampsOversizedWeight(t *testing.T) {
	l := NewWeightLimiter(5, time.Minute)
	clock := newFakeClock()
	clock.install(l)

	// Weight above the ceiling must not deadlock.
	require.NoError(t, l.Wait(context.Background(), 50))
	assert.Equal(t, 5, l.Used())
}

func TestLimiterHonorsContextCancellation(t *testing.T) {
	l := NewWeightLimiter(2, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, l.Wait(ctx, 2))
	cancel()

	err := l.Wait(ctx, 2)
	assert.ErrorIs(t, err, context.Canceled)
}
