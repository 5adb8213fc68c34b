package exchange

import (
	"context"
	"sync"
	"time"
)

// WeightLimiter tracks consumed request weight over a sliding window and
// blocks callers just long enough to stay under the ceiling. The exchange
// meters requests by weight per minute, not by count, so every call
// declares its cost up front.
//
// The limiter is the one piece of shared mutable state in the pipeline;
// it is owned by the Client, never a package-level singleton, so tests
// can build isolated limiters with tiny ceilings.
type WeightLimiter struct {
	mu      sync.Mutex
	ceiling int
	window  time.Duration
	entries []weightEntry

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

type weightEntry struct {
	at     time.Time
	weight int
}

// NewWeightLimiter creates a limiter for the given weight ceiling per
// sliding window.
func NewWeightLimiter(ceiling int, window time.Duration) *WeightLimiter {
	return &WeightLimiter{
		ceiling: ceiling,
		window:  window,
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// Wait blocks until consuming weight would not exceed the ceiling, then
// records the consumption. A weight larger than the ceiling is clamped
// rather than deadlocking.
func (l *WeightLimiter) Wait(ctx context.Context, weight int) error {
	if weight > l.ceiling {
		weight = l.ceiling
	}

	for {
		l.mu.Lock()
		now := l.now()
		l.prune(now)

		if l.used()+weight <= l.ceiling {
			l.entries = append(l.entries, weightEntry{at: now, weight: weight})
			l.mu.Unlock()
			return nil
		}

		// Sleep until the oldest entry leaves the window, then re-check.
		wait := l.entries[0].at.Add(l.window).Sub(now)
		l.mu.Unlock()

		if wait <= 0 {
			wait = time.Millisecond
		}
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Used returns the weight currently consumed within the window.
func (l *WeightLimiter) Used() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return l.used()
}

func (l *WeightLimiter) used() int {
	total := 0
	for _, e := range l.entries {
		total += e.weight
	}
	return total
}

func (l *WeightLimiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.entries) && !l.entries[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		l.entries = append(l.entries[:0], l.entries[i:]...)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
