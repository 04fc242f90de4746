// Package fixedwindow evaluates a single fixed-window counter against a
// CounterStore. Every rate limit dimension shares this algorithm; only the
// key, the maximum and the window differ.
package fixedwindow

import (
	"context"
	"math"
	"time"

	"authguard/internal/ratelimit/ports"
)

// Outcome is the state of one counter after a check.
type Outcome struct {
	Allowed   bool
	Count     int
	Max       int
	Remaining int
	// ResetIn is the whole seconds until the window closes.
	ResetIn int
}

// Check reads the counter at key and, when below limit, counts the request.
// A counter whose TTL is absent or not positive belongs to an expired
// window and counts as zero. A denied request is not counted, so the stored
// count never grows past limit except under concurrent increments.
func Check(ctx context.Context, store ports.CounterStore, key string, limit int, window time.Duration) (Outcome, error) {
	count, found, err := store.Get(ctx, key)
	if err != nil {
		return Outcome{}, err
	}
	ttl, err := store.TTL(ctx, key)
	if err != nil {
		return Outcome{}, err
	}
	if !found || ttl <= 0 {
		count = 0
	}

	if int(count) >= limit {
		return Outcome{
			Allowed:   false,
			Count:     int(count),
			Max:       limit,
			Remaining: 0,
			ResetIn:   seconds(ttl),
		}, nil
	}

	n, err := store.IncrementWithExpiry(ctx, key, window)
	if err != nil {
		return Outcome{}, err
	}
	resetIn := seconds(window)
	if count > 0 {
		resetIn = seconds(ttl)
	}
	return Outcome{
		Allowed:   true,
		Count:     int(n),
		Max:       limit,
		Remaining: max(0, limit-int(n)),
		ResetIn:   resetIn,
	}, nil
}

// seconds rounds a positive duration up to whole seconds; negative TTL
// sentinels mean no active window.
func seconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
