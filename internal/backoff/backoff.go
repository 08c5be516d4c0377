// Package backoff provides exponential backoff with jitter for the
// controller's tool retry path.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// Initial is the delay before the first retry.
	Initial time.Duration
	// Max caps the computed delay.
	Max time.Duration
	// Factor is the exponential factor applied per attempt.
	Factor float64
	// Jitter is the randomization fraction (0.0 to 1.0) added to the delay.
	Jitter float64
}

// Default returns the policy used for in-iteration tool retries.
// Initial: 100ms, Max: 5s, Factor: 2, Jitter: 10%.
func Default() Policy {
	return Policy{
		Initial: 100 * time.Millisecond,
		Max:     5 * time.Second,
		Factor:  2,
		Jitter:  0.1,
	}
}

// Delay calculates the backoff duration for a given attempt number.
// Attempt numbers start at 1: delay = initial * factor^(attempt-1), plus
// jitter, clamped to Max.
func Delay(p Policy, attempt int) time.Duration {
	return delayWithRand(p, attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// delayWithRand computes the delay using a provided random value in
// [0.0, 1.0), kept separate so tests are deterministic.
func delayWithRand(p Policy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.Initial) * math.Pow(p.Factor, exp)
	withJitter := base + base*p.Jitter*randomValue
	return time.Duration(math.Min(float64(p.Max), withJitter))
}

// Sleep computes the delay for the attempt and sleeps, respecting context
// cancellation. Returns nil when the sleep completed, ctx.Err() otherwise.
func Sleep(ctx context.Context, p Policy, attempt int) error {
	d := Delay(p, attempt)
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
