// Package recovery wraps unreliable operations (provider calls, tool
// executions) with classification-aware retry, exponential backoff, and a
// total elapsed-time budget.
package recovery

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy defines retry and backoff parameters for a single logical operation.
type Policy struct {
	// InitialMs is the initial backoff duration in milliseconds.
	InitialMs float64
	// MaxMs is the maximum backoff duration in milliseconds.
	MaxMs float64
	// Factor is the exponential factor applied per attempt.
	Factor float64
	// Jitter is the randomization factor (0.0 to 1.0) applied to the backoff.
	Jitter float64
	// MaxAttempts caps the number of attempts, including the first.
	MaxAttempts int
	// MaxElapsed terminates retrying early once this much wall time has
	// passed since the first attempt, even if attempts remain. Zero means
	// no elapsed budget.
	MaxElapsed time.Duration
}

// DefaultPolicy returns the standard policy for provider calls.
// Initial: 500ms, Max: 10s, Factor: 2, Jitter: 10%, 3 attempts, 30s budget.
func DefaultPolicy() Policy {
	return Policy{
		InitialMs:   500,
		MaxMs:       10000,
		Factor:      2,
		Jitter:      0.1,
		MaxAttempts: 3,
		MaxElapsed:  30 * time.Second,
	}
}

// SingleAttempt returns a policy that never retries. Used for mutating tools
// that are not declared idempotent-safe.
func SingleAttempt() Policy {
	return Policy{MaxAttempts: 1}
}

// ToolPolicy returns the faster policy used for read-only tool executions.
// Initial: 100ms, Max: 5s, Factor: 2, Jitter: 10%, 3 attempts, 15s budget.
func ToolPolicy() Policy {
	return Policy{
		InitialMs:   100,
		MaxMs:       5000,
		Factor:      2,
		Jitter:      0.1,
		MaxAttempts: 3,
		MaxElapsed:  15 * time.Second,
	}
}

// Backoff calculates the backoff duration before the next attempt.
// The formula is base = initialMs * factor^(attempt-1), plus jitter,
// clamped to MaxMs. Attempt numbers start at 1.
func (p Policy) Backoff(attempt int) time.Duration {
	return p.backoffWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// backoffWithRand computes the backoff using a supplied random value in
// [0.0, 1.0), allowing deterministic tests.
func (p Policy) backoffWithRand(attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := p.InitialMs * math.Pow(p.Factor, exp)
	jitterAmount := base * p.Jitter * randomValue
	total := math.Min(p.MaxMs, base+jitterAmount)
	return time.Duration(math.Round(total)) * time.Millisecond
}

// sleep waits for the backoff duration of the given attempt, respecting
// context cancellation.
func (p Policy) sleep(ctx context.Context, attempt int) error {
	duration := p.Backoff(attempt)
	if duration <= 0 {
		return nil
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
