// Package backoff provides the delay strategies used when the relay
// resubscribes to the bus, when the recorder retries a store write, and
// when a client re-opens its push stream. All strategies are stateless
// and safe for concurrent use.
package backoff

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before attempt n (1-indexed).
// Attempt 1 is the first retry after the initial failure.
type Strategy interface {
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay regardless of attempt number.
// The reconciliation layer polls on a Constant schedule.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	return capped(e.Initial, e.Max, attempt)
}

// ──────────────────────────────────────────────────
// ExponentialWithJitter (equal jitter)
// ──────────────────────────────────────────────────

// ExponentialWithJitter spreads reconnect storms: half of the capped
// exponential delay is fixed and the other half is random.
// Delay is in [base/2, base] where base = min(Initial * 2^(attempt-1), Max).
// The lower bound keeps a burst of failed reconnects from spinning.
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay}
}

// Delay returns a random duration in [base/2, base].
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	base := capped(e.Initial, e.Max, attempt)
	half := base / 2
	return half + time.Duration(rand.Float64()*float64(base-half)) //nolint:gosec // jitter intentionally uses non-crypto rand
}

func capped(initial, maxDelay time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(initial) * math.Pow(2, float64(attempt-1))
	if maxDelay > 0 && d > float64(maxDelay) {
		return maxDelay
	}
	return time.Duration(d)
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// Sleep waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// DefaultStrategy returns the reconnect backoff used when none is
// configured: ExponentialWithJitter with 500ms initial and 30s max.
func DefaultStrategy() Strategy {
	return NewExponentialWithJitter(500*time.Millisecond, 30*time.Second)
}
