package fetch

import (
	"math"
	"math/rand"
	"time"
)

/*
RetryPolicy controls the inner retry loop of one fetch.

The schedule is classic exponential backoff with additive jitter:

	delay(attempt) = BaseDelay × Multiplier^attempt + random(0, JitterMax)

Jitter is additive rather than proportional because the thing it defends
against here is a page-load thundering herd: dozens of components asking
for the same handful of group views at the same instant.
*/
type RetryPolicy struct {
	// MaxRetries is how many times a failed attempt is retried.
	// 0 means a single attempt, no retries.
	MaxRetries int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// Multiplier grows the delay between consecutive retries.
	Multiplier float64

	// JitterMax bounds the random component added to every delay.
	JitterMax time.Duration

	// AttemptTimeout bounds each individual network attempt. This is the
	// per-call suspension point, distinct from the breaker's cooldown.
	// Zero disables the per-attempt deadline.
	AttemptTimeout time.Duration
}

// DefaultRetryPolicy returns the schedule the deployment profiles start
// from: three retries, 200ms base, doubling, up to 100ms of jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		BaseDelay:      200 * time.Millisecond,
		Multiplier:     2.0,
		JitterMax:      100 * time.Millisecond,
		AttemptTimeout: 10 * time.Second,
	}
}

// backoff returns the delay before retrying after the given zero-based
// attempt. A rate-limited failure with a server hint overrides the
// schedule entirely: the server told us when to come back.
func (p RetryPolicy) backoff(attempt int, last *Error, jitter func(time.Duration) time.Duration) time.Duration {
	if last != nil && last.Kind == KindRateLimit && last.RetryAfter > 0 {
		return last.RetryAfter
	}

	mult := p.Multiplier
	if mult <= 0 {
		mult = 1
	}
	delay := time.Duration(float64(p.BaseDelay) * math.Pow(mult, float64(attempt)))
	return delay + jitter(p.JitterMax)
}

// defaultJitter draws uniformly from [0, max). Jitter needs no
// cryptographic randomness.
func defaultJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}
