package fetch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sudo-robi/soroban-ajo-sub002/metrics"
	"github.com/sudo-robi/soroban-ajo-sub002/types"
)

/*
Fetcher wraps arbitrary upstream calls with retry and a per-endpoint
circuit breaker.

Layering, outermost first:

 1. The breaker: while open, calls fail immediately with ErrCircuitOpen
    and the network is never touched.
 2. The retry loop: retryable failures are retried on the backoff
    schedule; non-retryable ones surface at once without consuming
    retries.
 3. Each attempt runs under its own deadline (RetryPolicy.AttemptTimeout)
    nested inside the caller's context.

The breaker counts whole calls, not attempts: one Execute that exhausted
its retries is one failure.
*/
type Fetcher struct {
	mu       sync.Mutex
	breakers map[string]*breaker

	policy     RetryPolicy
	breakerCfg BreakerConfig
	sink       metrics.Sink
	log        *zap.Logger

	// Swappable in tests so backoff schedules run instantly and
	// deterministically.
	now    func() time.Time
	jitter func(time.Duration) time.Duration
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a fetcher. Nil sink and logger default to no-ops.
func New(policy RetryPolicy, breakerCfg BreakerConfig, sink metrics.Sink, log *zap.Logger) *Fetcher {
	if sink == nil {
		sink = metrics.NoopSink{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Fetcher{
		breakers:   make(map[string]*breaker),
		policy:     policy,
		breakerCfg: breakerCfg,
		sink:       sink,
		log:        log,
		now:        time.Now,
		jitter:     defaultJitter,
		sleep:      sleepCtx,
	}
}

/*
Execute runs fn against the named endpoint under the full resilience
stack. On success it returns fn's value; on failure it returns a typed
*Error (or ErrCircuitOpen without any network activity).
*/
func (f *Fetcher) Execute(ctx context.Context, endpoint string, fn types.FetchFunc) (any, error) {
	br := f.breakerFor(endpoint)

	if err := br.allow(); err != nil {
		f.log.Debug("circuit open, failing fast", zap.String("endpoint", endpoint))
		return nil, err
	}

	v, ferr := f.attemptAll(ctx, endpoint, fn)
	if ferr != nil {
		br.onFailure()
		return nil, ferr
	}
	br.onSuccess()
	return v, nil
}

// attemptAll is the retry loop for one logical call.
func (f *Fetcher) attemptAll(ctx context.Context, endpoint string, fn types.FetchFunc) (any, *Error) {
	var last *Error

	for attempt := 0; attempt <= f.policy.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, f.classified(endpoint, err)
		}

		v, rawErr := f.runAttempt(ctx, fn)
		if rawErr == nil {
			return v, nil
		}

		last = f.classified(endpoint, rawErr)
		if !last.Retryable() || attempt == f.policy.MaxRetries {
			break
		}
		// A canceled caller should not burn through the remaining
		// retries against a context that is already dead.
		if ctx.Err() != nil {
			break
		}

		delay := f.policy.backoff(attempt, last, f.jitter)
		f.log.Debug("retrying fetch",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.String("kind", string(last.Kind)))

		if err := f.sleep(ctx, delay); err != nil {
			break
		}
	}
	return nil, last
}

func (f *Fetcher) runAttempt(ctx context.Context, fn types.FetchFunc) (any, error) {
	if f.policy.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.policy.AttemptTimeout)
		defer cancel()
	}
	return fn(ctx)
}

func (f *Fetcher) classified(endpoint string, raw error) *Error {
	e := Classify(raw)
	if e.Endpoint == "" {
		e.Endpoint = endpoint
	}
	return e
}

// Stats returns a snapshot of every known breaker, keyed by endpoint.
func (f *Fetcher) Stats() map[string]BreakerStats {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string]BreakerStats, len(f.breakers))
	for ep, br := range f.breakers {
		out[ep] = br.stats()
	}
	return out
}

func (f *Fetcher) breakerFor(endpoint string) *breaker {
	f.mu.Lock()
	defer f.mu.Unlock()

	br, ok := f.breakers[endpoint]
	if !ok {
		br = newBreaker(endpoint, f.breakerCfg, f.now, f.reportStateChange)
		f.breakers[endpoint] = br
	}
	return br
}

func (f *Fetcher) reportStateChange(endpoint string, from, to CircuitState) {
	f.log.Info("circuit state change",
		zap.String("endpoint", endpoint),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	f.sink.Report(metrics.EventCircuitState, metrics.Payload{
		"endpoint": endpoint,
		"from":     string(from),
		"to":       string(to),
	})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
