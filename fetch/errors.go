package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrCircuitOpen is returned without touching the network while an
// endpoint's breaker is open. It means "try later", not "the call failed".
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrorKind is the closed classification of upstream failures. Raw errors
// are mapped to a kind exactly once, by Classify, at the point where they
// first enter the system; nothing downstream shape-checks raw errors.
type ErrorKind string

const (
	// KindNetwork: connection refused, reset, DNS failure. Retryable.
	KindNetwork ErrorKind = "network"

	// KindTimeout: the attempt ran out of time. Retryable.
	KindTimeout ErrorKind = "timeout"

	// KindRateLimit: the endpoint pushed back. Retryable, honoring the
	// server's retry-after hint when one was provided.
	KindRateLimit ErrorKind = "rate_limit"

	// KindContract: the ledger rejected the call semantically (group not
	// found, already contributed, unauthorized). Retrying cannot help.
	KindContract ErrorKind = "contract"

	// KindValidation: the request itself was malformed. Not retryable.
	KindValidation ErrorKind = "validation"

	// KindUnknown: anything unrecognized. Retryable, as the conservative
	// default: a transient blip we cannot name should not fail the UI
	// when one more attempt would have served it.
	KindUnknown ErrorKind = "unknown"
)

// Error is the typed failure every fetch surfaces. The original cause is
// always attached and reachable through errors.Is/As.
type Error struct {
	Kind       ErrorKind
	Endpoint   string
	RetryAfter time.Duration // rate-limit hint, zero when absent
	Err        error
}

func (e *Error) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("fetch %s (%s): %v", e.Endpoint, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch (%s): %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether another attempt could plausibly succeed.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindContract, KindValidation:
		return false
	default:
		return true
	}
}

// Constructors for the RPC shim to pre-classify failures it understands
// better than a generic mapping could.

func NetworkError(err error) *Error    { return &Error{Kind: KindNetwork, Err: err} }
func TimeoutError(err error) *Error    { return &Error{Kind: KindTimeout, Err: err} }
func ContractError(err error) *Error   { return &Error{Kind: KindContract, Err: err} }
func ValidationError(err error) *Error { return &Error{Kind: KindValidation, Err: err} }

// RateLimitError carries the server's retry-after hint; pass zero when
// the response had none and the backoff schedule applies instead.
func RateLimitError(err error, retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimit, RetryAfter: retryAfter, Err: err}
}

/*
Classify funnels a raw upstream error into the closed taxonomy.

Order matters: an already-classified *Error passes through untouched so a
shim's judgment is never second-guessed, context deadlines map to
timeouts, and recognizable transport failures map to network errors.
Everything else is unknown and therefore retryable.
*/
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return TimeoutError(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return TimeoutError(err)
		}
		return NetworkError(err)
	}

	return &Error{Kind: KindUnknown, Err: err}
}
