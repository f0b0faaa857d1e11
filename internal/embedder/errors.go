package embedder

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// TransientError marks a failure that is worth retrying: rate limits,
// server-side errors, timeouts. The retry helper backs off and tries again.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// FatalError marks a failure that retrying cannot fix: bad credentials,
// malformed requests, unknown models. The retry helper gives up immediately.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// Classify wraps err as transient or fatal based on the HTTP status code.
// 429 and 5xx are transient, every other non-2xx status is fatal. The
// generation client applies the same split to chat model failures.
func Classify(status int, err error) error {
	if status == http.StatusTooManyRequests || status >= 500 {
		return &TransientError{Err: err}
	}
	return &FatalError{Err: err}
}

// RetryPolicy holds the backoff parameters shared by the embedding backends
// and the generation client.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy bounds retries against production APIs.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:      3,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     10 * time.Second,
}

// Retry runs op with exponential backoff. Fatal errors and context
// cancellation stop the retry loop immediately; everything else is retried
// up to the policy's limit.
func Retry(ctx context.Context, policy RetryPolicy, op func() error) error {
	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		var fatal *FatalError
		if errors.As(err, &fatal) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialInterval
	b.MaxInterval = policy.MaxInterval

	return backoff.Retry(wrapped, backoff.WithContext(
		backoff.WithMaxRetries(b, policy.MaxRetries), ctx))
}
