// Package retry runs HTTP calls with bounded exponential backoff and
// classifies responses into transient and permanent failures.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds how often and how long an operation is retried.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy retries four times in total, starting at 500ms and capping
// at 10s between attempts.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 4, InitialInterval: 500 * time.Millisecond, MaxInterval: 10 * time.Second}
}

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("%s: status %d: %s", e.URL, e.Status, e.Body)
}

// Transient reports whether a retry might succeed: server errors, request
// timeouts and rate limiting.
func (e *StatusError) Transient() bool {
	return e.Status >= 500 || e.Status == http.StatusRequestTimeout || e.Status == http.StatusTooManyRequests
}

// Permanent marks err so Do returns it without retrying.
func Permanent(err error) error { return backoff.Permanent(err) }

// Do calls op until it succeeds, returns a permanent error, the context ends,
// or the policy's attempts are exhausted. A *StatusError that is not
// Transient is treated as permanent. onRetry, when set, runs before every
// retry.
func Do(ctx context.Context, p Policy, onRetry func(err error, wait time.Duration), op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = 0

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)

	wrapped := func() error {
		err := op()
		var se *StatusError
		if errors.As(err, &se) && !se.Transient() {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		if onRetry != nil {
			onRetry(err, wait)
		}
	}

	err := backoff.RetryNotify(wrapped, policy, notify)
	if err != nil && ctx.Err() != nil && !errors.Is(err, ctx.Err()) {
		return fmt.Errorf("%w: %w", ctx.Err(), err)
	}
	return err
}
