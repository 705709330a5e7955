// Package retry provides the bounded exponential-backoff loop used for
// part transfers and transient coordinator calls.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Policy bounds a retry loop: at most Attempts tries, sleeping
// BaseDelay after the first failure and doubling after each one, with
// up to 25% random jitter added to each sleep.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
}

// DefaultPolicy matches the transfer defaults: 5 attempts starting at
// 800ms.
var DefaultPolicy = Policy{Attempts: 5, BaseDelay: 800 * time.Millisecond}

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so Do stops immediately instead of burning the
// remaining attempts on a failure that cannot heal.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs fn until it succeeds, the attempt budget is exhausted, fn
// returns a Permanent error, or ctx is cancelled. It returns the last
// error observed, unwrapped of any Permanent marker.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.BaseDelay

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if i == attempts-1 {
			break
		}
		timer := time.NewTimer(jitterUp(delay, 0.25))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
		delay *= 2
	}
	return err
}

// jitterUp adds random jitter that only increases the duration, so
// retries keep a minimum spacing without synchronizing across workers.
func jitterUp(base time.Duration, fraction float64) time.Duration {
	if fraction <= 0 {
		return base
	}
	return base + time.Duration(rand.Float64()*float64(base)*fraction)
}
