// Package retry re-runs store reads that failed with a transient error.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/emiliopalmerini/abassign/internal/domain"
)

// Policy bounds the exponential backoff applied to transient failures.
type Policy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy retries three times starting at 20ms.
var DefaultPolicy = Policy{
	MaxRetries:      3,
	InitialInterval: 20 * time.Millisecond,
	MaxInterval:     250 * time.Millisecond,
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		exp.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, p.MaxRetries), ctx)
}

// Do runs op until it succeeds, fails with a non-transient error, or the
// policy is exhausted. The last error is returned unchanged.
func Do(ctx context.Context, p Policy, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if err != nil && !domain.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, p.backOff(ctx))
}

// Get is Do for operations returning a value.
func Get[T any](ctx context.Context, p Policy, op func() (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func() error {
		v, err := op()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
