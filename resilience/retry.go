package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	DefaultBaseDelay  = 50 * time.Millisecond
	DefaultMaxDelay   = 2 * time.Second
	DefaultMaxRetries = 5
)

// RetryPolicy spaces attempts by min(BaseDelay*2^attempt, MaxDelay) with no
// jitter, giving up after MaxRetries retries.
type RetryPolicy struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries int
}

// DefaultRetryPolicy returns the policy the scan engine uses.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
		MaxRetries: DefaultMaxRetries,
	}
}

// Delay returns the wait before retry number attempt, counting from zero.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		if d >= p.MaxDelay/2 {
			return p.MaxDelay
		}
		d *= 2
	}
	return min(d, p.MaxDelay)
}

// BackOff returns a fresh exponential backoff that produces Delay(0),
// Delay(1), and so on.
func (p RetryPolicy) BackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.BaseDelay
	bo.MaxInterval = p.MaxDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.Reset()
	return bo
}

// Do runs op until it succeeds, returns an error retryable rejects, or the
// retries run out. notify, when set, is called before each retry with the
// error and the wait. The last error is returned.
func Do[T any](ctx context.Context, p RetryPolicy, retryable func(error) bool, op func(attempt int) (T, error), notify func(error, time.Duration)) (T, error) {
	attempt := 0
	operation := func() (T, error) {
		v, err := op(attempt)
		attempt++
		if err != nil && retryable != nil && !retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.BackOff()),
		backoff.WithMaxTries(uint(max(p.MaxRetries, 0)) + 1),
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(notify))
	}
	return backoff.Retry(ctx, operation, opts...)
}
