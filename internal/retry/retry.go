// Package retry applies one backoff policy to every document store call.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/example/dentalsrs/internal/errs"
)

// Policy configures retries of transient store failures.
type Policy struct {
	MaxAttempts    uint
	InitialWait    time.Duration
	MaxWait        time.Duration
	Multiplier     float64
	AttemptTimeout time.Duration

	// Retryable decides which errors are retried. Defaults to errs.IsTransient.
	Retryable func(error) bool
	// OnRetry is called before each wait, e.g. to count retries.
	OnRetry func(op string, err error)

	Logger *zap.Logger
}

// DefaultPolicy returns four attempts with exponential backoff from 100ms.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    4,
		InitialWait:    100 * time.Millisecond,
		MaxWait:        2 * time.Second,
		Multiplier:     2,
		AttemptTimeout: 5 * time.Second,
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. Each attempt gets its own timeout.
func Do[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	retryable := p.Retryable
	if retryable == nil {
		retryable = errs.IsTransient
	}
	log := p.Logger
	if log == nil {
		log = zap.NewNop()
	}

	attempt := func() (T, error) {
		actx := ctx
		if p.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
			defer cancel()
		}
		v, err := fn(actx)
		if err != nil && !retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	b := backoff.NewExponentialBackOff()
	if p.InitialWait > 0 {
		b.InitialInterval = p.InitialWait
	}
	if p.MaxWait > 0 {
		b.MaxInterval = p.MaxWait
	}
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}

	maxAttempts := p.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 1
	}

	return backoff.Retry(ctx, attempt,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(maxAttempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			log.Warn("retrying store operation",
				zap.String("op", op),
				zap.Duration("wait", wait),
				zap.Error(err))
			if p.OnRetry != nil {
				p.OnRetry(op, err)
			}
		}),
	)
}

// Exec is Do for operations without a result.
func Exec(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
