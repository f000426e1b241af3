// Package retry re-runs idempotent store reads that failed with a
// retryable apperr kind (timeout or transport).
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/medilink/medilink/internal/platform/apperr"
)

// Policy bounds the exponential backoff used by Do.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy makes three attempts starting at 50ms.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, InitialInterval: 50 * time.Millisecond, MaxInterval: time.Second}
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	eb.MaxElapsedTime = 0

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)
}

// Do runs op until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. The last error from op is returned unchanged.
// If the context ends between attempts, op's last error is returned
// rather than the bare context error, so a timeout stays classified.
func Do(ctx context.Context, p Policy, logger zerolog.Logger, name string, op func(ctx context.Context) error) error {
	attempt := 0
	var last error
	err := backoff.RetryNotify(func() error {
		attempt++
		err := op(ctx)
		last = err
		if err == nil {
			return nil
		}
		if !apperr.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, p.backOff(ctx), func(err error, wait time.Duration) {
		logger.Warn().Err(err).
			Str("op", name).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("retrying store call")
	})
	if err == nil {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if last != nil {
			return last
		}
		return apperr.Wrap(apperr.KindTimeout, name, err)
	}
	return err
}

// Value is Do for operations that return a result.
func Value[T any](ctx context.Context, p Policy, logger zerolog.Logger, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, logger, name, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
