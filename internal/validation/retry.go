package validation

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = time.Second
)

var errNoAttempts = errors.New("validation: retry policy allows no attempts")

// Sleeper waits for the given duration or until the context ends.
type Sleeper func(ctx context.Context, delay time.Duration) error

// RetryPolicy bounds a retried operation. The wait before attempt n+1 is
// BaseDelay * 2^n (n counted from zero); there is no wait after the last attempt.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Sleep       Sleeper
	Logger      *zap.Logger
	// OnAttempt observes each attempt's error (nil on success).
	OnAttempt func(attempt int, err error)
}

// DefaultRetryPolicy returns three attempts seeded at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: defaultMaxAttempts, BaseDelay: defaultBaseDelay}
}

// Delay returns the wait that follows the given zero-based failed attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	return p.BaseDelay * time.Duration(1<<uint(attempt))
}

// Retry invokes operation until it succeeds or the policy is exhausted, then
// returns the last error. Every failure is retried the same way.
func Retry[T any](ctx context.Context, policy RetryPolicy, operation func(context.Context) (T, error)) (T, error) {
	var zero T
	if policy.MaxAttempts <= 0 {
		return zero, errNoAttempts
	}
	sleep := policy.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	logger := policy.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, errors.Join(lastErr, err)
			}
			return zero, err
		}

		value, err := operation(ctx)
		if policy.OnAttempt != nil {
			policy.OnAttempt(attempt+1, err)
		}
		if err == nil {
			return value, nil
		}
		lastErr = err
		logger.Warn("retry attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", policy.MaxAttempts),
			zap.Error(err))

		if attempt < policy.MaxAttempts-1 {
			if err := sleep(ctx, policy.Delay(attempt)); err != nil {
				return zero, errors.Join(lastErr, err)
			}
		}
	}
	return zero, lastErr
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
