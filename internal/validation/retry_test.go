package validation

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recordedSleeps struct {
	delays []time.Duration
}

func (r *recordedSleeps) sleep(_ context.Context, delay time.Duration) error {
	r.delays = append(r.delays, delay)
	return nil
}

func TestRetryExhaustsAttemptsWithExponentialDelays(t *testing.T) {
	sleeps := &recordedSleeps{}
	core, logs := observer.New(zapcore.WarnLevel)
	failure := errors.New("upstream unavailable")
	calls := 0

	_, err := Retry(context.Background(), RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Sleep:       sleeps.sleep,
		Logger:      zap.New(core),
	}, func(context.Context) (string, error) {
		calls++
		return "", failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if len(sleeps.delays) != 2 || sleeps.delays[0] != time.Second || sleeps.delays[1] != 2*time.Second {
		t.Fatalf("unexpected delays %v", sleeps.delays)
	}
	if logs.FilterMessage("retry attempt failed").Len() != 3 {
		t.Fatalf("expected a warning per failed attempt, got %d", logs.Len())
	}
}

func TestRetryStopsOnFirstSuccess(t *testing.T) {
	sleeps := &recordedSleeps{}
	calls := 0
	var observed []int

	value, err := Retry(context.Background(), RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   10 * time.Millisecond,
		Sleep:       sleeps.sleep,
		OnAttempt:   func(attempt int, _ error) { observed = append(observed, attempt) },
	}, func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != 42 || calls != 2 {
		t.Fatalf("unexpected value %d after %d calls", value, calls)
	}
	if len(sleeps.delays) != 1 || sleeps.delays[0] != 10*time.Millisecond {
		t.Fatalf("unexpected delays %v", sleeps.delays)
	}
	if len(observed) != 2 || observed[1] != 2 {
		t.Fatalf("unexpected attempt observations %v", observed)
	}
}

func TestRetryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	failure := errors.New("first failure")

	_, err := Retry(ctx, RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Sleep: func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		},
	}, func(context.Context) (struct{}, error) {
		return struct{}{}, failure
	})
	if !errors.Is(err, failure) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected joined failure and cancellation, got %v", err)
	}
}

func TestRetryRejectsEmptyPolicy(t *testing.T) {
	if _, err := Retry(context.Background(), RetryPolicy{}, func(context.Context) (int, error) { return 1, nil }); !errors.Is(err, errNoAttempts) {
		t.Fatalf("expected no attempts error, got %v", err)
	}
}

func TestDelayDoublesFromBase(t *testing.T) {
	policy := RetryPolicy{BaseDelay: 500 * time.Millisecond}
	if policy.Delay(0) != 500*time.Millisecond || policy.Delay(2) != 2*time.Second {
		t.Fatalf("unexpected delays %v %v", policy.Delay(0), policy.Delay(2))
	}
}
