package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
)

func TestDoRetriesTransientFailure(t *testing.T) {
	runner := NewRunner(Policy{
		MaxAttempts:    3,
		InitialBackoff: 1 * time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Multiplier:     2,
		BreakerEnabled: false,
	}, nil)

	attempts := 0
	errTransient := errors.New("transient")
	err := runner.Do(context.Background(), "op", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errTransient
		}
		return nil
	}, func(err error) Verdict {
		return Verdict{
			Retryable:     errors.Is(err, errTransient),
			RecordFailure: true,
		}
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestDoStopsOnPermanentFailure(t *testing.T) {
	runner := NewRunner(Policy{
		MaxAttempts:    3,
		InitialBackoff: 1 * time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Multiplier:     2,
		BreakerEnabled: false,
	}, nil)

	attempts := 0
	errPermanent := errors.New("permanent")
	err := runner.Do(context.Background(), "op", func(context.Context) error {
		attempts++
		return errPermanent
	}, func(error) Verdict {
		return Verdict{Retryable: false, RecordFailure: false}
	})
	if !errors.Is(err, errPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestDoReturnsLastErrorWhenBudgetExhausted(t *testing.T) {
	runner := NewRunner(Policy{
		MaxAttempts:    2,
		InitialBackoff: 1 * time.Millisecond,
		MaxBackoff:     1 * time.Millisecond,
		Multiplier:     2,
		BreakerEnabled: false,
	}, nil)

	errTransient := errors.New("transient")
	err := runner.Do(context.Background(), "op", func(context.Context) error {
		return errTransient
	}, func(error) Verdict {
		return Verdict{Retryable: true, RecordFailure: true}
	})
	if !errors.Is(err, errTransient) {
		t.Fatalf("expected transient error after exhausted budget, got %v", err)
	}
}

func TestDoOpensCircuitAfterFailures(t *testing.T) {
	runner := NewRunner(Policy{
		MaxAttempts:         1,
		InitialBackoff:      1 * time.Millisecond,
		MaxBackoff:          1 * time.Millisecond,
		Multiplier:          2,
		BreakerEnabled:      true,
		BreakerMinRequests:  2,
		BreakerFailureRatio: 0.5,
		BreakerOpenTimeout:  50 * time.Millisecond,
		BreakerProbeCalls:   1,
	}, nil)

	errTransient := errors.New("transient")
	classify := func(error) Verdict {
		return Verdict{Retryable: false, RecordFailure: true}
	}

	for i := 0; i < 2; i++ {
		err := runner.Do(context.Background(), "op", func(context.Context) error {
			return errTransient
		}, classify)
		if !errors.Is(err, errTransient) {
			t.Fatalf("expected transient error on iteration %d, got %v", i, err)
		}
	}

	err := runner.Do(context.Background(), "op", func(context.Context) error {
		t.Fatalf("circuit should be open and must not call operation")
		return nil
	}, classify)
	if !IsCircuitOpen(err) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open state error, got %v", err)
	}
}
