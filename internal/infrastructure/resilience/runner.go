package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Verdict tells the runner how to treat a failure. Retryable failures are
// attempted again with backoff; only failures that RecordFailure count
// toward tripping the operation's circuit breaker.
type Verdict struct {
	Retryable     bool
	RecordFailure bool
}

type Classify func(err error) Verdict

// Runner wraps an unreliable call with retry and a per-operation circuit
// breaker. One Runner is shared by all callers hitting the same backend.
type Runner struct {
	policy Policy
	logger *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

func NewRunner(policy Policy, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		policy:   policy.normalize(),
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

func (r *Runner) Do(ctx context.Context, operation string, fn func(context.Context) error, classify Classify) error {
	if fn == nil {
		return fmt.Errorf("resilience: operation callback is nil")
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	if classify == nil {
		classify = strictClassify
	}

	if !r.policy.BreakerEnabled {
		return r.doWithRetry(ctx, op, fn, classify)
	}

	breaker := r.breaker(op, classify)
	_, err := breaker.Execute(func() (any, error) {
		return nil, r.doWithRetry(ctx, op, fn, classify)
	})
	return err
}

func (r *Runner) doWithRetry(ctx context.Context, operation string, fn func(context.Context) error, classify Classify) error {
	backoff := r.policy.InitialBackoff

	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		verdict := classify(lastErr)
		if !verdict.Retryable || attempt == r.policy.MaxAttempts {
			return lastErr
		}

		wait := backoff
		if wait > r.policy.MaxBackoff {
			wait = r.policy.MaxBackoff
		}
		r.logger.Warn("retry_attempt",
			"operation", operation,
			"attempt", attempt,
			"max_attempts", r.policy.MaxAttempts,
			"backoff_ms", wait.Milliseconds(),
			"error", lastErr,
		)

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return lastErr
			case <-timer.C:
			}
		}

		backoff = time.Duration(float64(backoff) * r.policy.Multiplier)
		if backoff > r.policy.MaxBackoff {
			backoff = r.policy.MaxBackoff
		}
	}

	return lastErr
}

func (r *Runner) breaker(operation string, classify Classify) *gobreaker.CircuitBreaker[any] {
	r.mu.Lock()
	defer r.mu.Unlock()

	if breaker, ok := r.breakers[operation]; ok {
		return breaker
	}

	settings := gobreaker.Settings{
		Name:        operation,
		MaxRequests: r.policy.BreakerProbeCalls,
		Timeout:     r.policy.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < r.policy.BreakerMinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= r.policy.BreakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			return !classify(err).RecordFailure
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.logger.Warn("circuit_breaker_state_change",
				"operation", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}

	breaker := gobreaker.NewCircuitBreaker[any](settings)
	r.breakers[operation] = breaker
	return breaker
}

func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func strictClassify(error) Verdict {
	return Verdict{Retryable: false, RecordFailure: true}
}
