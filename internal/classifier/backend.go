package classifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Backend is the contract an LLM classification backend must satisfy. The
// classifier owns all parsing and validation of the returned text.
type Backend interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ErrBackendTimeout indicates a model call exceeded its deadline.
var ErrBackendTimeout = errors.New("classification backend timed out")

// callPlan is the explicit state machine for one risky model call:
// attempt the primary backend, then the fallback backend if configured,
// then surrender to the caller's default value.
type callPlan struct {
	attempts   []callAttempt
	maxRetries int
	timeout    time.Duration
	backoff    time.Duration
	logger     *zap.Logger
}

type callAttempt struct {
	name    string
	backend Backend
}

func newCallPlan(primary, fallback Backend, maxRetries int, timeout time.Duration, logger *zap.Logger) callPlan {
	attempts := []callAttempt{{name: "primary", backend: primary}}
	if fallback != nil {
		attempts = append(attempts, callAttempt{name: "fallback", backend: fallback})
	}
	return callPlan{
		attempts:   attempts,
		maxRetries: maxRetries,
		timeout:    timeout,
		backoff:    500 * time.Millisecond,
		logger:     logger,
	}
}

// run executes the plan and returns the first successful response. The error
// is the last failure after every backend and retry is exhausted; callers
// substitute their default value at that point.
func (p callPlan) run(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for _, att := range p.attempts {
		if att.backend == nil {
			continue
		}
		resp, err := p.callWithRetry(ctx, att, prompt)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		p.logger.Warn("classification backend exhausted, escalating",
			zap.String("backend", att.name),
			zap.Error(err))
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no classification backend configured")
	}
	return "", lastErr
}

func (p callPlan) callWithRetry(ctx context.Context, att callAttempt, prompt string) (string, error) {
	var lastErr error
	backoff := p.backoff
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			p.logger.Debug("retrying model call",
				zap.String("backend", att.name),
				zap.Int("attempt", attempt))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			backoff *= 2
		}

		callCtx, cancel := context.WithTimeout(ctx, p.timeout)
		resp, err := att.backend.Complete(callCtx, prompt)
		cancel()

		if err == nil {
			return resp, nil
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s", ErrBackendTimeout, p.timeout)
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err
	}
	return "", fmt.Errorf("exhausted %d retries: %w", p.maxRetries, lastErr)
}
