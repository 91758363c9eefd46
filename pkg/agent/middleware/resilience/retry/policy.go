// Package retry provides bounded retry with exponential backoff for model, summarizer and
// retrieval calls.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"time"

	"civagent/pkg/agent/llmerrors"
	"civagent/pkg/agent/middleware/resilience/circuit"
	"civagent/pkg/config"
)

// Config defines configuration for retry behavior.
type Config = config.RetryConfig

// Classifier determines if an error should be retried.
type Classifier func(error) bool

// ShouldRetry is the default classifier.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var circuitErr *circuit.Error
	if errors.As(err, &circuitErr) {
		return false
	}
	var llmErr *llmerrors.Error
	if errors.As(err, &llmErr) {
		return llmErr.IsRetryable()
	}
	// Per-request deadlines wrap DeadlineExceeded while the parent context is still live.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "connection", "network", "temporary", "rate", "429", "500", "502", "503", "504", "eof"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// Policy encapsulates retry configuration and logic.
type Policy struct {
	Config     Config
	Classifier Classifier
}

// NewPolicy creates a policy. A nil classifier uses ShouldRetry; MaxAttempts below 1 means 1.
func NewPolicy(cfg Config, classifier Classifier) *Policy {
	if classifier == nil {
		classifier = ShouldRetry
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Policy{Config: cfg, Classifier: classifier}
}

// CalculateDelay computes the delay before the given attempt (1-based). Attempt 1 has none.
func (p *Policy) CalculateDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	factor := p.Config.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	delay := time.Duration(float64(p.Config.InitialDelay) * math.Pow(factor, float64(attempt-2)))
	if p.Config.MaxDelay > 0 && delay > p.Config.MaxDelay {
		delay = p.Config.MaxDelay
	}

	if p.Config.Jitter && delay > 0 {
		//nolint:gosec // jitter does not need a CSPRNG
		jitter := time.Duration((rand.Float64()*0.2 - 0.1) * float64(delay))
		delay += jitter
	}
	return delay
}

// ShouldRetry applies the configured classifier.
func (p *Policy) ShouldRetry(err error) bool {
	return p.Classifier(err)
}

// Wait sleeps for the delay before attempt, returning early with ctx's error.
func (p *Policy) Wait(ctx context.Context, attempt int) error {
	delay := p.CalculateDelay(attempt)
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

// Do runs fn until it succeeds, returns a non-retryable error, or attempts run out.
// Exhausting attempts on a retryable error yields a ServiceUnavailable error.
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.Config.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := p.Wait(ctx, attempt); err != nil {
				return errors.Join(lastErr, err)
			}
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !p.ShouldRetry(lastErr) {
			return lastErr
		}
	}
	return llmerrors.NewServiceUnavailableError(lastErr, p.Config.MaxAttempts)
}
