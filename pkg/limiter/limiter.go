// Package limiter enforces per-model token-per-minute and concurrency limits on model calls
// with a token bucket refilled once per minute.
package limiter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"civagent/pkg/agent/llm"
	"civagent/pkg/agent/llmerrors"
)

var (
	// ErrRateLimit is returned when token rate limits are exceeded.
	ErrRateLimit = errors.New("rate limit exceeded")
	// ErrConcurrencyLimit is returned when every request slot of a model is taken.
	ErrConcurrencyLimit = errors.New("concurrency limit exceeded")
)

// Limiter manages rate limiting across multiple models. Models that were never configured
// are unlimited.
type Limiter struct {
	models map[string]*ModelLimiter
	now    func() time.Time
	mu     sync.RWMutex
}

// ModelLimiter enforces token and concurrency limits for a specific model. Zero limits
// disable the corresponding check.
//
//nolint:govet // Struct layout optimization not critical for this use case
type ModelLimiter struct {
	lastRefill         time.Time
	mu                 sync.Mutex
	name               string
	maxTokensPerMinute int
	maxConcurrent      int
	currentTokens      int
	inFlight           int
}

// NewLimiter creates an empty limiter.
func NewLimiter() *Limiter {
	return &Limiter{models: make(map[string]*ModelLimiter), now: time.Now}
}

// Configure sets the limits of model. Workers share one model limiter, so the first
// configuration wins.
func (l *Limiter) Configure(model string, tokensPerMinute, maxConcurrent int) {
	if tokensPerMinute <= 0 && maxConcurrent <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.models[model]; ok {
		return
	}
	l.models[model] = &ModelLimiter{
		name:               model,
		maxTokensPerMinute: tokensPerMinute,
		maxConcurrent:      maxConcurrent,
		currentTokens:      tokensPerMinute, // Start with full bucket
		lastRefill:         l.now(),
	}
}

func (l *Limiter) get(model string) *ModelLimiter {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.models[model]
}

// Reserve takes tokens from model's bucket.
func (l *Limiter) Reserve(model string, tokens int) error {
	ml := l.get(model)
	if ml == nil {
		return nil
	}
	return ml.reserve(l.now(), tokens)
}

// Acquire takes a request slot for model; pair it with Release.
func (l *Limiter) Acquire(model string) error {
	ml := l.get(model)
	if ml == nil {
		return nil
	}
	return ml.acquire()
}

// Release returns a request slot taken by Acquire.
func (l *Limiter) Release(model string) {
	if ml := l.get(model); ml != nil {
		ml.release()
	}
}

// GetStatus returns the tokens left this minute and the requests in flight.
func (l *Limiter) GetStatus(model string) (tokens, inFlight int, err error) {
	ml := l.get(model)
	if ml == nil {
		return 0, 0, fmt.Errorf("model %s not configured", model)
	}
	ml.mu.Lock()
	defer ml.mu.Unlock()
	ml.refillTokens(l.now())
	return ml.currentTokens, ml.inFlight, nil
}

// reserve caps oversized requests at the bucket size so they can still run on a full bucket.
func (ml *ModelLimiter) reserve(now time.Time, tokens int) error {
	if ml.maxTokensPerMinute <= 0 {
		return nil
	}
	ml.mu.Lock()
	defer ml.mu.Unlock()

	ml.refillTokens(now)
	if tokens > ml.maxTokensPerMinute {
		tokens = ml.maxTokensPerMinute
	}
	if ml.currentTokens < tokens {
		return ErrRateLimit
	}
	ml.currentTokens -= tokens
	return nil
}

func (ml *ModelLimiter) acquire() error {
	if ml.maxConcurrent <= 0 {
		return nil
	}
	ml.mu.Lock()
	defer ml.mu.Unlock()
	if ml.inFlight >= ml.maxConcurrent {
		return ErrConcurrencyLimit
	}
	ml.inFlight++
	return nil
}

func (ml *ModelLimiter) release() {
	if ml.maxConcurrent <= 0 {
		return
	}
	ml.mu.Lock()
	defer ml.mu.Unlock()
	if ml.inFlight > 0 {
		ml.inFlight--
	}
}

func (ml *ModelLimiter) refillTokens(now time.Time) {
	elapsed := now.Sub(ml.lastRefill)
	if elapsed < time.Minute {
		return
	}
	// Refill tokens for each minute that has passed.
	minutes := int(elapsed / time.Minute)
	ml.currentTokens += minutes * ml.maxTokensPerMinute
	if ml.currentTokens > ml.maxTokensPerMinute {
		ml.currentTokens = ml.maxTokensPerMinute
	}
	// Update refill time to the last complete minute.
	ml.lastRefill = ml.lastRefill.Add(time.Duration(minutes) * time.Minute)
}

// Estimator sizes a request in tokens.
type Estimator func(req llm.CompletionRequest) int

// Middleware reserves tokens and a request slot for model before each call. Rejections
// surface as rate-limit errors so the retry middleware backs off and tries again.
func Middleware(l *Limiter, model string, estimate Estimator) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				// The slot comes first so a rejected call never spends tokens.
				if err := l.Acquire(model); err != nil {
					return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeRateLimit, err, "local request slots for "+model)
				}
				defer l.Release(model)
				if err := l.Reserve(model, estimate(req)); err != nil {
					return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeRateLimit, err, "local token budget for "+model)
				}
				return next.Complete(ctx, req)
			},
			next.GetModelName,
		)
	}
}
