// Package timeout bounds each model request with its own deadline.
package timeout

import (
	"context"
	"time"

	"civagent/pkg/agent/llm"
)

// Middleware gives every request at most d. A non-positive d disables the bound.
func Middleware(d time.Duration) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		if d <= 0 {
			return next
		}
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				ctx, cancel := context.WithTimeout(ctx, d)
				defer cancel()
				return next.Complete(ctx, req)
			},
			next.GetModelName,
		)
	}
}
