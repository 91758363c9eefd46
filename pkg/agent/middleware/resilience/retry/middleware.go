package retry

import (
	"context"

	"civagent/pkg/agent/llm"
)

// Middleware wraps an LLM client with the policy's bounded retry.
func Middleware(policy *Policy) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				var resp llm.CompletionResponse
				err := policy.Do(ctx, func(ctx context.Context) error {
					var err error
					resp, err = next.Complete(ctx, req)
					return err
				})
				if err != nil {
					return llm.CompletionResponse{}, err
				}
				return resp, nil
			},
			next.GetModelName,
		)
	}
}
