package circuit

import (
	"context"
	"errors"

	"civagent/pkg/agent/llm"
	"civagent/pkg/agent/llmerrors"
)

// Middleware rejects requests while the breaker is open. Only provider-side failures count
// against the circuit; caller cancellations and bad prompts do not.
func Middleware(b *Breaker) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				if !b.Allow() {
					return llm.CompletionResponse{}, &Error{State: b.State()}
				}
				resp, err := next.Complete(ctx, req)
				if err == nil || countsAsFailure(err) {
					b.Record(err == nil)
				}
				return resp, err //nolint:wrapcheck // pass through unchanged
			},
			next.GetModelName,
		)
	}
}

func countsAsFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch llmerrors.TypeOf(err) {
	case llmerrors.ErrorTypeBadPrompt, llmerrors.ErrorTypeAuth:
		return false
	default:
		return true
	}
}
