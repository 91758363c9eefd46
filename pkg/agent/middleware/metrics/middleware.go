package metrics

import (
	"context"
	"errors"
	"time"

	"civagent/pkg/agent/llm"
	"civagent/pkg/agent/llmerrors"
	"civagent/pkg/agent/middleware/resilience/circuit"
	"civagent/pkg/logx"
	"civagent/pkg/utils"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

type actorKey struct{}

// WithActor labels requests made with ctx as belonging to actor.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the actor label carried by ctx, or "".
func ActorFrom(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}

// UsageExtractor extracts token usage from a request and response.
type UsageExtractor func(model string, req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int)

// DefaultUsageExtractor trusts provider-reported usage and counts with tiktoken otherwise.
func DefaultUsageExtractor(model string, req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int) {
	if resp.Usage.PromptTokens > 0 || resp.Usage.CompletionTokens > 0 {
		return resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	}

	counter, err := utils.NewTokenCounter(model)
	if err != nil {
		return 0, utils.CountTokensSimple(resp.Content)
	}
	return counter.CountMessages(req.Messages), counter.CountTokens(resp.Content)
}

// Middleware records latency, token usage, and outcome for every request.
func Middleware(recorder Recorder, usageExtractor UsageExtractor, logger *logx.Logger) llm.Middleware {
	if usageExtractor == nil {
		usageExtractor = DefaultUsageExtractor
	}
	if recorder == nil {
		recorder = Nop()
	}

	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				start := time.Now()
				model := next.GetModelName()

				resp, err := next.Complete(ctx, req)
				duration := time.Since(start)

				var promptTokens, completionTokens int
				if err == nil {
					promptTokens, completionTokens = usageExtractor(model, req, resp)
				}

				actor := ActorFrom(ctx)
				recorder.ObserveRequest(model, actor, promptTokens, completionTokens, err == nil, getErrorType(err), duration)

				if logger != nil {
					status := statusSuccess
					if err != nil {
						status = statusError
					}
					logger.Debug("LLM request: model=%s actor=%s tokens=%d+%d status=%s duration=%dms",
						model, actor, promptTokens, completionTokens, status, duration.Milliseconds())
				}

				return resp, err //nolint:wrapcheck // pass through unchanged
			},
			next.GetModelName,
		)
	}
}

// getErrorType classifies errors for metrics labeling.
func getErrorType(err error) string {
	if err == nil {
		return ""
	}

	var circuitErr *circuit.Error
	var llmErr *llmerrors.Error
	switch {
	case errors.As(err, &circuitErr):
		return "circuit_breaker"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &llmErr):
		return llmErr.Type.String()
	default:
		return "unknown"
	}
}
