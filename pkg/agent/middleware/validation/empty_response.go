// Package validation rejects unusable model replies before they reach the dialogue.
package validation

import (
	"context"
	"strings"

	"civagent/pkg/agent/llm"
	"civagent/pkg/agent/llmerrors"
	"civagent/pkg/logx"
)

// maxLoggedChars bounds each message printed when a reply comes back empty.
const maxLoggedChars = 2000

// EmptyResponseMiddleware turns a blank reply into ErrorTypeEmptyResponse, which the retry
// layer treats as retryable. The offending request is logged in sanitized form.
func EmptyResponseMiddleware(logger *logx.Logger) llm.Middleware {
	if logger == nil {
		logger = logx.NewLogger("llm-validation")
	}
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				resp, err := next.Complete(ctx, req)
				if err != nil {
					return resp, err //nolint:wrapcheck // pass through unchanged
				}
				if strings.TrimSpace(resp.Content) == "" {
					logEmptyResponse(logger, next.GetModelName(), req, resp)
					return resp, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse,
						"model returned an empty reply (stop reason: "+resp.StopReason+")")
				}
				return resp, nil
			},
			next.GetModelName,
		)
	}
}

//nolint:gocritic // request passed by value like the client interface
func logEmptyResponse(logger *logx.Logger, model string, req llm.CompletionRequest, resp llm.CompletionResponse) {
	logger.Warn("🚨 empty reply from %s (stop=%q, max_tokens=%d, temperature=%v, messages=%d)",
		model, resp.StopReason, req.MaxTokens, req.Temperature, len(req.Messages))
	for i := range req.Messages {
		logger.Debug("  [%d] %s: %s", i, req.Messages[i].Role, llmerrors.SanitizePrompt(req.Messages[i].Content, maxLoggedChars))
	}
}
