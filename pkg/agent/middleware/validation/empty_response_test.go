package validation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civagent/internal/mocks"
	"civagent/pkg/agent/llm"
	"civagent/pkg/agent/llmerrors"
)

func TestEmptyResponseMiddleware(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"json reply passes", `{"command": {"name": "finalDecision"}}`, false},
		{"blank reply", "", true},
		{"whitespace reply", " \n\t", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := mocks.NewMockLLMClient()
			client.RespondWith(tt.content)

			wrapped := EmptyResponseMiddleware(nil)(client)
			resp, err := wrapped.Complete(context.Background(),
				llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("choose")}))

			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeEmptyResponse))
				var llmErr *llmerrors.Error
				require.ErrorAs(t, err, &llmErr)
				assert.True(t, llmErr.IsRetryable())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.content, resp.Content)
		})
	}
}
