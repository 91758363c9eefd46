package google

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"civagent/pkg/agent/llm"
	"civagent/pkg/agent/llmerrors"
	"civagent/pkg/config"
)

func TestNewGeminiClient(t *testing.T) {
	_, err := NewGeminiClient(config.ModelClientConfig{Model: "gemini-2.5-flash"}, nil)
	assert.Error(t, err)

	client, err := NewGeminiClient(config.ModelClientConfig{Model: "gemini-2.5-flash", APIKeys: []string{"k"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-flash", client.GetModelName())
}

func TestConvertMessagesToGemini(t *testing.T) {
	contents, system := convertMessagesToGemini([]llm.CompletionMessage{
		llm.NewSystemMessage("You are playing Civilization."),
		llm.NewUserMessage("Your task is to win."),
		llm.NewAssistantMessage(`{"thoughts": {}}`),
		llm.NewUserMessage(""),
		llm.NewUserMessage("Choose an action."),
	})

	assert.Equal(t, "You are playing Civilization.", system)
	require.Len(t, contents, 3)
	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "model", contents[1].Role)
	assert.Equal(t, "Choose an action.", contents[2].Parts[0].Text)
}

func TestGetStopReason(t *testing.T) {
	tests := []struct {
		reason genai.FinishReason
		want   string
	}{
		{genai.FinishReasonStop, "end_turn"},
		{genai.FinishReasonMaxTokens, "max_tokens"},
		{genai.FinishReasonSafety, "safety"},
	}
	for _, tt := range tests {
		result := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{FinishReason: tt.reason}}}
		assert.Equal(t, tt.want, getStopReason(result))
	}
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, llmerrors.ErrorTypeRateLimit,
		llmerrors.TypeOf(classifyError(errors.New("Error 429, Message: quota, Status: RESOURCE_EXHAUSTED, Details: []"))))
	assert.Equal(t, llmerrors.ErrorTypeAuth,
		llmerrors.TypeOf(classifyError(errors.New("Error 403, Message: denied, Status: PERMISSION_DENIED, Details: []"))))
	assert.Equal(t, llmerrors.ErrorTypeTransient, llmerrors.TypeOf(classifyError(errors.New("dial tcp: i/o timeout"))))
	assert.ErrorIs(t, classifyError(context.DeadlineExceeded), context.DeadlineExceeded)
}
