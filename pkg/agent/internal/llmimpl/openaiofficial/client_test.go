package openaiofficial

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civagent/pkg/agent/llm"
	"civagent/pkg/agent/llmerrors"
	"civagent/pkg/config"
)

const chatReply = `{
	"id": "chatcmpl-1",
	"object": "chat.completion",
	"created": 1700000000,
	"model": "gpt-4",
	"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"command\": {\"name\": \"finalDecision\"}}"}, "finish_reason": "stop"}],
	"usage": {"prompt_tokens": 42, "completion_tokens": 9, "total_tokens": 51}
}`

type capture struct {
	mu    sync.Mutex
	auth  []string
	roles []string
}

func newServer(t *testing.T, c *capture, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []struct {
				Role string `json:"role"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		c.mu.Lock()
		c.auth = append(c.auth, r.Header.Get("Authorization"))
		c.roles = c.roles[:0]
		for _, m := range body.Messages {
			c.roles = append(c.roles, m.Role)
		}
		c.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status == http.StatusOK {
			_, _ = w.Write([]byte(chatReply))
			return
		}
		_, _ = w.Write([]byte(`{"error": {"message": "nope", "type": "invalid_request_error"}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func request() llm.CompletionRequest {
	return llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewSystemMessage("You are playing Civilization."),
		llm.NewUserMessage("Choose an action."),
		llm.NewAssistantMessage("{}"),
		llm.NewUserMessage("You should only respond in JSON format."),
	})
}

func TestCompleteRotatesKeys(t *testing.T) {
	c := &capture{}
	srv := newServer(t, c, http.StatusOK)

	client, err := NewOfficialClient(config.ModelClientConfig{
		Model:   "gpt-4",
		APIKeys: []string{"k1", "k2"},
		BaseURL: srv.URL,
	}, config.ProviderOpenAI, srv.Client())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		resp, err := client.Complete(context.Background(), request())
		require.NoError(t, err)
		assert.Equal(t, `{"command": {"name": "finalDecision"}}`, resp.Content)
		assert.Equal(t, 42, resp.Usage.PromptTokens)
		assert.Equal(t, 9, resp.Usage.CompletionTokens)
	}

	assert.Equal(t, []string{"Bearer k1", "Bearer k2", "Bearer k1"}, c.auth)
	assert.Equal(t, []string{"system", "user", "assistant", "user"}, c.roles)
}

func TestCompleteClassifiesStatus(t *testing.T) {
	tests := []struct {
		status int
		want   llmerrors.ErrorType
	}{
		{http.StatusTooManyRequests, llmerrors.ErrorTypeRateLimit},
		{http.StatusUnauthorized, llmerrors.ErrorTypeAuth},
		{http.StatusInternalServerError, llmerrors.ErrorTypeTransient},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := newServer(t, &capture{}, tt.status)
			client, err := NewOfficialClient(config.ModelClientConfig{
				Model: "gpt-4", APIKeys: []string{"k"}, BaseURL: srv.URL,
			}, config.ProviderOpenAI, srv.Client())
			require.NoError(t, err)

			_, err = client.Complete(context.Background(), request())
			require.Error(t, err)
			assert.Equal(t, tt.want, llmerrors.TypeOf(err))
		})
	}
}

func TestNewOfficialClientValidation(t *testing.T) {
	_, err := NewOfficialClient(config.ModelClientConfig{Model: "gpt-4"}, config.ProviderOpenAI, nil)
	assert.Error(t, err, "keys required")

	_, err = NewOfficialClient(config.ModelClientConfig{Model: "gpt-35-turbo-16k", APIKeys: []string{"k"}}, config.ProviderAzure, nil)
	assert.Error(t, err, "azure needs an endpoint")

	client, err := NewOfficialClient(config.ModelClientConfig{
		Model: "gpt-35-turbo-16k", APIKeys: []string{"k"}, BaseURL: "https://example.openai.azure.com", AzureDeployment: "civ-16k",
	}, config.ProviderAzure, nil)
	require.NoError(t, err)
	assert.Equal(t, "civ-16k", client.GetModelName())
}

func TestCompleteRejectsInvalidRequest(t *testing.T) {
	client, err := NewOfficialClient(config.ModelClientConfig{Model: "gpt-4", APIKeys: []string{"k"}}, config.ProviderOpenAI, nil)
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), llm.CompletionRequest{})
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeBadPrompt))
}
