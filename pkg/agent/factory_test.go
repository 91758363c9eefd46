package agent

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civagent/internal/mocks"
	"civagent/pkg/agent/llm"
	"civagent/pkg/agent/llmerrors"
	"civagent/pkg/agent/middleware/resilience/circuit"
	"civagent/pkg/config"
)

func fastRetry(attempts int) config.RetryConfig {
	return config.RetryConfig{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}
}

func TestCreateClientSelectsProvider(t *testing.T) {
	f := NewLLMClientFactory(nil)

	tests := []struct {
		name string
		mc   config.ModelClientConfig
		want string
	}{
		{"openai", config.ModelClientConfig{Model: "gpt-4", APIKeys: []string{"k"}}, "gpt-4"},
		{"azure deployment", config.ModelClientConfig{Model: "gpt-35-turbo-16k", APIKeys: []string{"k"}, BaseURL: "https://civ.openai.azure.com", AzureDeployment: "civ16k"}, "civ16k"},
		{"anthropic", config.ModelClientConfig{Model: "claude-sonnet-4-5", APIKeys: []string{"k"}}, "claude-sonnet-4-5"},
		{"google", config.ModelClientConfig{Model: "gemini-2.5-flash", APIKeys: []string{"k"}}, "gemini-2.5-flash"},
		{"ollama", config.ModelClientConfig{Model: "vicuna-33B", BaseURL: "http://localhost:11434"}, "vicuna-33B"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := f.CreateClient(tt.mc, fastRetry(1))
			require.NoError(t, err)
			assert.Equal(t, tt.want, client.GetModelName())
		})
	}
}

func TestCreateClientErrors(t *testing.T) {
	f := NewLLMClientFactory(nil)

	_, err := f.CreateClient(config.ModelClientConfig{Model: "mystery"}, fastRetry(1))
	assert.Error(t, err)

	_, err = f.CreateClient(config.ModelClientConfig{Model: "gpt-4", Provider: "bedrock"}, fastRetry(1))
	assert.Error(t, err)
}

func TestBreakersSharedPerEndpoint(t *testing.T) {
	f := NewLLMClientFactory(nil)
	a := f.breakerFor("openai|")
	b := f.breakerFor("openai|")
	c := f.breakerFor("ollama|http://gpu-box:11434")
	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
}

func TestChainRetriesEmptyReplies(t *testing.T) {
	f := NewLLMClientFactory(nil)
	raw := mocks.NewMockLLMClient()
	raw.RespondWithSequence("", "  ", `{"command": {"name": "finalDecision", "input": {"action": "fortify"}}}`)

	client := f.wrap(raw, "test", config.ModelClientConfig{Model: "gpt-4", RequestTimeout: time.Second}, fastRetry(3))
	resp, err := client.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("choose")}))
	require.NoError(t, err)
	assert.Contains(t, resp.Content, "fortify")
	assert.Equal(t, 3, raw.GetCompleteCallCount())
}

func TestChainOpensCircuitAfterExhaustedRetries(t *testing.T) {
	f := NewLLMClientFactory(nil, WithCircuitConfig(circuit.Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Hour}))

	var calls atomic.Int32
	raw := mocks.NewMockLLMClient()
	raw.OnComplete(func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
		calls.Add(1)
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeTransient, "502")
	})

	client := f.wrap(raw, "flaky", config.ModelClientConfig{Model: "gpt-4", RequestTimeout: time.Second}, fastRetry(2))
	req := llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("choose")})

	_, err := client.Complete(context.Background(), req)
	require.Error(t, err)
	assert.True(t, llmerrors.IsServiceUnavailable(err))
	assert.EqualValues(t, 2, calls.Load())

	_, err = client.Complete(context.Background(), req)
	var circuitErr *circuit.Error
	require.ErrorAs(t, err, &circuitErr)
	assert.EqualValues(t, 2, calls.Load(), "open circuit short-circuits the provider")
}

func TestChainBacksOffOnLocalRateLimit(t *testing.T) {
	f := NewLLMClientFactory(nil)
	mc := config.ModelClientConfig{Model: "gpt-4", RequestTimeout: time.Second, MaxConcurrent: 1}
	f.Limiter().Configure(mc.Model, mc.MaxTPM, mc.MaxConcurrent)

	raw := mocks.NewMockLLMClient()
	client := f.wrap(raw, "limited", mc, fastRetry(2))

	// Hold the only slot so every attempt is rejected locally.
	require.NoError(t, f.Limiter().Acquire("gpt-4"))
	_, err := client.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("choose")}))
	require.Error(t, err)
	assert.True(t, llmerrors.IsServiceUnavailable(err))
	assert.Equal(t, 0, raw.GetCompleteCallCount())

	f.Limiter().Release("gpt-4")
	_, err = client.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("choose")}))
	require.NoError(t, err)
	assert.Equal(t, 1, raw.GetCompleteCallCount())
}
