// Package google implements llm.LLMClient on the Gemini API.
package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/genai"

	"civagent/pkg/agent/internal/llmimpl/keyring"
	"civagent/pkg/agent/llm"
	"civagent/pkg/agent/llmerrors"
	"civagent/pkg/config"
)

// GeminiClient wraps the Google GenAI client. Client creation needs a context, so one
// client per API key is built on first use.
type GeminiClient struct {
	keys       *keyring.Ring
	clients    map[string]*genai.Client
	httpClient *http.Client
	model      string
	baseURL    string
	mu         sync.Mutex
}

// NewGeminiClient builds a client for cfg.Model. Keys in cfg.APIKeys rotate per request.
func NewGeminiClient(cfg config.ModelClientConfig, httpClient *http.Client) (*GeminiClient, error) {
	if len(cfg.APIKeys) == 0 {
		return nil, fmt.Errorf("no API key configured for model %s", cfg.Model)
	}
	return &GeminiClient{
		keys:       keyring.New(cfg.APIKeys),
		clients:    make(map[string]*genai.Client),
		httpClient: httpClient,
		model:      cfg.Model,
		baseURL:    cfg.BaseURL,
	}, nil
}

func (g *GeminiClient) clientFor(ctx context.Context, key string) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.clients[key]; ok {
		return c, nil
	}
	cc := &genai.ClientConfig{
		APIKey:     key,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: g.httpClient,
	}
	if g.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: g.baseURL}
	}
	c, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	g.clients[key] = c
	return c, nil
}

// Complete implements llm.LLMClient.
//
//nolint:gocritic // CompletionRequest passed by value matches interface
func (g *GeminiClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	if err := in.Validate(); err != nil {
		return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "invalid request")
	}
	client, err := g.clientFor(ctx, g.keys.Next())
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeAuth, err, "client setup failed")
	}

	contents, systemInstruction := convertMessagesToGemini(in.Messages)
	temperature := in.Temperature
	//nolint:gosec // MaxTokens validated above
	genConfig := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: int32(in.MaxTokens),
	}
	if in.TopP > 0 {
		topP := in.TopP
		genConfig.TopP = &topP
	}
	if systemInstruction != "" {
		genConfig.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: systemInstruction}}}
	}

	result, err := client.Models.GenerateContent(ctx, g.model, contents, genConfig)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if result == nil || len(result.Candidates) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from Gemini API")
	}

	resp := llm.CompletionResponse{
		Content:    result.Text(),
		StopReason: getStopReason(result),
	}
	if result.UsageMetadata != nil {
		resp.Usage = llm.Usage{
			PromptTokens:     int(result.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(result.UsageMetadata.CandidatesTokenCount),
		}
	}
	return resp, nil
}

// GetModelName returns the model name for this client.
func (g *GeminiClient) GetModelName() string {
	return g.model
}

// convertMessagesToGemini folds system messages into the system instruction and maps
// assistant turns to the "model" role.
func convertMessagesToGemini(messages []llm.CompletionMessage) ([]*genai.Content, string) {
	var systemParts []string
	contents := make([]*genai.Content, 0, len(messages))
	for i := range messages {
		msg := &messages[i]
		role := "user"
		switch msg.Role {
		case llm.RoleSystem:
			systemParts = append(systemParts, msg.Content)
			continue
		case llm.RoleAssistant:
			role = "model" // Gemini name for the assistant
		}
		if msg.Content == "" {
			continue
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: msg.Content}},
		})
	}
	return contents, strings.Join(systemParts, "\n\n")
}

func getStopReason(result *genai.GenerateContentResponse) string {
	switch result.Candidates[0].FinishReason {
	case genai.FinishReasonStop, "":
		return "end_turn"
	case genai.FinishReasonMaxTokens:
		return "max_tokens"
	default:
		return strings.ToLower(string(result.Candidates[0].FinishReason))
	}
}

// classifyError reads the status code out of the API error text ("Error 429, Message: ...").
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("gemini request: %w", err)
	}
	var code int
	if _, scanErr := fmt.Sscanf(err.Error(), "Error %d", &code); scanErr == nil && code > 0 {
		return llmerrors.FromStatus(code, err)
	}
	return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "Gemini API call failed")
}
