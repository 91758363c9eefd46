// Package openaiofficial implements llm.LLMClient on the Chat Completions API using the
// official OpenAI Go package. Azure OpenAI deployments use the same client.
package openaiofficial

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"

	"civagent/pkg/agent/internal/llmimpl/keyring"
	"civagent/pkg/agent/llm"
	"civagent/pkg/agent/llmerrors"
	"civagent/pkg/config"
)

// OfficialClient wraps the official OpenAI Go client. It is a raw client; middleware is
// applied by the factory.
//
//nolint:govet // logical grouping preferred
type OfficialClient struct {
	client openai.Client
	model  string // deployment name for Azure
	keys   *keyring.Ring
	azure  bool
}

// NewOfficialClient builds a client for an OpenAI or Azure OpenAI endpoint. Keys in
// cfg.APIKeys rotate per request.
func NewOfficialClient(cfg config.ModelClientConfig, provider string, httpClient *http.Client) (*OfficialClient, error) {
	if len(cfg.APIKeys) == 0 {
		return nil, fmt.Errorf("no API key configured for model %s", cfg.Model)
	}

	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}

	model := cfg.Model
	isAzure := provider == config.ProviderAzure
	if isAzure {
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("azure model %s needs an endpoint", cfg.Model)
		}
		apiVersion := cfg.AzureAPIVersion
		if apiVersion == "" {
			apiVersion = "2024-06-01"
		}
		opts = append(opts, azure.WithEndpoint(cfg.BaseURL, apiVersion))
		if cfg.AzureDeployment != "" {
			model = cfg.AzureDeployment
		}
	} else if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OfficialClient{
		client: openai.NewClient(opts...),
		model:  model,
		keys:   keyring.New(cfg.APIKeys),
		azure:  isAzure,
	}, nil
}

func convertMessages(messages []llm.CompletionMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case llm.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}

// Complete implements llm.LLMClient.
//
//nolint:gocritic // CompletionRequest passed by value matches interface
func (o *OfficialClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	if err := in.Validate(); err != nil {
		return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "invalid request")
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(o.model),
		Messages:    convertMessages(in.Messages),
		MaxTokens:   openai.Int(int64(in.MaxTokens)),
		Temperature: openai.Float(float64(in.Temperature)),
	}
	if in.TopP > 0 {
		params.TopP = openai.Float(float64(in.TopP))
	}

	key := o.keys.Next()
	var keyOpt option.RequestOption
	if o.azure {
		keyOpt = azure.WithAPIKey(key)
	} else {
		keyOpt = option.WithAPIKey(key)
	}

	resp, err := o.client.Chat.Completions.New(ctx, params, keyOpt)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "no choices in chat completion")
	}

	choice := resp.Choices[0]
	return llm.CompletionResponse{
		Content:    choice.Message.Content,
		StopReason: string(choice.FinishReason),
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

// GetModelName returns the model (or Azure deployment) name.
func (o *OfficialClient) GetModelName() string {
	return o.model
}

func classifyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("chat completion: %w", err)
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return llmerrors.FromStatus(apiErr.StatusCode, err)
	}
	return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "chat completion request failed")
}
