package config

import (
	"errors"
	"fmt"
	"strings"
)

// Supported providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAzure     = "azure"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
)

// ErrUnknownModel is returned when a model has no entry in KnownModels.
var ErrUnknownModel = errors.New("unknown model")

// ModelInfo contains static information about a known model.
type ModelInfo struct {
	Provider         string
	MaxContextTokens int // dialogue token ceiling used by the trimmer
}

// KnownModels maps model names to their provider and context ceiling.
//
//nolint:gochecknoglobals // static model registry
var KnownModels = map[string]ModelInfo{
	"gpt-4":              {ProviderOpenAI, 8192},
	"gpt-4-0314":         {ProviderOpenAI, 8192},
	"gpt-4-32k":          {ProviderOpenAI, 32768},
	"gpt-4-32k-0314":     {ProviderOpenAI, 32768},
	"gpt-3.5-turbo":      {ProviderOpenAI, 4096},
	"gpt-3.5-turbo-0301": {ProviderOpenAI, 4096},
	"gpt-4o":             {ProviderOpenAI, 128000},
	"gpt-4o-mini":        {ProviderOpenAI, 128000},
	"text-davinci-003":   {ProviderOpenAI, 4080},
	"text-davinci-002":   {ProviderOpenAI, 2048},
	"code-davinci-002":   {ProviderOpenAI, 8001},

	// Azure deployments of the 3.5 family.
	"gpt-35-turbo":     {ProviderAzure, 4096},
	"gpt-35-turbo-16k": {ProviderAzure, 16384},

	"claude-sonnet-4-5": {ProviderAnthropic, 200000},
	"claude-haiku-4-5":  {ProviderAnthropic, 200000},

	"gemini-2.5-flash": {ProviderGoogle, 1048576},
	"gemini-2.5-pro":   {ProviderGoogle, 1048576},

	// Self-hosted chat models served through Ollama.
	"vicuna-33B":      {ProviderOllama, 2048},
	"Llama2-70B-chat": {ProviderOllama, 2048},
	"llama3.1:8b":     {ProviderOllama, 8192},
}

// ProviderPattern infers a provider from a model name prefix.
type ProviderPattern struct {
	Prefix   string
	Provider string
}

//nolint:gochecknoglobals // inference rules
var ProviderPatterns = []ProviderPattern{
	{"gpt-35", ProviderAzure},
	{"gpt", ProviderOpenAI},
	{"text-", ProviderOpenAI},
	{"claude", ProviderAnthropic},
	{"gemini", ProviderGoogle},
	{"llama", ProviderOllama},
	{"Llama", ProviderOllama},
	{"vicuna", ProviderOllama},
	{"qwen", ProviderOllama},
	{"mistral", ProviderOllama},
	{"ollama:", ProviderOllama},
}

// GetModelProvider returns the provider for modelName from KnownModels or ProviderPatterns.
func GetModelProvider(modelName string) (string, error) {
	if info, ok := KnownModels[modelName]; ok {
		return info.Provider, nil
	}
	for i := range ProviderPatterns {
		if strings.HasPrefix(modelName, ProviderPatterns[i].Prefix) {
			return ProviderPatterns[i].Provider, nil
		}
	}
	return "", fmt.Errorf("%w '%s': no known provider mapping or pattern match", ErrUnknownModel, modelName)
}

// ResolveProvider returns m.Provider if set, otherwise infers it from the model name.
func ResolveProvider(m *ModelClientConfig) (string, error) {
	if m.Provider != "" {
		switch m.Provider {
		case ProviderOpenAI, ProviderAzure, ProviderAnthropic, ProviderGoogle, ProviderOllama:
			return m.Provider, nil
		default:
			return "", fmt.Errorf("unsupported provider %q", m.Provider)
		}
	}
	return GetModelProvider(m.Model)
}

// GetModelInfo returns the registry entry for modelName.
func GetModelInfo(modelName string) (ModelInfo, bool) {
	info, ok := KnownModels[modelName]
	return info, ok
}

// TokenLimit returns the dialogue token ceiling for modelName.
func TokenLimit(modelName string) (int, error) {
	info, ok := KnownModels[modelName]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownModel, modelName)
	}
	return info.MaxContextTokens, nil
}

// EffectiveTokenLimit returns the configured override or the model table value.
func (c *Config) EffectiveTokenLimit() (int, error) {
	if c.Dialogue.TokenLimit > 0 {
		return c.Dialogue.TokenLimit, nil
	}
	return TokenLimit(c.Model.Model)
}
