// Package agent builds model clients wrapped in the resilience and metrics middleware chain.
package agent

import (
	"fmt"
	"net/http"
	"sync"

	"civagent/pkg/agent/internal/llmimpl/anthropic"
	"civagent/pkg/agent/internal/llmimpl/google"
	"civagent/pkg/agent/internal/llmimpl/ollama"
	"civagent/pkg/agent/internal/llmimpl/openaiofficial"
	"civagent/pkg/agent/llm"
	"civagent/pkg/agent/middleware/metrics"
	"civagent/pkg/agent/middleware/resilience/circuit"
	"civagent/pkg/agent/middleware/resilience/retry"
	"civagent/pkg/agent/middleware/resilience/timeout"
	"civagent/pkg/agent/middleware/validation"
	"civagent/pkg/config"
	"civagent/pkg/limiter"
	"civagent/pkg/logx"
	"civagent/pkg/utils"
)

// LLMClientFactory creates model clients with the middleware chain applied. Clients built
// for the same endpoint share one circuit breaker, and clients of the same model share one
// rate limiter.
type LLMClientFactory struct {
	recorder      metrics.Recorder
	limiter       *limiter.Limiter
	logger        *logx.Logger
	httpClient    *http.Client
	circuitConfig circuit.Config
	breakers      map[string]*circuit.Breaker
	mu            sync.Mutex
}

// Option customizes the factory.
type Option func(*LLMClientFactory)

// WithHTTPClient routes provider traffic through c.
func WithHTTPClient(c *http.Client) Option {
	return func(f *LLMClientFactory) { f.httpClient = c }
}

// WithCircuitConfig overrides circuit.DefaultConfig.
func WithCircuitConfig(cfg circuit.Config) Option {
	return func(f *LLMClientFactory) { f.circuitConfig = cfg }
}

// NewLLMClientFactory creates a factory recording into recorder. A nil recorder disables
// metrics.
func NewLLMClientFactory(recorder metrics.Recorder, opts ...Option) *LLMClientFactory {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	f := &LLMClientFactory{
		recorder:      recorder,
		logger:        logx.NewLogger("llm"),
		limiter:       limiter.NewLimiter(),
		circuitConfig: circuit.DefaultConfig,
		breakers:      make(map[string]*circuit.Breaker),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Recorder returns the recorder the clients report to.
func (f *LLMClientFactory) Recorder() metrics.Recorder {
	return f.recorder
}

// CreateClient builds a client for mc. Missing keys and base URLs are resolved from the
// secrets file and environment.
func (f *LLMClientFactory) CreateClient(mc config.ModelClientConfig, retryCfg config.RetryConfig) (llm.LLMClient, error) {
	raw, endpoint, err := f.createRawClient(mc)
	if err != nil {
		return nil, err
	}
	f.limiter.Configure(mc.Model, mc.MaxTPM, mc.MaxConcurrent)
	return f.wrap(raw, endpoint, mc, retryCfg), nil
}

// Limiter returns the rate limiter shared by the factory's clients.
func (f *LLMClientFactory) Limiter() *limiter.Limiter {
	return f.limiter
}

func (f *LLMClientFactory) createRawClient(mc config.ModelClientConfig) (llm.LLMClient, string, error) {
	provider, err := config.ResolveProvider(&mc)
	if err != nil {
		return nil, "", fmt.Errorf("failed to determine provider for model %s: %w", mc.Model, err)
	}
	if len(mc.APIKeys) == 0 {
		keys, keyErr := config.ResolveAPIKeys(provider)
		if keyErr != nil {
			return nil, "", fmt.Errorf("failed to get API key for provider %s: %w", provider, keyErr)
		}
		mc.APIKeys = keys
	}
	mc.BaseURL = config.ResolveBaseURL(provider, mc.BaseURL)
	endpoint := provider + "|" + mc.BaseURL

	var raw llm.LLMClient
	switch provider {
	case config.ProviderOpenAI, config.ProviderAzure:
		raw, err = openaiofficial.NewOfficialClient(mc, provider, f.httpClient)
	case config.ProviderAnthropic:
		raw, err = anthropic.NewClaudeClient(mc, f.httpClient)
	case config.ProviderGoogle:
		raw, err = google.NewGeminiClient(mc, f.httpClient)
	case config.ProviderOllama:
		raw, err = ollama.NewOllamaClientWithModel(mc.BaseURL, mc.Model, f.httpClient)
	default:
		return nil, "", fmt.Errorf("unsupported provider: %s", provider)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to create %s client: %w", provider, err)
	}
	return raw, endpoint, nil
}

func (f *LLMClientFactory) breakerFor(endpoint string) *circuit.Breaker {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.breakers[endpoint]
	if !ok {
		b = circuit.New(f.circuitConfig)
		f.breakers[endpoint] = b
	}
	return b
}

// wrap applies the chain:
//
//	Metrics -> CircuitBreaker -> Retry -> RateLimit -> EmptyResponse -> Timeout -> RawClient
func (f *LLMClientFactory) wrap(raw llm.LLMClient, endpoint string, mc config.ModelClientConfig, retryCfg config.RetryConfig) llm.LLMClient {
	return llm.Chain(raw,
		metrics.Middleware(f.recorder, nil, f.logger),
		circuit.Middleware(f.breakerFor(endpoint)),
		retry.Middleware(retry.NewPolicy(retryCfg, nil)),
		limiter.Middleware(f.limiter, mc.Model, requestEstimator(mc.Model)),
		validation.EmptyResponseMiddleware(f.logger),
		timeout.Middleware(mc.RequestTimeout),
	)
}

// requestEstimator counts prompt tokens plus the reply allowance.
func requestEstimator(model string) limiter.Estimator {
	counter, err := utils.NewTokenCounter(model)
	return func(req llm.CompletionRequest) int {
		prompt := 0
		if err == nil {
			prompt = counter.CountMessages(req.Messages)
		} else {
			for i := range req.Messages {
				prompt += len(req.Messages[i].Content) / 4
			}
		}
		return prompt + req.MaxTokens
	}
}
