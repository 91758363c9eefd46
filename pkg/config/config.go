// Package config provides configuration loading, validation, and management for civagent.
//
// Configuration lives in <projectDir>/.civagent/config.json. The file may carry // and /* */
// comments and trailing commas; they are stripped before decoding.
//
// A single global Config is kept in memory behind a mutex. GetConfig returns it BY VALUE so
// callers cannot mutate shared state; every component that needs model access receives its
// own ModelClientConfig copy at construction time.
//
//	err := config.LoadConfig(projectDir)
//	cfg, err := config.GetConfig()
//	limit, err := config.TokenLimit(cfg.Model.Model)
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tidwall/jsonc"

	"civagent/pkg/logx"
)

// Project layout constants.
const (
	ProjectConfigDir      = ".civagent"
	ProjectConfigFilename = "config.json"
	SchemaVersion         = "1.0"
)

// Worker roles.
const (
	RoleController = "controller"
	RoleAdvisor    = "advisor"
)

//nolint:gochecknoglobals // Intentional singleton pattern for config management
var (
	config     *Config
	projectDir string
	logger     *logx.Logger
	mu         sync.RWMutex
)

func getLogger() *logx.Logger {
	if logger == nil {
		logger = logx.NewLogger("config")
	}
	return logger
}

// LogInfo logs an info message using the config logger.
func LogInfo(format string, args ...any) {
	getLogger().Info(format, args...)
}

// ModelClientConfig describes one model endpoint. Each worker gets its own copy, so API
// keys and base URLs are never shared mutable state.
type ModelClientConfig struct {
	Provider        string        `json:"provider,omitempty"` // inferred from Model when empty
	Model           string        `json:"model"`
	APIKeys         []string      `json:"api_keys,omitempty"` // rotated per request; resolved from secrets when empty
	BaseURL         string        `json:"base_url,omitempty"`
	AzureAPIVersion string        `json:"azure_api_version,omitempty"`
	AzureDeployment string        `json:"azure_deployment,omitempty"`
	Temperature     float32       `json:"temperature"`
	TopP            float32       `json:"top_p"`
	MaxReplyTokens  int           `json:"max_reply_tokens"`
	RequestTimeout  time.Duration `json:"request_timeout"`
	MaxTPM          int           `json:"max_tpm,omitempty"`        // local tokens-per-minute budget, 0 = unlimited
	MaxConcurrent   int           `json:"max_concurrent,omitempty"` // requests in flight, 0 = unlimited
}

// RetryConfig defines configuration for retry behavior.
type RetryConfig struct {
	MaxAttempts   int           `json:"max_attempts"`   // including the initial attempt
	InitialDelay  time.Duration `json:"initial_delay"`  // delay before the first retry
	MaxDelay      time.Duration `json:"max_delay"`      // cap between retries
	BackoffFactor float64       `json:"backoff_factor"` // exponential multiplier
	Jitter        bool          `json:"jitter"`
}

// RetryPolicies holds one policy per remote concern.
type RetryPolicies struct {
	Model      RetryConfig `json:"model"`
	Summarizer RetryConfig `json:"summarizer"`
	Retrieval  RetryConfig `json:"retrieval"`
}

// DialogueConfig holds the heuristics of the per-actor dialogue. The defaults reproduce the
// values the agents were tuned with.
type DialogueConfig struct {
	DecisionTimeout    time.Duration `json:"decision_timeout"`
	TokenLimit         int           `json:"token_limit"` // 0 = from the model table
	AnchorCount        int           `json:"anchor_count"`
	GotoPrefixes       []string      `json:"goto_prefixes"`
	PrefixLen          int           `json:"prefix_len"`
	GotoRepeat         int           `json:"goto_repeat"`
	KeepActivityRepeat int           `json:"keep_activity_repeat"`
	LookUpRepeat       int           `json:"look_up_repeat"`
	FinalizeNudgeProb  float64       `json:"finalize_nudge_prob"`
	DropNoiseProb      float64       `json:"drop_noise_prob"`
	SkipActions        []string      `json:"skip_actions"`
}

// SchedulerConfig bounds the per-turn planning work.
type SchedulerConfig struct {
	MaxDeconflictDepth int `json:"max_deconflict_depth"`
	WorkerPoolSize     int `json:"worker_pool_size"`
}

// KnowledgeConfig configures the game manual index.
type KnowledgeConfig struct {
	DBPath    string `json:"db_path"`
	ManualDir string `json:"manual_dir"`
	TopK      int    `json:"top_k"`
	ChunkSize int    `json:"chunk_size"` // characters per indexed chunk
}

// PersistenceConfig configures dialogue dumps.
type PersistenceConfig struct {
	DialogueDir   string `json:"dialogue_dir"`
	DBPath        string `json:"db_path"` // empty disables the SQLite transcript store
	SaveDialogues bool   `json:"save_dialogues"`
}

// MetricsConfig defines configuration for metrics collection.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled"`
	ListenAddr    string `json:"listen_addr"`
	Namespace     string `json:"namespace"`
	PrometheusURL string `json:"prometheus_url"` // for `civagent usage`
}

// PromptsConfig selects the instruction and task prompts.
type PromptsConfig struct {
	Role string `json:"role"` // controller or advisor
}

// Config is the full civagent configuration.
type Config struct {
	SchemaVersion string             `json:"schema_version"`
	Model         ModelClientConfig  `json:"model"`
	Summarizer    *ModelClientConfig `json:"summarizer,omitempty"` // nil = reuse Model
	Dialogue      DialogueConfig     `json:"dialogue"`
	Scheduler     SchedulerConfig    `json:"scheduler"`
	Retry         RetryPolicies      `json:"retry"`
	Knowledge     KnowledgeConfig    `json:"knowledge"`
	Persistence   PersistenceConfig  `json:"persistence"`
	Metrics       MetricsConfig      `json:"metrics"`
	Prompts       PromptsConfig      `json:"prompts"`
}

// SummarizerModel returns the model used for summaries and manual answers.
func (c *Config) SummarizerModel() ModelClientConfig {
	if c.Summarizer != nil {
		return *c.Summarizer
	}
	return c.Model
}

// GetConfig returns the current global config BY VALUE.
func GetConfig() (Config, error) {
	mu.RLock()
	defer mu.RUnlock()
	if config == nil {
		return Config{}, fmt.Errorf("config not initialized - call LoadConfig first")
	}
	return *config, nil
}

// GetProjectDir returns the directory passed to LoadConfig.
func GetProjectDir() string {
	mu.RLock()
	defer mu.RUnlock()
	return projectDir
}

// SetConfigForTesting sets the global config. Pass nil to reset.
func SetConfigForTesting(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	config = cfg
	if cfg == nil {
		projectDir = ""
	}
}

// LoadConfig loads <projectDir>/.civagent/config.json into the global singleton.
//
// A missing file is created with defaults. An unparseable file is an error so user edits
// are never overwritten.
func LoadConfig(inputProjectDir string) error {
	mu.Lock()
	defer mu.Unlock()

	projectDir = inputProjectDir
	configPath := filepath.Join(projectDir, ProjectConfigDir, ProjectConfigFilename)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		getLogger().Info("📝 Config file not found, creating new config at %s", configPath)
		cfg := DefaultConfig()
		if err := validateConfig(cfg); err != nil {
			return fmt.Errorf("default config validation failed: %w", err)
		}
		if err := SaveConfig(cfg, projectDir); err != nil {
			return fmt.Errorf("failed to save initial config: %w", err)
		}
		config = cfg
		return nil
	}

	getLogger().Info("📝 Loading config from %s", configPath)
	loaded, err := loadConfigFromFile(configPath)
	if err != nil {
		return fmt.Errorf("fatal: config file exists but cannot be parsed (to avoid overwriting your changes): %w", err)
	}

	if err := validateConfig(loaded); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	config = loaded

	getLogger().Info("✅ Config loaded and validated successfully")
	return nil
}

func loadConfigFromFile(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes JSONC config bytes over DefaultConfig. Keys the file omits keep
// their defaults; keys it sets, zero included, are taken as written.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	summarizer := defaultModelConfig("")
	cfg.Summarizer = &summarizer
	if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if cfg.Summarizer != nil && cfg.Summarizer.Model == "" {
		cfg.Summarizer = nil
	}
	return cfg, nil
}

// SaveConfig writes cfg to <projectDir>/.civagent/config.json.
func SaveConfig(cfg *Config, dir string) error {
	configPath := filepath.Join(dir, ProjectConfigDir, ProjectConfigFilename)
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// DefaultRetryConfig is the policy used for any unset retry section.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	}
}

// DefaultConfig returns a config populated with defaults.
func DefaultConfig() *Config {
	return &Config{
		SchemaVersion: SchemaVersion,
		Model:         defaultModelConfig("gpt-35-turbo-16k"),
		Dialogue: DialogueConfig{
			DecisionTimeout:    120 * time.Second,
			AnchorCount:        2,
			GotoPrefixes:       []string{"goto", "move"},
			PrefixLen:          4,
			GotoRepeat:         15,
			KeepActivityRepeat: 15,
			LookUpRepeat:       3,
			FinalizeNudgeProb:  0.5,
			DropNoiseProb:      0.8,
			SkipActions:        []string{"keep activity", "cancel order"},
		},
		Scheduler: SchedulerConfig{
			MaxDeconflictDepth: 1,
			WorkerPoolSize:     8,
		},
		Retry: RetryPolicies{
			Model:      DefaultRetryConfig(),
			Summarizer: DefaultRetryConfig(),
			Retrieval:  DefaultRetryConfig(),
		},
		Knowledge: KnowledgeConfig{
			DBPath:    filepath.Join(ProjectConfigDir, "manual.db"),
			ManualDir: "manual",
			TopK:      2,
			ChunkSize: 1000,
		},
		Persistence: PersistenceConfig{
			DialogueDir:   "saved_dialogues",
			SaveDialogues: true,
		},
		Metrics: MetricsConfig{
			ListenAddr: ":9464",
			Namespace:  "civagent",
		},
		Prompts: PromptsConfig{Role: RoleController},
	}
}

func defaultModelConfig(model string) ModelClientConfig {
	return ModelClientConfig{
		Model:          model,
		Temperature:    0.7,
		TopP:           0.95,
		MaxReplyTokens: 1024,
		RequestTimeout: 30 * time.Second,
	}
}

func validateConfig(cfg *Config) error {
	var errs []error

	if cfg.Model.Model == "" {
		errs = append(errs, fmt.Errorf("model.model is required"))
	} else if _, err := ResolveProvider(&cfg.Model); err != nil {
		errs = append(errs, err)
	}
	if cfg.Dialogue.TokenLimit == 0 {
		if _, err := TokenLimit(cfg.Model.Model); err != nil {
			errs = append(errs, fmt.Errorf("dialogue.token_limit must be set for model %q: %w", cfg.Model.Model, err))
		}
	}
	if cfg.Dialogue.AnchorCount < 0 {
		errs = append(errs, fmt.Errorf("dialogue.anchor_count must be >= 0"))
	}
	for name, p := range map[string]float64{
		"finalize_nudge_prob": cfg.Dialogue.FinalizeNudgeProb,
		"drop_noise_prob":     cfg.Dialogue.DropNoiseProb,
	} {
		if p < 0 || p > 1 {
			errs = append(errs, fmt.Errorf("dialogue.%s must be within [0,1], got %v", name, p))
		}
	}
	if cfg.Scheduler.MaxDeconflictDepth < 1 {
		errs = append(errs, fmt.Errorf("scheduler.max_deconflict_depth must be >= 1"))
	}
	if cfg.Scheduler.WorkerPoolSize < 1 {
		errs = append(errs, fmt.Errorf("scheduler.worker_pool_size must be >= 1"))
	}
	if cfg.Prompts.Role != RoleController && cfg.Prompts.Role != RoleAdvisor {
		errs = append(errs, fmt.Errorf("prompts.role must be %q or %q, got %q", RoleController, RoleAdvisor, cfg.Prompts.Role))
	}

	return errors.Join(errs...)
}
