// Package config loads the curator's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"auto_article_curator/embedding"
	"auto_article_curator/llm"
	"auto_article_curator/retry"
)

// ValidProviders lists the supported LLM providers.
var ValidProviders = []string{"openai", "deepseek", "gemini", "mock"}

// ValidBackends lists the supported search backends.
var ValidBackends = []string{"duckduckgo", "searxng"}

// Config is the root configuration.
type Config struct {
	OutputDir string           `yaml:"output_dir"`
	LLM       LLMConfig        `yaml:"llm"`
	Models    ModelsConfig     `yaml:"models"`
	Fallback  *LLMConfig       `yaml:"fallback,omitempty"`
	Embedding embedding.Config `yaml:"embedding"`
	Retriever RetrieverConfig  `yaml:"retriever"`
	Research  ResearchConfig   `yaml:"research"`
	Retry     RetryConfig      `yaml:"retry"`
	Logging   LoggingConfig    `yaml:"logging"`
}

// LLMConfig configures one model client.
type LLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key,omitempty"`
	BaseURL  string `yaml:"base_url,omitempty"`
	Timeout  string `yaml:"timeout,omitempty"`
}

// ModelsConfig overrides the model name per role. Empty fields use llm.model.
type ModelsConfig struct {
	Conversation string `yaml:"conversation,omitempty"`
	Question     string `yaml:"question,omitempty"`
	Outline      string `yaml:"outline,omitempty"`
	Article      string `yaml:"article,omitempty"`
	Polish       string `yaml:"polish,omitempty"`
}

type RetrieverConfig struct {
	Backend        string   `yaml:"backend"`
	BaseURL        string   `yaml:"base_url,omitempty"`
	K              int      `yaml:"k"`
	FetchPages     bool     `yaml:"fetch_pages"`
	ExcludeDomains []string `yaml:"exclude_domains,omitempty"`
	CachePath      string   `yaml:"cache_path,omitempty"`
	CacheTTL       string   `yaml:"cache_ttl,omitempty"`
	Timeout        string   `yaml:"timeout,omitempty"`
}

type ResearchConfig struct {
	MaxConvTurn             int  `yaml:"max_conv_turn"`
	MaxPerspective          int  `yaml:"max_perspective"`
	MaxSearchQueriesPerTurn int  `yaml:"max_search_queries_per_turn"`
	MaxThreadNum            int  `yaml:"max_thread_num"`
	SearchTopK              int  `yaml:"search_top_k"`
	RetrieveTopK            int  `yaml:"retrieve_top_k"`
	Dedup                   bool `yaml:"dedup"`
}

type RetryConfig struct {
	MaxAttempts    int    `yaml:"max_attempts"`
	BaseDelay      string `yaml:"base_delay"`
	MaxDelay       string `yaml:"max_delay"`
	AttemptTimeout string `yaml:"attempt_timeout,omitempty"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// DefaultConfig uses an OpenAI chat model, the local hashing embedder and
// DuckDuckGo search.
func DefaultConfig() *Config {
	return &Config{
		OutputDir: "results",
		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
			Timeout:  "120s",
		},
		Embedding: embedding.Config{Provider: "hashing"},
		Retriever: RetrieverConfig{
			Backend:    "duckduckgo",
			K:          3,
			FetchPages: false,
			CacheTTL:   "168h",
			Timeout:    "30s",
		},
		Research: ResearchConfig{
			MaxConvTurn:             3,
			MaxPerspective:          3,
			MaxSearchQueriesPerTurn: 3,
			MaxThreadNum:            3,
			SearchTopK:              3,
			RetrieveTopK:            3,
		},
		Retry: RetryConfig{
			MaxAttempts:    4,
			BaseDelay:      "1s",
			MaxDelay:       "30s",
			AttemptTimeout: "2m",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if c.LLM.APIKey == "" && (c.LLM.Provider == "openai" || c.LLM.Provider == "deepseek") {
			c.LLM.APIKey = key
		}
		if c.Embedding.Provider == "openai" && c.Embedding.APIKey == "" {
			c.Embedding.APIKey = key
		}
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		if c.LLM.APIKey == "" && c.LLM.Provider == "gemini" {
			c.LLM.APIKey = key
		}
		if c.Embedding.Provider == "genai" && c.Embedding.APIKey == "" {
			c.Embedding.APIKey = key
		}
	}
	if dir := os.Getenv("CURATOR_OUTPUT_DIR"); dir != "" {
		c.OutputDir = dir
	}
	if url := os.Getenv("SEARXNG_URL"); url != "" {
		c.Retriever.BaseURL = url
		if c.Retriever.Backend == "" {
			c.Retriever.Backend = "searxng"
		}
	}
}

// Validate checks the configuration for the settings a run needs.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.OutputDir) == "" {
		errs = append(errs, errors.New("output_dir is required"))
	}
	errs = append(errs, c.LLM.validate("llm"))
	if c.Fallback != nil {
		errs = append(errs, c.Fallback.validate("fallback"))
	}
	switch c.Embedding.Provider {
	case "", "hashing":
	case "openai", "genai":
		if c.Embedding.APIKey == "" {
			errs = append(errs, fmt.Errorf("embedding provider %s requires api_key", c.Embedding.Provider))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid embedding provider: %s", c.Embedding.Provider))
	}
	if !slices.Contains(ValidBackends, c.Retriever.Backend) {
		errs = append(errs, fmt.Errorf("invalid retriever backend: %s (valid: %v)", c.Retriever.Backend, ValidBackends))
	}
	if c.Retriever.Backend == "searxng" && c.Retriever.BaseURL == "" {
		errs = append(errs, errors.New("retriever backend searxng requires base_url (or SEARXNG_URL)"))
	}
	if c.Research.MaxConvTurn < 1 {
		errs = append(errs, errors.New("research.max_conv_turn must be at least 1"))
	}
	if c.Research.MaxThreadNum < 1 {
		errs = append(errs, errors.New("research.max_thread_num must be at least 1"))
	}
	if c.Research.MaxPerspective < 0 {
		errs = append(errs, errors.New("research.max_perspective must not be negative"))
	}
	for name, v := range map[string]string{
		"llm.timeout":           c.LLM.Timeout,
		"retriever.timeout":     c.Retriever.Timeout,
		"retriever.cache_ttl":   c.Retriever.CacheTTL,
		"retry.base_delay":      c.Retry.BaseDelay,
		"retry.max_delay":       c.Retry.MaxDelay,
		"retry.attempt_timeout": c.Retry.AttemptTimeout,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (l LLMConfig) validate(section string) error {
	if !slices.Contains(ValidProviders, l.Provider) {
		return fmt.Errorf("invalid %s provider: %s (valid: %v)", section, l.Provider, ValidProviders)
	}
	if l.Provider == "mock" {
		return nil
	}
	if l.APIKey == "" {
		return fmt.Errorf("%s api key not configured (set %s.api_key, OPENAI_API_KEY or GEMINI_API_KEY)", section, section)
	}
	if l.Model == "" {
		return fmt.Errorf("%s model is required", section)
	}
	if l.Provider == "deepseek" && l.BaseURL == "" {
		return fmt.Errorf("%s provider deepseek requires base_url (OpenAI-compatible endpoint)", section)
	}
	return nil
}

// Settings converts l into client settings, using model when it is set.
func (l LLMConfig) Settings(model string) *llm.Settings {
	if model == "" {
		model = l.Model
	}
	return &llm.Settings{
		Provider: l.Provider,
		Model:    model,
		APIKey:   l.APIKey,
		BaseURL:  l.BaseURL,
		Timeout:  parseDuration(l.Timeout, 120*time.Second),
	}
}

// RetryPolicy returns the configured retry policy.
func (c *Config) RetryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	if c.Retry.MaxAttempts > 0 {
		p.MaxAttempts = c.Retry.MaxAttempts
	}
	p.BaseDelay = parseDuration(c.Retry.BaseDelay, p.BaseDelay)
	p.MaxDelay = parseDuration(c.Retry.MaxDelay, p.MaxDelay)
	p.AttemptTimeout = parseDuration(c.Retry.AttemptTimeout, p.AttemptTimeout)
	return p
}

// RetrieverTimeout returns the HTTP timeout for search and page fetches.
func (c *Config) RetrieverTimeout() time.Duration {
	return parseDuration(c.Retriever.Timeout, 30*time.Second)
}

// CacheTTL returns how long cached search results stay valid.
func (c *Config) CacheTTL() time.Duration {
	return parseDuration(c.Retriever.CacheTTL, 0)
}

func parseDuration(v string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
