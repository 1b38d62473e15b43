package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{"OPENAI_API_KEY", "GEMINI_API_KEY", "CURATOR_OUTPUT_DIR", "SEARXNG_URL"} {
		t.Setenv(k, "")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "curator.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
output_dir: out
llm:
  provider: gemini
  model: gemini-2.0-flash
  api_key: g-key
models:
  article: gemini-2.5-pro
research:
  max_conv_turn: 5
retry:
  base_delay: 10ms
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "out", cfg.OutputDir)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, 5, cfg.Research.MaxConvTurn)
	assert.Equal(t, 3, cfg.Research.MaxThreadNum, "unset fields keep defaults")
	assert.Equal(t, "gemini-2.5-pro", cfg.LLM.Settings(cfg.Models.Article).Model)
	assert.Equal(t, "gemini-2.0-flash", cfg.LLM.Settings(cfg.Models.Outline).Model)
	assert.Equal(t, 10*time.Millisecond, cfg.RetryPolicy().BaseDelay)
	assert.Equal(t, 4, cfg.RetryPolicy().MaxAttempts)
	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm: [unclosed"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("CURATOR_OUTPUT_DIR", "/tmp/curated")
	t.Setenv("SEARXNG_URL", "http://searx.local")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-env", cfg.LLM.APIKey)
	assert.Equal(t, "/tmp/curated", cfg.OutputDir)
	assert.Equal(t, "http://searx.local", cfg.Retriever.BaseURL)
	assert.Equal(t, "duckduckgo", cfg.Retriever.Backend, "explicit backend is kept")
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "mock needs no key", mutate: func(c *Config) { c.LLM.Provider = "mock" }},
		{name: "missing key", mutate: func(c *Config) {}, wantErr: "llm api key not configured"},
		{name: "unknown provider", mutate: func(c *Config) { c.LLM.Provider = "acme" }, wantErr: "invalid llm provider"},
		{name: "deepseek needs base url", mutate: func(c *Config) {
			c.LLM = LLMConfig{Provider: "deepseek", Model: "deepseek-chat", APIKey: "k"}
		}, wantErr: "requires base_url"},
		{name: "bad fallback", mutate: func(c *Config) {
			c.LLM.Provider = "mock"
			c.Fallback = &LLMConfig{Provider: "openai"}
		}, wantErr: "fallback api key"},
		{name: "searxng needs url", mutate: func(c *Config) {
			c.LLM.Provider = "mock"
			c.Retriever.Backend = "searxng"
		}, wantErr: "requires base_url (or SEARXNG_URL)"},
		{name: "bad duration", mutate: func(c *Config) {
			c.LLM.Provider = "mock"
			c.Retry.MaxDelay = "soon"
		}, wantErr: "retry.max_delay"},
		{name: "zero turns", mutate: func(c *Config) {
			c.LLM.Provider = "mock"
			c.Research.MaxConvTurn = 0
		}, wantErr: "max_conv_turn"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "curator.yaml")
	cfg := DefaultConfig()
	cfg.Fallback = &LLMConfig{Provider: "mock"}
	require.NoError(t, cfg.Save(path))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
