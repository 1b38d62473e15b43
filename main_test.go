package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"auto_article_curator/config"
	"auto_article_curator/llm"
	"auto_article_curator/pipeline"
)

func TestParseStages(t *testing.T) {
	stages, err := parseStages([]string{"research", "outline"})
	require.NoError(t, err)
	assert.Equal(t, pipeline.Stages{Article: true, Polish: true}, stages)

	_, err = parseStages([]string{"publish"})
	assert.Error(t, err)
}

func TestBuildLLM(t *testing.T) {
	c, err := buildLLM(context.Background(), config.LLMConfig{Provider: "mock"}, "")
	require.NoError(t, err)
	assert.Equal(t, llm.Mock{}, c)

	_, err = buildLLM(context.Background(), config.LLMConfig{Provider: "deepseek", Model: "deepseek-chat", APIKey: "k"}, "")
	assert.ErrorContains(t, err, "base_url")

	_, err = buildLLM(context.Background(), config.LLMConfig{Provider: "claude"}, "")
	assert.ErrorContains(t, err, "not supported")
}

func TestBuildAppWithMockProvider(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.OutputDir = t.TempDir()
	cfg.LLM = config.LLMConfig{Provider: "mock"}
	cfg.Fallback = &config.LLMConfig{Provider: "mock"}

	a, err := buildApp(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()
	assert.Len(t, a.meters, 6)
	assert.NotNil(t, a.fallback)

	r, err := a.Runner(nil)
	require.NoError(t, err)
	assert.NotNil(t, r)
}

func TestBuildLogger(t *testing.T) {
	l, err := buildLogger(config.LoggingConfig{Level: "warn"}, false)
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))

	l, err = buildLogger(config.LoggingConfig{Level: "warn", JSON: true}, true)
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	_, err = buildLogger(config.LoggingConfig{Level: "loud"}, false)
	assert.Error(t, err)
}
