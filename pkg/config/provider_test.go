package config

import (
	"testing"

	"github.com/entrhq/memochat/pkg/llm/openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvAPIKey, EnvBaseURL, EnvModel, EnvCompactionModel} {
		t.Setenv(key, "")
	}
}

func TestResolve_Defaults(t *testing.T) {
	clearEnv(t)

	got := Resolve(LLMSettings{}, nil)
	assert.Equal(t, LLMSettings{Model: openai.DefaultModel, BaseURL: openai.DefaultBaseURL}, got)
}

func TestResolve_Precedence(t *testing.T) {
	clearEnv(t)
	section := NewLLMSection()
	section.SetSettings(LLMSettings{
		APIKey:           "file-key",
		Model:            "file-model",
		BaseURL:          "http://file",
		CompactionModel:  "file-compact",
		ReasoningEnabled: true,
	})

	got := Resolve(LLMSettings{}, section)
	assert.Equal(t, section.Settings(), got)

	t.Setenv(EnvAPIKey, "env-key")
	t.Setenv(EnvModel, "env-model")
	t.Setenv(EnvBaseURL, "http://env")
	t.Setenv(EnvCompactionModel, "env-compact")

	got = Resolve(LLMSettings{}, section)
	assert.Equal(t, "env-key", got.APIKey)
	assert.Equal(t, "env-model", got.Model)
	assert.Equal(t, "http://env", got.BaseURL)
	assert.Equal(t, "env-compact", got.CompactionModel)

	got = Resolve(LLMSettings{APIKey: "flag-key", Model: "flag-model"}, section)
	assert.Equal(t, "flag-key", got.APIKey)
	assert.Equal(t, "flag-model", got.Model)
	assert.Equal(t, "http://env", got.BaseURL)
	assert.True(t, got.ReasoningEnabled)
}

func TestBuildProvider(t *testing.T) {
	clearEnv(t)
	section := NewLLMSection()
	section.SetSettings(LLMSettings{Model: "file-model", BaseURL: "http://localhost:9999/v1/"})

	provider, settings, err := BuildProvider(LLMSettings{}, section)
	require.NoError(t, err)
	assert.Equal(t, "file-model", provider.GetModel())
	assert.Equal(t, "http://localhost:9999/v1", provider.GetBaseURL())
	assert.Equal(t, "", provider.GetAPIKey())
	assert.Equal(t, "file-model", settings.Model)
}
