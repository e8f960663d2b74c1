package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLLMSection_Data(t *testing.T) {
	s := NewLLMSection()
	require.NoError(t, s.SetData(map[string]any{
		"api_key":           "sk",
		"model":             "m",
		"base_url":          "http://localhost:8080/v1",
		"compaction_model":  "small",
		"reasoning_enabled": true,
		"unknown":           42,
	}))

	assert.Equal(t, LLMSettings{
		APIKey:           "sk",
		Model:            "m",
		BaseURL:          "http://localhost:8080/v1",
		CompactionModel:  "small",
		ReasoningEnabled: true,
	}, s.Settings())
	assert.Equal(t, "small", s.Data()["compaction_model"])
	assert.NoError(t, s.Validate())

	s.Reset()
	assert.Equal(t, LLMSettings{}, s.Settings())
}

func TestLLMSection_InvalidValues(t *testing.T) {
	s := NewLLMSection()
	assert.Error(t, s.SetData(map[string]any{"model": 3}))
	assert.Error(t, s.SetData(map[string]any{"reasoning_enabled": "yes"}))

	s.SetSettings(LLMSettings{BaseURL: "not a url"})
	assert.Error(t, s.Validate())
}

func TestChatSection(t *testing.T) {
	s := NewChatSection()
	require.NoError(t, s.SetData(map[string]any{"system_prompt": "Be brief."}))
	assert.Equal(t, "Be brief.", s.SystemPrompt())

	require.NoError(t, s.SetData(map[string]any{}))
	assert.Equal(t, "Be brief.", s.SystemPrompt())

	assert.Error(t, s.SetData(map[string]any{"system_prompt": 1}))

	s.Reset()
	assert.Empty(t, s.Data()["system_prompt"])
}

func TestNew_PersistsSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	m, err := New(path)
	require.NoError(t, err)

	LLMOf(m).SetSettings(LLMSettings{Model: "m", CompactionModel: "c"})
	ChatOf(m).SetSystemPrompt("hello")
	require.NoError(t, m.SaveAll())

	reloaded, err := New(path)
	require.NoError(t, err)
	assert.Equal(t, "m", LLMOf(reloaded).Settings().Model)
	assert.Equal(t, "c", LLMOf(reloaded).Settings().CompactionModel)
	assert.Equal(t, "hello", ChatOf(reloaded).SystemPrompt())
}

func TestSectionLookupOnNilManager(t *testing.T) {
	assert.Nil(t, LLMOf(nil))
	assert.Nil(t, ChatOf(NewManager(newMemStore())))
}
