package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_MissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.json")
	s, err := NewFileStore(path)
	require.NoError(t, err)

	data, err := s.GetSection("llm")
	require.NoError(t, err)
	assert.Empty(t, data)
	assert.False(t, s.IsModified())
	assert.Equal(t, path, s.Path())
}

func TestFileStore_SaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.json")
	s, err := NewFileStore(path)
	require.NoError(t, err)

	require.NoError(t, s.SetSection("llm", map[string]any{"model": "m", "reasoning_enabled": true}))
	assert.True(t, s.IsModified())
	require.NoError(t, s.Save())
	assert.False(t, s.IsModified())

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":"1.0","sections":{"llm":{"model":"m","reasoning_enabled":true}}}`, string(raw))

	again, err := NewFileStore(path)
	require.NoError(t, err)
	data, err := again.GetSection("llm")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"model": "m", "reasoning_enabled": true}, data)
}

func TestFileStore_SectionsAreCopies(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)

	in := map[string]any{"k": "v"}
	require.NoError(t, s.SetSection("s", in))
	in["k"] = "changed"

	out, err := s.GetSection("s")
	require.NoError(t, err)
	out["k"] = "also changed"

	again, err := s.GetSection("s")
	require.NoError(t, err)
	assert.Equal(t, "v", again["k"])
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))

	_, err := NewFileStore(path)
	assert.Error(t, err)
}

func TestFileStore_ReadsDesktopConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	desktop := `{"api_key":"sk-1","model_id":"m1","base_url":"http://local/v1",` +
		`"compact_model_id":"m2","reasoning_enabled":true,"channels_json":"[]"}`
	require.NoError(t, os.WriteFile(path, []byte(desktop), 0o600))

	m, err := New(path)
	require.NoError(t, err)
	assert.Equal(t, LLMSettings{
		APIKey:           "sk-1",
		Model:            "m1",
		BaseURL:          "http://local/v1",
		CompactionModel:  "m2",
		ReasoningEnabled: true,
	}, LLMOf(m).Settings())

	fs := m.Store().(*FileStore)
	assert.True(t, fs.IsModified())
	require.NoError(t, m.SaveAll())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"sections"`)
	assert.NotContains(t, string(raw), "model_id")
}
