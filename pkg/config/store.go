package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"
)

const (
	configVersion = "1.0"

	// DirName is the directory under the user's home holding memochat state.
	DirName = ".memochat"

	// FileName is the config file inside DirName.
	FileName = "config.json"
)

// Store persists section data.
type Store interface {
	Load() error
	Save() error

	// GetSection returns a copy of one section's data.
	GetSection(sectionID string) (map[string]any, error)

	// SetSection replaces one section's data.
	SetSection(sectionID string, data map[string]any) error
}

// FileStore is a Store kept in one JSON file:
//
//	{"version": "1.0", "sections": {"llm": {...}, "chat": {...}}}
//
// A flat file written by the desktop app (api_key, model_id, base_url, ...)
// is read into the llm section and rewritten in this layout on the next Save.
type FileStore struct {
	path string

	mu       sync.RWMutex
	version  string
	sections map[string]map[string]any
	modified bool
}

type fileLayout struct {
	Version  string                    `json:"version"`
	Sections map[string]map[string]any `json:"sections"`
}

// desktopConfig is the flat layout of the desktop app's config.json.
type desktopConfig struct {
	APIKey           string `json:"api_key"`
	ModelID          string `json:"model_id"`
	BaseURL          string `json:"base_url"`
	CompactModelID   string `json:"compact_model_id"`
	ReasoningEnabled bool   `json:"reasoning_enabled"`
}

// DefaultDir returns ~/.memochat.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, DirName), nil
}

// NewFileStore opens the config file at path, or ~/.memochat/config.json
// when path is empty. A missing file is not an error.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		dir, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, FileName)
	}

	s := &FileStore{path: path, version: configVersion, sections: map[string]map[string]any{}}
	if err := s.Load(); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	return s, nil
}

// Load rereads the file, discarding unsaved changes.
func (s *FileStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.sections = map[string]map[string]any{}
		s.modified = false
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var layout fileLayout
	if err := json.Unmarshal(raw, &layout); err != nil {
		return fmt.Errorf("failed to decode config file: %w", err)
	}
	if layout.Sections != nil {
		s.sections = layout.Sections
		if layout.Version != "" {
			s.version = layout.Version
		}
		s.modified = false
		return nil
	}

	var flat desktopConfig
	if err := json.Unmarshal(raw, &flat); err != nil {
		return fmt.Errorf("failed to decode config file: %w", err)
	}
	s.sections = map[string]map[string]any{
		SectionIDLLM: {
			"api_key":           flat.APIKey,
			"model":             flat.ModelID,
			"base_url":          flat.BaseURL,
			"compaction_model":  flat.CompactModelID,
			"reasoning_enabled": flat.ReasoningEnabled,
		},
	}
	s.modified = true
	return nil
}

// Save writes the file through a temp file and rename.
func (s *FileStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	out, err := json.MarshalIndent(fileLayout{Version: s.version, Sections: s.sections}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace config: %w", err)
	}
	s.modified = false
	return nil
}

// GetSection returns a copy of the section's data, empty if absent.
func (s *FileStore) GetSection(sectionID string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if data, ok := s.sections[sectionID]; ok {
		return maps.Clone(data), nil
	}
	return map[string]any{}, nil
}

// SetSection stores a copy of data.
func (s *FileStore) SetSection(sectionID string, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sections[sectionID] = maps.Clone(data)
	s.modified = true
	return nil
}

// IsModified reports unsaved changes, including a pending desktop-format
// rewrite.
func (s *FileStore) IsModified() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.modified
}

// Path returns the config file path.
func (s *FileStore) Path() string {
	return s.path
}
