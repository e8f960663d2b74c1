package config

import (
	"fmt"
	"net/url"
	"sync"
)

const (
	// SectionIDLLM is the identifier for the LLM settings section
	SectionIDLLM = "llm"
)

// LLMSettings is a snapshot of the completion service settings.
type LLMSettings struct {
	APIKey  string
	Model   string
	BaseURL string

	// CompactionModel is used for memo updates; empty means Model.
	CompactionModel string

	// ReasoningEnabled shows the reasoning channel of assistant turns.
	ReasoningEnabled bool
}

// LLMSection manages completion service settings.
type LLMSection struct {
	settings LLMSettings
	mu       sync.RWMutex
}

// NewLLMSection creates an LLM section with empty settings. Empty values
// fall through to the environment and then to provider defaults.
func NewLLMSection() *LLMSection {
	return &LLMSection{}
}

// ID returns the section identifier.
func (s *LLMSection) ID() string {
	return SectionIDLLM
}

// Title returns the section title.
func (s *LLMSection) Title() string {
	return "LLM Settings"
}

// Description returns the section description.
func (s *LLMSection) Description() string {
	return "Configure the chat completion service. compaction_model is optional; if empty, memo updates use the main model."
}

// Data returns the current configuration data.
func (s *LLMSection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"api_key":           s.settings.APIKey,
		"model":             s.settings.Model,
		"base_url":          s.settings.BaseURL,
		"compaction_model":  s.settings.CompactionModel,
		"reasoning_enabled": s.settings.ReasoningEnabled,
	}
}

// SetData updates the configuration from data. Unknown keys are ignored.
func (s *LLMSection) SetData(data map[string]any) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, value := range data {
		switch key {
		case "api_key", "model", "base_url", "compaction_model":
			str, ok := value.(string)
			if !ok {
				return fmt.Errorf("invalid value type for %s: expected string, got %T", key, value)
			}
			switch key {
			case "api_key":
				s.settings.APIKey = str
			case "model":
				s.settings.Model = str
			case "base_url":
				s.settings.BaseURL = str
			case "compaction_model":
				s.settings.CompactionModel = str
			}
		case "reasoning_enabled":
			enabled, ok := value.(bool)
			if !ok {
				return fmt.Errorf("invalid value type for reasoning_enabled: expected bool, got %T", value)
			}
			s.settings.ReasoningEnabled = enabled
		}
	}
	return nil
}

// Validate checks that a configured base URL is absolute.
func (s *LLMSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.settings.BaseURL == "" {
		return nil
	}
	u, err := url.Parse(s.settings.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base_url %q is not an absolute URL", s.settings.BaseURL)
	}
	return nil
}

// Reset clears every setting.
func (s *LLMSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = LLMSettings{}
}

// Settings returns a snapshot of the settings.
func (s *LLMSection) Settings() LLMSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// SetSettings replaces the settings.
func (s *LLMSection) SetSettings(settings LLMSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
}
