package config

import (
	"fmt"
	"sync"
)

const (
	// SectionIDChat is the identifier for the chat settings section
	SectionIDChat = "chat"
)

// ChatSection holds conversation settings.
type ChatSection struct {
	systemPrompt string
	mu           sync.RWMutex
}

// NewChatSection creates a chat section with no system prompt.
func NewChatSection() *ChatSection {
	return &ChatSection{}
}

// ID returns the section identifier.
func (s *ChatSection) ID() string {
	return SectionIDChat
}

// Title returns the section title.
func (s *ChatSection) Title() string {
	return "Chat Settings"
}

// Description returns the section description.
func (s *ChatSection) Description() string {
	return "The system prompt sent after the memos at the start of every request."
}

// Data returns the current configuration data.
func (s *ChatSection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{"system_prompt": s.systemPrompt}
}

// SetData updates the configuration from data.
func (s *ChatSection) SetData(data map[string]any) error {
	value, ok := data["system_prompt"]
	if !ok {
		return nil
	}
	prompt, ok := value.(string)
	if !ok {
		return fmt.Errorf("invalid value type for system_prompt: expected string, got %T", value)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.systemPrompt = prompt
	return nil
}

// Validate always succeeds.
func (s *ChatSection) Validate() error {
	return nil
}

// Reset clears the system prompt.
func (s *ChatSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.systemPrompt = ""
}

// SystemPrompt returns the configured system prompt.
func (s *ChatSection) SystemPrompt() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.systemPrompt
}

// SetSystemPrompt sets the system prompt.
func (s *ChatSection) SetSystemPrompt(prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.systemPrompt = prompt
}
