// Package config loads and saves memochat settings as sections of a JSON
// file, with environment overrides for the completion service.
package config

// New creates a manager backed by the JSON file at path (empty for the
// default location), registers the LLM and chat sections and loads them.
func New(path string) (*Manager, error) {
	store, err := NewFileStore(path)
	if err != nil {
		return nil, err
	}

	manager := NewManager(store)
	if err := manager.RegisterSection(NewLLMSection()); err != nil {
		return nil, err
	}
	if err := manager.RegisterSection(NewChatSection()); err != nil {
		return nil, err
	}

	if err := manager.LoadAll(); err != nil {
		return nil, err
	}
	return manager, nil
}

// LLMOf returns the LLM section registered with m, or nil.
func LLMOf(m *Manager) *LLMSection {
	return sectionAs[*LLMSection](m, SectionIDLLM)
}

// ChatOf returns the chat section registered with m, or nil.
func ChatOf(m *Manager) *ChatSection {
	return sectionAs[*ChatSection](m, SectionIDChat)
}

func sectionAs[T Section](m *Manager, id string) T {
	var zero T
	if m == nil {
		return zero
	}
	section, ok := m.GetSection(id)
	if !ok {
		return zero
	}
	typed, ok := section.(T)
	if !ok {
		return zero
	}
	return typed
}
