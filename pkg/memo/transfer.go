package memo

import (
	"encoding/json"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ErrInvalidDocument is returned when imported data has the wrong shape.
var ErrInvalidDocument = errors.New("invalid memo document")

// RulesDocument is the export format for a rule set.
//
// SystemPrompt is nil when an imported document does not carry one, so the
// caller can keep its current prompt. HasRules reports whether the document
// carried a rules list at all.
type RulesDocument struct {
	SystemPrompt *string `json:"systemPrompt,omitempty" yaml:"systemPrompt,omitempty"`
	Rules        []Rule  `json:"rules" yaml:"rules"`
	HasRules     bool    `json:"-" yaml:"-"`
}

// ExportRules encodes the system prompt and rules as indented JSON.
func ExportRules(systemPrompt string, rules []Rule) ([]byte, error) {
	if rules == nil {
		rules = []Rule{}
	}
	doc := RulesDocument{SystemPrompt: &systemPrompt, Rules: rules}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rules: %w", err)
	}
	return data, nil
}

// ImportRules decodes a rules document from JSON or YAML. Imported rules are
// assigned fresh IDs.
func ImportRules(data []byte) (*RulesDocument, error) {
	var raw struct {
		SystemPrompt *string `json:"systemPrompt" yaml:"systemPrompt"`
		Rules        *[]Rule `json:"rules" yaml:"rules"`
	}
	if err := decodeJSONOrYAML(data, &raw); err != nil {
		return nil, err
	}

	doc := &RulesDocument{SystemPrompt: raw.SystemPrompt}
	if raw.Rules != nil {
		doc.HasRules = true
		doc.Rules = make([]Rule, len(*raw.Rules))
		for i, r := range *raw.Rules {
			doc.Rules[i] = NewRule(r.Title, r.UpdateRule)
		}
	}
	return doc, nil
}

// ExportMemos encodes memos as an indented JSON array.
func ExportMemos(memos []Memo) ([]byte, error) {
	if memos == nil {
		memos = []Memo{}
	}
	data, err := json.MarshalIndent(memos, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal memos: %w", err)
	}
	return data, nil
}

// ImportMemos decodes a memo array from JSON or YAML.
func ImportMemos(data []byte) ([]Memo, error) {
	var memos []Memo
	if err := decodeJSONOrYAML(data, &memos); err != nil {
		return nil, err
	}
	if memos == nil {
		return nil, fmt.Errorf("%w: expected a list of memos", ErrInvalidDocument)
	}
	return memos, nil
}

// decodeJSONOrYAML tries JSON first and falls back to YAML.
func decodeJSONOrYAML(data []byte, v any) error {
	jsonErr := json.Unmarshal(data, v)
	if jsonErr == nil {
		return nil
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, jsonErr)
	}
	return nil
}
