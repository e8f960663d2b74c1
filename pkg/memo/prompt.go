package memo

import (
	"fmt"
	"strings"

	"github.com/entrhq/memochat/pkg/types"
)

// emptyMemo stands in for a memo with no prior content.
const emptyMemo = "(empty)"

const updatePromptTemplate = `You are a memo manager. Update a single memo based on the chat history.

Memo title: %s
Update rule: %s
Current content: %s

Chat history:
%s

Output ONLY the updated memo content as plain text (no JSON, no wrapping). If there is nothing relevant in the chat, return the current content as-is.`

// FlattenTranscript renders turns as "role: content" lines.
func FlattenTranscript(turns []types.Message) string {
	lines := make([]string, len(turns))
	for i, turn := range turns {
		lines[i] = fmt.Sprintf("%s: %s", turn.Role, turn.Content)
	}
	return strings.Join(lines, "\n")
}

// BuildUpdatePrompt builds the directive sent for one rule. An empty prior
// content is rendered as "(empty)".
func BuildUpdatePrompt(rule Rule, prior, history string) string {
	if prior == "" {
		prior = emptyMemo
	}
	return fmt.Sprintf(updatePromptTemplate, rule.Title, rule.UpdateRule, prior, history)
}
