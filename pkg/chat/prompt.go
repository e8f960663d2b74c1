package chat

import (
	"fmt"
	"strings"

	"github.com/entrhq/memochat/pkg/memo"
	"github.com/entrhq/memochat/pkg/types"
)

// BuildSystemMessage synthesizes the leading system message from memos and
// the system prompt. Memos with blank content are skipped; the rest render as
// "[title]: content", one per line, followed by the trimmed system prompt.
// It returns "" when there is nothing to say.
func BuildSystemMessage(memos []memo.Memo, systemPrompt string) string {
	var parts []string

	var lines []string
	for _, m := range memos {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("[%s]: %s", m.Title, m.Content))
	}
	if len(lines) > 0 {
		parts = append(parts, strings.Join(lines, "\n"))
	}

	if prompt := strings.TrimSpace(systemPrompt); prompt != "" {
		parts = append(parts, prompt)
	}

	return strings.Join(parts, "\n")
}

// BuildRequest maps history to request messages, prepending the synthesized
// system message when it is non-empty. Reasoning is dropped.
func BuildRequest(history []types.Message, memos []memo.Memo, systemPrompt string) []*types.Message {
	request := make([]*types.Message, 0, len(history)+1)
	if system := BuildSystemMessage(memos, systemPrompt); system != "" {
		request = append(request, types.NewSystemMessage(system))
	}
	for _, turn := range history {
		request = append(request, &types.Message{Role: turn.Role, Content: turn.Content})
	}
	return request
}
