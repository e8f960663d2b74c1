// Package tokenizer estimates token counts for transcripts using the
// cl100k_base encoding.
package tokenizer

import (
	"fmt"

	"github.com/entrhq/memochat/pkg/types"
	"github.com/pkoukk/tiktoken-go"
)

const (
	// Encoding is the BPE encoding used for counting.
	Encoding = "cl100k_base"

	// tokensPerMessage is the chat-format overhead added for each message.
	tokensPerMessage = 4

	// replyPriming is the overhead for the assistant reply header.
	replyPriming = 3
)

// Tokenizer counts tokens. A nil *Tokenizer is valid and falls back to a
// character-based estimate of four characters per token.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// New loads the encoding. The BPE ranks may be fetched on first use, so this
// can fail in offline environments; callers fall back to a nil Tokenizer.
func New() (*Tokenizer, error) {
	enc, err := tiktoken.GetEncoding(Encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s encoding: %w", Encoding, err)
	}
	return &Tokenizer{enc: enc}, nil
}

// CountTokens returns the number of tokens in text.
func (t *Tokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if t == nil || t.enc == nil {
		return Estimate(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// CountMessagesTokens returns the token count of a chat request built from
// messages, including per-message overhead.
func (t *Tokenizer) CountMessagesTokens(messages []types.Message) int {
	if len(messages) == 0 {
		return 0
	}
	total := replyPriming
	for _, msg := range messages {
		total += tokensPerMessage
		total += t.CountTokens(string(msg.Role))
		total += t.CountTokens(msg.Content)
	}
	return total
}

// Estimate approximates the token count of text without an encoding.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
