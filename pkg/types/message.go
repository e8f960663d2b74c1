package types

// MessageRole identifies the author of a message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"    // RoleSystem is a synthesized instruction message.
	RoleUser      MessageRole = "user"      // RoleUser is a message typed by the user.
	RoleAssistant MessageRole = "assistant" // RoleAssistant is a completion from the model.
)

// Message is one turn of a conversation.
//
// Reasoning carries the model's internal reasoning channel for assistant turns.
// It is never sent back to the completion service.
type Message struct {
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Reasoning string      `json:"reasoning,omitempty"`
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) *Message {
	return &Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) *Message {
	return &Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) *Message {
	return &Message{Role: RoleAssistant, Content: content}
}

// WithContentAppended returns a copy of m with delta appended to Content.
func (m Message) WithContentAppended(delta string) Message {
	m.Content += delta
	return m
}

// WithReasoningAppended returns a copy of m with delta appended to Reasoning.
func (m Message) WithReasoningAppended(delta string) Message {
	m.Reasoning += delta
	return m
}

// CloneMessages returns a copy of the slice. Message holds no references, so a
// shallow copy is a full snapshot.
func CloneMessages(messages []Message) []Message {
	if messages == nil {
		return nil
	}
	out := make([]Message, len(messages))
	copy(out, messages)
	return out
}
