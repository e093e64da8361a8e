// Package core holds the types shared between the assistant loop and the
// memory pipeline. A conversation is a sequence of Messages; the extractor,
// consolidator and compactor all operate on that shared currency.
package core

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// UserMessage builds a user-authored turn.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// AssistantMessage builds an assistant-authored turn.
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: text}
}

// SystemMessage builds a system turn.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: text}
}

// CountByRole returns how many messages carry the given role.
func CountByRole(messages []Message, role Role) int {
	n := 0
	for _, m := range messages {
		if m.Role == role {
			n++
		}
	}
	return n
}
