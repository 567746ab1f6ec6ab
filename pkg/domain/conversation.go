package domain

import "strings"

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// RunInput is what a caller submits to start a run: either a single query or
// a full message history. Messages win when both are set.
type RunInput struct {
	Query    string        `json:"query,omitempty"`
	Messages []ChatMessage `json:"messages,omitempty"`
}

// Conversation normalizes the input into a message history. Any role other
// than user is treated as assistant.
func (in RunInput) Conversation() []ChatMessage {
	if len(in.Messages) == 0 {
		return []ChatMessage{{Role: RoleUser, Text: in.Query}}
	}
	out := make([]ChatMessage, len(in.Messages))
	for i, m := range in.Messages {
		role := RoleAssistant
		if strings.EqualFold(string(m.Role), string(RoleUser)) {
			role = RoleUser
		}
		out[i] = ChatMessage{Role: role, Text: m.Text}
	}
	return out
}

// LatestUserText returns the text of the most recent user message, or "".
func LatestUserText(history []ChatMessage) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == RoleUser {
			return history[i].Text
		}
	}
	return ""
}
