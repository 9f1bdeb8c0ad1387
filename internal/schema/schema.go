// Package schema holds the canonical, vendor-independent chat types shared
// by the router, the provider adapters and the streaming relay.
package schema

import (
	"errors"
	"fmt"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var ErrInvalidMessage = errors.New("invalid message")

// Message is one turn in a conversation. Content is immutable once created;
// an empty string is permitted and counts as zero tokens.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage carries token counts for one completed request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is a finished, non-streamed model answer in canonical form.
type Completion struct {
	ID           string `json:"id"`
	Model        string `json:"model"`
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason"`
	Usage        Usage  `json:"usage"`
	CreatedAt    int64  `json:"created_at"`
}

// Chunk is one increment of streamed output. Exactly one terminal chunk
// (Done=true) closes every stream; an Err chunk, if any, precedes it.
type Chunk struct {
	Content string
	Err     error
	Done    bool
}

// UsageDelta is the accounting unit the relay hands to the quota gate once
// per request.
type UsageDelta struct {
	UserID       string
	Model        string
	InputTokens  int
	OutputTokens int
}

// ValidateMessages rejects unknown roles before any network call.
func ValidateMessages(messages []Message) error {
	if len(messages) == 0 {
		return fmt.Errorf("%w: empty message list", ErrInvalidMessage)
	}
	for i, m := range messages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return fmt.Errorf("%w: unknown role %q at index %d", ErrInvalidMessage, m.Role, i)
		}
	}
	return nil
}

// LastUserContent returns the content of the most recent user turn, used by
// the router to classify the task. Empty if no user turn exists.
func LastUserContent(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

// ContextLength is the total character length of all message contents,
// matched against provider context windows during selection.
func ContextLength(messages []Message) int {
	n := 0
	for _, m := range messages {
		n += len(m.Content)
	}
	return n
}
