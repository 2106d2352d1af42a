package interfaces

import (
	"context"
)

// Message represents a single message in a chat conversation
type Message struct {
	// Role identifies the message sender: "user", "assistant", or "system"
	Role string

	// Content contains the text content of the message
	Content string
}

// LLMService is a chat-completion backend. Implementations wrap a cloud
// provider SDK (Claude, Gemini).
type LLMService interface {
	// Chat generates a completion from the conversation history. The system
	// prompt, if any, is the first message with role "system".
	Chat(ctx context.Context, messages []Message) (string, error)

	// HealthCheck verifies the provider is reachable and the key is accepted.
	HealthCheck(ctx context.Context) error

	// Model returns the model name used for completions.
	Model() string

	// Close releases client resources.
	Close() error
}
