// Package llm defines the Provider interface for chat completion backends.
//
// The orchestrator only needs short conversational answers for utterances no
// intent handler claims, so the interface is a single blocking call with a
// bounded history. Streaming and tool calling are out of scope here.
package llm

import "context"

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a chat exchange.
type Message struct {
	Role    string
	Content string
}

// ChatRequest carries one completion call.
type ChatRequest struct {
	// SystemPrompt is prepended as the system message when non-empty.
	SystemPrompt string

	// Messages is the conversation so far, oldest first. The final entry
	// is the user utterance to answer.
	Messages []Message

	// Temperature is passed through when non-zero.
	Temperature float64

	// MaxTokens caps the answer length when positive.
	MaxTokens int
}

// Provider is the abstraction over any chat completion backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Chat returns the assistant's answer to the request.
	Chat(ctx context.Context, req ChatRequest) (string, error)
}
