// Package agent defines the LLM capability consumed by agent nodes.
package agent

import "context"

// Model is the capability agent nodes invoke. It abstracts the
// differences between providers (Anthropic, OpenAI, Google, local
// models) behind a single completion call.
//
// Implementations should:
// - Handle provider-specific authentication.
// - Convert Message values to the provider's wire format.
// - Respect context cancellation and timeouts.
// - Surface provider failures as *Error where the failure class is known.
//
// Rate-limit backoff and retries, where desired, belong to the Model
// implementation. The engine treats every Model error as a node failure.
type Model interface {
	// Complete sends the request to the provider and returns its response.
	Complete(ctx context.Context, req Request) (Response, error)
}

// Request is a single completion request.
type Request struct {
	// System is the system prompt. Empty means no system prompt.
	System string

	// Messages is the conversation so far, oldest first.
	Messages []Message

	// Tools lists tool specifications the model may call (nil for none).
	Tools []ToolSpec
}

// Response is the model's reply.
type Response struct {
	// Text is the generated text. May be empty if the model only
	// requested tool calls.
	Text string

	// ToolCalls contains tools the model wants invoked.
	ToolCalls []ToolCall

	// TokensUsed is the combined input+output token count, when the
	// provider reports it.
	TokensUsed int
}

// Message is one turn in a conversation.
type Message struct {
	// Role identifies the sender. Use the Role* constants.
	Role string `json:"role"`

	// Content is the message text.
	Content string `json:"content"`
}

// Standard conversation roles, aligned with the major providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolSpec describes a tool the model may call. Schema follows JSON
// Schema and describes the expected input parameters.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// ToolCall is a request from the model to invoke a tool.
type ToolCall struct {
	Name  string
	Input map[string]any
}

// Error classifies a provider failure. Code is machine-readable;
// Retryable reports whether the same request may succeed later.
type Error struct {
	Code      string
	Message   string
	Retryable bool
}

// Well-known Error codes.
const (
	ErrCodeAuth      = "invalid_api_key"
	ErrCodeRateLimit = "rate_limited"
	ErrCodeQuota     = "quota_exceeded"
	ErrCodeTimeout   = "timeout"
	ErrCodeAPI       = "api_error"
)

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}
