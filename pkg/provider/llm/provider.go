// Package llm defines the Provider interface for large language model
// backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI GPT-4o, a
// local Ollama instance, or any OpenAI-compatible server) and exposes a
// uniform completion interface for transcript post-processing without
// coupling to any specific SDK.
//
// Implementors must be safe for concurrent use and must propagate context
// cancellation promptly.
package llm

import "context"

// Usage reports the token spend of one completion, as counted by the
// backend. Counts are in the model's native token unit and may differ
// between providers for identical text.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages
	// and system prompt.
	PromptTokens int

	// CompletionTokens counts tokens the model generated in its reply.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens. Some providers return
	// it directly rather than computing it from the parts.
	TotalTokens int
}

// CompletionRequest is the full input to one Complete call. A zero value
// is invalid; at minimum Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is an optional high-priority instruction injected before
	// the conversation. Implementors that lack a dedicated system field
	// prepend it as a system-role message.
	SystemPrompt string

	// Messages is the ordered conversation. The last message is typically
	// from the user role and drives the response.
	Messages []Message

	// Temperature controls output randomness in the range [0.0, 2.0]. Zero
	// means use the provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may
	// generate. Zero means use the provider default.
	MaxTokens int
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the model's reply.
	Content string

	// Usage is the token spend of this exchange.
	Usage Usage
}

// Provider is the uniform surface over one LLM backend.
//
// Implementations must be safe for concurrent use from multiple goroutines.
type Provider interface {
	// Name identifies the backend, e.g. "openai" or "ollama".
	Name() string

	// Complete sends req to the model and blocks for the full response,
	// failing when the request errors or ctx is cancelled first.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
