// Package llm defines the completion backend contract used by the responder.
//
// A backend wraps a remote or local chat-completion API (Groq, OpenAI, a local
// Ollama instance) behind a single blocking call. Backends never retry on
// their own: the responder owns the attempt budget and the degraded-reply
// policy, so any error returned from Complete is treated as a transport
// failure for that attempt.
//
// Implementations must be safe for concurrent use.
package llm

import "context"

// Provider is a chat-completion backend.
type Provider interface {
	// Complete sends req and blocks until the backend answers or ctx ends.
	// A successful call with no choices returns a response with empty
	// Content rather than an error.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
