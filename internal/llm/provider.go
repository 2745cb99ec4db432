// Package llm defines the provider abstraction the inference worker streams
// through: one chat-formatted request in, text deltas out, token usage
// reported once the stream ends.
package llm

import "context"

// Message is one turn of a chat-formatted prompt.
type Message struct {
	Role    string `json:"role"` // "system" | "user" | "assistant"
	Content string `json:"content"`
}

// Request carries one generation's parameters to a provider. Model overrides
// the provider's configured default when non-empty. MaxTokens <= 0 falls back
// to the provider default. Temperature is forwarded only when > 0 so a
// zero-value Request gets each vendor's own default sampling.
type Request struct {
	Messages    []Message
	Model       string
	MaxTokens   int
	Temperature float64
}

// Usage is the token accounting a provider reports for one generation.
// Providers that cannot report usage leave both counts zero.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// StreamHandler receives one generation's streamed output. OnDelta is called
// once per text chunk in stream order. OnUsage is called at most once, after
// the final delta.
type StreamHandler interface {
	OnDelta(text string)
	OnUsage(u Usage)
}

// Provider is a model runtime that can stream one chat generation. Exactly
// one ChatStream call runs at a time in this process; the worker's GPU lock
// enforces that, not the provider.
type Provider interface {
	ChatStream(ctx context.Context, req Request, h StreamHandler) error
}
