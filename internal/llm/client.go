// Package llm provides text-generation clients for the providers
// tubeblog can talk to: any OpenAI-compatible chat completions endpoint
// (Groq by default), Anthropic, and a local Ollama instance.
package llm

import "context"

// Client is the interface that all LLM providers must implement.
type Client interface {
	// Chat sends a non-streaming chat completion request and returns
	// the complete response.
	Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (*ChatResponse, error)

	// Ping checks if the provider is reachable and the credentials work.
	Ping(ctx context.Context) error
}
