package llm

import "log/slog"

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatOptions are per-request sampling parameters. A nil Temperature
// or zero MaxTokens leaves the provider default in place; a Temperature
// pointing at 0 is sent as 0.
type ChatOptions struct {
	Temperature *float64
	MaxTokens   int
}

// ChatResponse is the provider-neutral result of a chat request.
// Wire format conversion happens inside each provider.
type ChatResponse struct {
	Model   string
	Message Message

	// StopReason is the provider's finish reason ("stop", "length",
	// "end_turn", ...), when reported.
	StopReason string

	InputTokens  int
	OutputTokens int
}
