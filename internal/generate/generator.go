// Package generate turns a transcript into a Markdown blog post with a
// single chat request to a text-generation provider.
package generate

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/tubeblog/internal/failure"
	"github.com/nugget/tubeblog/internal/llm"
	"github.com/nugget/tubeblog/internal/prompts"
)

// Defaults applied by [New] for zero-valued [Config] fields.
const (
	DefaultModel       = "llama-3.3-70b-versatile"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 4000
)

// Config holds the request parameters for generation.
type Config struct {
	Model string
	// Temperature nil selects DefaultTemperature. Zero is honored.
	Temperature *float64
	MaxTokens   int

	// Timeout bounds a single provider call. Zero leaves the deadline
	// to the caller's context.
	Timeout time.Duration
}

// Generation is the result of one generation call.
type Generation struct {
	Content      string
	Model        string
	InputTokens  int
	OutputTokens int
	Elapsed      time.Duration
}

// Generator produces blog posts from transcripts.
type Generator struct {
	client llm.Client
	cfg    Config
	logger *slog.Logger
}

// New creates a Generator. The client is shared read-only across calls.
func New(client llm.Client, cfg Config, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Temperature == nil {
		t := DefaultTemperature
		cfg.Temperature = &t
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	return &Generator{client: client, cfg: cfg, logger: logger}
}

// Model returns the model identifier requests are sent with.
func (g *Generator) Model() string { return g.cfg.Model }

// Generate asks the model to write a post from transcript. An empty
// transcript is still sent. Any provider error, and a completion with
// no text, fails with [failure.Generation]; nothing is retried.
func (g *Generator) Generate(ctx context.Context, transcript string) (*Generation, error) {
	const op = "generate"

	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: prompts.BlogSystemPrompt()},
		{Role: llm.RoleUser, Content: prompts.BlogUserPrompt(transcript)},
	}

	g.logger.Debug("requesting blog post",
		"model", g.cfg.Model,
		"transcript_chars", len(transcript),
		"max_tokens", g.cfg.MaxTokens,
	)

	start := time.Now()
	resp, err := g.client.Chat(ctx, g.cfg.Model, messages, llm.ChatOptions{
		Temperature: g.cfg.Temperature,
		MaxTokens:   g.cfg.MaxTokens,
	})
	elapsed := time.Since(start)
	if err != nil {
		g.logger.Warn("generation failed", "model", g.cfg.Model, "elapsed", elapsed, "error", err)
		return nil, failure.New(failure.Generation, op, err)
	}
	if resp == nil || strings.TrimSpace(resp.Message.Content) == "" {
		return nil, failure.New(failure.Generation, op, errors.New("model returned an empty completion"))
	}

	model := resp.Model
	if model == "" {
		model = g.cfg.Model
	}

	g.logger.Info("blog post generated",
		"model", model,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"stop_reason", resp.StopReason,
		"elapsed", elapsed.Round(time.Millisecond),
	)

	return &Generation{
		Content:      resp.Message.Content,
		Model:        model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		Elapsed:      elapsed,
	}, nil
}
