package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/tubeblog/internal/httpkit"
)

// OpenAIClient talks to an OpenAI-compatible /chat/completions
// endpoint. Groq, OpenAI, and most hosted inference services accept
// this shape.
type OpenAIClient struct {
	baseURL    string
	apiKeys    []string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenAIClient creates a client for baseURL (e.g.
// "https://api.groq.com/openai/v1"). Fallback keys are tried in order
// when the primary key is rejected or rate limited.
func NewOpenAIClient(baseURL, apiKey string, fallbackKeys []string, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	keys := []string{apiKey}
	for _, k := range fallbackKeys {
		if k != "" && k != apiKey {
			keys = append(keys, k)
		}
	}

	return &OpenAIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKeys: keys,
		logger:  logger.With("provider", "openai"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithResponseHeaderTimeout(120*time.Second),
			httpkit.WithRetry(2, 500*time.Millisecond),
			httpkit.WithLogger(logger),
		),
	}
}

type openAIRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int     `json:"index"`
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// statusError carries a non-2xx HTTP status from the provider.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("openai API error %d: %s", e.status, e.body)
}

// keyRejected reports statuses where another API key may succeed.
func keyRejected(err error) bool {
	var se *statusError
	if !errors.As(err, &se) {
		return false
	}
	return se.status == http.StatusUnauthorized ||
		se.status == http.StatusForbidden ||
		se.status == http.StatusTooManyRequests
}

// Chat sends a chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (*ChatResponse, error) {
	req := openAIRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: opts.MaxTokens,
	}
	if opts.Temperature != nil {
		temp := *opts.Temperature
		req.Temperature = &temp
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Debug("preparing request",
		"model", model,
		"messages", len(messages),
		"max_tokens", opts.MaxTokens,
	)
	c.logger.Log(ctx, LevelTrace, "request payload", "json", string(jsonData))

	var lastErr error
	for i, key := range c.apiKeys {
		resp, err := c.post(ctx, key, jsonData)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !keyRejected(err) || ctx.Err() != nil {
			break
		}
		if i+1 < len(c.apiKeys) {
			c.logger.Warn("API key rejected, trying fallback key", "attempt", i+1, "error", err)
		}
	}
	return nil, lastErr
}

func (c *OpenAIClient) post(ctx context.Context, apiKey string, body []byte) (*ChatResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("API error", "status", resp.StatusCode, "body", errBody)
		return nil, &statusError{status: resp.StatusCode, body: errBody}
	}

	var out openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("response has no choices")
	}

	result := &ChatResponse{
		Model:        out.Model,
		Message:      out.Choices[0].Message,
		StopReason:   out.Choices[0].FinishReason,
		InputTokens:  out.Usage.PromptTokens,
		OutputTokens: out.Usage.CompletionTokens,
	}

	c.logger.Debug("response received",
		"model", result.Model,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"finish_reason", result.StopReason,
	)
	c.logger.Log(ctx, LevelTrace, "response content", "content", result.Message.Content)

	return result, nil
}

// Ping lists models to verify the endpoint and primary key.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKeys[0])

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 64*1024)

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("invalid API key")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status from %s: %d", c.baseURL, resp.StatusCode)
	}
	return nil
}
