package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"postpilot/internal/types"
)

// anthropicAPIBase is the default Anthropic API base URL.
// Overridable in tests via AnthropicClientConfig.BaseURL.
const anthropicAPIBase = "https://api.anthropic.com"

// anthropicVersion pins the Messages API revision.
const anthropicVersion = "2023-06-01"

// AnthropicClientConfig holds the configuration for creating an AnthropicClient.
type AnthropicClientConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
	BaseURL   string // Override for testing; defaults to anthropicAPIBase
	Logger    *slog.Logger
}

// anthropicRequest is the Messages API request body.
type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// anthropicResponse is the Messages API response body. Only the content
// blocks are consumed; usage counters are logged for observability.
type anthropicResponse struct {
	ID         string                  `json:"id"`
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// AnthropicClient implements Generator by calling the Anthropic Messages API
// through BaseClient. This routes all requests through the platform's
// resilience infrastructure (circuit breaker, retries, error mapping) and
// makes testing with httptest straightforward.
type AnthropicClient struct {
	base      *BaseClient
	apiKey    string
	model     string
	maxTokens int
	baseURL   string
	logger    *slog.Logger
}

// NewAnthropicClient creates a new AnthropicClient. The httpClient timeout
// should accommodate model latency (60 seconds by default in config).
func NewAnthropicClient(
	httpClient *http.Client,
	cfg AnthropicClientConfig,
) *AnthropicClient {
	base := NewBaseClient(
		httpClient,
		"anthropic",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    1 * time.Second,
			MaxWait:    10 * time.Second,
		},
		"PostPilot/1.0",
	)

	return newAnthropicClient(base, cfg)
}

// NewAnthropicClientWithBase creates an AnthropicClient with a pre-configured
// BaseClient. This is useful for testing when you want to control the
// BaseClient configuration (e.g., disable retries).
func NewAnthropicClientWithBase(
	base *BaseClient,
	cfg AnthropicClientConfig,
) *AnthropicClient {
	return newAnthropicClient(base, cfg)
}

func newAnthropicClient(base *BaseClient, cfg AnthropicClientConfig) *AnthropicClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = anthropicAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	return &AnthropicClient{
		base:      base,
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		maxTokens: maxTokens,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

// Generate sends a single-turn Messages API request and returns the first
// text content block of the response.
func (c *AnthropicClient) Generate(ctx context.Context, system string, input string) (string, error) {
	reqBody := anthropicRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    system,
		Messages: []anthropicMessage{
			{Role: "user", Content: input},
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to serialize generation request",
			err,
		)
	}

	url := c.baseURL + "/v1/messages"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create generation request",
			err,
		)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.base.Do(req)
	if err != nil {
		return "", c.wrapError("Generate", err)
	}
	defer resp.Body.Close()

	// BaseClient returns 4xx responses (other than 429) as-is without error.
	if resp.StatusCode >= 400 {
		return "", c.handleErrorResponse(resp, "Generate")
	}

	var genResp anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode generation response",
			err,
		)
	}

	text := firstTextBlock(genResp.Content)
	if text == "" {
		return "", types.NewAppError(
			types.ErrCodeUpstreamGeneration,
			"model returned no text content",
			nil,
		)
	}

	c.logger.InfoContext(ctx, "generation completed",
		"model", c.model,
		"stop_reason", genResp.StopReason,
		"input_tokens", genResp.Usage.InputTokens,
		"output_tokens", genResp.Usage.OutputTokens,
	)

	return text, nil
}

// firstTextBlock returns the first non-empty text block from the response
// content, or "" when none exists.
func firstTextBlock(blocks []anthropicContentBlock) string {
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			return b.Text
		}
	}
	return ""
}

// handleErrorResponse reads and logs the error body from a non-2xx response,
// then returns an appropriate AppError.
func (c *AnthropicClient) handleErrorResponse(resp *http.Response, operation string) *types.AppError {
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	bodyStr := string(bodyBytes)

	c.logger.Error("Anthropic API error",
		"operation", operation,
		"status_code", resp.StatusCode,
		"response_body", bodyStr,
	)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return types.NewAppError(
			types.ErrCodeUpstreamGeneration,
			"Anthropic authentication failed (401)",
			fmt.Errorf("anthropic %s returned 401: %s", operation, bodyStr),
		)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return types.NewAppError(
			types.ErrCodeUpstreamGeneration,
			fmt.Sprintf("Anthropic client error (%d): %s", resp.StatusCode, operation),
			fmt.Errorf("anthropic %s returned %d: %s", operation, resp.StatusCode, bodyStr),
		)
	default:
		return types.NewAppError(
			types.ErrCodeUpstreamGeneration,
			fmt.Sprintf("Anthropic server error (%d): %s", resp.StatusCode, operation),
			fmt.Errorf("anthropic %s returned %d: %s", operation, resp.StatusCode, bodyStr),
		)
	}
}

// wrapError converts errors from BaseClient.Do into generation errors.
func (c *AnthropicClient) wrapError(operation string, err error) error {
	// If it's already an AppError, enhance the message but preserve the code.
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return types.NewAppError(
			appErr.Code,
			fmt.Sprintf("Anthropic %s: %s", operation, appErr.Message),
			appErr.Err,
		)
	}

	return types.NewAppError(
		types.ErrCodeUpstreamGeneration,
		fmt.Sprintf("Anthropic %s failed", operation),
		err,
	)
}

// Compile-time interface compliance check.
var _ Generator = (*AnthropicClient)(nil)
