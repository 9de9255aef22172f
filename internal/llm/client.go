// Package llm talks to an OpenAI-compatible chat-completion service and
// implements the language-model extraction strategy.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/worq1337/parcer-sub000/internal/common"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Config holds provider connection settings.
type Config struct {
	APIKey      string
	Model       string
	VisionModel string
	BaseURL     string
	Temperature float64
	Timeout     time.Duration
}

// Client is a minimal chat-completion client. It negotiates the structured
// output mode per call and classifies rate-limit responses distinctly.
type Client struct {
	httpClient  *http.Client
	logger      *slog.Logger
	apiKey      string
	model       string
	visionModel string
	baseURL     string
	temperature float64
}

// NewClient creates a chat-completion client.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: llm.api_key is required", common.ErrMissingConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	visionModel := cfg.VisionModel
	if visionModel == "" {
		visionModel = "gpt-4o"
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = 0.1
	}

	return &Client{
		apiKey:      cfg.APIKey,
		model:       model,
		visionModel: visionModel,
		baseURL:     baseURL,
		temperature: temperature,
		logger:      logger,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

// Message is one chat turn. Content is either a string or a slice of content
// parts for vision requests.
type Message struct {
	Content any    `json:"content"`
	Role    string `json:"role"`
}

// TextMessage builds a plain text chat turn.
func TextMessage(role, text string) Message {
	return Message{Role: role, Content: text}
}

// VisionMessage builds a user turn carrying a prompt plus an image.
func VisionMessage(prompt, imageDataURL string) Message {
	return Message{
		Role: "user",
		Content: []map[string]any{
			{"type": "text", "text": prompt},
			{
				"type": "image_url",
				"image_url": map[string]any{
					"url":    imageDataURL,
					"detail": "high",
				},
			},
		},
	}
}

// Complete runs a chat completion with the default text model.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	return c.createCompletion(ctx, c.model, messages, true)
}

// CompleteVision runs a chat completion with the vision model.
func (c *Client) CompleteVision(ctx context.Context, messages []Message) (string, error) {
	return c.createCompletion(ctx, c.visionModel, messages, true)
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// createCompletion posts one chat-completion request. When the provider
// rejects the structured output mode with an "unsupported response_format"
// 400, the request is repeated exactly once without the constraint. That
// renegotiation is separate from transient-failure retries, which callers
// layer on top with common.WithRetry.
func (c *Client) createCompletion(ctx context.Context, model string, messages []Message, useResponseFormat bool) (string, error) {
	requestBody := map[string]any{
		"model":       model,
		"messages":    messages,
		"temperature": c.temperature,
	}
	if useResponseFormat {
		requestBody["response_format"] = map[string]string{"type": "json_object"}
	}

	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", strings.NewReader(string(jsonBody)))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiMessage := apiErrorMessage(body)
		if resp.StatusCode == http.StatusBadRequest && useResponseFormat &&
			strings.Contains(strings.ToLower(apiMessage), "response_format") {
			// Negotiated capability fallback: one unconstrained repeat,
			// separate from the transient-failure retries callers layer on
			// top with common.WithRetry.
			c.logger.Warn("model does not support structured output, retrying unconstrained",
				"model", model)
			return c.createCompletion(ctx, model, messages, false)
		}
		return "", classifyAPIError(resp.StatusCode, resp.Header, apiMessage)
	}

	var response completionResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrMalformedResponse, err)
	}

	if len(response.Choices) == 0 || strings.TrimSpace(response.Choices[0].Message.Content) == "" {
		return "", common.ErrEmptyResponse
	}

	return strings.TrimSpace(response.Choices[0].Message.Content), nil
}

// classifyAPIError maps provider failures onto the error taxonomy.
func classifyAPIError(status int, headers http.Header, apiMessage string) error {
	if status == http.StatusTooManyRequests ||
		strings.Contains(strings.ToLower(apiMessage), "rate limit") {
		return &common.RateLimitError{RetryAfter: retryAfterHint(headers, apiMessage)}
	}

	if status >= http.StatusInternalServerError {
		return fmt.Errorf("%w: provider returned status %d: %s", common.ErrUnreachable, status, apiMessage)
	}

	return &common.RetryableError{
		Retryable: false,
		Err:       fmt.Errorf("provider returned status %d: %s", status, apiMessage),
	}
}

func apiErrorMessage(body []byte) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	return string(body)
}

var retryAfterMessageRe = regexp.MustCompile(`(?i)try again in\s+([0-9]+(?:\.[0-9]+)?)\s*s`)

// retryAfterHint extracts the provider's retry-after hint from the
// Retry-After header or from the error message text.
func retryAfterHint(headers http.Header, message string) time.Duration {
	if raw := headers.Get("Retry-After"); raw != "" {
		if seconds, err := strconv.Atoi(raw); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}

	if m := retryAfterMessageRe.FindStringSubmatch(message); m != nil {
		if seconds, err := strconv.ParseFloat(m[1], 64); err == nil && seconds > 0 {
			d := time.Duration(seconds * float64(time.Second))
			if d < time.Second {
				d = time.Second
			}
			return d
		}
	}

	return 0
}
