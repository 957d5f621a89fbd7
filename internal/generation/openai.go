package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/developer-mesh/docs-expert/internal/embedding"
)

// OpenAIClient calls the OpenAI chat completions endpoint
type OpenAIClient struct {
	apiKey     string
	endpoint   string
	options    Options
	httpClient *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// NewOpenAIClient creates a chat completions client
func NewOpenAIClient(apiKey, endpoint string, options Options, httpClient *http.Client) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1"
	}
	if options.Model == "" {
		options.Model = "gpt-4-turbo-preview"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}

	return &OpenAIClient{
		apiKey:     apiKey,
		endpoint:   strings.TrimRight(endpoint, "/"),
		options:    options,
		httpClient: httpClient,
	}, nil
}

// Generate sends prompt as a single user message and returns the first choice
func (c *OpenAIClient) Generate(ctx context.Context, prompt string) (string, error) {
	jsonData, err := json.Marshal(chatRequest{
		Model:       c.options.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: c.options.Temperature,
		MaxTokens:   c.options.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("completion request aborted: %w", ctxErr)
		}
		return "", &embedding.ProviderError{
			Provider: "openai",
			Code:     "REQUEST_FAILED",
			Message:  err.Error(),
		}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", embedding.ParseOpenAIError(resp.StatusCode, body)
	}

	var result chatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", &embedding.ProviderError{
			Provider: "openai",
			Code:     "EMPTY_RESPONSE",
			Message:  "no choices in completion response",
		}
	}

	return result.Choices[0].Message.Content, nil
}
