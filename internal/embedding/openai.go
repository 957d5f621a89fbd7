package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultOpenAIEndpoint = "https://api.openai.com/v1"

// OpenAIConfig configures the OpenAI embeddings provider
type OpenAIConfig struct {
	APIKey     string
	Endpoint   string
	Model      string
	Dimensions int
	HTTPClient *http.Client
}

// OpenAIProvider calls the OpenAI embeddings endpoint
type OpenAIProvider struct {
	config     OpenAIConfig
	httpClient *http.Client
}

type openAIRequest struct {
	Input      interface{} `json:"input"` // string or []string
	Model      string      `json:"model"`
	Dimensions *int        `json:"dimensions,omitempty"`
}

type openAIResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
	} `json:"error"`
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if config.Endpoint == "" {
		config.Endpoint = defaultOpenAIEndpoint
	}
	config.Endpoint = strings.TrimRight(config.Endpoint, "/")
	if config.Model == "" {
		config.Model = "text-embedding-3-small"
	}
	if config.Dimensions == 0 {
		config.Dimensions = NativeDimensions(config.Model)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	return &OpenAIProvider{config: config, httpClient: httpClient}, nil
}

// Model returns the embedding model name
func (p *OpenAIProvider) Model() string {
	return p.config.Model
}

// Dimensions returns the vector size produced by the provider
func (p *OpenAIProvider) Dimensions() int {
	return p.config.Dimensions
}

// Embed generates an embedding for one text
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for texts in one request, in input order
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	req := openAIRequest{Input: texts, Model: p.config.Model}
	if len(texts) == 1 {
		req.Input = texts[0]
	}
	if native := NativeDimensions(p.config.Model); strings.HasPrefix(p.config.Model, "text-embedding-3") && p.config.Dimensions != native {
		dims := p.config.Dimensions
		req.Dimensions = &dims
	}

	resp, err := p.doRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	if len(resp.Data) != len(texts) {
		return nil, &ProviderError{
			Provider: "openai",
			Code:     "INVALID_RESPONSE",
			Message:  fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(resp.Data)),
		}
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) || vectors[d.Index] != nil {
			return nil, &ProviderError{
				Provider: "openai",
				Code:     "INVALID_RESPONSE",
				Message:  fmt.Sprintf("unexpected embedding index %d", d.Index),
			}
		}
		if err := checkDimensions("openai", len(d.Embedding), p.config.Dimensions); err != nil {
			return nil, err
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

func (p *OpenAIProvider) doRequest(ctx context.Context, reqBody openAIRequest) (*openAIResponse, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint+"/embeddings", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("embedding request aborted: %w", ctxErr)
		}
		return nil, &ProviderError{
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
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, ParseOpenAIError(resp.StatusCode, body)
	}

	var openAIResp openAIResponse
	if err := json.Unmarshal(body, &openAIResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &openAIResp, nil
}

// ParseOpenAIError converts a non-2xx OpenAI response into a ProviderError
func ParseOpenAIError(status int, body []byte) *ProviderError {
	var errResp openAIErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error.Message == "" {
		return &ProviderError{
			Provider:   "openai",
			Code:       "UNKNOWN_ERROR",
			Message:    string(body),
			StatusCode: status,
		}
	}

	code := errResp.Error.Code
	if code == "" {
		code = errResp.Error.Type
	}
	return &ProviderError{
		Provider:   "openai",
		Code:       code,
		Message:    errResp.Error.Message,
		StatusCode: status,
	}
}
