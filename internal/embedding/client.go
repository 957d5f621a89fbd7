// Package embedding turns text into vectors using hosted embedding models
package embedding

import (
	"context"
	"fmt"
)

// Client generates embeddings
type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
	Dimensions() int
}

// ProviderError represents an error reported by an embedding or generation provider
type ProviderError struct {
	Provider   string `json:"provider"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code,omitempty"`
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s provider error [%s] (HTTP %d): %s", e.Provider, e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s provider error [%s]: %s", e.Provider, e.Code, e.Message)
}

// knownDimensions lists the native output size of supported models
var knownDimensions = map[string]int{
	"text-embedding-3-small":       1536,
	"text-embedding-3-large":       3072,
	"text-embedding-ada-002":       1536,
	"amazon.titan-embed-text-v1":   1536,
	"amazon.titan-embed-text-v2:0": 1024,
}

// NativeDimensions returns the default vector size for model, or 0 if unknown
func NativeDimensions(model string) int {
	return knownDimensions[model]
}

func checkDimensions(provider string, got, want int) error {
	if want > 0 && got != want {
		return &ProviderError{
			Provider: provider,
			Code:     "DIMENSION_MISMATCH",
			Message:  fmt.Sprintf("expected %d dimensions, got %d", want, got),
		}
	}
	return nil
}
