package embedding

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// ModelInvoker is the part of the Bedrock runtime client used for embeddings
type ModelInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

type titanEmbeddingRequest struct {
	InputText  string `json:"inputText"`
	Dimensions *int   `json:"dimensions,omitempty"`
}

type titanEmbeddingResponse struct {
	Embedding           []float32 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

// BedrockProvider embeds text with Amazon Titan models on Bedrock
type BedrockProvider struct {
	client     ModelInvoker
	model      string
	dimensions int
}

// NewBedrockClient loads the default AWS configuration for region
func NewBedrockClient(ctx context.Context, region string) (*bedrockruntime.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return bedrockruntime.NewFromConfig(cfg), nil
}

// NewBedrockProvider creates a Titan embeddings provider over client
func NewBedrockProvider(client ModelInvoker, model string, dimensions int) *BedrockProvider {
	if model == "" {
		model = "amazon.titan-embed-text-v1"
	}
	if dimensions == 0 {
		dimensions = NativeDimensions(model)
	}
	return &BedrockProvider{client: client, model: model, dimensions: dimensions}
}

// Model returns the embedding model id
func (p *BedrockProvider) Model() string {
	return p.model
}

// Dimensions returns the vector size produced by the provider
func (p *BedrockProvider) Dimensions() int {
	return p.dimensions
}

// Embed generates an embedding for one text
func (p *BedrockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	req := titanEmbeddingRequest{InputText: text}
	if p.model == "amazon.titan-embed-text-v2:0" && p.dimensions != NativeDimensions(p.model) {
		dims := p.dimensions
		req.Dimensions = &dims
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(p.model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("embedding request aborted: %w", ctxErr)
		}
		return nil, &ProviderError{
			Provider: "bedrock",
			Code:     "INVOKE_FAILED",
			Message:  err.Error(),
		}
	}

	var resp titanEmbeddingResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if err := checkDimensions("bedrock", len(resp.Embedding), p.dimensions); err != nil {
		return nil, err
	}
	return resp.Embedding, nil
}

// EmbedBatch embeds texts one at a time; Titan has no batch input
func (p *BedrockProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for _, text := range texts {
		v, err := p.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, v)
	}
	return vectors, nil
}
