package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/developer-mesh/docs-expert/internal/embedding"
)

// Converser is the part of the Bedrock runtime client used for generation
type Converser interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockClient generates text through the model-agnostic Converse API
type BedrockClient struct {
	client  Converser
	options Options
}

// NewBedrockClient creates a Converse client
func NewBedrockClient(client Converser, options Options) *BedrockClient {
	if options.Model == "" {
		options.Model = "anthropic.claude-3-haiku-20240307-v1:0"
	}
	return &BedrockClient{client: client, options: options}
}

// Generate sends prompt as a single user turn and joins the text blocks of the reply
func (c *BedrockClient) Generate(ctx context.Context, prompt string) (string, error) {
	inference := &types.InferenceConfiguration{
		Temperature: aws.Float32(float32(c.options.Temperature)),
	}
	if c.options.MaxTokens > 0 {
		inference.MaxTokens = aws.Int32(int32(c.options.MaxTokens))
	}

	out, err := c.client.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(c.options.Model),
		Messages: []types.Message{
			{
				Role: types.ConversationRoleUser,
				Content: []types.ContentBlock{
					&types.ContentBlockMemberText{Value: prompt},
				},
			},
		},
		InferenceConfig: inference,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("completion request aborted: %w", ctxErr)
		}
		return "", &embedding.ProviderError{
			Provider: "bedrock",
			Code:     "CONVERSE_FAILED",
			Message:  err.Error(),
		}
	}

	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return "", &embedding.ProviderError{
			Provider: "bedrock",
			Code:     "EMPTY_RESPONSE",
			Message:  "converse returned no message",
		}
	}

	var b strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			b.WriteString(text.Value)
		}
	}
	return b.String(), nil
}
