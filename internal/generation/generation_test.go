package generation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/docs-expert/internal/embedding"
	"github.com/developer-mesh/docs-expert/internal/resilience"
	"github.com/developer-mesh/docs-expert/pkg/observability"
)

func TestOpenAIClient_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "gpt-4-turbo-preview", req.Model)
		assert.InDelta(t, 0.7, req.Temperature, 1e-9)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)
		assert.Equal(t, "What is Quartz?", req.Messages[0].Content)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"A static site generator."},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	c, err := NewOpenAIClient("test-key", server.URL, Options{Temperature: 0.7}, nil)
	require.NoError(t, err)

	out, err := c.Generate(context.Background(), "What is Quartz?")
	require.NoError(t, err)
	assert.Equal(t, "A static site generator.", out)
}

func TestOpenAIClient_Errors(t *testing.T) {
	_, err := NewOpenAIClient("", "", Options{}, nil)
	assert.Error(t, err)

	t.Run("server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"message":"The server had an error","type":"server_error"}}`))
		}))
		defer server.Close()

		c, err := NewOpenAIClient("k", server.URL, Options{}, nil)
		require.NoError(t, err)

		_, err = c.Generate(context.Background(), "x")
		var perr *embedding.ProviderError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "server_error", perr.Code)
		assert.Equal(t, http.StatusInternalServerError, perr.StatusCode)
	})

	t.Run("no choices", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"choices":[]}`))
		}))
		defer server.Close()

		c, err := NewOpenAIClient("k", server.URL, Options{}, nil)
		require.NoError(t, err)

		_, err = c.Generate(context.Background(), "x")
		var perr *embedding.ProviderError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "EMPTY_RESPONSE", perr.Code)
	})
}

type fakeConverser struct {
	reply string
	err   error
	last  *bedrockruntime.ConverseInput
}

func (f *fakeConverser) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.last = params
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.ConverseOutput{
		Output: &types.ConverseOutputMemberMessage{
			Value: types.Message{
				Role: types.ConversationRoleAssistant,
				Content: []types.ContentBlock{
					&types.ContentBlockMemberText{Value: f.reply},
				},
			},
		},
	}, nil
}

func TestBedrockClient_Generate(t *testing.T) {
	fake := &fakeConverser{reply: "Use the emitter API."}
	c := NewBedrockClient(fake, Options{Temperature: 0.7, MaxTokens: 512})

	out, err := c.Generate(context.Background(), "How do I write a plugin?")
	require.NoError(t, err)
	assert.Equal(t, "Use the emitter API.", out)

	require.NotNil(t, fake.last)
	assert.Equal(t, "anthropic.claude-3-haiku-20240307-v1:0", aws.ToString(fake.last.ModelId))
	assert.Equal(t, int32(512), aws.ToInt32(fake.last.InferenceConfig.MaxTokens))
	require.Len(t, fake.last.Messages, 1)
	text, ok := fake.last.Messages[0].Content[0].(*types.ContentBlockMemberText)
	require.True(t, ok)
	assert.Equal(t, "How do I write a plugin?", text.Value)
}

func TestBedrockClient_Error(t *testing.T) {
	c := NewBedrockClient(&fakeConverser{err: errors.New("ThrottlingException")}, Options{})
	_, err := c.Generate(context.Background(), "x")
	var perr *embedding.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "bedrock", perr.Provider)
}

type slowClient struct{}

func (slowClient) Generate(ctx context.Context, prompt string) (string, error) {
	select {
	case <-time.After(time.Second):
		return "late", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type failingClient struct{ calls int }

func (f *failingClient) Generate(ctx context.Context, prompt string) (string, error) {
	f.calls++
	return "", errors.New("model unavailable")
}

func TestGuarded_Timeout(t *testing.T) {
	g := NewGuarded(slowClient{}, "stub", 20*time.Millisecond, nil, nil)
	_, err := g.Generate(context.Background(), "x")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGuarded_NoRetry(t *testing.T) {
	f := &failingClient{}
	breaker := resilience.NewCircuitBreaker("generation-stub", resilience.CircuitBreakerConfig{
		ConsecutiveFailures: 1,
		Timeout:             time.Minute,
	}, observability.NewNoopLogger())
	g := NewGuarded(f, "stub", time.Second, breaker, nil)

	_, err := g.Generate(context.Background(), "x")
	assert.EqualError(t, err, "model unavailable")
	assert.Equal(t, 1, f.calls)

	_, err = g.Generate(context.Background(), "x")
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 1, f.calls)
}

func TestGuarded_BestEffortBypassesBreaker(t *testing.T) {
	breaker := resilience.NewCircuitBreaker("generation-stub", resilience.CircuitBreakerConfig{
		ConsecutiveFailures: 1,
		Timeout:             time.Minute,
	}, observability.NewNoopLogger())
	g := NewGuarded(slowClient{}, "stub", 2*time.Second, breaker, nil)
	suggest := g.BestEffort(20 * time.Millisecond)

	for i := 0; i < 3; i++ {
		_, err := suggest.Generate(context.Background(), "x")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}
	assert.Equal(t, "closed", breaker.State())

	out, err := g.Generate(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "late", out)
}
