package rag

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/docs-expert/internal/models"
)

func TestParseSuggestions(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "numbered",
			in:   "1. How do I add a plugin?\n2. What is an emitter?\n3. How do transformers work?",
			want: []string{"How do I add a plugin?", "What is an emitter?", "How do transformers work?"},
		},
		{
			name: "mixed markers and blanks",
			in:   "\n- First?\n\n* Second?\n  3) Third?\n4. Fourth?",
			want: []string{"First?", "Second?", "Third?"},
		},
		{
			name: "quoted",
			in:   `"Can I use LaTeX?"`,
			want: []string{"Can I use LaTeX?"},
		},
		{
			name: "empty",
			in:   "  \n\n",
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseSuggestions(tt.in))
		})
	}
}

func TestAnswerPrompt(t *testing.T) {
	p := answerPrompt("Quartz", "ctx-a\n\n---\n\nctx-b", "", "How?")
	assert.True(t, strings.HasPrefix(p, "You are the Quartz Expert Agent"))
	assert.Contains(t, p, "Context from Quartz documentation:\nctx-a\n\n---\n\nctx-b")
	assert.Contains(t, p, "\n\nUser Question: How?")
	assert.Contains(t, p, "4. If the context doesn't contain enough information, acknowledge this")
	assert.True(t, strings.HasSuffix(p, "Answer:"))
	assert.NotContains(t, p, "Conversation so far")

	withConv := answerPrompt("Quartz", "ctx", "user: hi\nassistant: hello", "How?")
	assert.Contains(t, withConv, "Conversation so far:\nuser: hi\nassistant: hello\n\nUser Question: How?")
}

func TestSuggestionPrompt_TruncatesAnswer(t *testing.T) {
	long := strings.Repeat("é", 800)
	p := suggestionPrompt("Quartz", "Why?", long)

	assert.Contains(t, p, "Based on this Q&A about Quartz, suggest 3 follow-up questions:")
	assert.Contains(t, p, "Answer: "+strings.Repeat("é", 500)+"...")
	assert.NotContains(t, p, strings.Repeat("é", 501))
}

func TestRenderHistory(t *testing.T) {
	history := []models.Message{
		{Role: "user", Content: "a"},
		{Role: "assistant", Content: "b"},
		{Role: "user", Content: "c"},
	}

	assert.Equal(t, "user: a\nassistant: b\nuser: c", renderHistory(history, 5))
	assert.Equal(t, "assistant: b\nuser: c", renderHistory(history, 2))
	assert.Equal(t, "", renderHistory(nil, 5))
}

func TestConfidenceAndContextUsageBounds(t *testing.T) {
	chunk := &models.Chunk{Content: "x", Source: "a.md"}
	tests := []struct {
		name   string
		scores []float64
		want   float64
	}{
		{name: "average", scores: []float64{0.9, 0.7}, want: 0.8},
		{name: "above one", scores: []float64{1.4, 1.2}, want: 1},
		{name: "negative", scores: []float64{-0.5}, want: 0},
		{name: "nan", scores: []float64{math.NaN()}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := make([]models.SimilarityResult, 0, len(tt.scores))
			for _, s := range tt.scores {
				results = append(results, models.SimilarityResult{Chunk: chunk, Score: s})
			}
			assert.InDelta(t, tt.want, confidence(results), 1e-9)
		})
	}

	assert.InDelta(t, 0.5, contextUsage(strings.Repeat("a", 4000), 8000), 1e-9)
	assert.InDelta(t, 1.0, contextUsage(strings.Repeat("a", 20000), 8000), 1e-9)
	assert.InDelta(t, 0.0, contextUsage("", 8000), 1e-9)
	// runes, not bytes
	assert.InDelta(t, 0.5, contextUsage(strings.Repeat("ü", 4000), 8000), 1e-9)
}

func TestUniqueSources(t *testing.T) {
	results := []models.SimilarityResult{
		{Chunk: &models.Chunk{Source: "b.md"}},
		{Chunk: &models.Chunk{Source: "a.md"}},
		{Chunk: &models.Chunk{Source: "b.md"}},
		{Chunk: &models.Chunk{Metadata: map[string]interface{}{models.MetaSource: "c.md"}}},
	}
	assert.Equal(t, []string{"b.md", "a.md", "c.md"}, uniqueSources(results))
}

func TestSessionManager(t *testing.T) {
	m := NewSessionManager(2, time.Minute, 5)

	id := m.Resolve("")
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.NotEqual(t, id, m.Resolve(""))
	assert.Equal(t, "given", m.Resolve("given"))

	assert.Nil(t, m.History(id, nil))

	for i := 0; i < 8; i++ {
		m.Append(id,
			models.Message{Role: models.RoleUser, Content: "q"},
			models.Message{Role: models.RoleAssistant, Content: "a"},
		)
	}
	assert.Len(t, m.History(id, nil), maxStoredTurns)

	supplied := []models.Message{{Role: models.RoleUser, Content: "mine"}}
	assert.Equal(t, supplied, m.History(id, supplied))

	// least recently used session is evicted
	m.Append("s2", models.Message{Role: models.RoleUser, Content: "x"})
	m.Append("s3", models.Message{Role: models.RoleUser, Content: "y"})
	assert.Equal(t, 2, m.Len())
	assert.Nil(t, m.History(id, nil))
}

func TestSessionManager_Expiry(t *testing.T) {
	m := NewSessionManager(10, 20*time.Millisecond, 5)
	m.Append("s", models.Message{Role: models.RoleUser, Content: "x"})
	require.Len(t, m.History("s", nil), 1)

	assert.Eventually(t, func() bool {
		return m.History("s", nil) == nil
	}, time.Second, 10*time.Millisecond)
}
