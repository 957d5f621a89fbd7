// Package rag implements retrieval, answer synthesis and conversational
// sessions over the indexed documentation corpus.
package rag

import (
	"context"
	"errors"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/developer-mesh/docs-expert/internal/embedding"
	"github.com/developer-mesh/docs-expert/internal/generation"
	"github.com/developer-mesh/docs-expert/internal/models"
	"github.com/developer-mesh/docs-expert/internal/vectorstore"
)

// Retriever embeds a query and fetches its nearest chunks
type Retriever struct {
	embedder embedding.Client
	store    vectorstore.Store
}

// NewRetriever creates a retriever
func NewRetriever(embedder embedding.Client, store vectorstore.Store) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Retrieve returns up to k results ordered by descending score
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]models.SimilarityResult, error) {
	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, models.RetrievalError("embed query", err)
	}

	results, err := r.store.Query(ctx, vector, k)
	if err != nil {
		var merr *models.Error
		if errors.As(err, &merr) {
			return nil, err
		}
		return nil, models.RetrievalError("query store", err)
	}
	return results, nil
}

// AnswerSynthesizer turns retrieved chunks into a grounded answer
type AnswerSynthesizer struct {
	generator     generation.Client
	suggester     generation.Client
	productName   string
	contextBudget int
}

// NewAnswerSynthesizer creates a synthesizer. contextBudget is the number of
// runes treated as a full context window. suggester serves follow-up
// questions and defaults to generator.
func NewAnswerSynthesizer(generator, suggester generation.Client, productName string, contextBudget int) *AnswerSynthesizer {
	if contextBudget <= 0 {
		contextBudget = 8000
	}
	if suggester == nil {
		suggester = generator
	}
	return &AnswerSynthesizer{
		generator:     generator,
		suggester:     suggester,
		productName:   productName,
		contextBudget: contextBudget,
	}
}

// Synthesize generates an answer from results. An empty result set yields the
// fallback answer without calling the model.
func (a *AnswerSynthesizer) Synthesize(ctx context.Context, question, conversation string, results []models.SimilarityResult) (*models.AnswerResult, error) {
	if len(results) == 0 {
		return fallbackAnswer(), nil
	}

	sources := uniqueSources(results)
	contextText := joinContext(results)

	text, err := a.generator.Generate(ctx, answerPrompt(a.productName, contextText, conversation, question))
	if err != nil {
		return nil, models.GenerationError("generate answer", err)
	}

	return &models.AnswerResult{
		Answer:       text,
		Sources:      sources,
		Confidence:   confidence(results),
		ContextUsage: contextUsage(contextText, a.contextBudget),
		Consistency:  0.95,
	}, nil
}

// Suggest asks for three follow-up questions. It never fails; the static list
// is returned when generation errors or yields nothing usable.
func (a *AnswerSynthesizer) Suggest(ctx context.Context, question, answer string) ([]string, bool) {
	text, err := a.suggester.Generate(ctx, suggestionPrompt(a.productName, question, answer))
	if err != nil {
		return defaultSuggestions(), false
	}
	suggestions := parseSuggestions(text)
	if len(suggestions) == 0 {
		return defaultSuggestions(), false
	}
	return suggestions, true
}

func fallbackAnswer() *models.AnswerResult {
	return &models.AnswerResult{
		Answer:       FallbackAnswer,
		Sources:      []string{},
		Confidence:   0.1,
		ContextUsage: 0,
		Consistency:  1,
	}
}

func defaultSuggestions() []string {
	out := make([]string, len(DefaultSuggestions))
	copy(out, DefaultSuggestions)
	return out
}

func uniqueSources(results []models.SimilarityResult) []string {
	seen := make(map[string]bool, len(results))
	sources := make([]string, 0, len(results))
	for _, r := range results {
		if r.Chunk == nil {
			continue
		}
		src := r.Chunk.Source
		if src == "" {
			if s, ok := r.Chunk.Metadata[models.MetaSource].(string); ok {
				src = s
			}
		}
		if src == "" || seen[src] {
			continue
		}
		seen[src] = true
		sources = append(sources, src)
	}
	return sources
}

func joinContext(results []models.SimilarityResult) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		if r.Chunk != nil {
			parts = append(parts, r.Chunk.Content)
		}
	}
	return strings.Join(parts, contextSeparator)
}

func confidence(results []models.SimilarityResult) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range results {
		sum += r.Score
	}
	return clamp01(sum / float64(len(results)))
}

func contextUsage(contextText string, budget int) float64 {
	if budget <= 0 {
		return 1
	}
	return clamp01(float64(utf8.RuneCountInString(contextText)) / float64(budget))
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
