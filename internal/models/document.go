// Package models defines the core data models of the docs-expert RAG pipeline
package models

import (
	"time"

	"github.com/google/uuid"
)

// Metadata keys every chunk carries
const (
	MetaSource     = "source"
	MetaTitle      = "title"
	MetaTags       = "tags"
	MetaCategory   = "category"
	MetaChunkIndex = "chunk_index"
)

// DocumentMetadata is the parsed metadata block of a markdown document
type DocumentMetadata struct {
	Title    string            `json:"title"`
	Tags     []string          `json:"tags"`
	Category string            `json:"category"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// Document is a markdown file loaded from the corpus. It is not modified after loading.
type Document struct {
	Path     string           `json:"path"`
	Content  string           `json:"content"`
	Metadata DocumentMetadata `json:"metadata"`
}

// MetadataMap flattens the document metadata into the map stored with each chunk.
// Unrecognized frontmatter keys are copied verbatim; computed fields take precedence.
func (d *Document) MetadataMap() map[string]interface{} {
	m := make(map[string]interface{}, len(d.Metadata.Extra)+4)
	for k, v := range d.Metadata.Extra {
		m[k] = v
	}
	tags := make([]string, len(d.Metadata.Tags))
	copy(tags, d.Metadata.Tags)

	m[MetaSource] = d.Path
	m[MetaTitle] = d.Metadata.Title
	m[MetaTags] = tags
	m[MetaCategory] = d.Metadata.Category
	return m
}

// Chunk is a bounded, overlapping slice of a document body
type Chunk struct {
	ID        uuid.UUID              `json:"id" db:"id"`
	Source    string                 `json:"source" db:"-"`
	Index     int                    `json:"chunk_index" db:"-"`
	Content   string                 `json:"content" db:"content"`
	StartChar int                    `json:"start_char" db:"-"`
	EndChar   int                    `json:"end_char" db:"-"`
	Metadata  map[string]interface{} `json:"metadata" db:"metadata"`
	Embedding []float32              `json:"-" db:"-"`
	CreatedAt time.Time              `json:"created_at" db:"created_at"`
}

// SimilarityResult is a chunk matched by a similarity query. Score is in [0,1].
type SimilarityResult struct {
	Chunk *Chunk  `json:"chunk"`
	Score float64 `json:"score"`
}

// SearchResult is the externally visible form of a SimilarityResult
type SearchResult struct {
	Content        string                 `json:"content"`
	Metadata       map[string]interface{} `json:"metadata"`
	RelevanceScore float64                `json:"relevanceScore"`
}

// AnswerResult is a synthesized, source-attributed answer
type AnswerResult struct {
	Answer       string   `json:"answer"`
	Sources      []string `json:"sources"`
	Confidence   float64  `json:"confidence"`
	ContextUsage float64  `json:"contextUsage"`
	Consistency  float64  `json:"consistency"`
}

// Message is one conversational turn
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatResult is the reply to a chat turn
type ChatResult struct {
	Message     string   `json:"message"`
	SessionID   string   `json:"sessionId"`
	Sources     []string `json:"sources"`
	Suggestions []string `json:"suggestions"`
}

// IngestResult summarizes an ingestion run
type IngestResult struct {
	Documents int   `json:"documents"`
	Chunks    int   `json:"chunkCount"`
	Skipped   int   `json:"skipped"`
	Pruned    int64 `json:"pruned"`
}
