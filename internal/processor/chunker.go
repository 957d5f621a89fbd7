// Package processor splits documents into overlapping chunks for indexing
package processor

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/developer-mesh/docs-expert/internal/models"
)

// DefaultSeparators are tried largest first; when none fits the text is cut
// at the character level.
var DefaultSeparators = []string{"\n\n", "\n", " "}

// chunkNamespace scopes deterministic chunk ids
var chunkNamespace = uuid.MustParse("6f2b8a9e-3c1d-4e5f-9a7b-2d8c0e1f4a63")

// ChunkID derives a stable id for the index-th chunk of a document
func ChunkID(source string, index int) uuid.UUID {
	return uuid.NewSHA1(chunkNamespace, []byte(source+"#"+strconv.Itoa(index)))
}

type span struct {
	start, end int
}

// RecursiveChunker cuts text into windows of at most ChunkSize runes. Each
// window ends on the largest separator available near its tail, and each
// window after the first starts at least ChunkOverlap runes before the
// previous one ended.
type RecursiveChunker struct {
	ChunkSize    int
	ChunkOverlap int
	separators   [][]rune
}

// NewRecursiveChunker creates a chunker; overlap must be smaller than size
func NewRecursiveChunker(chunkSize, chunkOverlap int) (*RecursiveChunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", chunkSize, chunkOverlap)
	}

	seps := make([][]rune, 0, len(DefaultSeparators))
	for _, s := range DefaultSeparators {
		seps = append(seps, []rune(s))
	}

	return &RecursiveChunker{
		ChunkSize:    chunkSize,
		ChunkOverlap: chunkOverlap,
		separators:   seps,
	}, nil
}

// Chunk splits a document. Every chunk carries the document metadata plus its
// index. Blank runs too long to share a window with text are collapsed first,
// so StartChar and EndChar index the collapsed body.
func (c *RecursiveChunker) Chunk(document *models.Document) ([]*models.Chunk, error) {
	if document == nil {
		return nil, fmt.Errorf("document cannot be nil")
	}

	text := collapseBlankRuns([]rune(document.Content), blankRunLimit(c.ChunkSize))
	base := document.MetadataMap()

	var chunks []*models.Chunk
	for _, sp := range c.split(text) {
		content := string(text[sp.start:sp.end])
		if strings.TrimSpace(content) == "" {
			continue
		}

		index := len(chunks)
		meta := make(map[string]interface{}, len(base)+1)
		for k, v := range base {
			meta[k] = v
		}
		meta[models.MetaChunkIndex] = index

		chunks = append(chunks, &models.Chunk{
			ID:        ChunkID(document.Path, index),
			Source:    document.Path,
			Index:     index,
			Content:   content,
			StartChar: sp.start,
			EndChar:   sp.end,
			Metadata:  meta,
		})
	}

	return chunks, nil
}

// ChunkAll splits every document, preserving document order
func (c *RecursiveChunker) ChunkAll(documents []*models.Document) ([]*models.Chunk, error) {
	var all []*models.Chunk
	for _, doc := range documents {
		chunks, err := c.Chunk(doc)
		if err != nil {
			return nil, err
		}
		all = append(all, chunks...)
	}
	return all, nil
}

// GetStrategy returns the name of the chunking strategy
func (c *RecursiveChunker) GetStrategy() string {
	return "recursive_character"
}

// blankRunLimit is the longest whitespace run kept as is. Windows other than
// the last span at least half the chunk size, so a shorter run never fills one.
func blankRunLimit(chunkSize int) int {
	return max(2, chunkSize/4)
}

// collapseBlankRuns replaces whitespace runs longer than limit with the
// largest separator they contain and drops trailing whitespace
func collapseBlankRuns(text []rune, limit int) []rune {
	end := len(text)
	for end > 0 && unicode.IsSpace(text[end-1]) {
		end--
	}
	text = text[:end]

	out := make([]rune, 0, len(text))
	for i := 0; i < len(text); {
		if !unicode.IsSpace(text[i]) {
			out = append(out, text[i])
			i++
			continue
		}

		j, newlines := i, 0
		for j < len(text) && unicode.IsSpace(text[j]) {
			if text[j] == '\n' {
				newlines++
			}
			j++
		}

		switch {
		case j-i <= limit:
			out = append(out, text[i:j]...)
		case newlines >= 2:
			out = append(out, '\n', '\n')
		case newlines == 1:
			out = append(out, '\n')
		default:
			out = append(out, ' ')
		}
		i = j
	}
	return out
}

func (c *RecursiveChunker) split(text []rune) []span {
	n := len(text)
	if n == 0 {
		return nil
	}

	size, overlap := c.ChunkSize, c.ChunkOverlap
	// bounded backward slack keeps the next window able to pass the previous end
	slack := min(overlap/2, (size-overlap)/2)

	var spans []span
	start, prevEnd := 0, 0
	for {
		limit := min(start+size, n)
		end := limit
		if limit < n {
			lower := max(start+size/2, start+overlap+1, prevEnd+1)
			lower = min(lower, limit)
			end = c.lastBoundary(text, lower, limit)
		}
		spans = append(spans, span{start: start, end: end})
		if end >= n {
			return spans
		}

		next := end - overlap
		lo := max(next-slack, start+1)
		prevEnd = end
		start = c.lastBoundary(text, lo, next)
	}
}

// lastBoundary returns the greatest position in [lo, hi] that directly follows
// the largest separator present, or hi when no separator ends in that range
func (c *RecursiveChunker) lastBoundary(text []rune, lo, hi int) int {
	for _, sep := range c.separators {
		for pos := hi; pos >= lo; pos-- {
			i := pos - len(sep)
			if i < 0 {
				break
			}
			if hasPrefixAt(text, i, sep) {
				return pos
			}
		}
	}
	return hi
}

func hasPrefixAt(text []rune, i int, sep []rune) bool {
	if i+len(sep) > len(text) {
		return false
	}
	for j, r := range sep {
		if text[i+j] != r {
			return false
		}
	}
	return true
}
