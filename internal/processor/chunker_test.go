package processor

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/docs-expert/internal/models"
)

func makeDoc(path, content string) *models.Document {
	return &models.Document{
		Path:    path,
		Content: content,
		Metadata: models.DocumentMetadata{
			Title:    "Doc",
			Tags:     []string{"a"},
			Category: "general",
			Extra:    map[string]string{"author": "docs-team"},
		},
	}
}

func randomMarkdown(seed int64, paragraphs int) string {
	r := rand.New(rand.NewSource(seed))
	words := []string{"quartz", "plugin", "emitter", "transformer", "graph", "backlinks", "explorer", "deploy", "theme", "λ", "日本"}
	var b strings.Builder
	for p := 0; p < paragraphs; p++ {
		lines := 1 + r.Intn(4)
		for l := 0; l < lines; l++ {
			n := 3 + r.Intn(40)
			for w := 0; w < n; w++ {
				if w > 0 {
					b.WriteString(" ")
				}
				b.WriteString(words[r.Intn(len(words))])
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func assertChunkInvariants(t *testing.T, chunks []*models.Chunk, doc *models.Document, size, overlap int) {
	t.Helper()
	body := collapseBlankRuns([]rune(doc.Content), blankRunLimit(size))
	for i, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Content), size, "chunk %d too long", i)
		assert.Equal(t, string(body[c.StartChar:c.EndChar]), c.Content)
		assert.Equal(t, i, c.Index)
		if i > 0 {
			prev := chunks[i-1]
			assert.Greater(t, c.StartChar, prev.StartChar)
			assert.Greater(t, c.EndChar, prev.EndChar)
			assert.GreaterOrEqual(t, prev.EndChar-c.StartChar, overlap, "chunks %d/%d overlap too small", i-1, i)
		}
	}
	if len(chunks) > 0 {
		assert.Equal(t, 0, chunks[0].StartChar)
		// only whitespace may be left after the final chunk
		assert.Empty(t, strings.TrimSpace(string(body[chunks[len(chunks)-1].EndChar:])))
	}
}

func TestNewRecursiveChunker_Validation(t *testing.T) {
	_, err := NewRecursiveChunker(0, 0)
	assert.Error(t, err)
	_, err = NewRecursiveChunker(100, 100)
	assert.Error(t, err)
	_, err = NewRecursiveChunker(100, -1)
	assert.Error(t, err)

	c, err := NewRecursiveChunker(1000, 200)
	require.NoError(t, err)
	assert.Equal(t, "recursive_character", c.GetStrategy())
}

func TestRecursiveChunker_ShortDocument(t *testing.T) {
	c, err := NewRecursiveChunker(1000, 200)
	require.NoError(t, err)

	doc := makeDoc("plugins/custom.md", "Write a transformer or an emitter.")
	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	chunk := chunks[0]
	assert.Equal(t, doc.Content, chunk.Content)
	assert.Equal(t, "plugins/custom.md", chunk.Source)
	assert.Equal(t, "plugins/custom.md", chunk.Metadata[models.MetaSource])
	assert.Equal(t, "Doc", chunk.Metadata[models.MetaTitle])
	assert.Equal(t, "docs-team", chunk.Metadata["author"])
	assert.Equal(t, 0, chunk.Metadata[models.MetaChunkIndex])
	assert.Equal(t, ChunkID("plugins/custom.md", 0), chunk.ID)
}

func TestRecursiveChunker_EmptyAndBlank(t *testing.T) {
	c, err := NewRecursiveChunker(50, 10)
	require.NoError(t, err)

	chunks, err := c.Chunk(makeDoc("a.md", ""))
	require.NoError(t, err)
	assert.Empty(t, chunks)

	chunks, err = c.Chunk(makeDoc("b.md", "   \n\n  "))
	require.NoError(t, err)
	assert.Empty(t, chunks)

	_, err = c.Chunk(nil)
	assert.Error(t, err)
}

func TestRecursiveChunker_PrefersParagraphBreaks(t *testing.T) {
	c, err := NewRecursiveChunker(60, 10)
	require.NoError(t, err)

	para := strings.Repeat("word ", 8) // 40 runes
	doc := makeDoc("p.md", para+"\n\n"+para+"\n\n"+para)
	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	assert.True(t, strings.HasSuffix(chunks[0].Content, "\n\n"), "first chunk should end on a paragraph break: %q", chunks[0].Content)
	assertChunkInvariants(t, chunks, doc, 60, 10)
}

func TestRecursiveChunker_CharacterFallback(t *testing.T) {
	c, err := NewRecursiveChunker(100, 20)
	require.NoError(t, err)

	doc := makeDoc("x.md", strings.Repeat("x", 1234))
	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, 100, utf8.RuneCountInString(chunks[0].Content))
	assertChunkInvariants(t, chunks, doc, 100, 20)
}

func TestRecursiveChunker_Invariants(t *testing.T) {
	params := []struct {
		size, overlap int
	}{
		{1000, 200},
		{200, 50},
		{120, 100},
		{64, 0},
		{10, 9},
	}

	for _, p := range params {
		for seed := int64(1); seed <= 5; seed++ {
			t.Run(fmt.Sprintf("size=%d/overlap=%d/seed=%d", p.size, p.overlap, seed), func(t *testing.T) {
				c, err := NewRecursiveChunker(p.size, p.overlap)
				require.NoError(t, err)

				doc := makeDoc("guide.md", randomMarkdown(seed, 30))
				chunks, err := c.Chunk(doc)
				require.NoError(t, err)
				require.NotEmpty(t, chunks)
				assertChunkInvariants(t, chunks, doc, p.size, p.overlap)
			})
		}
	}
}

func TestRecursiveChunker_LongBlankRunsKeepOverlap(t *testing.T) {
	c, err := NewRecursiveChunker(100, 20)
	require.NoError(t, err)

	para := strings.Repeat("emitter plugin ", 10)
	doc := makeDoc("gap.md", para+strings.Repeat(" ", 400)+para+strings.Repeat("\n", 300)+para+"\n\t  \n"+strings.Repeat("\t", 250)+para+strings.Repeat("\n", 50))
	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 4)

	for i, chunk := range chunks {
		assert.NotEmpty(t, strings.TrimSpace(chunk.Content), "chunk %d is blank", i)
	}
	assertChunkInvariants(t, chunks, doc, 100, 20)
}

func TestCollapseBlankRuns(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "short runs kept", in: "a  b\n\n  c", want: "a  b\n\n  c"},
		{name: "spaces", in: "a" + strings.Repeat(" ", 10) + "b", want: "a b"},
		{name: "single newline", in: "a   \n    b", want: "a\nb"},
		{name: "paragraph", in: "a \n\n\n\n b", want: "a\n\nb"},
		{name: "trailing", in: "a\n\n  ", want: "a"},
		{name: "blank", in: " \n ", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(collapseBlankRuns([]rune(tt.in), 4)))
		})
	}
}

func TestRecursiveChunker_Deterministic(t *testing.T) {
	c, err := NewRecursiveChunker(300, 60)
	require.NoError(t, err)

	doc := makeDoc("guide.md", randomMarkdown(42, 20))
	first, err := c.Chunk(doc)
	require.NoError(t, err)
	second, err := c.Chunk(doc)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].Content, second[i].Content)
		assert.Equal(t, first[i].StartChar, second[i].StartChar)
	}
}

func TestRecursiveChunker_ChunkAll(t *testing.T) {
	c, err := NewRecursiveChunker(1000, 200)
	require.NoError(t, err)

	chunks, err := c.ChunkAll([]*models.Document{
		makeDoc("a.md", "alpha"),
		makeDoc("b.md", "beta"),
	})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "a.md", chunks[0].Source)
	assert.Equal(t, "b.md", chunks[1].Source)
	assert.NotEqual(t, chunks[0].ID, chunks[1].ID)
}
