// Package loader discovers markdown documents and parses their metadata
package loader

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/developer-mesh/docs-expert/internal/models"
	"github.com/developer-mesh/docs-expert/pkg/observability"
)

var markdownExtensions = map[string]bool{
	".md":       true,
	".markdown": true,
}

// LoadResult holds the documents found under a root and the per-file failures
// that were skipped along the way
type LoadResult struct {
	Documents []*models.Document
	Failures  []error
}

// Loader walks a documentation tree
type Loader struct {
	fsys   func(root string) fs.FS
	logger observability.Logger
}

// NewLoader creates a loader reading from the local filesystem
func NewLoader(logger observability.Logger) *Loader {
	return &Loader{
		fsys:   os.DirFS,
		logger: logger.WithPrefix("loader"),
	}
}

// NewLoaderFS creates a loader over an arbitrary filesystem; root paths are
// interpreted inside it
func NewLoaderFS(fsys fs.FS, logger observability.Logger) *Loader {
	return &Loader{
		fsys: func(root string) fs.FS {
			if root == "" || root == "." {
				return fsys
			}
			sub, err := fs.Sub(fsys, filepath.ToSlash(root))
			if err != nil {
				return fsys
			}
			return sub
		},
		logger: logger.WithPrefix("loader"),
	}
}

// Load returns every markdown document under root. Unreadable directories and
// files are logged and skipped; only an unusable root is an error.
func (l *Loader) Load(ctx context.Context, root string) (*LoadResult, error) {
	fsys := l.fsys(root)
	if _, err := fs.Stat(fsys, "."); err != nil {
		return nil, models.IngestionError("load", fmt.Errorf("failed to open docs root %q: %w", root, err))
	}

	result := &LoadResult{}
	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, walkErr error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if walkErr != nil {
			if path == "." {
				return walkErr
			}
			l.logger.Warn("Skipping unreadable path", map[string]interface{}{
				"path":  path,
				"error": walkErr.Error(),
			})
			result.Failures = append(result.Failures, models.IngestionError(path, walkErr))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if path != "." && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if d.IsDir() || !markdownExtensions[strings.ToLower(filepath.Ext(d.Name()))] {
			return nil
		}

		doc, err := l.loadFile(fsys, path)
		if err != nil {
			l.logger.Warn("Skipping unreadable document", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
			result.Failures = append(result.Failures, models.IngestionError(path, err))
			return nil
		}
		result.Documents = append(result.Documents, doc)
		return nil
	})
	if err != nil {
		return nil, models.IngestionError("load", fmt.Errorf("failed to walk %q: %w", root, err))
	}

	l.logger.Info("Loaded documents", map[string]interface{}{
		"root":      root,
		"documents": len(result.Documents),
		"skipped":   len(result.Failures),
	})

	return result, nil
}

func (l *Loader) loadFile(fsys fs.FS, path string) (*models.Document, error) {
	raw, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	meta, body := parseFrontmatter(string(raw))

	doc := &models.Document{
		Path:    path,
		Content: body,
		Metadata: models.DocumentMetadata{
			Title:    meta["title"],
			Tags:     parseTags(meta["tags"]),
			Category: Categorize(path),
			Extra:    make(map[string]string),
		},
	}
	if doc.Metadata.Title == "" {
		doc.Metadata.Title = extractTitle(body)
	}
	for k, v := range meta {
		if k == "title" || k == "tags" {
			continue
		}
		doc.Metadata.Extra[k] = v
	}

	return doc, nil
}
