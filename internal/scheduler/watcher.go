package scheduler

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/developer-mesh/docs-expert/pkg/observability"
)

var watchedExtensions = map[string]bool{
	".md":       true,
	".markdown": true,
}

// Watcher refreshes the knowledge base when markdown files under the docs
// root change. Bursts of events are collapsed into a single refresh.
type Watcher struct {
	root      string
	watcher   *fsnotify.Watcher
	refresher Refresher
	debounce  time.Duration
	timeout   time.Duration
	logger    observability.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher watches every non-hidden directory under root
func NewWatcher(root string, refresher Refresher, debounce, timeout time.Duration, logger observability.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		root:      root,
		watcher:   fw,
		refresher: refresher,
		debounce:  debounce,
		timeout:   timeout,
		logger:    logger.WithPrefix("watcher"),
		ctx:       ctx,
		cancel:    cancel,
	}

	if err := w.addTree(root); err != nil {
		cancel()
		_ = fw.Close()
		return nil, err
	}
	return w, nil
}

// Start begins processing file events
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.watchLoop()
	w.logger.Info("Watching docs directory", map[string]interface{}{
		"root":     w.root,
		"debounce": w.debounce.String(),
	})
}

// Close stops watching and waits for a pending refresh to finish
func (w *Watcher) Close() error {
	w.cancel()
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return fmt.Errorf("failed to walk docs root: %w", err)
			}
			w.logger.Warn("Skipping unreadable directory", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && isHidden(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) watchLoop() {
	defer w.wg.Done()

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			timerC = timer.C

		case <-timerC:
			timerC = nil
			w.refresh()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}

// relevant reports whether event should schedule a refresh. New directories
// are added to the watch as a side effect.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	if hasHiddenComponent(w.root, event.Name) {
		return false
	}

	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn("Failed to watch new directory", map[string]interface{}{
					"path":  event.Name,
					"error": err.Error(),
				})
			}
			return true
		}
	}

	return watchedExtensions[strings.ToLower(filepath.Ext(event.Name))]
}

func (w *Watcher) refresh() {
	ctx := w.ctx
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	result, err := w.refresher.Refresh(ctx)
	if err != nil {
		w.logger.Error("Refresh after docs change failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	w.logger.Info("Refreshed after docs change", map[string]interface{}{
		"documents": result.Documents,
		"chunks":    result.Chunks,
	})
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}

func hasHiddenComponent(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if isHidden(part) {
			return true
		}
	}
	return false
}
