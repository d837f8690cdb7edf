package source

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reindexes the fleet root when memory files change.
//
// Filesystem events are debounced: a burst of writes triggers one reindex
// after the quiet period, not one per event.
type Watcher struct {
	scanner  *Scanner
	debounce time.Duration
	reindex  func(context.Context)
	logger   *zap.Logger

	watcher *fsnotify.Watcher
	stop    chan struct{}
}

// NewWatcher creates a Watcher. reindex is invoked after each debounced
// change burst.
func NewWatcher(scanner *Scanner, debounce time.Duration, reindex func(context.Context), logger *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating filesystem watcher: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		scanner:  scanner,
		debounce: debounce,
		reindex:  reindex,
		logger:   logger,
		watcher:  fsw,
		stop:     make(chan struct{}),
	}, nil
}

// Start watches the fleet root and all its subdirectories.
func (w *Watcher) Start(ctx context.Context) error {
	err := filepath.WalkDir(w.scanner.Root(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != w.scanner.Root() {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
	if err != nil {
		return fmt.Errorf("watching %s: %w", w.scanner.Root(), err)
	}

	go w.processEvents(ctx)
	return nil
}

// Stop stops the watcher and releases resources.
func (w *Watcher) Stop() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
		_ = w.watcher.Close()
	}
}

func (w *Watcher) processEvents(ctx context.Context) {
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			// New directories must be watched for events inside them.
			if event.Op&fsnotify.Create != 0 {
				w.addIfDir(event.Name)
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.logger.Debug("reindexing after filesystem changes")
			w.reindex(ctx)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("filesystem watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) addIfDir(path string) {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	if err := w.watcher.Add(path); err != nil {
		w.logger.Warn("failed to watch new directory",
			zap.String("path", path),
			zap.Error(err),
		)
	}
}

// relevant filters out events that cannot change the index.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	// Directory events pass through so new scope directories get picked up.
	return strings.HasSuffix(base, ".md") || !strings.Contains(base, ".")
}
