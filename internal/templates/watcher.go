package templates

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/scrypster/memento-insights/pkg/types"
	"go.uber.org/zap"
)

const debounceDelay = 500 * time.Millisecond

// Watcher reloads a catalog file when it changes on disk and hands the parsed
// templates to a callback. It never mutates processor state itself; the
// callback decides how to apply the new catalog.
type Watcher struct {
	path     string
	onChange func([]*types.AnalysisTemplate)
	logger   *zap.Logger
	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
	mu       sync.Mutex
	timer    *time.Timer
}

// NewWatcher creates a watcher for the catalog at path.
func NewWatcher(path string, onChange func([]*types.AnalysisTemplate), logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		path:     filepath.Clean(path),
		onChange: onChange,
		logger:   logger.Named("templates"),
		done:     make(chan struct{}),
	}
}

// Start begins watching. The containing directory is watched so that editors
// which replace the file by rename are still observed. Call Stop to clean up.
func (w *Watcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		_ = fw.Close()
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}
	w.watcher = fw

	go w.loop()
	w.logger.Info("watching template catalog", zap.String("path", w.path))
	return nil
}

// Stop shuts down the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		if w.watcher == nil {
			close(w.done)
			return
		}
		_ = w.watcher.Close()
		<-w.done
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
	})
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case evt, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != w.path {
				continue
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.schedule()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("template watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceDelay, w.reload)
}

func (w *Watcher) reload() {
	tmpls, err := LoadFile(w.path)
	if err != nil {
		// Keep serving the previous catalog.
		w.logger.Error("template catalog reload failed", zap.String("path", w.path), zap.Error(err))
		return
	}
	w.logger.Info("template catalog changed", zap.String("path", w.path), zap.Int("templates", len(tmpls)))
	if w.onChange != nil {
		w.onChange(tmpls)
	}
}
