package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher keeps the latest valid DetectionConfig from a file. Detectors take
// a snapshot at construction; a reload only affects detectors built later.
type Watcher struct {
	path    string
	current atomic.Pointer[DetectionConfig]
	logger  *zap.Logger

	mu        sync.Mutex
	listeners []func(*DetectionConfig)
}

// NewWatcher loads path once and fails if it is missing or invalid.
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	cfg, err := LoadDetection(path)
	if err != nil {
		return nil, err
	}
	w := &Watcher{path: path, logger: logger}
	w.current.Store(cfg)
	return w, nil
}

func (w *Watcher) Current() *DetectionConfig {
	return w.current.Load()
}

// OnChange registers fn to run after every successful reload.
func (w *Watcher) OnChange(fn func(*DetectionConfig)) {
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

// Run watches the config file's directory until ctx is done. Editors often
// replace the file instead of writing it, so create and rename events count
// as well.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	target := filepath.Clean(w.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			w.reload()
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadDetection(w.path)
	if err != nil {
		w.logger.Warn("detection config reload rejected, keeping previous", zap.Error(err))
		return
	}
	w.current.Store(cfg)
	w.logger.Info("detection config reloaded", zap.String("strategy", cfg.Strategy))

	w.mu.Lock()
	listeners := append([]func(*DetectionConfig){}, w.listeners...)
	w.mu.Unlock()
	for _, fn := range listeners {
		fn(cfg)
	}
}
