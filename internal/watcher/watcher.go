// Package watcher watches the configured source directories and
// triggers a backup run after changes settle down.
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"coldstore/internal/logger"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

type Watcher struct {
	fw       *fsnotify.Watcher
	debounce time.Duration
	trigger  func()
	doneCh   chan struct{}
}

// New builds a watcher that calls trigger once per burst of filesystem
// activity, debounce after the last event.
func New(debounce time.Duration, trigger func()) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Watcher{
		fw:       fw,
		debounce: debounce,
		trigger:  trigger,
		doneCh:   make(chan struct{}),
	}, nil
}

func (w *Watcher) Watch(dirs []string) error {
	for _, dir := range dirs {
		absDir, err := filepath.Abs(dir)
		if err != nil {
			return fmt.Errorf("failed to resolve path: %w", err)
		}

		if _, err := os.Stat(absDir); err != nil {
			return fmt.Errorf("source directory not found: %w", err)
		}

		if err := w.addRecursive(absDir); err != nil {
			return err
		}

		logger.Log.Info("watching source", zap.String("dir", absDir))
	}

	go w.run()
	return nil
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if err := w.fw.Add(path); err != nil {
				return fmt.Errorf("failed to watch %s: %w", path, err)
			}
		}

		return nil
	})
}

func (w *Watcher) run() {
	var timer *time.Timer

	for {
		select {
		case <-w.doneCh:
			if timer != nil {
				timer.Stop()
			}
			logger.Log.Info("watcher stopping")
			return

		case fsEvent, ok := <-w.fw.Events:
			if !ok {
				return
			}

			if fsEvent.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(fsEvent.Name); err == nil && info.IsDir() {
					if err := w.fw.Add(fsEvent.Name); err != nil {
						logger.Log.Warn("failed to watch new directory",
							zap.String("path", fsEvent.Name),
							zap.Error(err))
					}
				}
			}

			logger.Log.Debug("source changed",
				zap.String("path", fsEvent.Name),
				zap.String("op", fsEvent.Op.String()))

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.trigger)

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			logger.Log.Error("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) Stop() {
	close(w.doneCh)
	_ = w.fw.Close()
}
