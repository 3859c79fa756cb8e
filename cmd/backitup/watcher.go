package main

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// configWatcher watches the loaded config file and signals reloadCh
// (coalesced) when it changes. Watching the parent directory rather
// than the file itself survives the rename-over-write dance most
// editors and config-management tools do.
type configWatcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

func watchConfig(path string, logger *slog.Logger, reloadCh chan<- struct{}) (*configWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return nil, err
	}

	cw := &configWatcher{watcher: w, done: make(chan struct{})}
	target := filepath.Clean(path)

	go func() {
		var debounce *time.Timer
		defer func() {
			if debounce != nil {
				debounce.Stop()
			}
		}()
		for {
			select {
			case <-cw.done:
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					select {
					case reloadCh <- struct{}{}:
					default:
					}
				})
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", "error", err)
			}
		}
	}()

	return cw, nil
}

func (cw *configWatcher) Close() {
	close(cw.done)
	_ = cw.watcher.Close()
}
