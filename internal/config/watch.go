package config

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
)

// BundleWatcher watches the invariant bundle path for changes between
// jobs. The engine never reloads the invariant set mid-job — the
// dependency index and invariant rules are read-only for the lifetime of
// a job — so this only ever fires a callback that a caller may act on
// before starting the next run.
type BundleWatcher struct {
	watcher *fsnotify.Watcher
	onChange func(path string)
}

// WatchInvariantBundle starts watching cfg.Invariant.BundlePath, calling
// onChange whenever the file is written or renamed into place. Returns
// nil, nil if no bundle path is configured.
func WatchInvariantBundle(cfg *Config, onChange func(path string)) (*BundleWatcher, error) {
	if cfg.Invariant.BundlePath == "" {
		return nil, nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(cfg.Invariant.BundlePath); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", cfg.Invariant.BundlePath, err)
	}

	bw := &BundleWatcher{watcher: w, onChange: onChange}
	go bw.loop()
	return bw, nil
}

func (bw *BundleWatcher) loop() {
	for {
		select {
		case ev, ok := <-bw.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				bw.onChange(ev.Name)
			}
		case _, ok := <-bw.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the watcher.
func (bw *BundleWatcher) Close() error {
	if bw == nil || bw.watcher == nil {
		return nil
	}
	return bw.watcher.Close()
}
