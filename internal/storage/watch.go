package storage

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// debounceDelay matches the teacher's SMBChangeWatcher debounce window;
// external edits to the isolation-id file or a cache directory during
// local dev/tests are bursty (editors write-then-rename), so events are
// coalesced before onChange fires.
var debounceDelay = 2 * time.Second

// Watcher watches a FilesystemAdapter's base directory (the entries
// directly inside it; the watch is not recursive) for external
// changes, for local dev and tests that edit files out from under a
// running process. Grounded on the teacher's
// internal/media/realtime SMBChangeWatcher: one fsnotify.Watcher, a
// debounce timer per path, and a dedicated stop channel/WaitGroup pair.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	logger    *zap.Logger
	onChange  func(path string)

	debounceMu sync.Mutex
	timers     map[string]*time.Timer

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// WatchFilesystem starts watching f's base directory (which holds the
// .instance-id file when ResolveIsolationKey shares that BaseDir, and the
// per-isolation subdirectory) and invokes onChange, debounced, whenever an
// entry directly inside it changes. Writes inside
// <baseDir>/<isolation>/<cacheType>/ are not reported. The returned
// Watcher must be stopped with Stop.
func (f *FilesystemAdapter) WatchFilesystem(ctx context.Context, onChange func(path string)) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatcher.Add(f.baseDir); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	w := &Watcher{
		fsWatcher: fsWatcher,
		logger:    f.logger,
		onChange:  onChange,
		timers:    make(map[string]*time.Timer),
		stopCh:    make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run(ctx)
	return w, nil
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.debounce(event.Name)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Warn("storage: filesystem watch error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) debounce(path string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(debounceDelay, func() {
		if w.onChange != nil {
			w.onChange(path)
		}
	})
}

// Stop closes the underlying fsnotify watcher and waits for the run loop
// to exit. Safe to call multiple times.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.fsWatcher.Close()
	})
	w.wg.Wait()
}
