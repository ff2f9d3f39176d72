// Package watch triggers a callback when files in a directory change,
// coalescing bursts of events into one call.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const DefaultDebounce = 500 * time.Millisecond

// Watcher runs OnChange once per quiet period after any create, write,
// remove or rename under Dir.
type Watcher struct {
	fs       *fsnotify.Watcher
	dir      string
	debounce time.Duration
	onChange func(ctx context.Context)

	mu    sync.Mutex
	timer *time.Timer
	wg    sync.WaitGroup
}

func New(dir string, debounce time.Duration, onChange func(ctx context.Context)) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("onChange is required")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", dir, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.Add(abs); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to watch path %s: %w", abs, err)
	}
	return &Watcher{fs: fw, dir: abs, debounce: debounce, onChange: onChange}, nil
}

// Run processes events until ctx is done, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) {
	slog.Info("watching for drift", "dir", w.dir, "debounce", w.debounce)
	defer func() {
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		_ = w.fs.Close()
		w.wg.Wait()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			slog.Debug("watched file changed", "file", ev.Name, "op", ev.Op.String())
			w.schedule(ctx)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			slog.Warn("file watcher error", "dir", w.dir, "error", err)
		}
	}
}

func (w *Watcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		w.wg.Add(1)
		defer w.wg.Done()
		w.onChange(ctx)
	})
}
