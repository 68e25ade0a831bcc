package gate

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// pollInterval is the fallback polling cadence used when an fsnotify watch
// cannot be established or delivers no event within it, grounded on
// graph.FileWatcher's debounce-then-poll idiom.
const pollInterval = 500 * time.Millisecond

// WaitForFile blocks until path exists, ctx is cancelled, or the optional
// deadline elapses. It prefers an fsnotify watch on the file's directory and
// falls back to polling when the watch cannot be created.
func WaitForFile(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return pollForFile(ctx, path)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return pollForFile(ctx, path)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return pollForFile(ctx, path)
			}
			if ev.Name == path {
				if _, statErr := os.Stat(path); statErr == nil {
					return nil
				}
			}
		case <-watcher.Errors:
			// fall through to the next poll tick rather than aborting the wait.
		case <-ticker.C:
			if _, err := os.Stat(path); err == nil {
				return nil
			}
		}
	}
}

func pollForFile(ctx context.Context, path string) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
