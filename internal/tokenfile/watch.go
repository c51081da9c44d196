package tokenfile

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch calls onChange each time the token file at path is written,
// replaced, or removed, until ctx is canceled. It watches the parent
// directory because Save replaces the file by rename.
//
// Setup errors are returned; the watch itself runs in its own goroutine.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func()) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return fmt.Errorf("tokenfile: creating directory %s: %w", dir, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("tokenfile: creating watcher: %w", err)
	}

	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("tokenfile: watching %s: %w", dir, err)
	}

	target := filepath.Clean(path)

	go func() {
		defer w.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}

				if filepath.Clean(ev.Name) != target {
					continue
				}

				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) ||
					ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Remove) {
					logger.Debug("token file changed",
						slog.String("path", path),
						slog.String("op", ev.Op.String()),
					)
					onChange()
				}
			case werr, ok := <-w.Errors:
				if !ok {
					return
				}

				logger.Warn("token file watcher error",
					slog.String("path", path),
					slog.String("error", werr.Error()),
				)
			}
		}
	}()

	return nil
}
