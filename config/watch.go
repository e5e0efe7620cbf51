package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// WatchArtifact logs a warning whenever files under the model directory change
// while the server runs. A loaded artifact is never swapped in place; the
// warning tells operators a restart is needed to serve the new pair.
func WatchArtifact(ctx context.Context, dir string, logger *zap.Logger) (<-chan string, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	changed := make(chan string, 8)
	go func() {
		defer watcher.Close()
		defer close(changed)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
					continue
				}
				name := filepath.Base(event.Name)
				logger.Warn("model artifact changed on disk, restart to serve it",
					zap.String("file", name),
					zap.String("op", event.Op.String()))
				select {
				case changed <- name:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error("artifact watcher error", zap.Error(err))
			}
		}
	}()
	return changed, nil
}
