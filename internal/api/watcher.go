package api

import (
	"context"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/Demedah/Appsjiabao/internal/logging"
	"github.com/Demedah/Appsjiabao/internal/pipeline"
)

const reloadDelay = 200 * time.Millisecond

// WatchModel reloads the predictor whenever the file at path is replaced or
// removed, and calls onReload afterwards. The parent directory is watched,
// since saving renames a new file over the old one. It blocks until ctx is
// done.
func WatchModel(ctx context.Context, path string, predictor *pipeline.Predictor, onReload func(), logger *zap.Logger) error {
	log := logging.WithOperation(logger, "watch_model", "").With(zap.String("path", path))

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create file watcher")
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return errors.Wrapf(err, "watch %s", filepath.Dir(target))
	}

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			// Coalesce the burst of events a single save produces.
			pending = time.After(reloadDelay)

		case <-pending:
			pending = nil
			if err := predictor.Reload(); err != nil {
				log.Warn("model reload failed", zap.Error(err))
			} else if b := predictor.Bundle(); b != nil {
				log.Info("model reloaded", zap.String("bundle_id", b.ID))
			}
			if onReload != nil {
				onReload()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("file watcher error", zap.Error(err))
		}
	}
}
