package infer

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"drone-sentry/utils"
)

// WatchPrototypes reloads the engine's prototype set whenever its model file
// is rewritten on disk. Watching the parent directory instead of the file
// itself survives the write-then-rename used by SaveToFile and by external
// tools. Blocks until ctx is cancelled.
func WatchPrototypes(ctx context.Context, engine *PrototypeEngine) error {
	logger := utils.GetLogger()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	modelPath := engine.ModelPath()
	if err := watcher.Add(filepath.Dir(modelPath)); err != nil {
		return err
	}

	// Editors and atomic renames fire several events per save; coalesce
	// them before reloading.
	var reloadTimer *time.Timer
	reloadCh := make(chan struct{}, 1)

	scheduleReload := func() {
		if reloadTimer != nil {
			reloadTimer.Stop()
		}
		reloadTimer = time.AfterFunc(200*time.Millisecond, func() {
			select {
			case reloadCh <- struct{}{}:
			default:
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != modelPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			scheduleReload()
		case <-reloadCh:
			if err := engine.ReloadFromFile(); err != nil {
				logger.ErrorContext(ctx, "prototype reload failed", slog.Any("error", err))
				continue
			}
			stats := engine.Stats()
			logger.Info("prototypes reloaded",
				slog.String("path", modelPath),
				slog.Int("count", stats.PrototypeCount))
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.ErrorContext(ctx, "prototype watcher error", slog.Any("error", watchErr))
		}
	}
}
