package locator

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/oshokin/discord-installer/internal/logger"
)

// watchedOps are the events that can make a new archive appear.
const watchedOps = fsnotify.Create | fsnotify.Write | fsnotify.Rename

// Watch signals on the returned channel whenever a file matching the archive
// pattern appears or changes in dir. Signals coalesce while the receiver is busy.
// The channel is closed when ctx is done or the watcher fails.
func (l *Locator) Watch(ctx context.Context, dir string) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	if err = watcher.Add(dir); err != nil {
		_ = watcher.Close()

		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	signals := make(chan struct{}, 1)

	go func() {
		defer close(signals)

		defer func() {
			_ = watcher.Close()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}

				if event.Op&watchedOps == 0 {
					continue
				}

				if matched, _ := filepath.Match(l.cfg.ArchivePattern, filepath.Base(event.Name)); !matched {
					continue
				}

				logger.DebugKV(ctx, "Archive change detected", "path", event.Name, "op", event.Op.String())

				select {
				case signals <- struct{}{}:
				default:
				}
			case watchErr, ok := <-watcher.Errors:
				if !ok {
					return
				}

				logger.WarnKV(ctx, "Downloads watcher error", "error", watchErr)
			}
		}
	}()

	return signals, nil
}
