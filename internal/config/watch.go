package config

import (
	"context"

	"github.com/fsnotify/fsnotify"

	"github.com/kartikbazzad/docbase/internal/dblog"
)

// SchemaFileHandler is invoked with the path of a schema file that changed.
type SchemaFileHandler func(path string)

// WatchSchemaDir watches dir for created/written JSON schema files and
// invokes handler for each change, until ctx is cancelled. Mirrors the
// config-hot-reload pattern used by the platform and tenant-auth services
// elsewhere in the retrieval pack.
func WatchSchemaDir(ctx context.Context, dir string, handler SchemaFileHandler) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					handler(ev.Name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				dblog.Warn(ctx, "schema watcher error", "error", err)
			}
		}
	}()

	return nil
}
