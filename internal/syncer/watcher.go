package syncer

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/basket/agentdeck/internal/bus"
)

// SignalWatcher observes the view-state signal file so a second instance of
// the process can notice an external snapshot update. Best effort only:
// there is no ordering or conflict resolution, and a watcher also sees its
// own instance's writes.
type SignalWatcher struct {
	path   string
	bus    *bus.Bus
	logger *slog.Logger
}

// NewSignalWatcher creates a watcher for the given signal file path.
func NewSignalWatcher(path string, b *bus.Bus, logger *slog.Logger) *SignalWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SignalWatcher{path: path, bus: b, logger: logger}
}

// Start begins watching. The signal file's directory must exist; the file
// itself is created on first save.
func (w *SignalWatcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		_ = fsw.Close()
		return err
	}
	// Watch the directory: the file may not exist yet, and editors/instances
	// may replace it wholesale.
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		_ = fsw.Close()
		return err
	}

	go func() {
		defer fsw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Name != w.path {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				w.logger.Info("view-state signal changed", "path", ev.Name, "op", ev.Op.String())
				if w.bus != nil {
					w.bus.Publish(bus.TopicViewStateExternal, ev.Name)
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Error("view-state watcher error", "error", err)
			}
		}
	}()
	return nil
}
