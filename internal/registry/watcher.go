package registry

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch observes the file source backing the registry and triggers a
// refresh whenever it changes. Setup errors are returned synchronously;
// the event loop then runs in the background until the context is
// cancelled. Events are debounced so editors that write-then-rename only
// cause one refresh.
func (r *Registry) Watch(ctx context.Context, src *FileSource) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// Watch the directory: the registry file may be replaced by rename,
	// which drops a watch on the file itself.
	dir := filepath.Dir(src.Path())
	if err := w.Add(dir); err != nil {
		w.Close()
		return err
	}

	go r.watchLoop(ctx, w, filepath.Clean(src.Path()))
	return nil
}

func (r *Registry) watchLoop(ctx context.Context, w *fsnotify.Watcher, target string) {
	defer w.Close()

	var debounce *time.Timer
	refresh := func() {
		slog.Debug("Registry file changed, refreshing", "path", target)
		r.Refresh(ctx)
	}

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
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, refresh)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			slog.Warn("Registry watcher error", "error", err)
		}
	}
}
