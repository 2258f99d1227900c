package payload

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// fsnotifyWatcher wraps fsnotify.Watcher so Sweeper can log unexpected
// filesystem activity in the payload directory (anything Write/Remove
// didn't itself cause) as it happens, rather than waiting for the next
// periodic Sweep pass to notice an orphan.
type fsnotifyWatcher struct {
	w   *fsnotify.Watcher
	log *slog.Logger
}

// WatchDir starts watching sw's data directory for filesystem events,
// logging each one. The watcher runs until stopped with Close; errors
// starting it are logged and treated as non-fatal, since the periodic
// Sweep pass still catches orphans without it.
func (sw *Sweeper) WatchDir() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(sw.store.dataDir); err != nil {
		w.Close()
		return err
	}
	sw.watcher = &fsnotifyWatcher{w: w, log: sw.log}

	go func() {
		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				sw.log.Debug("sweeper: payload directory event", "op", event.Op.String(), "name", event.Name)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				sw.log.Warn("sweeper: fsnotify watch error", "error", err)
			}
		}
	}()
	return nil
}

// Close stops the filesystem watcher, if one was started.
func (sw *Sweeper) Close() error {
	if sw.watcher == nil {
		return nil
	}
	return sw.watcher.w.Close()
}
