package daemon

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

func (d *Daemon) startWatcher(ctx context.Context) error {
	if d.watcher != nil {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(d.store.Path())); err != nil {
		_ = watcher.Close()
		return err
	}
	d.watcher = watcher

	d.wg.Add(1)
	go d.watchLoop(ctx)
	return nil
}

func (d *Daemon) watchLoop(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if isStoreFile(d.store.Path(), event.Name) && (event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				d.scheduleCheck(ctx)
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.debugf("store watcher error: %v", err)
		}
	}
}

// scheduleCheck looks for new registrations once writes settle.
func (d *Daemon) scheduleCheck(ctx context.Context) {
	d.debounceMu.Lock()
	defer d.debounceMu.Unlock()

	if d.debounce != nil {
		d.debounce.Stop()
	}
	d.debounce = time.AfterFunc(d.debounceDelay, func() {
		select {
		case <-d.stopCh:
			return
		default:
		}
		triggers, err := d.store.ListTriggers(ctx)
		if err != nil {
			d.debugf("check triggers: %v", err)
			return
		}
		d.debounceMu.Lock()
		changed := signature(triggers) != d.lastSeen
		d.debounceMu.Unlock()
		if changed {
			d.debugf("trigger registrations changed")
			d.Wake()
		}
	})
}

func (d *Daemon) stopDebounce() {
	d.debounceMu.Lock()
	defer d.debounceMu.Unlock()
	if d.debounce != nil {
		d.debounce.Stop()
		d.debounce = nil
	}
}

// isStoreFile matches the database file and its WAL/journal siblings.
func isStoreFile(storePath, name string) bool {
	return strings.HasPrefix(filepath.Base(name), filepath.Base(storePath))
}
