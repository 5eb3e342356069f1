package content

import (
	"log"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceInterval = 500 * time.Millisecond

// Watcher reloads the content store when files in the content directory
// change. Edits are debounced so a burst of writes triggers one reload.
type Watcher struct {
	store     *Store
	fsWatcher *fsnotify.Watcher
	cancel    chan struct{}
}

// Watch starts watching the store's content directory.
func Watch(store *Store) (*Watcher, error) {
	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := fsW.Add(store.dir); err != nil {
		fsW.Close()
		return nil, err
	}

	w := &Watcher{
		store:     store,
		fsWatcher: fsW,
		cancel:    make(chan struct{}),
	}
	go w.watchLoop()
	return w, nil
}

// watchLoop processes fsnotify events with debouncing.
func (w *Watcher) watchLoop() {
	var timer *time.Timer

	for {
		select {
		case <-w.cancel:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}

			// Debounce: reset timer on each event.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceInterval, func() {
				if err := w.store.Reload(); err != nil {
					log.Printf("content reload failed: %v", err)
				}
			})

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Printf("content watcher error: %v", err)
		}
	}
}

// Shutdown stops the watcher.
func (w *Watcher) Shutdown() {
	close(w.cancel)
	w.fsWatcher.Close()
}
