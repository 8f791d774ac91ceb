package source

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher signals when VoiceInk writes to its store. It only shortens the wait
// before the next poll; the scheduler still reads the whole store.
//
// The directory is watched rather than the file because SQLite replaces and
// truncates the -wal file. Events for the -shm file are ignored: readers
// (including us) touch it, which would otherwise wake the scheduler in a loop.
type Watcher struct {
	fs       *fsnotify.Watcher
	names    map[string]bool
	debounce time.Duration
	changes  chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
	log      *slog.Logger
}

// NewWatcher starts watching the store at storePath. Bursts of writes closer
// together than debounce produce a single signal.
func NewWatcher(storePath string, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	dir := filepath.Dir(storePath)
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	base := filepath.Base(storePath)
	w := &Watcher{
		fs:       fw,
		names:    map[string]bool{base: true, base + "-wal": true},
		debounce: debounce,
		changes:  make(chan struct{}, 1),
		done:     make(chan struct{}),
		log:      logger,
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Changes delivers at most one pending signal at a time.
func (w *Watcher) Changes() <-chan struct{} {
	return w.changes
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.fs.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-w.done:
			return

		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !w.names[filepath.Base(ev.Name)] || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			select {
			case w.changes <- struct{}{}:
			default: // a signal is already pending
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warn("store watcher error", "error", err)
		}
	}
}
