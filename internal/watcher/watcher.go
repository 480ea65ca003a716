// Package watcher wraps fsnotify to watch the single file tailsrv serves,
// bridging its events into the engine's epoll-based wait primitive
// (spec.md §4.2).
package watcher

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/asayers/tailsrv/internal/kio"
)

// ErrGone describes the condition in which the watched file has been
// removed, renamed, or the watch itself was torn down by the kernel. The
// Watcher reports that condition only through Terminal; nothing in this
// package returns ErrGone.
var ErrGone = errors.New("watcher: watched file is gone")

// Watcher watches one path for content changes and for the terminal
// delete/move event described in spec.md §4.2. It never touches engine
// state itself: it only flips atomic flags and rings the engine's
// eventfd, which is the bridge spec.md §4.4 requires ("File-change
// notifications are deliverable through the same wait primitive as
// completions").
type Watcher struct {
	path string
	fsw  *fsnotify.Watcher
	wake int // engine's eventfd, rung on every edge

	modified atomic.Bool
	terminal atomic.Bool

	done chan struct{}
}

// New registers a watch on path and starts the background goroutine that
// bridges fsnotify events to wakeFD. Per spec.md §4.2, the watch is
// registered on the path, not the inode.
func New(path string, wakeFD int) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: new: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watcher: add %q: %w", path, err)
	}
	w := &Watcher{path: path, fsw: fsw, wake: wakeFD, done: make(chan struct{})}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			// An unreadable watch is as good as gone: the file is no
			// longer observable, so shut down the same way as a real
			// delete/rename (spec.md §4.2, §7 Fatal-process).
			w.terminal.Store(true)
			_ = kio.Wake(w.wake)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	switch {
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.terminal.Store(true)
		_ = kio.Wake(w.wake)
	case ev.Op&(fsnotify.Write|fsnotify.Chmod) != 0:
		// Unlinking a file that is still open (the engine always holds it
		// open) produces only a Chmod event; Remove would follow only once
		// the last descriptor closes. A path that no longer exists is
		// therefore treated as terminal here.
		if ev.Op&fsnotify.Chmod != 0 {
			if _, err := os.Stat(w.path); os.IsNotExist(err) {
				w.terminal.Store(true)
				_ = kio.Wake(w.wake)
				return
			}
		}
		// Multiple modify events coalesce into one edge, per spec.md
		// §4.2: "the engine treats any positive count as a single
		// edge". fsnotify.Chmod is folded in alongside Write because
		// some filesystems surface append-only growth as a metadata
		// event; see SPEC_FULL.md §4.2.
		w.modified.Store(true)
		_ = kio.Wake(w.wake)
	}
}

// TakeModified reports whether a modify edge has arrived since the last
// call, clearing the flag. Call this once per wake, after DrainWake.
func (w *Watcher) TakeModified() bool {
	return w.modified.CompareAndSwap(true, false)
}

// Terminal reports whether the watched file is gone. Once true it stays
// true.
func (w *Watcher) Terminal() bool {
	return w.terminal.Load()
}

// Close tears down the watch and waits for the background goroutine to
// exit.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}
