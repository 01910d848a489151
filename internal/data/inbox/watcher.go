// Package inbox watches a directory for transfer packages and reports each
// one once it stopped changing.
package inbox

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/penwyp/go-talkingbook-stats/internal/util"
)

type Watcher struct {
	watcher *fsnotify.Watcher
	dir     string
	pattern string
	settle  time.Duration
	ready   chan string

	mu      sync.Mutex
	pending map[string]*time.Timer
	done    chan struct{}
	once    sync.Once
}

// NewWatcher watches dir for files whose base name matches pattern. A file
// is reported after settle passed without further writes to it.
func NewWatcher(dir, pattern string, settle time.Duration) (*Watcher, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid watch pattern %q", pattern)
	}
	if !util.IsDir(dir) {
		return nil, fmt.Errorf("watch directory %s does not exist", dir)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	w := &Watcher{
		watcher: watcher,
		dir:     dir,
		pattern: pattern,
		settle:  settle,
		ready:   make(chan string, 100),
		pending: make(map[string]*time.Timer),
		done:    make(chan struct{}),
	}
	go w.processEvents()
	return w, nil
}

// Existing lists the matching files already in the directory, by name.
func (w *Watcher) Existing() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && w.matches(e.Name()) {
			out = append(out, filepath.Join(w.dir, e.Name()))
		}
	}
	return out, nil
}

// Ready delivers the path of each settled package.
func (w *Watcher) Ready() <-chan string {
	return w.ready
}

func (w *Watcher) matches(name string) bool {
	if util.IsHiddenName(name) {
		return false
	}
	ok, _ := doublestar.Match(w.pattern, name)
	return ok
}

func (w *Watcher) processEvents() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.matches(filepath.Base(event.Name)) {
				continue
			}
			switch {
			case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
				w.schedule(event.Name)
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				w.cancel(event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			util.LogError("Inbox watch error: " + err.Error())
		}
	}
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Reset(w.settle)
		return
	}
	w.pending[path] = time.AfterFunc(w.settle, func() { w.fire(path) })
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) fire(path string) {
	w.mu.Lock()
	delete(w.pending, path)
	w.mu.Unlock()

	if _, err := os.Stat(path); err != nil {
		return
	}
	util.LogDebug("Package settled", util.F("path", path))
	select {
	case w.ready <- path:
	case <-w.done:
	}
}

func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		w.mu.Lock()
		for path, t := range w.pending {
			t.Stop()
			delete(w.pending, path)
		}
		w.mu.Unlock()
		err = w.watcher.Close()
	})
	return err
}
