package fs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"docindex/internal/logutil"
)

// Batch is a debounced set of changes under the store root. Paths are
// documents that were written, created or removed. Dirs are directories
// that disappeared; every document below them must be rechecked.
type Batch struct {
	Paths []string
	Dirs  []string
}

// Empty reports whether the batch carries no changes.
func (b Batch) Empty() bool {
	return len(b.Paths) == 0 && len(b.Dirs) == 0
}

// Watcher turns filesystem notifications under a DirStore root into
// debounced batches of blob paths.
type Watcher struct {
	store    *DirStore
	debounce time.Duration
	fsw      *fsnotify.Watcher
}

// NewWatcher watches every non-excluded directory under the store root.
func NewWatcher(store *DirStore, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	w := &Watcher{store: store, debounce: debounce, fsw: fsw}
	if _, err := w.scanTree(store.Root()); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// scanTree registers dir and its subdirectories with the notifier and
// returns the matching files found below them.
func (w *Watcher) scanTree(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		rel, inside := w.store.Rel(p)
		if d.IsDir() {
			if inside && w.store.shouldExclude(rel+"/") {
				return filepath.SkipDir
			}
			return w.fsw.Add(p)
		}
		if inside && w.store.Matches(rel) {
			files = append(files, rel)
		}
		return nil
	})
	return files, err
}

// Watch emits a batch once no event arrived for the debounce interval.
// Events keep merging into a ready batch until the caller receives it.
// The channel is closed when ctx is done or the watcher fails.
func (w *Watcher) Watch(ctx context.Context) <-chan Batch {
	out := make(chan Batch)
	go w.loop(ctx, out)
	return out
}

func (w *Watcher) loop(ctx context.Context, out chan<- Batch) {
	defer close(out)
	logger := logutil.FromContext(ctx)

	paths := make(map[string]struct{})
	dirs := make(map[string]struct{})
	var timer *time.Timer
	var fire <-chan time.Time
	ready := false

	for {
		var send chan<- Batch
		var batch Batch
		if ready {
			send = out
			batch = Batch{Paths: sortedKeys(paths), Dirs: sortedKeys(dirs)}
		}

		select {
		case <-ctx.Done():
			return
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Warn("filesystem watch error", "error", err)
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			changed, gone := w.handleEvent(ev)
			for _, p := range changed {
				paths[p] = struct{}{}
			}
			if gone != "" {
				dirs[gone] = struct{}{}
			}
			if (len(changed) == 0 && gone == "") || ready {
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
			ready = true
		case send <- batch:
			clear(paths)
			clear(dirs)
			ready = false
		}
	}
}

// handleEvent maps one notification to changed blob paths, or to a
// directory that was removed.
func (w *Watcher) handleEvent(ev fsnotify.Event) ([]string, string) {
	rel, inside := w.store.Rel(ev.Name)
	if !inside {
		return nil, ""
	}

	switch {
	case ev.Has(fsnotify.Create):
		info, err := os.Stat(ev.Name)
		if err != nil {
			return nil, ""
		}
		if info.IsDir() {
			if w.store.shouldExclude(rel + "/") {
				return nil, ""
			}
			files, err := w.scanTree(ev.Name)
			if err != nil {
				return nil, ""
			}
			return files, ""
		}
		if w.store.Matches(rel) {
			return []string{rel}, ""
		}
	case ev.Has(fsnotify.Write):
		if w.store.Matches(rel) {
			return []string{rel}, ""
		}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		if w.store.Matches(rel) {
			return []string{rel}, ""
		}
		if !w.store.shouldExclude(rel + "/") {
			return nil, rel + "/"
		}
	}
	return nil, ""
}

// Close stops the underlying notifier.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
