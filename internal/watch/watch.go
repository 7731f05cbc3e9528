// Package watch rebuilds whenever a source directory changes.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/assetforge/assetforge/internal/logging"
	"github.com/assetforge/assetforge/internal/metrics"
	"github.com/assetforge/assetforge/internal/pool"
)

const taskName = "build"

type Watcher struct {
	dirs     []string
	ignore   []string
	debounce time.Duration
	interval time.Duration
	build    func(context.Context) error
	log      *logging.Logger
}

// New returns a watcher running build once at start, after every debounced
// batch of changes below dirs, and at least once per interval.
func New(dirs []string, build func(context.Context) error) *Watcher {
	return &Watcher{
		dirs:     dirs,
		debounce: 200 * time.Millisecond,
		interval: 24 * time.Hour,
		build:    build,
		log:      logging.NewLoggerOrDefault(nil),
	}
}

func (w *Watcher) WithDebounce(d time.Duration) *Watcher {
	w.debounce = d
	return w
}

func (w *Watcher) WithInterval(d time.Duration) *Watcher {
	w.interval = d
	return w
}

// WithIgnore skips events below the given directories, typically the output
// directory when it lives inside a source directory.
func (w *Watcher) WithIgnore(dirs ...string) *Watcher {
	w.ignore = append(w.ignore, dirs...)
	return w
}

func (w *Watcher) WithLogger(log *logging.Logger) *Watcher {
	w.log = logging.NewLoggerOrDefault(log)
	return w
}

// Run blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	for _, dir := range w.dirs {
		if err := w.add(fw, dir); err != nil {
			return err
		}
	}

	p := pool.New(ctx, 1)
	p.Add(taskName, func(ctx context.Context) time.Time {
		if err := w.build(ctx); err != nil {
			w.log.Errorf("%v", err)
		}
		return time.Now().Add(w.interval)
	})

	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if w.ignored(ev.Name) {
				continue
			}
			metrics.WatchEvents.WithLabelValues(opName(ev.Op)).Inc()
			w.log.Debugf("Change detected: %s", ev)

			if ev.Has(fsnotify.Create) {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					if err := w.add(fw, ev.Name); err != nil {
						w.log.Warnf("Failed to watch %s: %v", ev.Name, err)
					}
				}
			}

			if timer == nil {
				timer = time.AfterFunc(w.debounce, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(w.debounce)
			}

		case <-fire:
			if err := p.Trigger(taskName); err != nil {
				w.log.Warnf("%v", err)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warnf("Watch error: %v", err)
		}
	}
}

// add watches dir and every directory below it.
func (w *Watcher) add(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == "node_modules" || d.Name() == ".git" || w.ignored(p) {
			return filepath.SkipDir
		}
		return fw.Add(p)
	})
}

// ignored reports whether p is below an ignored directory, or is one of
// the lock, staging or backup entries kept next to it.
func (w *Watcher) ignored(p string) bool {
	return slices.ContainsFunc(w.ignore, func(dir string) bool {
		if p == dir || strings.HasPrefix(p, dir+string(filepath.Separator)) {
			return true
		}
		sibling := filepath.Join(filepath.Dir(dir), "."+filepath.Base(dir)+".")
		return strings.HasPrefix(p, sibling)
	})
}

func opName(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return "create"
	case op.Has(fsnotify.Write):
		return "write"
	case op.Has(fsnotify.Remove):
		return "remove"
	case op.Has(fsnotify.Rename):
		return "rename"
	}
	return "other"
}
