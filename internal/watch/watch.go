// Package watch keeps the time index cache warm for a dump directory.
package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/robert-at-pretension-io/vcd-waves/internal/config"
	"github.com/robert-at-pretension-io/vcd-waves/internal/indexer"
)

const defaultSettle = 250 * time.Millisecond

// Warmer builds time indexes for the configured dump files ahead of queries.
type Warmer struct {
	Indexer *indexer.Indexer
	Config  *config.Config
	Root    string
	Log     *logrus.Entry

	// OnIndexed, when set, is called after each successful build
	OnIndexed func(path string)
}

func (w *Warmer) log() *logrus.Entry {
	if w.Log != nil {
		return w.Log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

func (w *Warmer) concurrency() int {
	if w.Config.Watch.Concurrency > 0 {
		return w.Config.Watch.Concurrency
	}
	return 1
}

// Warm ensures every configured dump file has an index, reusing cached ones.
// Per-file failures are logged; the returned count covers the successes.
func (w *Warmer) Warm(ctx context.Context) (int, error) {
	files, err := w.Config.ResolveDumps(w.Root)
	if err != nil {
		return 0, err
	}
	return w.run(ctx, files, func(ctx context.Context, path string) error {
		_, err := w.Indexer.TimeIndex(ctx, path)
		return err
	})
}

// Reindex rebuilds the indexes of paths that belong to the configured dump
// set, ignoring everything else.
func (w *Warmer) Reindex(ctx context.Context, paths []string) (int, error) {
	files, err := w.Config.ResolveDumps(w.Root)
	if err != nil {
		return 0, err
	}
	known := make(map[string]string, len(files))
	for _, f := range files {
		known[absPath(f)] = f
	}
	var targets []string
	for _, p := range paths {
		if f, ok := known[absPath(p)]; ok {
			targets = append(targets, f)
		}
	}
	return w.run(ctx, targets, func(ctx context.Context, path string) error {
		_, _, err := w.Indexer.Reindex(ctx, path)
		return err
	})
}

func (w *Warmer) run(ctx context.Context, files []string, build func(context.Context, string) error) (int, error) {
	var done int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency())
	for _, path := range files {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			if err := build(gctx, path); err != nil {
				w.log().WithError(err).WithField("path", path).Warn("indexing failed")
				return nil
			}
			atomic.AddInt64(&done, 1)
			w.Indexer.Metrics.Warmed()
			if w.OnIndexed != nil {
				w.OnIndexed(path)
			}
			return nil
		})
	}
	err := g.Wait()
	return int(done), err
}

// Watch watches the dump directory and rebuilds the index of every dump file
// that changes, once its writes have been quiet for the configured settle
// time. It returns when ctx is cancelled.
func (w *Warmer) Watch(ctx context.Context) error {
	settle, err := w.Config.Watch.SettleDuration()
	if err != nil {
		return err
	}
	if settle <= 0 {
		settle = defaultSettle
	}
	root := absPath(w.Config.ResolveDumpDir(w.Root))

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := addWatchRecursive(watcher, root); err != nil {
		return err
	}
	w.log().WithField("dir", root).Info("watching dump directory")

	timer := time.NewTimer(time.Hour)
	stopTimer(timer)
	pending := map[string]bool{}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			path := filepath.Clean(event.Name)
			if event.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(path); statErr == nil && info.IsDir() {
					_ = addWatchRecursive(watcher, path)
					continue
				}
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 || !config.IsDumpFile(path) {
				continue
			}
			pending[path] = true
			stopTimer(timer)
			timer.Reset(settle)
		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			changed := make([]string, 0, len(pending))
			for path := range pending {
				changed = append(changed, path)
			}
			sort.Strings(changed)
			pending = map[string]bool{}
			n, err := w.Reindex(ctx, changed)
			if err != nil && !errors.Is(err, context.Canceled) {
				w.log().WithError(err).Warn("reindex failed")
			}
			w.log().WithFields(logrus.Fields{"changed": len(changed), "indexed": n}).Info("dump files reindexed")
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return watchErr
		}
	}
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

func addWatchRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, entry os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !entry.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(entry.Name(), ".") {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}
