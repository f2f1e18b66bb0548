package indexer

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/plotweave/internal/storage"
)

// Watch starts an fsnotify watcher on the chapters and settings
// directories and enqueues changed source files until ctx is cancelled. The
// watcher never writes the graph itself; Run must be active to drain the
// queue.
//
// New directories created at runtime are automatically added to the watch
// list. Rename events trigger a debounced reconciliation of disk against
// the snapshot's file records.
func (i *Indexer) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	root := i.files.Root()
	for _, dir := range i.watchDirs() {
		abs := filepath.Join(root, filepath.FromSlash(dir))
		if info, statErr := os.Stat(abs); statErr != nil || !info.IsDir() {
			i.logger.Warn("watcher: directory missing, not watched", slog.String("path", abs))
			continue
		}
		if err := addDirsRecursive(w, abs); err != nil {
			return err
		}
	}

	i.logger.Info("watcher: started", slog.String("root", root))

	// reconcileTimer is used to debounce rename reconciliation.
	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(i.cfg.ReconcileDelay)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(i.cfg.ReconcileDelay)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			i.logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			i.reconcile()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			absPath := ev.Name

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, absPath); addErr != nil {
						i.logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					} else {
						i.logger.Debug("watcher: watching new dir", slog.String("path", absPath))
					}
					i.enqueueDir(absPath)
					continue
				}
			}

			if !storage.IsSource(absPath) {
				continue
			}
			rel, relErr := i.files.Rel(absPath)
			if relErr != nil {
				continue
			}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove) != 0:
				i.Enqueue(rel)
			case ev.Op&fsnotify.Rename != 0:
				// fsnotify reports Rename on the old path; the new path
				// arrives as a Create when it stays inside a watched dir.
				i.Enqueue(rel)
				scheduleReconcile()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			i.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func (i *Indexer) watchDirs() []string {
	if i.cfg.ChaptersDir == "" || i.cfg.SettingsDir == "" {
		return []string{""}
	}
	return []string{i.cfg.ChaptersDir, i.cfg.SettingsDir}
}

// reconcile enqueues every source file on disk and every tracked file that
// vanished. Ingestion skips files whose version is unchanged.
func (i *Indexer) reconcile() {
	tracked := make(map[string]bool)
	for _, rec := range i.store.Snapshot().Files() {
		tracked[rec.Path] = true
	}
	for _, dir := range i.watchDirs() {
		files, err := i.files.List(dir)
		if err != nil {
			i.logger.Warn("reconcile: list failed", slog.String("dir", dir), slog.String("error", err.Error()))
			return
		}
		for _, f := range files {
			i.Enqueue(f.Path)
			delete(tracked, f.Path)
		}
	}
	for p := range tracked {
		i.Enqueue(p)
	}
}

// enqueueDir enqueues every source file under a newly created directory.
func (i *Indexer) enqueueDir(dirPath string) {
	_ = filepath.WalkDir(dirPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !storage.IsSource(p) {
			return nil
		}
		if rel, relErr := i.files.Rel(p); relErr == nil {
			i.Enqueue(rel)
		}
		return nil
	})
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
