package site

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reconcileDelay = 200 * time.Millisecond

// Watch starts an fsnotify watcher on the content root and rebuilds pages as
// sources change until ctx is cancelled. Registered event callbacks fire for
// every page built or removed.
//
// New directories created at runtime are added to the watch list. Renames and
// new directories trigger a debounced full Build, which picks up moved files
// and drops stale pages.
func (b *Builder) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	root := b.source.Root()
	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	b.logger.Info("watcher: started", slog.String("root", root))

	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(reconcileDelay)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(reconcileDelay)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			b.logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			stats, err := b.Build(ctx)
			if err != nil {
				b.logger.Warn("watcher: reconcile failed", slog.String("error", err.Error()))
				continue
			}
			b.logger.Debug("watcher: reconciled",
				slog.Int("built", stats.Built),
				slog.Int("removed", stats.Removed))

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			absPath := ev.Name

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if isHidden(root, absPath) {
						continue
					}
					if addErr := addDirsRecursive(w, absPath); addErr != nil {
						b.logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					}
					scheduleReconcile()
					continue
				}
			}

			if !strings.HasSuffix(absPath, ".md") || isHidden(root, absPath) {
				continue
			}
			rel, relErr := filepath.Rel(root, absPath)
			if relErr != nil {
				continue
			}
			rel = filepath.ToSlash(rel)

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				if _, err := b.BuildFile(ctx, rel); err != nil {
					b.logger.Warn("watcher: build failed", slog.String("path", rel), slog.String("error", err.Error()))
				}

			case ev.Op&fsnotify.Remove != 0:
				if _, err := b.RemoveFile(ctx, rel); err != nil {
					b.logger.Warn("watcher: remove failed", slog.String("path", rel), slog.String("error", err.Error()))
				}

			case ev.Op&fsnotify.Rename != 0:
				// fsnotify reports Rename on the old path only; the new path
				// arrives as a Create if it stays under a watched dir.
				if _, err := b.RemoveFile(ctx, rel); err != nil {
					b.logger.Warn("watcher: rename remove failed", slog.String("path", rel), slog.String("error", err.Error()))
				}
				scheduleReconcile()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			b.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// isHidden reports whether any path element below root starts with a dot.
func isHidden(root, abs string) bool {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return true
		}
	}
	return false
}

// addDirsRecursive adds root and all its non-hidden subdirectories to the
// watcher.
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
