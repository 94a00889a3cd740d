package wiki

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zwegner/waliki/internal/rendercache"
)

// EventCallback is called after a watcher-driven cache change.
// kind is one of "refreshed" or "invalidated".
type EventCallback func(kind string, url string)

// Watch starts an fsnotify watcher on the content root and keeps the render
// cache consistent with files edited outside Save: writes re-render and
// refresh the cached entry, removals invalidate it. It runs until ctx is
// cancelled and calls cb (if non-nil) after each cache mutation.
//
// New directories created at runtime are automatically added to the watch
// list. Rename events trigger a debounced reconciliation pass that drops
// cache entries whose files no longer exist on disk.
func Watch(ctx context.Context, w *Wiki, logger *slog.Logger, cb EventCallback) error {
	if w.cache == nil {
		return errors.New("wiki: watch requires a render cache")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := addDirsRecursive(fw, w.root); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", w.root))

	ext := w.proc.Extension()

	// reconcileTimer debounces rename reconciliation.
	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(200 * time.Millisecond)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(200 * time.Millisecond)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			reconcileCache(w, logger, cb)

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}

			absPath := ev.Name

			// New directories: add to watcher and refresh their pages.
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(fw, absPath); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					}
					refreshNewDir(w, absPath, ext, logger, cb)
					continue
				}
			}

			if !strings.HasSuffix(absPath, ext) {
				continue
			}

			rel, relErr := filepath.Rel(w.root, absPath)
			if relErr != nil {
				continue
			}
			url := strings.TrimSuffix(filepath.ToSlash(rel), ext)

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				refreshed, refreshErr := refreshPage(w, url)
				if refreshErr != nil {
					logger.Warn("watcher: refresh failed",
						slog.String("url", url), slog.String("error", refreshErr.Error()))
					continue
				}
				if !refreshed {
					continue
				}
				logger.Debug("watcher: refreshed", slog.String("url", url))
				if cb != nil {
					cb("refreshed", url)
				}

			case ev.Op&fsnotify.Remove != 0:
				if invErr := w.cache.Invalidate(url); invErr != nil {
					logger.Warn("watcher: invalidate failed",
						slog.String("url", url), slog.String("error", invErr.Error()))
					continue
				}
				logger.Debug("watcher: invalidated", slog.String("url", url))
				if cb != nil {
					cb("invalidated", url)
				}

			case ev.Op&fsnotify.Rename != 0:
				// fsnotify fires Rename on the OLD path only; the new path
				// arrives as a separate Create event if it stays inside a
				// watched dir. Invalidate the old entry now and reconcile
				// shortly after to catch stragglers.
				if invErr := w.cache.Invalidate(url); invErr == nil {
					logger.Debug("watcher: rename old invalidated", slog.String("url", url))
					if cb != nil {
						cb("invalidated", url)
					}
				}
				scheduleReconcile()
			}

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// refreshPage re-renders the page at url and stores its output under the
// current content fingerprint. Entries already matching are left alone and
// reported as not refreshed.
func refreshPage(w *Wiki, url string) (bool, error) {
	data, err := w.store.Read(w.relPath(url))
	if err != nil {
		return false, err
	}
	fp := rendercache.Fingerprint(data)
	if _, ok, err := w.cache.Get(url, fp); err != nil {
		return false, err
	} else if ok {
		return false, nil
	}
	page, err := w.load(url)
	if err != nil {
		return false, err
	}
	if err := w.cache.Put(url, fp, page.HTML()); err != nil {
		return false, err
	}
	return true, nil
}

// reconcileCache drops cache entries without a backing file and refreshes
// entries whose fingerprint went stale.
func reconcileCache(w *Wiki, logger *slog.Logger, cb EventCallback) {
	keys, err := w.cache.Keys()
	if err != nil {
		logger.Warn("reconcile: cache keys failed", slog.String("error", err.Error()))
		return
	}
	for _, url := range keys {
		if w.Exists(url) {
			continue
		}
		if invErr := w.cache.Invalidate(url); invErr == nil {
			logger.Debug("reconcile: removed stale", slog.String("url", url))
			if cb != nil {
				cb("invalidated", url)
			}
		}
	}

	rels, err := w.store.Walk(w.proc.Extension())
	if err != nil {
		logger.Warn("reconcile: walk failed", slog.String("error", err.Error()))
		return
	}
	for _, rel := range rels {
		url := strings.TrimSuffix(rel, w.proc.Extension())
		if refreshed, refreshErr := refreshPage(w, url); refreshErr == nil && refreshed {
			logger.Debug("reconcile: refreshed", slog.String("url", url))
			if cb != nil {
				cb("refreshed", url)
			}
		}
	}
}

// refreshNewDir refreshes cache entries for pages found in a newly created
// directory.
func refreshNewDir(w *Wiki, dirPath, ext string, logger *slog.Logger, cb EventCallback) {
	_ = filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ext) {
			return nil
		}
		rel, relErr := filepath.Rel(w.root, path)
		if relErr != nil {
			return nil
		}
		url := strings.TrimSuffix(filepath.ToSlash(rel), ext)
		if refreshed, refreshErr := refreshPage(w, url); refreshErr == nil && refreshed {
			logger.Debug("watcher: refreshed from new dir", slog.String("url", url))
			if cb != nil {
				cb("refreshed", url)
			}
		}
		return nil
	})
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fw.Add(path)
		}
		return nil
	})
}
