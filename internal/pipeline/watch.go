package pipeline

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

	"github.com/toltec-astro/dvpipe/internal/apperr"
)

// Event kinds reported by Watch.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
)

// EventCallback is called after a watcher-driven index change with the
// event kind and the project id.
type EventCallback func(kind string, projectID string)

// Watch keeps the dataset indices in step with the project directories below
// the parent path until ctx is cancelled. A new project directory is indexed
// right away; changes inside a project are debounced and re-index it; a
// removed project directory drops its index. cb, if non-nil, is called after
// each change.
func (r *Runner) Watch(ctx context.Context, debounce time.Duration, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(r.parentPath); err != nil {
		return err
	}
	known := make(map[string]bool)
	dirs, err := FindProjectDirs(r.parentPath, r.pattern)
	if err != nil {
		return err
	}
	for _, dir := range dirs {
		if err := addDirsRecursive(w, dir); err != nil {
			return err
		}
		known[filepath.Base(dir)] = true
	}
	r.logger.Info("watcher: started", slog.String("root", r.parentPath), slog.Int("projects", len(dirs)))

	emit := func(kind, id string) {
		if cb != nil {
			cb(kind, id)
		}
	}
	reindex := func(id string) {
		dir := filepath.Join(r.parentPath, id)
		if _, err := os.Stat(dir); err != nil {
			return
		}
		if _, err := r.IndexProject(dir); err != nil {
			r.logger.Warn("watcher: index failed", slog.String("project_id", id), slog.String("error", err.Error()))
			return
		}
		kind := EventUpdated
		if !known[id] {
			kind = EventCreated
			known[id] = true
		}
		emit(kind, id)
	}

	pending := make(map[string]bool)
	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	schedule := func(id string) {
		pending[id] = true
		if timer == nil {
			timer = time.NewTimer(debounce)
			timerCh = timer.C
		} else {
			timer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			r.logger.Info("watcher: stopped")
			return nil

		case <-timerCh:
			for id := range pending {
				reindex(id)
			}
			clear(pending)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			rel, err := filepath.Rel(r.parentPath, ev.Name)
			if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
				continue
			}
			parts := strings.SplitN(filepath.ToSlash(rel), "/", 2)
			id := parts[0]
			if !r.pattern.MatchString(id) {
				continue
			}
			top := len(parts) == 1

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						r.logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
				}
			}
			if top && ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				delete(pending, id)
				if !known[id] {
					continue
				}
				delete(known, id)
				if err := r.indices.Delete(id); err != nil && !errors.Is(err, apperr.ErrNotFound) {
					r.logger.Warn("watcher: delete index failed", slog.String("project_id", id), slog.String("error", err.Error()))
					continue
				}
				r.logger.Debug("watcher: project removed", slog.String("project_id", id))
				emit(EventDeleted, id)
				continue
			}
			schedule(id)

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
