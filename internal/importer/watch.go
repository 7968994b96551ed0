package importer

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Event reports what Watch recorded for a file.
type Event struct {
	Path    []string
	Deleted bool
	Err     error
}

// Watch records inserts and deletes as feature files change until ctx is
// done. notify may be nil.
func (im *Importer) Watch(ctx context.Context, notify func(Event)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer watcher.Close()

	err = filepath.WalkDir(im.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if rel, _ := filepath.Rel(im.root, path); rel != "." && im.Ignored(rel, true) {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("adding directory to watcher: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			im.handleEvent(watcher, event, notify)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			im.logger.Error("watcher error", zap.Error(err))
		}
	}
}

func (im *Importer) handleEvent(watcher *fsnotify.Watcher, event fsnotify.Event, notify func(Event)) {
	rel, err := filepath.Rel(im.root, event.Name)
	if err != nil {
		im.logger.Error("getting relative path", zap.Error(err))
		return
	}

	info, statErr := os.Stat(event.Name)
	isDir := statErr == nil && info.IsDir()
	if im.Ignored(rel, isDir) {
		return
	}

	if isDir {
		if event.Has(fsnotify.Create) {
			if err := watcher.Add(event.Name); err != nil {
				im.logger.Error("adding new directory to watcher", zap.Error(err))
			}
		}
		return
	}

	path, err := PathFor(rel)
	if err != nil {
		return
	}

	ev := Event{Path: path}
	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		ev.Deleted = true
		_, ev.Err = im.area.RecordDelete(path)
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		ins, err := im.insertion(rel)
		if err != nil {
			ev.Err = err
			break
		}
		_, ev.Err = im.area.RecordInsert(ins.Data, ins.Bounds, ins.Path)
	default:
		return
	}

	if ev.Err != nil {
		im.logger.Warn("Failed to record change", zap.String("path", rel), zap.Error(ev.Err))
	} else {
		im.logger.Debug("Recorded change", zap.String("path", rel), zap.Bool("deleted", ev.Deleted))
	}
	if notify != nil {
		notify(ev)
	}
}
