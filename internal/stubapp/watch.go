package stubapp

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"shelfkit/internal/library"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const reloadDebounce = 100 * time.Millisecond

// WatchShelf loads the shelf from path and reloads it whenever the file is
// written or replaced, until ctx is cancelled. A file that fails to parse
// keeps the previous shelf.
func (s *Server) WatchShelf(ctx context.Context, path string) error {
	path = filepath.Clean(path)
	shelf, err := library.ReadShelf(path)
	if err != nil {
		return err
	}
	s.SetShelf(shelf)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	// Watch the directory: editors often save by renaming over the file.
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	s.log.Info("watching shelf file", zap.String("path", path), zap.Int("books", len(shelf)))

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path || !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			shelf, err := library.ReadShelf(path)
			if err != nil {
				s.log.Warn("shelf reload failed, keeping previous shelf", zap.Error(err))
				continue
			}
			s.SetShelf(shelf)
			s.log.Info("shelf reloaded", zap.Int("books", len(shelf)))

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("watcher error", zap.Error(err))
		}
	}
}
