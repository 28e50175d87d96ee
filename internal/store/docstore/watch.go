package docstore

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// startWatch watches the directory rather than the file: writes replace
// the file by rename, which would drop a watch on the file itself.
func (s *Store) startWatch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}
	s.watcher = w
	s.wg.Add(1)
	go s.watchLoop(w)
	return nil
}

func (s *Store) watchLoop(w *fsnotify.Watcher) {
	defer s.wg.Done()
	name := filepath.Base(s.path)
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != name {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Remove) {
				s.logger.Debug("data file changed", "path", ev.Name, "op", ev.Op.String())
				s.notify()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.logger.Warn("watch error", "err", err)
		}
	}
}
