package matchfeed

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watch reloads the feed whenever its file is rewritten. Editors and
// deploy tooling often replace the file rather than write in place, so
// the parent directory is watched and events filtered by name. Returns
// when ctx is cancelled.
func (f *Feed) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(f.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	log.Info().Str("path", f.path).Msg("Watching match feed for changes")

	base := filepath.Base(f.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Brief pause so a writer finishing the file is not caught mid-write.
			time.Sleep(100 * time.Millisecond)
			if err := f.Reload(); err != nil {
				log.Warn().Err(err).Str("path", f.path).Msg("Feed reload failed, keeping previous matches")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Feed watcher error")
		}
	}
}
