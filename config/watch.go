package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/c360/windowcache/errors"
)

// Watch follows the backing file until ctx is done and reloads it after every
// burst of writes settles for debounce. Changes written by another process,
// such as "windowcache config set" beside a running serve, become visible to
// this store instead of being reverted by its next mutation.
func (s *Store) Watch(ctx context.Context, debounce time.Duration) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.WrapTransient(err, "Store", "Watch", "create fsnotify watcher")
	}
	defer fsw.Close()

	// Writers replace the file by rename, so the directory is watched.
	target := filepath.Clean(s.path)
	if err := fsw.Add(filepath.Dir(target)); err != nil {
		return errors.WrapTransient(err, "Store", "Watch", "watch directory")
	}
	s.logger.Debug("Watching configuration file", "path", s.path)

	pending := make(chan struct{}, 1)
	var timerMu sync.Mutex
	var timer *time.Timer
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timerMu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case pending <- struct{}{}:
				default:
				}
			})
			timerMu.Unlock()

		case <-pending:
			if _, err := s.Reload(); err != nil {
				s.logger.Warn("Keeping current configuration", "path", s.path, "error", err)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("Configuration watcher error", "error", err)
		}
	}
}
