package map_source

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Editors fire several events per save; collapse them into one rescan.
const rescanDebounce = 250 * time.Millisecond

// Watch rescans the data directory whenever a descriptor file changes. It
// returns after the watch is established; the rescan loop runs until the
// context is canceled.
func (s *Scanner) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := watcher.Add(s.dataDir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", s.dataDir, err)
	}

	s.logger.Info("Watching map descriptors", zap.String("dir", s.dataDir))
	go s.watchLoop(ctx, watcher)
	return nil
}

func (s *Scanner) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	var rescan <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if strings.ToLower(filepath.Ext(event.Name)) != ".json" {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			rescan = time.After(rescanDebounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("Map watcher error", zap.Error(err))

		case <-rescan:
			rescan = nil
			if err := s.Scan(); err != nil {
				s.logger.Warn("Rescan after change failed", zap.Error(err))
			}
		}
	}
}
