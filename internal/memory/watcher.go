package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const reloadDebounce = 300 * time.Millisecond

// WatchRegistries reloads a registry whenever its JSON document in dir is
// written by someone else, such as an operator editing ignore.json by hand.
// It returns once the watch is set up; watching stops when ctx is done.
func WatchRegistries(ctx context.Context, fp *FilePersister, logger *zap.Logger, regs ...*Registry) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory: the atomic rename replaces the file inode.
	if err := w.Add(fp.Dir()); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", fp.Dir(), err)
	}

	byFile := make(map[string]*Registry, len(regs))
	for _, r := range regs {
		byFile[filepath.Base(fp.Path(r.Name()))] = r
	}

	go watchLoop(ctx, w, byFile, logger)
	logger.Info("watching registries", zap.String("dir", fp.Dir()), zap.Int("count", len(regs)))
	return nil
}

func watchLoop(ctx context.Context, w *fsnotify.Watcher, byFile map[string]*Registry, logger *zap.Logger) {
	defer w.Close()

	var mu sync.Mutex
	timers := make(map[string]*time.Timer)
	defer func() {
		mu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			base := filepath.Base(event.Name)
			reg, ok := byFile[base]
			if !ok {
				continue
			}
			mu.Lock()
			if t := timers[base]; t != nil {
				t.Stop()
			}
			timers[base] = time.AfterFunc(reloadDebounce, func() {
				if err := reg.Reload(); err != nil {
					logger.Warn("registry reload failed", zap.String("registry", reg.Name()), zap.Error(err))
					return
				}
				logger.Info("registry reloaded", zap.String("registry", reg.Name()), zap.Int("members", reg.Len()))
			})
			mu.Unlock()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logger.Error("watcher error", zap.Error(err))
		}
	}
}
