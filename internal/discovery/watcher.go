package discovery

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const DefaultDebounce = 250 * time.Millisecond

// Invalidator is the cache surface the watcher drives.
type Invalidator interface {
	Invalidate() []string
}

// Watcher turns remove/rename notifications on watched directories into a
// debounced Invalidate call. It is only the churn signal; content changes are
// not tracked.
type Watcher struct {
	cache    Invalidator
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu      sync.Mutex
	watched map[string]struct{}
}

func NewWatcher(cache Invalidator, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		cache:    cache,
		watcher:  fw,
		debounce: debounce,
		watched:  make(map[string]struct{}),
	}, nil
}

// Watch adds root and its parent so that removal of the root itself is seen.
func (w *Watcher) Watch(root string) {
	root = filepath.Clean(root)
	for _, dir := range []string{root, filepath.Dir(root)} {
		w.mu.Lock()
		_, seen := w.watched[dir]
		if !seen {
			w.watched[dir] = struct{}{}
		}
		w.mu.Unlock()
		if seen {
			continue
		}
		if err := w.watcher.Add(dir); err != nil {
			w.mu.Lock()
			delete(w.watched, dir)
			w.mu.Unlock()
			log.Warn().Str("component", "discovery").Str("path", dir).Err(err).Msg("discovery.Watcher add failed")
		}
	}
}

// Forget drops bookkeeping for paths that were invalidated. fsnotify removes
// watches on deleted directories by itself.
func (w *Watcher) Forget(paths []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, p := range paths {
		delete(w.watched, p)
	}
}

// Run blocks until ctx is done or the underlying watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	log.Debug().Str("component", "discovery").Msg("discovery.Watcher start")
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			log.Debug().Str("component", "discovery").Str("path", event.Name).Str("op", event.Op.String()).Msg("discovery.Watcher churn")
			timer.Reset(w.debounce)
		case <-timer.C:
			removed := w.cache.Invalidate()
			w.Forget(removed)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Str("component", "discovery").Err(err).Msg("discovery.Watcher error")
		case <-ctx.Done():
			log.Debug().Str("component", "discovery").Msg("discovery.Watcher stop")
			return nil
		}
	}
}

func (w *Watcher) Close() error {
	return w.watcher.Close()
}
