package queue

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// watchFallback bounds the wait between polls when fsnotify is quiet or
// unavailable, so a missed event can never wedge the consumer.
const watchFallback = 2 * time.Second

// Watch returns a lazy, infinite stream of newly visible work items.
// Filesystem notifications wake the poll early; a fallback tick covers
// missed events. The channel closes when ctx is cancelled. Restartable:
// a new Watch picks up where the seen-set left off.
func (s *Store) Watch(ctx context.Context) <-chan *WorkItem {
	ch := make(chan *WorkItem, 16)

	go func() {
		defer close(ch)

		watcher, err := fsnotify.NewWatcher()
		if err == nil {
			if addErr := watcher.Add(s.incomingDir); addErr != nil {
				s.logger.Warn("watch incoming dir failed, polling only", zap.Error(addErr))
			}
			defer watcher.Close()
		} else {
			s.logger.Warn("fsnotify unavailable, polling only", zap.Error(err))
		}

		timer := time.NewTimer(0)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			case ev, ok := <-events(watcher):
				if ok && ev.Op&(fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
			}

			for _, item := range s.PollNew() {
				select {
				case ch <- item:
				case <-ctx.Done():
					return
				}
			}
			timer.Reset(watchFallback)
		}
	}()

	return ch
}

func events(w *fsnotify.Watcher) <-chan fsnotify.Event {
	if w == nil {
		return nil
	}
	return w.Events
}
