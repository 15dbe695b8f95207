package keychain

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"
)

const watcherDebounce = 500 * time.Millisecond

// Watcher detects key-set changes made outside this process and publishes
// them to the store's listeners. Changes are detected by watching a data
// directory, by polling, or both.
type Watcher struct {
	store   *Store
	dir     string
	poll    time.Duration
	limiter *rate.Limiter
	logger  *slog.Logger

	mu    sync.Mutex
	known KeySet
}

// NewWatcher creates a watcher for store. dir is watched with fsnotify when
// non-empty; poll re-enumerates on a fixed interval when positive.
func NewWatcher(store *Store, dir string, poll time.Duration) *Watcher {
	return &Watcher{
		store:   store,
		dir:     dir,
		poll:    poll,
		limiter: rate.NewLimiter(rate.Every(watcherDebounce/2), 1),
		logger:  slog.With("component", "watcher", "service", store.Service()),
	}
}

// Refresh re-enumerates the store, publishes the difference from the last
// known key set, and returns it. The first call only records the baseline.
func (w *Watcher) Refresh() ([]Change, error) {
	keys, err := w.store.Keys()
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	if w.known == nil {
		w.known = keys
		w.mu.Unlock()
		return nil, nil
	}
	changes := diffKeySets(w.known, keys)
	w.known = keys
	w.mu.Unlock()

	for _, c := range changes {
		w.store.listeners.publish(c)
	}
	return changes, nil
}

// diffKeySets returns the removals then additions that turn before into after,
// each in key order.
func diffKeySets(before, after KeySet) []Change {
	var changes []Change
	for _, k := range before.Sorted() {
		if !after.Has(k) {
			changes = append(changes, Change{Kind: Removed, Key: k})
		}
	}
	for _, k := range after.Sorted() {
		if !before.Has(k) {
			changes = append(changes, Change{Kind: Added, Key: k})
		}
	}
	return changes
}

// track keeps the known set in step with changes made through the store
// itself, so they are not published twice.
func (w *Watcher) track(c Change) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.known == nil {
		return
	}
	switch c.Kind {
	case Added:
		w.known[c.Key] = struct{}{}
	case Removed:
		delete(w.known, c.Key)
	}
}

// Run watches for changes until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	cancel := w.store.Subscribe(w.track)
	defer cancel()

	if _, err := w.Refresh(); err != nil {
		return err
	}

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
		tick   <-chan time.Time
	)

	if w.dir != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return err
		}
		defer watcher.Close()

		if err := watcher.Add(w.dir); err != nil {
			return err
		}
		events, errs = watcher.Events, watcher.Errors
		w.logger.Info("watching data directory for changes", "dir", w.dir)
	}

	if w.poll > 0 {
		ticker := time.NewTicker(w.poll)
		defer ticker.Stop()
		tick = ticker.C
		w.logger.Info("polling for changes", "interval", w.poll)
	}

	refresh := func() {
		if err := w.limiter.Wait(ctx); err != nil {
			return
		}
		changes, err := w.Refresh()
		if err != nil {
			w.logger.Error("refresh failed", "error", err)
			return
		}
		if len(changes) > 0 {
			w.logger.Debug("external changes detected", "count", len(changes))
		}
	}

	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return nil

		case event, ok := <-events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug("data file changed", "file", event.Name, "op", event.Op)

			// Debounce: reset timer on each event
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(watcherDebounce, refresh)

		case <-tick:
			refresh()

		case err, ok := <-errs:
			if !ok {
				return nil
			}
			w.logger.Error("file watcher error", "error", err)
		}
	}
}
