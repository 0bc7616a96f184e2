package lore

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hupe1980/storymesh/logging"
)

// WatcherStats tracks watcher activity.
type WatcherStats struct {
	Events     int
	Reloads    int
	Errors     int
	LastReload time.Time
	LastEvent  string
}

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	// Debounce is how long the directory must be quiet before a reload.
	Debounce time.Duration
	// Tick is how often pending changes are checked.
	Tick   time.Duration
	Logger logging.Logger
	// OnReload is called after each reload with the number of entries loaded.
	OnReload func(n int, err error)
}

// Watcher reloads a Book whenever lore files in a directory change.
type Watcher struct {
	mu      sync.Mutex
	watcher *fsnotify.Watcher
	book    *Book
	dir     string
	opts    WatcherOptions
	dirty   time.Time
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
	stats   WatcherStats
}

// NewWatcher creates a watcher for dir. Call Start to begin watching.
func NewWatcher(dir string, book *Book, optFns ...func(o *WatcherOptions)) (*Watcher, error) {
	opts := WatcherOptions{
		Debounce: 500 * time.Millisecond,
		Tick:     100 * time.Millisecond,
		Logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher: fw,
		book:    book,
		dir:     dir,
		opts:    opts,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start loads the directory once and starts watching it. It is non-blocking.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		w.opts.Logger.Warn("lore watcher: cannot create directory", "dir", w.dir, "error", err)
	}
	if err := w.watcher.Add(w.dir); err != nil {
		w.opts.Logger.Warn("lore watcher: watch failed", "dir", w.dir, "error", err)
	}
	w.reload()

	go w.run(ctx)
	return nil
}

// Stop stops watching and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		_ = w.watcher.Close()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	if err := w.watcher.Close(); err != nil {
		w.opts.Logger.Error("lore watcher: close failed", "error", err)
	}
}

// Stats returns a copy of the watcher counters.
func (w *Watcher) Stats() WatcherStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)
	defer logging.Recover(w.opts.Logger, "component", "lore_watcher")

	ticker := time.NewTicker(w.opts.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.opts.Logger.Error("lore watcher error", "error", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
		case <-ticker.C:
			w.processDebounced()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !IsLoreFile(event.Name) {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	w.mu.Lock()
	w.stats.Events++
	w.stats.LastEvent = event.Name
	w.dirty = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) processDebounced() {
	w.mu.Lock()
	due := !w.dirty.IsZero() && time.Since(w.dirty) >= w.opts.Debounce
	if due {
		w.dirty = time.Time{}
	}
	w.mu.Unlock()
	if due {
		w.reload()
	}
}

func (w *Watcher) reload() {
	entries, err := LoadDir(w.dir)
	if err != nil {
		w.opts.Logger.Warn("lore reload reported invalid files", "dir", w.dir, "error", err)
	}
	if err == nil || len(entries) > 0 {
		w.book.Replace(entries)
	}

	w.mu.Lock()
	w.stats.Reloads++
	w.stats.LastReload = time.Now()
	if err != nil {
		w.stats.Errors++
	}
	w.mu.Unlock()

	w.opts.Logger.Info("lore book loaded", "dir", w.dir, "entries", len(entries))
	if w.opts.OnReload != nil {
		w.opts.OnReload(len(entries), err)
	}
}
