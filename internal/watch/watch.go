// Package watch triggers the pipeline when a new optimizer export lands in
// the raw folder.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Handler processes one settled file.
type Handler func(ctx context.Context, path string) error

// Stats counts watcher activity.
type Stats struct {
	Events   int
	Handled  int
	Failures int
	LastPath string
}

// Watcher runs Handler once per file after writes to it have been quiet for
// the debounce interval. The terminal writes exports in several chunks, so a
// single Create is not enough to know the file is complete.
type Watcher struct {
	dir      string
	ext      string
	debounce time.Duration
	handler  Handler
	logger   zerolog.Logger

	mu      sync.Mutex
	pending map[string]time.Time
	stats   Stats
	now     func() time.Time
}

// New returns a watcher for files with extension ext in dir.
func New(dir, ext string, debounce time.Duration, handler Handler, logger zerolog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Watcher{
		dir:      dir,
		ext:      ext,
		debounce: debounce,
		handler:  handler,
		logger:   logger.With().Str("component", "watch").Logger(),
		pending:  make(map[string]time.Time),
		now:      time.Now,
	}
}

// Stats returns a snapshot of the counters.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Run blocks until ctx is cancelled or the underlying watcher fails.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("create watch dir %s: %w", w.dir, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Info().Str("dir", w.dir).Str("ext", w.ext).Dur("debounce", w.debounce).Msg("watching for new exports")

	tick := w.debounce / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("watcher stopped")
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.observe(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("watcher error")
		case <-ticker.C:
			for _, path := range w.settled() {
				w.handle(ctx, path)
			}
		}
	}
}

func (w *Watcher) observe(ev fsnotify.Event) {
	if !strings.EqualFold(filepath.Ext(ev.Name), w.ext) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		w.pending[ev.Name] = w.now()
		w.stats.Events++
		w.logger.Debug().Str("file", ev.Name).Str("op", ev.Op.String()).Msg("export changed")
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		delete(w.pending, ev.Name)
	}
}

// settled removes and returns, in name order, every pending file whose last
// write is at least one debounce interval old.
func (w *Watcher) settled() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	var out []string
	for path, last := range w.pending {
		if now.Sub(last) >= w.debounce {
			out = append(out, path)
			delete(w.pending, path)
		}
	}
	sort.Strings(out)
	return out
}

func (w *Watcher) handle(ctx context.Context, path string) {
	w.logger.Info().Str("file", filepath.Base(path)).Msg("new export settled")
	err := w.handler(ctx, path)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.Handled++
	w.stats.LastPath = path
	if err != nil {
		w.stats.Failures++
		w.logger.Error().Err(err).Str("file", path).Msg("processing export failed")
	}
}
