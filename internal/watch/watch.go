// Package watch submits filings dropped into an inbox directory.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/dgallion1/proxyvote/internal/render"
)

// Config configures an inbox watcher.
type Config struct {
	Dir string
	// Pattern is a doublestar pattern matched against file base names.
	Pattern string
	// Debounce is how long a file must stay unchanged before it is read.
	Debounce time.Duration
	// Scan submits the files already in Dir on Start.
	Scan bool
}

// SubmitFunc receives every new or changed filing.
type SubmitFunc func(ctx context.Context, path string, data []byte) error

// Watcher watches one directory for filings.
type Watcher struct {
	cfg    Config
	fsw    *fsnotify.Watcher
	submit SubmitFunc
	log    *slog.Logger

	mu      sync.Mutex
	pending map[string]time.Time
	hashes  map[string]string

	submitted atomic.Int64
	done      chan struct{}
}

// New creates a watcher. Nothing is watched until Start.
func New(cfg Config, submit SubmitFunc, log *slog.Logger) (*Watcher, error) {
	if cfg.Pattern == "" {
		cfg.Pattern = "*"
	}
	if !doublestar.ValidatePattern(cfg.Pattern) {
		return nil, fmt.Errorf("invalid inbox pattern %q", cfg.Pattern)
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	if log == nil {
		log = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	return &Watcher{
		cfg:     cfg,
		fsw:     fsw,
		submit:  submit,
		log:     log.With("inbox", cfg.Dir),
		pending: make(map[string]time.Time),
		hashes:  make(map[string]string),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching. The watcher runs until ctx is done or Stop is
// called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("create inbox: %w", err)
	}
	if err := w.fsw.Add(w.cfg.Dir); err != nil {
		w.fsw.Close()
		return fmt.Errorf("watch inbox: %w", err)
	}
	if w.cfg.Scan {
		entries, err := os.ReadDir(w.cfg.Dir)
		if err != nil {
			return fmt.Errorf("scan inbox: %w", err)
		}
		ready := time.Now().Add(-w.cfg.Debounce)
		w.mu.Lock()
		for _, e := range entries {
			if !e.IsDir() && w.matches(e.Name()) {
				w.pending[filepath.Join(w.cfg.Dir, e.Name())] = ready
			}
		}
		w.mu.Unlock()
	}

	go w.run(ctx)
	w.log.Info("inbox watcher started", "pattern", w.cfg.Pattern, "debounce", w.cfg.Debounce)
	return nil
}

// Stop stops watching and waits for the event loop to exit.
func (w *Watcher) Stop() error {
	err := w.fsw.Close()
	<-w.done
	return err
}

// Submitted counts the filings handed to the submit function.
func (w *Watcher) Submitted() int64 {
	return w.submitted.Load()
}

func (w *Watcher) matches(name string) bool {
	ok, _ := doublestar.Match(w.cfg.Pattern, name)
	return ok
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(max(w.cfg.Debounce/4, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Error("watcher error", "error", err)
		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if !w.matches(filepath.Base(event.Name)) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		delete(w.pending, event.Name)
		delete(w.hashes, event.Name)
		return
	}
	if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
		w.pending[event.Name] = time.Now()
	}
}

// flush submits the pending files that have been quiet for the debounce
// delay. A file whose content hash was already submitted is skipped.
func (w *Watcher) flush(ctx context.Context) {
	cutoff := time.Now().Add(-w.cfg.Debounce)
	var ready []string
	w.mu.Lock()
	for path, last := range w.pending {
		if !last.After(cutoff) {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, path := range ready {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			w.log.Warn("read filing failed", "path", path, "error", err)
			continue
		}
		hash := render.ContentHash(data)

		w.mu.Lock()
		seen := w.hashes[path] == hash
		w.hashes[path] = hash
		w.mu.Unlock()
		if seen {
			continue
		}

		if err := w.submit(ctx, path, data); err != nil {
			w.log.Error("submit filing failed", "path", path, "error", err)
			w.mu.Lock()
			delete(w.hashes, path)
			w.mu.Unlock()
			continue
		}
		w.submitted.Add(1)
		w.log.Info("filing submitted", "path", path, "bytes", len(data))
	}
}
