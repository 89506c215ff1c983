// Package watch submits transcript files as they appear in a directory.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dgallion1/callgest/internal/parser"
)

// DefaultDebounce is how long a file must stay quiet before it is read.
const DefaultDebounce = 500 * time.Millisecond

// SubmitFunc receives the base name and contents of a settled file.
type SubmitFunc func(filename string, data []byte) error

// Watcher watches one directory, non-recursively.
type Watcher struct {
	dir      string
	submit   SubmitFunc
	log      *slog.Logger
	debounce time.Duration

	// ScanExisting submits files already in the directory on start.
	ScanExisting bool
}

func New(dir string, submit SubmitFunc, log *slog.Logger) *Watcher {
	return &Watcher{
		dir:      dir,
		submit:   submit,
		log:      log.With("component", "watch", "dir", dir),
		debounce: DefaultDebounce,
	}
}

// SetDebounce overrides DefaultDebounce.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Run blocks until ctx is cancelled or the underlying watcher fails.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.log.Info("watching for transcripts")

	if w.ScanExisting {
		w.scan()
	}

	d := newDebouncer(w.debounce)
	defer d.stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !parser.IsSupportedExtension(ev.Name) || isHidden(ev.Name) {
				continue
			}
			d.touch(ctx, ev.Name)

		case s := <-d.fired:
			if d.settled(s) {
				w.submitFile(s.path)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) scan() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.log.Warn("initial scan failed", "error", err)
		return
	}
	for _, e := range entries {
		if e.IsDir() || !parser.IsSupportedExtension(e.Name()) || isHidden(e.Name()) {
			continue
		}
		w.submitFile(filepath.Join(w.dir, e.Name()))
	}
}

func (w *Watcher) submitFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		w.log.Warn("read failed", "path", path, "error", err)
		return
	}
	name := filepath.Base(path)
	if err := w.submit(name, data); err != nil {
		w.log.Error("submit failed", "filename", name, "error", err)
		return
	}
	w.log.Info("submitted transcript", "filename", name, "bytes", len(data))
}

func isHidden(path string) bool {
	base := filepath.Base(path)
	return len(base) > 0 && base[0] == '.'
}
