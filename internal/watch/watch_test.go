package watch

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu    sync.Mutex
	files map[string]string
	count int
}

func (r *recorder) submit(name string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.files == nil {
		r.files = make(map[string]string)
	}
	r.files[name] = string(data)
	r.count++
	return nil
}

func (r *recorder) snapshot() (map[string]string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.files))
	for k, v := range r.files {
		out[k] = v
	}
	return out, r.count
}

func startWatcher(t *testing.T, dir string, rec *recorder, scan bool) context.CancelFunc {
	t.Helper()
	w := New(dir, rec.submit, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	w.SetDebounce(50 * time.Millisecond)
	w.ScanExisting = scan

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("run: %v", err)
		}
	})
	// Give the watcher time to register the directory.
	time.Sleep(50 * time.Millisecond)
	return cancel
}

func waitFor(t *testing.T, rec *recorder, name string) map[string]string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		files, _ := rec.snapshot()
		if _, ok := files[name]; ok {
			return files
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %s to be submitted", name)
	return nil
}

func TestWatcherSubmitsNewFiles(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	startWatcher(t, dir, rec, false)

	if err := os.WriteFile(filepath.Join(dir, "AAPL_Q1_2024.txt"), []byte("Operator\nHello"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "ignore.csv"), []byte("a,b"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".hidden.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	files := waitFor(t, rec, "AAPL_Q1_2024.txt")
	if files["AAPL_Q1_2024.txt"] != "Operator\nHello" {
		t.Errorf("unexpected contents %q", files["AAPL_Q1_2024.txt"])
	}
	time.Sleep(150 * time.Millisecond)
	files, _ = rec.snapshot()
	if _, ok := files["ignore.csv"]; ok {
		t.Error("expected unsupported extension to be ignored")
	}
	if _, ok := files[".hidden.txt"]; ok {
		t.Error("expected hidden file to be ignored")
	}
}

func TestWatcherDebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	startWatcher(t, dir, rec, false)

	path := filepath.Join(dir, "call.txt")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, chunk := range []string{"Operator\n", "Welcome ", "everyone."} {
		f.WriteString(chunk)
		time.Sleep(10 * time.Millisecond)
	}
	f.Close()

	files := waitFor(t, rec, "call.txt")
	time.Sleep(150 * time.Millisecond)
	_, count := rec.snapshot()
	if count != 1 {
		t.Errorf("expected one submission after debounce, got %d", count)
	}
	if files["call.txt"] != "Operator\nWelcome everyone." {
		t.Errorf("expected settled contents, got %q", files["call.txt"])
	}
}

func TestWatcherScanExisting(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "old.md"), []byte("# Call"), 0o644); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	startWatcher(t, dir, rec, true)
	waitFor(t, rec, "old.md")
}

func TestWatcherMissingDir(t *testing.T) {
	w := New(filepath.Join(t.TempDir(), "missing"), (&recorder{}).submit, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	if err := w.Run(context.Background()); err == nil {
		t.Fatal("expected error for missing directory")
	}
}
