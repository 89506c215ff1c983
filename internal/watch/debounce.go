package watch

import (
	"context"
	"time"
)

// settle is one timer expiry. gen identifies the timer that produced it.
type settle struct {
	path string
	gen  uint64
}

type pending struct {
	timer *time.Timer
	gen   uint64
}

// debouncer delays a path until it has been quiet for delay. It is owned by
// a single goroutine; only the timer callbacks touch fired.
type debouncer struct {
	delay   time.Duration
	fired   chan settle
	pending map[string]*pending
	gen     uint64
}

func newDebouncer(delay time.Duration) *debouncer {
	return &debouncer{
		delay:   delay,
		fired:   make(chan settle, 16),
		pending: make(map[string]*pending),
	}
}

// touch (re)starts the quiet period for path. A timer that already fired has
// a send in flight; it is replaced and its expiry becomes stale.
func (d *debouncer) touch(ctx context.Context, path string) {
	if p, ok := d.pending[path]; ok && p.timer.Stop() {
		p.timer.Reset(d.delay)
		return
	}
	d.gen++
	s := settle{path: path, gen: d.gen}
	d.pending[path] = &pending{
		gen: s.gen,
		timer: time.AfterFunc(d.delay, func() {
			select {
			case d.fired <- s:
			case <-ctx.Done():
			}
		}),
	}
}

// settled reports whether s came from the current timer for its path and
// forgets the path if so.
func (d *debouncer) settled(s settle) bool {
	p, ok := d.pending[s.path]
	if !ok || p.gen != s.gen {
		return false
	}
	delete(d.pending, s.path)
	return true
}

func (d *debouncer) stop() {
	for _, p := range d.pending {
		p.timer.Stop()
	}
}
