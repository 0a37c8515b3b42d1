// ABOUTME: Thread-safe TTL window for dropping repeated keys.
// ABOUTME: The agent bridge uses it so one page view is recorded as one history entry.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// DefaultMaxSize bounds memory when a caller passes a non-positive size.
const DefaultMaxSize = 1024

type entry struct {
	key string
	at  time.Time
}

// Window remembers keys for a fixed TTL. Entries are kept in a list ordered by
// the time they were marked, so expired ones are always at the front and are
// pruned lazily on every write. No background goroutine is needed.
type Window struct {
	mu      sync.Mutex
	seen    map[string]*list.Element
	order   *list.List // *entry, oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// Option configures a Window.
type Option func(*Window)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(w *Window) { w.now = now }
}

// New creates a window that remembers keys for ttl, holding at most maxSize keys.
func New(ttl time.Duration, maxSize int, opts ...Option) *Window {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	w := &Window{
		seen:    make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Observe checks and marks key in one step. It returns true when key is a
// duplicate inside the window; a duplicate does not extend the window.
func (w *Window) Observe(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.pruneLocked(now)
	if w.liveLocked(key, now) {
		return true
	}
	w.markLocked(key, now)
	return false
}

// Forget removes key so the next Observe treats it as new.
func (w *Window) Forget(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if elem, ok := w.seen[key]; ok {
		w.order.Remove(elem)
		delete(w.seen, key)
	}
}

// Len returns the number of keys currently held, expired or not.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}

func (w *Window) liveLocked(key string, now time.Time) bool {
	elem, ok := w.seen[key]
	if !ok {
		return false
	}
	return now.Sub(elem.Value.(*entry).at) < w.ttl
}

func (w *Window) markLocked(key string, now time.Time) {
	if elem, ok := w.seen[key]; ok {
		elem.Value.(*entry).at = now
		w.order.MoveToBack(elem)
		return
	}

	for len(w.seen) >= w.maxSize {
		w.removeFront()
	}

	w.seen[key] = w.order.PushBack(&entry{key: key, at: now})
}

func (w *Window) pruneLocked(now time.Time) {
	for front := w.order.Front(); front != nil; front = w.order.Front() {
		if now.Sub(front.Value.(*entry).at) < w.ttl {
			return
		}
		w.removeFront()
	}
}

func (w *Window) removeFront() {
	front := w.order.Front()
	if front == nil {
		return
	}
	w.order.Remove(front)
	delete(w.seen, front.Value.(*entry).key)
}
