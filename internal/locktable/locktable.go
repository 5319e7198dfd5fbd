// Package locktable implements the per-path mutual-exclusion table that
// guarantees at most one in-flight sync operation per relative path, with
// FIFO release order (spec §4.2).
package locktable

import (
	"context"
	"errors"
	"sync"
)

// ErrNotLocked is returned by Release when the caller's handle no longer
// owns the path — either it was never locked, or it was already released.
// Per spec §7 this is a LockError: a programming bug, surfaced but never
// fatal to the process.
var ErrNotLocked = errors.New("locktable: path is not locked by this handle")

// Handle is the token returned by WaitForLock / TryLock; it must be passed
// to Release to hand the lock to the next FIFO waiter.
type Handle struct {
	path string
	id   uint64
}

type waiter struct {
	id      uint64
	granted chan struct{}
}

type entry struct {
	holderID uint64
	held     bool
	queue    []*waiter
}

func (e *entry) locked() bool { return e.held }

// Table is a process-lifetime (in practice, client-facade-lifetime per
// spec §9's "facade-owned" redesign) map of path to FIFO waitlist.
type Table struct {
	mu      sync.Mutex
	entries map[string]*entry
	nextID  uint64
}

// New constructs an empty lock table.
func New() *Table {
	return &Table{entries: make(map[string]*entry)}
}

// WaitForLock blocks until the caller owns the path's lock, honoring FIFO
// order among concurrent waiters, or until ctx is canceled.
func (t *Table) WaitForLock(ctx context.Context, path string) (Handle, error) {
	t.mu.Lock()
	e, ok := t.entries[path]
	if !ok {
		e = &entry{}
		t.entries[path] = e
	}

	t.nextID++
	id := t.nextID

	if len(e.queue) == 0 && !e.locked() {
		e.holderID = id
		e.held = true
		t.mu.Unlock()
		return Handle{path: path, id: id}, nil
	}

	w := &waiter{id: id, granted: make(chan struct{})}
	e.queue = append(e.queue, w)
	t.mu.Unlock()

	select {
	case <-w.granted:
		return Handle{path: path, id: id}, nil
	case <-ctx.Done():
		t.abandon(path, w)
		return Handle{}, ctx.Err()
	}
}

// abandon removes a waiter that gave up due to context cancellation before
// being granted the lock.
func (t *Table) abandon(path string, w *waiter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[path]
	if !ok {
		return
	}
	for i, q := range e.queue {
		if q == w {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			return
		}
	}
}

// TryLock attempts non-blocking acquisition, returning false if the path is
// already held or has waiters ahead.
func (t *Table) TryLock(path string) (Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[path]
	if !ok {
		e = &entry{}
		t.entries[path] = e
	}

	if e.locked() || len(e.queue) > 0 {
		return Handle{}, false
	}

	t.nextID++
	id := t.nextID
	e.holderID = id
	e.held = true
	return Handle{path: path, id: id}, true
}

// Len reports how many paths currently hold an active lock, a proxy for
// in-flight push/pull operations.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, e := range t.entries {
		if e.locked() {
			n++
		}
	}
	return n
}

// Release hands the lock to the next FIFO waiter, or marks the path free if
// there are none. Releasing a handle that does not currently hold the lock
// is ErrNotLocked.
func (t *Table) Release(h Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[h.path]
	if !ok || !e.locked() || e.holderID != h.id {
		return ErrNotLocked
	}

	if len(e.queue) > 0 {
		next := e.queue[0]
		e.queue = e.queue[1:]
		e.holderID = next.id
		close(next.granted)
		return nil
	}

	e.held = false
	e.holderID = 0
	delete(t.entries, h.path)
	return nil
}
