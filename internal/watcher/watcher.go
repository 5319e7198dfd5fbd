// Package watcher adapts host filesystem notifications into the orchestrator's
// vocabulary of create/modify/delete/rename events (spec §4.5 "Inputs"),
// debouncing bursts from the underlying notify backend.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rjeczalik/notify"
)

const (
	eventBufferSize        = 256
	defaultDebounceTimeout = 50 * time.Millisecond
	renamePairWindow       = 200 * time.Millisecond

	// DefaultIgnoreTimeout bounds how long a path suppressed via IgnoreOnce
	// stays suppressed if no matching event ever arrives (e.g. the write
	// the caller was about to make gets debounced away entirely).
	DefaultIgnoreTimeout = 2 * time.Second
)

// Kind is the orchestrator-facing classification of a filesystem change.
type Kind int

const (
	Create Kind = iota
	Modify
	Delete
	Rename
)

// Event is one debounced, classified filesystem change. OldPath is set
// only for Rename.
type Event struct {
	Kind    Kind
	Path    string
	OldPath string
}

// Watcher watches a vault root and emits classified, debounced events.
// Grounded on the teacher's FileWatcher (notify + polling fallback +
// per-path debounce), extended with best-effort rename pairing: two
// Rename-type notifications within renamePairWindow where the first path
// no longer exists and the second does are coalesced into one Rename
// event, matching how rjeczalik/notify surfaces a single OS-level rename
// as two EventInfo values (one per path) on most backends.
type Watcher struct {
	root            string
	raw             chan notify.EventInfo
	events          chan Event
	usingNotify     bool
	done            chan struct{}
	wg              sync.WaitGroup
	debounceMu      sync.Mutex
	pending         map[string]notify.EventInfo
	timers          map[string]*time.Timer
	debounceTimeout time.Duration

	renameMu   sync.Mutex
	renamePath string
	renameAt   time.Time

	ignoreMu sync.Mutex
	ignore   map[string]time.Time
}

// New constructs a Watcher rooted at root.
func New(root string) *Watcher {
	return &Watcher{
		root:            root,
		done:            make(chan struct{}),
		pending:         make(map[string]notify.EventInfo),
		timers:          make(map[string]*time.Timer),
		debounceTimeout: defaultDebounceTimeout,
		ignore:          make(map[string]time.Time),
	}
}

// IgnoreOnce suppresses the next classified event observed at the
// vault-relative path, for DefaultIgnoreTimeout. A caller that's about to
// write a path itself (the orchestrator applying a pull, for instance)
// calls this first so the watcher doesn't misread its own write as a new
// local change and loop it back into a push.
func (w *Watcher) IgnoreOnce(path string) {
	w.IgnoreOnceWithTimeout(path, DefaultIgnoreTimeout)
}

// IgnoreOnceWithTimeout is IgnoreOnce with an explicit suppression window.
func (w *Watcher) IgnoreOnceWithTimeout(path string, timeout time.Duration) {
	w.ignoreMu.Lock()
	defer w.ignoreMu.Unlock()
	w.ignore[path] = time.Now().Add(timeout)
}

// consumeIgnore reports whether path was under an unexpired IgnoreOnce,
// clearing it either way so a single suppression only swallows one event.
func (w *Watcher) consumeIgnore(path string) bool {
	w.ignoreMu.Lock()
	defer w.ignoreMu.Unlock()

	expiry, ok := w.ignore[path]
	if !ok {
		return false
	}
	delete(w.ignore, path)
	return time.Now().Before(expiry)
}

// Start begins watching. Falls back to polling when the notify backend is
// unavailable (sandboxed or headless environments).
func (w *Watcher) Start(ctx context.Context) error {
	w.raw = make(chan notify.EventInfo, eventBufferSize)
	w.events = make(chan Event, eventBufferSize)

	recursive := filepath.Join(w.root, "...")
	if err := notify.Watch(recursive, w.raw, notify.Create, notify.Write, notify.Remove, notify.Rename); err != nil {
		slog.Warn("watcher notify backend unavailable; using polling fallback", "dir", w.root, "error", err)
		w.wg.Add(1)
		go w.pollForChanges(ctx)
	} else {
		w.usingNotify = true
	}

	w.wg.Add(1)
	go w.filterEvents(ctx)

	return nil
}

// Stop halts watching and waits for goroutines to settle.
func (w *Watcher) Stop() {
	close(w.done)
	if w.usingNotify {
		notify.Stop(w.raw)
	}
	w.wg.Wait()
}

// Events returns the channel of classified, debounced events.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

type pollingEventInfo struct {
	path  string
	event notify.Event
}

func (e pollingEventInfo) Event() notify.Event { return e.event }
func (e pollingEventInfo) Path() string        { return e.path }
func (e pollingEventInfo) Sys() interface{}    { return nil }

type fileSig struct {
	modTime int64
	size    int64
	exists  bool
}

// pollForChanges is the polling fallback, grounded on the teacher's
// pollForChanges: a periodic directory walk diffed against the last
// snapshot, synthesizing notify events for any signature change.
func (w *Watcher) pollForChanges(ctx context.Context) {
	defer w.wg.Done()

	const interval = 25 * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	snapshot := make(map[string]fileSig)
	scan := func() {
		seen := make(map[string]bool)
		_ = filepath.WalkDir(w.root, func(path string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			seen[path] = true
			sig := fileSig{modTime: info.ModTime().UnixNano(), size: info.Size(), exists: true}
			prev, ok := snapshot[path]
			if !ok {
				snapshot[path] = sig
				w.emitRaw(pollingEventInfo{path: path, event: notify.Create})
			} else if prev != sig {
				snapshot[path] = sig
				w.emitRaw(pollingEventInfo{path: path, event: notify.Write})
			}
			return nil
		})
		for path := range snapshot {
			if !seen[path] {
				delete(snapshot, path)
				w.emitRaw(pollingEventInfo{path: path, event: notify.Remove})
			}
		}
	}

	scan()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-ticker.C:
			scan()
		}
	}
}

func (w *Watcher) emitRaw(e notify.EventInfo) {
	select {
	case w.raw <- e:
	default:
		slog.Warn("watcher raw channel full; dropping event", "path", e.Path())
	}
}

func (w *Watcher) filterEvents(ctx context.Context) {
	defer func() {
		w.debounceMu.Lock()
		for path, timer := range w.timers {
			timer.Stop()
			if e, ok := w.pending[path]; ok {
				w.classifyAndSend(e)
			}
		}
		w.debounceMu.Unlock()
		w.wg.Done()
		close(w.events)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case e, ok := <-w.raw:
			if !ok {
				return
			}
			w.debounce(e)
		}
	}
}

func (w *Watcher) debounce(e notify.EventInfo) {
	path := e.Path()

	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if timer, ok := w.timers[path]; ok {
		timer.Stop()
		delete(w.timers, path)
	}
	w.pending[path] = e

	w.timers[path] = time.AfterFunc(w.debounceTimeout, func() {
		w.debounceMu.Lock()
		pending, ok := w.pending[path]
		delete(w.pending, path)
		delete(w.timers, path)
		w.debounceMu.Unlock()
		if ok {
			w.classifyAndSend(pending)
		}
	})
}

// classifyAndSend maps a notify event to the orchestrator's vocabulary,
// attempting rename pairing for consecutive Rename-kind notifications.
func (w *Watcher) classifyAndSend(e notify.EventInfo) {
	rel, err := filepath.Rel(w.root, e.Path())
	if err != nil {
		rel = e.Path()
	}
	rel = filepath.ToSlash(rel)

	if w.consumeIgnore(rel) {
		return
	}

	switch e.Event() {
	case notify.Create:
		w.send(Event{Kind: Create, Path: rel})
	case notify.Write:
		w.send(Event{Kind: Modify, Path: rel})
	case notify.Remove:
		w.send(Event{Kind: Delete, Path: rel})
	case notify.Rename:
		w.handleRename(rel)
	default:
		w.send(Event{Kind: Modify, Path: rel})
	}
}

func (w *Watcher) handleRename(path string) {
	exists := fileExists(filepath.Join(w.root, filepath.FromSlash(path)))

	w.renameMu.Lock()
	defer w.renameMu.Unlock()

	if w.renamePath != "" && time.Since(w.renameAt) < renamePairWindow {
		old := w.renamePath
		w.renamePath = ""
		if exists && old != path {
			w.send(Event{Kind: Rename, OldPath: old, Path: path})
			return
		}
	}

	if !exists {
		w.renamePath = path
		w.renameAt = time.Now()
		return
	}

	// A Rename notification for a path that already exists, with no prior
	// half seen: treat conservatively as a modify so the orchestrator still
	// reconciles it rather than dropping the event.
	w.send(Event{Kind: Modify, Path: path})
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (w *Watcher) send(e Event) {
	select {
	case w.events <- e:
	default:
		slog.Warn("watcher events channel full; dropping event", "path", e.Path)
	}
}
