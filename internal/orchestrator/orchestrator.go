// Package orchestrator implements the sync state machine of spec §4.5: it
// consumes host filesystem events and periodic remote pulls, and executes
// push/pull operations under per-path exclusion from locktable.
package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vaultsync/vaultsync/internal/binaryclassify"
	"github.com/vaultsync/vaultsync/internal/changelog"
	"github.com/vaultsync/vaultsync/internal/fileops"
	"github.com/vaultsync/vaultsync/internal/history"
	"github.com/vaultsync/vaultsync/internal/locktable"
	"github.com/vaultsync/vaultsync/internal/metadata"
)

// Now is overridable in tests; production uses time.Now.
var Now = time.Now

// Orchestrator wires the locktable, metadata store, change-log client and
// file operations abstraction together into the push/pull state machine.
type Orchestrator struct {
	files  fileops.FileOps
	remote changelog.Client
	meta   *metadata.Store
	locks  *locktable.Table
	log    *history.Log

	mu          sync.Mutex
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	pullRunning sync.Mutex

	restartPull chan struct{}

	// suppressWatcher, if set, is called with a vault-relative path right
	// before the pull path writes it to disk, so the host watcher doesn't
	// mistake the engine's own write for a new local change and loop it
	// back into a push (spec §4.5's "Inputs" rationale for why pull and
	// watch must not race each other).
	suppressWatcher func(path string)
}

// SetWatcherSuppressor registers the hook pullOne/pullUpdate call before
// writing a pulled change to disk. Grounded on the teacher's FileWatcher
// IgnoreOnce, invoked here instead of from the watcher package itself
// since only the orchestrator knows which writes are pull-originated.
func (o *Orchestrator) SetWatcherSuppressor(f func(path string)) {
	o.suppressWatcher = f
}

func (o *Orchestrator) suppress(path string) {
	if o.suppressWatcher != nil {
		o.suppressWatcher(path)
	}
}

// New constructs an Orchestrator. The three-way merge itself lives inside
// files.Write (spec §4.3's rationale: only the host can atomically
// read-then-write current bytes without racing an unrelated save), so the
// orchestrator never calls the Reconciler directly.
func New(files fileops.FileOps, remote changelog.Client, meta *metadata.Store, locks *locktable.Table, log *history.Log) *Orchestrator {
	return &Orchestrator{
		files:       files,
		remote:      remote,
		meta:        meta,
		locks:       locks,
		log:         log,
		restartPull: make(chan struct{}, 1),
	}
}

// Start begins the pull loop at the settings' fetchIntervalMs cadence and
// subscribes to settings changes so the loop restarts immediately on a
// cadence change (spec §3's SyncSettings rationale).
func (o *Orchestrator) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()

	o.meta.OnSettingsChange(func(metadata.SyncSettings) {
		select {
		case o.restartPull <- struct{}{}:
		default:
		}
	})

	var wakeCh <-chan struct{}
	if sub, err := o.remote.Subscribe(ctx); err == nil && sub != nil {
		wakeCh = sub
	}

	o.wg.Add(1)
	go o.runPullLoop(ctx, wakeCh)
}

// Stop cancels the pull loop and waits for it to settle.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	o.wg.Wait()
}

func (o *Orchestrator) runPullLoop(ctx context.Context, wake <-chan struct{}) {
	defer o.wg.Done()

	for {
		settings := o.meta.Settings()
		interval := time.Duration(settings.FetchIntervalMs) * time.Millisecond
		if interval <= 0 {
			interval = time.Second
		}
		timer := time.NewTimer(interval)

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		case <-wake:
			timer.Stop()
		case <-o.restartPull:
			timer.Stop()
			continue
		}

		if o.meta.Settings().IsSyncEnabled {
			if err := o.RunPullCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("pull cycle failed", "error", err)
			}
		}
	}
}

// RunPullCycle implements the pull loop body of spec §4.5: fetch changes
// since the cursor, process each concurrently bounded by
// uploadConcurrency, and only advance the cursor after the whole batch
// settles. The isRunning guard forbids overlapping cycles.
func (o *Orchestrator) RunPullCycle(ctx context.Context) error {
	if !o.pullRunning.TryLock() {
		return nil
	}
	defer o.pullRunning.Unlock()

	cursor := o.meta.LastSeenUpdateId()
	changes, err := o.remote.GetChangesSince(ctx, cursor)
	if err != nil {
		return fmt.Errorf("get changes since: %w", err)
	}

	concurrency := o.meta.Settings().UploadConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, doc := range changes.LatestDocuments {
		doc := doc
		g.Go(func() error {
			o.pullOne(gctx, doc)
			return nil
		})
	}
	_ = g.Wait()

	return o.meta.AdvanceCursor(changes.LastUpdateId)
}

// pullOne implements the per-entry pull path, spec §4.5 steps 1-6. Errors
// are logged and recorded as history entries rather than propagated, since
// one bad entry must not abort the batch (spec §4.5's retry & failure
// rules).
func (o *Orchestrator) pullOne(ctx context.Context, r changelog.RemoteDocVersion) {
	localPath, local, found := o.meta.GetByDocumentId(r.DocumentId)
	path := r.RelativePath
	if found {
		path = localPath
	}

	handle, err := o.locks.WaitForLock(ctx, path)
	if err != nil {
		o.appendHistory(history.SourcePull, history.OpUpdate, history.StatusError, path, err)
		return
	}
	defer func() { _ = o.locks.Release(handle) }()

	switch {
	case !found && r.IsDeleted:
		return

	case !found && !r.IsDeleted:
		content, err := o.remote.GetContent(ctx, r.DocumentId)
		if err != nil {
			o.appendHistory(history.SourcePull, history.OpCreate, history.StatusError, path, err)
			return
		}
		o.suppress(path)
		if err := o.files.Create(path, content); err != nil {
			o.appendHistory(history.SourcePull, history.OpCreate, history.StatusError, path, err)
			return
		}
		if err := o.meta.Set(path, metadata.DocumentMetadata{
			DocumentId:      r.DocumentId,
			ParentVersionId: r.VaultUpdateId,
			Hash:            metadata.HashContent(content),
		}); err != nil {
			o.appendHistory(history.SourcePull, history.OpCreate, history.StatusError, path, err)
			return
		}
		o.appendHistory(history.SourcePull, history.OpCreate, history.StatusSuccess, path, nil)

	case found && r.IsDeleted:
		o.suppress(path)
		if err := o.files.Remove(path); err != nil {
			o.appendHistory(history.SourcePull, history.OpDelete, history.StatusError, path, err)
			return
		}
		if err := o.meta.Delete(path); err != nil {
			o.appendHistory(history.SourcePull, history.OpDelete, history.StatusError, path, err)
			return
		}
		o.appendHistory(history.SourcePull, history.OpDelete, history.StatusSuccess, path, nil)

	default:
		o.pullUpdate(ctx, path, local, r)
	}
}

func (o *Orchestrator) pullUpdate(ctx context.Context, path string, local metadata.DocumentMetadata, r changelog.RemoteDocVersion) {
	current, err := o.files.Read(path)
	if err != nil {
		o.appendHistory(history.SourcePull, history.OpUpdate, history.StatusError, path, err)
		return
	}

	if metadata.HashContent(current) != local.Hash {
		// Local has diverged since last sync; the pending push path will
		// carry the reconciliation on its next cycle (spec §4.5 step 5).
		o.appendHistory(history.SourcePull, history.OpUpdate, history.StatusNoOp, path, nil)
		return
	}

	remoteContent, err := o.remote.GetContent(ctx, r.DocumentId)
	if err != nil {
		o.appendHistory(history.SourcePull, history.OpUpdate, history.StatusError, path, err)
		return
	}

	targetPath := path
	if path != r.RelativePath {
		o.suppress(path)
		o.suppress(r.RelativePath)
		if err := o.files.Move(path, r.RelativePath); err != nil {
			o.appendHistory(history.SourcePull, history.OpUpdate, history.StatusError, path, err)
			return
		}
		targetPath = r.RelativePath
	}

	o.suppress(targetPath)
	written, err := o.files.Write(targetPath, current, remoteContent)
	if err != nil {
		o.appendHistory(history.SourcePull, history.OpUpdate, history.StatusError, targetPath, err)
		return
	}

	if err := o.meta.Set(targetPath, metadata.DocumentMetadata{
		DocumentId:      r.DocumentId,
		ParentVersionId: r.VaultUpdateId,
		Hash:            metadata.HashContent(written),
	}); err != nil {
		o.appendHistory(history.SourcePull, history.OpUpdate, history.StatusError, targetPath, err)
		return
	}
	if targetPath != path {
		_ = o.meta.Delete(path)
	}
	o.appendHistory(history.SourcePull, history.OpUpdate, history.StatusSuccess, targetPath, nil)
}

// HandleCreate and HandleModify both feed the push path; spec §4.5 draws no
// distinction between them once the lock is held, since both compare the
// current hash against stored metadata.
func (o *Orchestrator) HandleCreate(ctx context.Context, path string) {
	o.push(ctx, path, history.OpCreate)
}

func (o *Orchestrator) HandleModify(ctx context.Context, path string) {
	o.push(ctx, path, history.OpUpdate)
}

// push implements spec §4.5's push path, steps 1-8, acquiring the path
// lock itself.
func (o *Orchestrator) push(ctx context.Context, path string, opType history.OpType) {
	handle, err := o.locks.WaitForLock(ctx, path)
	if err != nil {
		o.appendHistory(history.SourcePush, opType, history.StatusError, path, err)
		return
	}
	defer func() { _ = o.locks.Release(handle) }()
	o.pushLocked(ctx, path, opType)
}

// pushLocked is the push path's body (spec §4.5 steps 2-8), used both by
// push (which holds its own lock) and HandleRename (which already holds
// the target path's lock).
func (o *Orchestrator) pushLocked(ctx context.Context, path string, opType history.OpType) {
	sentBytes, err := o.files.Read(path)
	if err != nil {
		o.appendHistory(history.SourcePush, opType, history.StatusError, path, err)
		return
	}
	hash := metadata.HashContent(sentBytes)

	stored, hasStored := o.meta.Get(path)
	if hasStored && stored.Hash == hash {
		o.appendHistory(history.SourcePush, opType, history.StatusNoOp, path, nil)
		return
	}

	var parentVersionId *metadata.VaultUpdateId
	if hasStored {
		pv := stored.ParentVersionId
		parentVersionId = &pv
	}

	result, err := o.remote.Put(ctx, parentVersionId, path, sentBytes, Now())
	if err != nil {
		o.appendHistory(history.SourcePush, opType, history.StatusError, path, err)
		return
	}

	finalPath := path
	if result.RelativePath != path {
		if err := o.files.Move(path, result.RelativePath); err != nil {
			o.appendHistory(history.SourcePush, opType, history.StatusError, path, err)
			return
		}
		finalPath = result.RelativePath
	}

	var finalBytes []byte
	if binaryclassify.IsBinary(sentBytes) && !bytes.Equal(sentBytes, result.ContentBytes) {
		// spec §7 IntegrityError: a binary write-write conflict can't be
		// merged, so the server's version wins outright. Non-destructively
		// rename the losing local version out of the way before writing
		// the winner in its place, instead of silently discarding it.
		if err := o.files.MarkConflicted(finalPath); err != nil {
			o.appendHistory(history.SourcePush, opType, history.StatusError, finalPath, err)
			return
		}
		if err := o.files.Create(finalPath, result.ContentBytes); err != nil {
			o.appendHistory(history.SourcePush, opType, history.StatusError, finalPath, err)
			return
		}
		finalBytes = result.ContentBytes
		o.appendWarning(history.SourcePush, opType, finalPath, "binary conflict: server version kept, local version preserved as "+fileops.ConflictPath(finalPath))
	} else {
		var err error
		finalBytes, err = o.files.Write(finalPath, sentBytes, result.ContentBytes)
		if err != nil {
			o.appendHistory(history.SourcePush, opType, history.StatusError, finalPath, err)
			return
		}
	}

	if err := o.meta.Set(finalPath, metadata.DocumentMetadata{
		DocumentId:      result.DocumentId,
		ParentVersionId: result.VersionId,
		Hash:            metadata.HashContent(finalBytes),
	}); err != nil {
		o.appendHistory(history.SourcePush, opType, history.StatusError, finalPath, err)
		return
	}
	if finalPath != path {
		_ = o.meta.Delete(path)
	}

	o.appendHistory(history.SourcePush, opType, history.StatusSuccess, finalPath, nil)
}

// HandleRename implements spec §4.5's rename handling: delete+create only
// when the old path carries metadata but the new path does not yet have
// any of its own; otherwise the old document's identity simply moves to
// the new path and is pushed as an update.
func (o *Orchestrator) HandleRename(ctx context.Context, oldPath, newPath string) {
	first, second := oldPath, newPath
	if second < first {
		first, second = second, first
	}
	h1, err := o.locks.WaitForLock(ctx, first)
	if err != nil {
		o.appendHistory(history.SourcePush, history.OpUpdate, history.StatusError, oldPath, err)
		return
	}
	defer func() { _ = o.locks.Release(h1) }()

	var h2 locktable.Handle
	if second != first {
		h2, err = o.locks.WaitForLock(ctx, second)
		if err != nil {
			o.appendHistory(history.SourcePush, history.OpUpdate, history.StatusError, newPath, err)
			return
		}
		defer func() { _ = o.locks.Release(h2) }()
	}

	old, hasOld := o.meta.Get(oldPath)
	_, hasNew := o.meta.Get(newPath)

	if hasOld && !hasNew {
		if err := o.meta.Set(newPath, old); err != nil {
			o.appendHistory(history.SourcePush, history.OpUpdate, history.StatusError, newPath, err)
			return
		}
		_ = o.meta.Delete(oldPath)
	}

	o.pushLocked(ctx, newPath, history.OpUpdate)
}

// HandleDelete implements spec §4.5's delete handling: acquire lock, call
// delete, remove metadata, release.
func (o *Orchestrator) HandleDelete(ctx context.Context, path string) {
	handle, err := o.locks.WaitForLock(ctx, path)
	if err != nil {
		o.appendHistory(history.SourcePush, history.OpDelete, history.StatusError, path, err)
		return
	}
	defer func() { _ = o.locks.Release(handle) }()

	stored, ok := o.meta.Get(path)
	if !ok {
		o.appendHistory(history.SourcePush, history.OpDelete, history.StatusNoOp, path, nil)
		return
	}

	if err := o.remote.Delete(ctx, stored.DocumentId, Now()); err != nil {
		o.appendHistory(history.SourcePush, history.OpDelete, history.StatusError, path, err)
		return
	}
	if err := o.meta.Delete(path); err != nil {
		o.appendHistory(history.SourcePush, history.OpDelete, history.StatusError, path, err)
		return
	}
	o.appendHistory(history.SourcePush, history.OpDelete, history.StatusSuccess, path, nil)
}

func (o *Orchestrator) appendWarning(source history.Source, op history.OpType, path, message string) {
	o.log.Append(history.Entry{
		Timestamp:    Now(),
		RelativePath: path,
		Source:       source,
		Type:         op,
		Status:       history.StatusSuccess,
		Level:        history.LevelWarning,
		Message:      message,
	})
}

func (o *Orchestrator) appendHistory(source history.Source, op history.OpType, status history.Status, path string, err error) {
	level := history.LevelInfo
	msg := ""
	if err != nil {
		level = history.LevelError
		msg = err.Error()
	}
	if status == history.StatusNoOp {
		level = history.LevelDebug
	}
	o.log.Append(history.Entry{
		Timestamp:    Now(),
		RelativePath: path,
		Source:       source,
		Type:         op,
		Status:       status,
		Level:        level,
		Message:      msg,
	})
}
