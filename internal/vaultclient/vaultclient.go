// Package vaultclient implements the public client facade of spec §6: the
// single entry point a host (CLI, editor plugin, test harness) uses to
// construct, start, and drive a vault sync engine, wiring together the
// orchestrator, metadata store, change-log client, file operations, the
// filesystem watcher, and the ignore list. Grounded on the teacher's
// internal/client/client.go top-level wiring.
package vaultclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vaultsync/vaultsync/internal/changelog"
	"github.com/vaultsync/vaultsync/internal/fileops"
	"github.com/vaultsync/vaultsync/internal/history"
	"github.com/vaultsync/vaultsync/internal/ignorelist"
	"github.com/vaultsync/vaultsync/internal/locktable"
	"github.com/vaultsync/vaultsync/internal/metadata"
	"github.com/vaultsync/vaultsync/internal/orchestrator"
	"github.com/vaultsync/vaultsync/internal/watcher"
)

// Params are the construction-time dependencies, mirroring spec §6's
// create({fs, persistence, nativeLineEndings}).
type Params struct {
	Files             fileops.FileOps
	Load              metadata.Loader
	Save              metadata.Saver
	Remote            changelog.Client
	Watcher           *watcher.Watcher
	Ignore            *ignorelist.List
	HistoryCapacity   int
	NativeLineEndings string

	// HistoryDB, if non-nil, persists every history entry to sqlite via
	// history.SqliteSink so the audit trail survives a daemon restart.
	// The in-memory Log remains the source of truth either way; this is
	// an additional subscriber, not a replacement.
	HistoryDB *sqlx.DB

	// Token is the bearer token used against Remote, kept only so
	// CheckConnection can pre-empt an obviously expired JWT locally.
	Token string
}

// ConnectionStatus is the result of check_connection().
type ConnectionStatus struct {
	IsSuccessful         bool
	IsWebSocketConnected bool
	ServerMessage        string
	TokenExpiresAt       *time.Time
}

// Client is the facade described in spec §6.
type Client struct {
	files  fileops.FileOps
	meta   *metadata.Store
	remote changelog.Client
	locks  *locktable.Table
	log    *history.Log
	orch   *orchestrator.Orchestrator
	watch     *watcher.Watcher
	ignore    *ignorelist.List
	token     string
	historyDB *sqlx.DB

	mu       sync.Mutex
	started  bool
	wsOK     bool
	stopFunc context.CancelFunc

	settingsListeners []func(metadata.SyncSettings)
	wsListeners       []func(bool)
}

// Create constructs a Client from injected dependencies without starting
// it, matching spec §6's create().
func Create(p Params) (*Client, error) {
	meta, err := metadata.New(p.Load, p.Save)
	if err != nil {
		return nil, fmt.Errorf("vaultclient: create: %w", err)
	}

	locks := locktable.New()
	log := history.New(p.HistoryCapacity)
	orch := orchestrator.New(p.Files, p.Remote, meta, locks, log)

	c := &Client{
		files:     p.Files,
		meta:      meta,
		remote:    p.Remote,
		locks:     locks,
		log:       log,
		orch:      orch,
		watch:     p.Watcher,
		ignore:    p.Ignore,
		token:     p.Token,
		historyDB: p.HistoryDB,
	}

	if p.Watcher != nil {
		orch.SetWatcherSuppressor(p.Watcher.IgnoreOnce)
	}

	if p.HistoryDB != nil {
		sink, err := history.NewSqliteSink(p.HistoryDB)
		if err != nil {
			return nil, fmt.Errorf("vaultclient: create: %w", err)
		}
		log.Subscribe(sink.Listener())
	}

	meta.OnSettingsChange(func(s metadata.SyncSettings) {
		c.mu.Lock()
		listeners := append([]func(metadata.SyncSettings){}, c.settingsListeners...)
		c.mu.Unlock()
		for _, l := range listeners {
			l(s)
		}
	})

	return c, nil
}

// Start begins the pull loop and, if a watcher was supplied, the host
// filesystem event feed. Idempotent.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.stopFunc = cancel
	c.started = true
	c.mu.Unlock()

	c.orch.Start(runCtx)

	if c.watch != nil {
		if err := c.watch.Start(runCtx); err == nil {
			go c.pumpWatcherEvents(runCtx)
		}
	}

	if sub, err := c.remote.Subscribe(runCtx); err == nil && sub != nil {
		c.setWSConnected(true)
		go c.watchWebSocket(runCtx, sub)
	} else {
		c.setWSConnected(false)
	}
}

// watchWebSocket marks the websocket disconnected once the wake channel
// closes (the change-log client tears it down on ctx cancel or a
// connection drop).
func (c *Client) watchWebSocket(ctx context.Context, sub <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			c.setWSConnected(false)
			return
		case _, ok := <-sub:
			if !ok {
				c.setWSConnected(false)
				return
			}
		}
	}
}

func (c *Client) setWSConnected(connected bool) {
	c.mu.Lock()
	changed := c.wsOK != connected
	c.wsOK = connected
	listeners := append([]func(bool){}, c.wsListeners...)
	c.mu.Unlock()

	if changed {
		for _, l := range listeners {
			l(connected)
		}
	}
}

// Stop marks the client quiescent and halts timers.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	stop := c.stopFunc
	c.mu.Unlock()

	if c.watch != nil {
		c.watch.Stop()
	}
	c.orch.Stop()
	if stop != nil {
		stop()
	}
	if c.historyDB != nil {
		if err := c.historyDB.Close(); err != nil {
			slog.Warn("vaultclient: closing history database", "error", err)
		}
	}
}

func (c *Client) pumpWatcherEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-c.watch.Events():
			if !ok {
				return
			}
			if c.ignore != nil && c.ignore.ShouldIgnore(e.Path) {
				continue
			}
			switch e.Kind {
			case watcher.Create:
				c.OnCreate(ctx, e.Path)
			case watcher.Modify:
				c.OnModify(ctx, e.Path)
			case watcher.Delete:
				c.OnDelete(ctx, e.Path)
			case watcher.Rename:
				c.OnRename(ctx, e.OldPath, e.Path)
			}
		}
	}
}

// GetSettings returns the current SyncSettings.
func (c *Client) GetSettings() metadata.SyncSettings {
	return c.meta.Settings()
}

// UpdateSettings applies a partial mutation.
func (c *Client) UpdateSettings(mutate func(*metadata.SyncSettings)) error {
	return c.meta.UpdateSettings(mutate)
}

// ResetSyncState empties document metadata and clears the cursor.
func (c *Client) ResetSyncState() error {
	return c.meta.ResetSyncState()
}

// CheckConnection pings the remote and reports websocket state. If the
// configured bearer token is a JWT with an already-past exp claim, it
// reports the failure locally without making a round trip.
func (c *Client) CheckConnection(ctx context.Context) ConnectionStatus {
	c.mu.Lock()
	wsOK, token := c.wsOK, c.token
	c.mu.Unlock()

	expiresAt, hasExpiry := changelog.TokenExpiry(token)
	var expiresAtPtr *time.Time
	if hasExpiry {
		expiresAtPtr = &expiresAt
	}

	if err := changelog.CheckTokenExpiry(token); err != nil {
		return ConnectionStatus{IsSuccessful: false, IsWebSocketConnected: wsOK, ServerMessage: err.Error(), TokenExpiresAt: expiresAtPtr}
	}

	result, err := c.remote.Ping(ctx)
	if err != nil {
		return ConnectionStatus{IsSuccessful: false, IsWebSocketConnected: wsOK, ServerMessage: err.Error(), TokenExpiresAt: expiresAtPtr}
	}
	return ConnectionStatus{
		IsSuccessful:         result.IsAuthenticated,
		IsWebSocketConnected: wsOK,
		ServerMessage:        result.ServerVersion,
		TokenExpiresAt:       expiresAtPtr,
	}
}

// OnCreate ingests a host-reported file creation.
func (c *Client) OnCreate(ctx context.Context, path string) {
	if c.ignore != nil && c.ignore.ShouldIgnore(path) {
		return
	}
	c.orch.HandleCreate(ctx, path)
}

// OnModify ingests a host-reported file modification.
func (c *Client) OnModify(ctx context.Context, path string) {
	if c.ignore != nil && c.ignore.ShouldIgnore(path) {
		return
	}
	c.orch.HandleModify(ctx, path)
}

// OnDelete ingests a host-reported file deletion.
func (c *Client) OnDelete(ctx context.Context, path string) {
	if c.ignore != nil && c.ignore.ShouldIgnore(path) {
		return
	}
	c.orch.HandleDelete(ctx, path)
}

// OnRename ingests a host-reported rename.
func (c *Client) OnRename(ctx context.Context, oldPath, newPath string) {
	if c.ignore != nil && (c.ignore.ShouldIgnore(oldPath) && c.ignore.ShouldIgnore(newPath)) {
		return
	}
	c.orch.HandleRename(ctx, oldPath, newPath)
}

// AddSyncHistoryUpdateListener registers a listener invoked on every
// appended history entry.
func (c *Client) AddSyncHistoryUpdateListener(l func(history.Entry)) {
	c.log.Subscribe(history.Listener(l))
}

// AddOnSettingsChangeListener registers a listener invoked synchronously
// on every settings mutation.
func (c *Client) AddOnSettingsChangeListener(l func(metadata.SyncSettings)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settingsListeners = append(c.settingsListeners, l)
}

// AddWebSocketStatusChangeListener registers a listener invoked whenever
// the optional websocket wake channel connects or disconnects.
func (c *Client) AddWebSocketStatusChangeListener(l func(bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wsListeners = append(c.wsListeners, l)
}

// AddRemainingSyncOperationsListener registers a listener invoked with the
// count of paths currently holding a lock in the orchestrator's lock
// table, a proxy for in-flight push/pull operations.
func (c *Client) AddRemainingSyncOperationsListener(l func(int)) {
	c.log.Subscribe(func(history.Entry) {
		l(c.locks.Len())
	})
}

// History returns a level-filtered snapshot of the audit log.
func (c *Client) History(minLevel history.Level) []history.Entry {
	return c.log.Snapshot(minLevel)
}

// Status is the local status server's view of the engine, combining a
// history tail, the pending-operation count, and websocket connectivity.
type Status struct {
	HistoryTail          []history.Entry `json:"historyTail"`
	PendingOperations    int             `json:"pendingOperations"`
	IsWebSocketConnected bool            `json:"isWebSocketConnected"`
}

// Status returns a snapshot for the status server's GET /v1/status.
func (c *Client) Status() Status {
	c.mu.Lock()
	wsOK := c.wsOK
	c.mu.Unlock()

	tail := c.log.Snapshot(history.LevelDebug)
	const maxTail = 50
	if len(tail) > maxTail {
		tail = tail[len(tail)-maxTail:]
	}

	return Status{
		HistoryTail:          tail,
		PendingOperations:    c.locks.Len(),
		IsWebSocketConnected: wsOK,
	}
}
