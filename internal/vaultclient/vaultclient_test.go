package vaultclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultsync/vaultsync/internal/changelog"
	"github.com/vaultsync/vaultsync/internal/fileops"
	"github.com/vaultsync/vaultsync/internal/history"
	"github.com/vaultsync/vaultsync/internal/ignorelist"
	"github.com/vaultsync/vaultsync/internal/metadata"
)

type fakeFileOps struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newFakeFileOps() *fakeFileOps { return &fakeFileOps{files: make(map[string][]byte)} }

func (f *fakeFileOps) ListAll() ([]fileops.RelativePath, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.files))
	for p := range f.files {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeFileOps) Read(path fileops.RelativePath) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.files[path]
	if !ok {
		return nil, fileops.ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (f *fakeFileOps) Exists(path fileops.RelativePath) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.files[path]
	return ok
}

func (f *fakeFileOps) GetFileSize(path fileops.RelativePath) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.files[path]
	if !ok {
		return 0, fileops.ErrNotFound
	}
	return int64(len(b)), nil
}

func (f *fakeFileOps) GetModificationTime(path fileops.RelativePath) (time.Time, error) {
	return time.Time{}, nil
}

func (f *fakeFileOps) Create(path fileops.RelativePath, content []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = append([]byte(nil), content...)
	return nil
}

func (f *fakeFileOps) Write(path fileops.RelativePath, expectedBytes, newBytes []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.files[path]
	if !ok {
		return nil, nil
	}
	if string(current) == string(expectedBytes) {
		f.files[path] = append([]byte(nil), newBytes...)
		return f.files[path], nil
	}
	merged := string(current) + string(newBytes)
	f.files[path] = []byte(merged)
	return f.files[path], nil
}

func (f *fakeFileOps) Remove(path fileops.RelativePath) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, path)
	return nil
}

func (f *fakeFileOps) Move(oldPath, newPath fileops.RelativePath) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.files[oldPath]
	if !ok {
		return nil
	}
	f.files[newPath] = b
	delete(f.files, oldPath)
	return nil
}

func (f *fakeFileOps) IsEligibleForSync(path fileops.RelativePath) bool { return true }

func (f *fakeFileOps) MarkConflicted(path fileops.RelativePath) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.files[path]
	if !ok {
		return nil
	}
	f.files[fileops.ConflictPath(path)] = b
	delete(f.files, path)
	return nil
}

type fakeChangelog struct {
	putCallCount int
}

func (c *fakeChangelog) Ping(ctx context.Context) (changelog.PingResult, error) {
	return changelog.PingResult{ServerVersion: "test", IsAuthenticated: true}, nil
}

func (c *fakeChangelog) GetChangesSince(ctx context.Context, cursor *metadata.VaultUpdateId) (changelog.ChangesSinceResult, error) {
	return changelog.ChangesSinceResult{LastUpdateId: 0}, nil
}

func (c *fakeChangelog) GetContent(ctx context.Context, documentId string) ([]byte, error) {
	return nil, nil
}

func (c *fakeChangelog) Put(ctx context.Context, parentVersionId *metadata.VaultUpdateId, relativePath string, content []byte, createdDate time.Time) (changelog.PutResult, error) {
	c.putCallCount++
	return changelog.PutResult{DocumentId: "doc-" + relativePath, VersionId: 1, RelativePath: relativePath, ContentBytes: content}, nil
}

func (c *fakeChangelog) Delete(ctx context.Context, documentId string, createdDate time.Time) error {
	return nil
}

func (c *fakeChangelog) Subscribe(ctx context.Context) (<-chan struct{}, error) {
	return nil, nil
}

func newTestClient(t *testing.T) (*Client, *fakeFileOps, *fakeChangelog) {
	t.Helper()
	files := newFakeFileOps()
	remote := &fakeChangelog{}

	var state metadata.PersistedState
	c, err := Create(Params{
		Files: files,
		Load:  func() (metadata.PersistedState, error) { return state, nil },
		Save: func(s metadata.PersistedState) error {
			state = s
			return nil
		},
		Remote:          remote,
		HistoryCapacity: 64,
	})
	require.NoError(t, err)
	return c, files, remote
}

func TestCreateStartStopIsIdempotent(t *testing.T) {
	c, _, _ := newTestClient(t)
	ctx := context.Background()

	c.Start(ctx)
	c.Start(ctx)
	c.Stop()
	c.Stop()
}

func TestOnCreatePushesNewDocument(t *testing.T) {
	c, files, remote := newTestClient(t)
	files.files["notes.txt"] = []byte("hello")

	c.OnCreate(context.Background(), "notes.txt")

	assert.Equal(t, 1, remote.putCallCount)
	_, ok := c.meta.Get("notes.txt")
	assert.True(t, ok)
}

func TestIgnoredPathsAreNeverPushed(t *testing.T) {
	c, files, remote := newTestClient(t)
	ignore := ignorelist.New(t.TempDir())
	ignore.Load(nil)
	c.ignore = ignore

	files.files[".DS_Store"] = []byte("junk")
	c.OnCreate(context.Background(), ".DS_Store")

	assert.Equal(t, 0, remote.putCallCount)
}

func TestSettingsListenerFiresOnUpdate(t *testing.T) {
	c, _, _ := newTestClient(t)

	received := make(chan metadata.SyncSettings, 1)
	c.AddOnSettingsChangeListener(func(s metadata.SyncSettings) {
		received <- s
	})

	require.NoError(t, c.UpdateSettings(func(s *metadata.SyncSettings) {
		s.IsSyncEnabled = true
	}))

	select {
	case s := <-received:
		assert.True(t, s.IsSyncEnabled)
	case <-time.After(time.Second):
		t.Fatal("settings listener was not invoked")
	}
}

func TestHistoryListenerSeesAppendedEntries(t *testing.T) {
	c, files, _ := newTestClient(t)
	files.files["a.txt"] = []byte("x")

	received := make(chan history.Entry, 4)
	c.AddSyncHistoryUpdateListener(func(e history.Entry) {
		received <- e
	})

	c.OnCreate(context.Background(), "a.txt")

	select {
	case e := <-received:
		assert.Equal(t, "a.txt", e.RelativePath)
	case <-time.After(time.Second):
		t.Fatal("history listener was not invoked")
	}
}

func TestCheckConnectionReportsServerState(t *testing.T) {
	c, _, _ := newTestClient(t)
	status := c.CheckConnection(context.Background())
	assert.True(t, status.IsSuccessful)
	assert.Equal(t, "test", status.ServerMessage)
}

func TestResetSyncStateClearsMetadata(t *testing.T) {
	c, files, _ := newTestClient(t)
	files.files["a.txt"] = []byte("x")
	c.OnCreate(context.Background(), "a.txt")

	require.NoError(t, c.ResetSyncState())

	_, ok := c.meta.Get("a.txt")
	assert.False(t, ok)
	assert.Nil(t, c.meta.LastSeenUpdateId())
}
