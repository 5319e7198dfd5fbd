package metadata

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memStore(t *testing.T) (*Store, *PersistedState) {
	t.Helper()
	var saved PersistedState
	store, err := New(
		func() (PersistedState, error) { return PersistedState{}, nil },
		func(s PersistedState) error { saved = s; return nil },
	)
	require.NoError(t, err)
	return store, &saved
}

func TestSetAndGet(t *testing.T) {
	store, saved := memStore(t)
	err := store.Set("a.md", DocumentMetadata{DocumentId: "doc1", ParentVersionId: 3, Hash: "h1"})
	require.NoError(t, err)

	m, ok := store.Get("a.md")
	require.True(t, ok)
	assert.Equal(t, "doc1", m.DocumentId)
	assert.Equal(t, "doc1", saved.Documents["a.md"].DocumentId)
}

func TestGetByDocumentId(t *testing.T) {
	store, _ := memStore(t)
	require.NoError(t, store.Set("a.md", DocumentMetadata{DocumentId: "doc1"}))

	path, m, ok := store.GetByDocumentId("doc1")
	require.True(t, ok)
	assert.Equal(t, "a.md", path)
	assert.Equal(t, "doc1", m.DocumentId)

	_, _, ok = store.GetByDocumentId("nope")
	assert.False(t, ok)
}

func TestMoveAndDelete(t *testing.T) {
	store, _ := memStore(t)
	require.NoError(t, store.Set("a.md", DocumentMetadata{DocumentId: "doc1"}))
	require.NoError(t, store.Move("a.md", "notes/a.md"))

	_, ok := store.Get("a.md")
	assert.False(t, ok)
	m, ok := store.Get("notes/a.md")
	require.True(t, ok)
	assert.Equal(t, "doc1", m.DocumentId)

	require.NoError(t, store.Delete("notes/a.md"))
	_, ok = store.Get("notes/a.md")
	assert.False(t, ok)
}

func TestCursorMonotonicity(t *testing.T) {
	store, _ := memStore(t)
	require.NoError(t, store.AdvanceCursor(5))
	assert.Equal(t, VaultUpdateId(5), *store.LastSeenUpdateId())

	err := store.AdvanceCursor(3)
	assert.Error(t, err)
	assert.Equal(t, VaultUpdateId(5), *store.LastSeenUpdateId())

	require.NoError(t, store.AdvanceCursor(5))
	require.NoError(t, store.AdvanceCursor(9))
}

func TestResetSyncStateClearsCursorAndDocs(t *testing.T) {
	store, _ := memStore(t)
	require.NoError(t, store.Set("a.md", DocumentMetadata{DocumentId: "doc1"}))
	require.NoError(t, store.AdvanceCursor(10))

	require.NoError(t, store.ResetSyncState())
	assert.Nil(t, store.LastSeenUpdateId())
	_, ok := store.Get("a.md")
	assert.False(t, ok)

	// After reset, advancing to a lower id than before reset is legal.
	require.NoError(t, store.AdvanceCursor(1))
}

func TestSettingsListenerFiresBeforeSaveReturns(t *testing.T) {
	store, _ := memStore(t)
	var observed SyncSettings
	var mutationVisibleToListener bool
	store.OnSettingsChange(func(s SyncSettings) {
		observed = s
		mutationVisibleToListener = store.Settings().VaultName == s.VaultName
	})

	err := store.UpdateSettings(func(s *SyncSettings) { s.VaultName = "mine" })
	require.NoError(t, err)
	assert.Equal(t, "mine", observed.VaultName)
	assert.True(t, mutationVisibleToListener)
}

func TestPersistedStatePreservesUnknownKeys(t *testing.T) {
	raw := `{"documents":{},"settings":{"vaultName":"v"},"lastSeenUpdateId":7,"futureField":{"nested":true}}`

	var state PersistedState
	require.NoError(t, json.Unmarshal([]byte(raw), &state))
	assert.Equal(t, "v", state.Settings.VaultName)
	require.Contains(t, state.Extra, "futureField")

	out, err := json.Marshal(state)
	require.NoError(t, err)

	var roundTripped map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &roundTripped))
	assert.Contains(t, roundTripped, "futureField")
	assert.JSONEq(t, `{"nested":true}`, string(roundTripped["futureField"]))
}

func TestFilePersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fp := FilePersistence{Path: filepath.Join(dir, "state.json")}

	loaded, err := fp.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded.Documents)

	loaded.Documents["a.md"] = DocumentMetadata{DocumentId: "doc1", Hash: "h"}
	loaded.Settings.VaultName = "v"
	require.NoError(t, fp.Save(loaded))

	reloaded, err := fp.Load()
	require.NoError(t, err)
	assert.Equal(t, "doc1", reloaded.Documents["a.md"].DocumentId)
	assert.Equal(t, "v", reloaded.Settings.VaultName)

	if diff := cmp.Diff(loaded.Documents, reloaded.Documents); diff != "" {
		t.Errorf("document metadata changed across a save/load round trip (-want +got):\n%s", diff)
	}
}
