// Package changelog implements the thin RPC façade over the remote
// document store described in spec §4.4: ping, incremental pull since a
// cursor, content fetch, push with parent-version conflict detection, and
// delete — plus the optional WebSocket wake-up channel from spec §6.
package changelog

import (
	"context"
	"errors"
	"time"

	"github.com/vaultsync/vaultsync/internal/metadata"
)

// Error kinds from spec §7.
var (
	// ErrTransport is transient; HTTPClient retries it internally, up to 6
	// attempts with backoff, before returning it.
	ErrTransport = errors.New("changelog: transport error")
	// ErrAuth is permanent and blocks push/pull until credentials change.
	ErrAuth = errors.New("changelog: authentication error")
	// ErrStaleParent means the server rejected a push because
	// parentVersionId no longer matches its records.
	ErrStaleParent = errors.New("changelog: stale parent version")
)

// RemoteDocVersion is one entry in a GetChangesSince response.
type RemoteDocVersion struct {
	DocumentId    string
	RelativePath  string
	VaultUpdateId metadata.VaultUpdateId
	IsDeleted     bool
}

// ChangesSinceResult is the response to GetChangesSince.
type ChangesSinceResult struct {
	LatestDocuments []RemoteDocVersion
	LastUpdateId    metadata.VaultUpdateId
}

// PingResult is the response to Ping.
type PingResult struct {
	ServerVersion   string
	IsAuthenticated bool
}

// PutResult is the response to Put; the server may rename the document
// (authoritative RelativePath) and may return post-merge ContentBytes.
type PutResult struct {
	DocumentId   string
	VersionId    metadata.VaultUpdateId
	RelativePath string
	ContentBytes []byte
}

// Client is the change-log client contract consumed by the orchestrator.
// Every method MUST retry transient failures internally per spec §4.4;
// a transient error reaches the caller only once those retries are used up.
type Client interface {
	Ping(ctx context.Context) (PingResult, error)
	GetChangesSince(ctx context.Context, cursor *metadata.VaultUpdateId) (ChangesSinceResult, error)
	GetContent(ctx context.Context, documentId string) ([]byte, error)
	Put(ctx context.Context, parentVersionId *metadata.VaultUpdateId, relativePath string, content []byte, createdDate time.Time) (PutResult, error)
	Delete(ctx context.Context, documentId string, createdDate time.Time) error

	// Subscribe opens the optional WebSocket "changed" channel (spec §6);
	// the returned channel receives one value per notification and is
	// closed when the subscription ends. A nil channel with a nil error
	// means the transport doesn't support push notifications and callers
	// should rely on the periodic pull loop alone.
	Subscribe(ctx context.Context) (<-chan struct{}, error)
}
