// Package fileops is the host-neutral file operations abstraction of spec
// §4.3: read/create/write/remove/move with automatic three-way merge on
// text writes. The OS-backed implementation here is one host; tests and
// editor-vault bridges provide their own.
package fileops

import (
	"errors"
	"path/filepath"
	"strings"
	"time"
)

// RelativePath is a slash-separated, normalized path rooted at the vault
// (spec §3). Normalization is the caller's responsibility; FileOps
// operates on whatever string it's given, joined against its root.
type RelativePath = string

var (
	// ErrNotFound matches spec §7's NotFound file-operation error.
	ErrNotFound = errors.New("fileops: not found")
	// ErrAlreadyExists matches spec §7's AlreadyExists.
	ErrAlreadyExists = errors.New("fileops: already exists")
)

// conflictSuffix marks the losing side of a binary conflict (spec §7
// IntegrityError) preserved alongside the server's winning content,
// grounded on the teacher's MarkConflicted rename-with-suffix pattern.
const conflictSuffix = ".vaultconflict"

// ConflictPath maps path to the location IntegrityError preserves the
// losing side of a binary conflict at. Exported so the orchestrator can
// compute it without depending on a concrete FileOps implementation.
func ConflictPath(path RelativePath) RelativePath {
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	return stem + conflictSuffix + ext
}

// FileOps is the contract every host (filesystem, editor-vault bridge,
// test fake) implements.
type FileOps interface {
	ListAll() ([]RelativePath, error)
	Read(path RelativePath) ([]byte, error)
	Exists(path RelativePath) bool
	GetFileSize(path RelativePath) (int64, error)
	GetModificationTime(path RelativePath) (time.Time, error)

	// Create creates parent directories as needed; if path already exists
	// it delegates to Write(path, nil, bytes) instead of erroring.
	Create(path RelativePath, content []byte) error

	// Write performs the merge-on-write contract described in spec §4.3:
	// if the path vanished, returns (nil, nil) without recreating it; if
	// current content is binary, overwrites with newBytes; otherwise reads
	// current bytes and either writes newBytes directly (if current ==
	// expectedBytes) or writes mergeText(expectedBytes, current, newBytes).
	// Returns the bytes actually written.
	Write(path RelativePath, expectedBytes, newBytes []byte) ([]byte, error)

	// Remove prefers soft-delete (trash) where the host supports it; it is
	// idempotent when path is already missing.
	Remove(path RelativePath) error

	// Move ensures the parent directories of newPath exist; idempotent
	// when oldPath == newPath.
	Move(oldPath, newPath RelativePath) error

	// IsEligibleForSync lets a host exclude paths (e.g. binaries on a
	// constrained platform) from the sync surface entirely.
	IsEligibleForSync(path RelativePath) bool

	// MarkConflicted renames path to ConflictPath(path), non-destructively
	// preserving content that's about to be overwritten by an unmergeable
	// binary write-write conflict (spec §7 IntegrityError).
	MarkConflicted(path RelativePath) error
}
