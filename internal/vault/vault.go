// Package vault implements the single-vault root abstraction: the synced
// directory itself plus its sidecar metadata directory and an on-disk
// instance lock that prevents two vaultsync processes from running against
// the same vault concurrently. Grounded on the teacher's
// internal/client/workspace/workspace.go, trimmed to a single vault with no
// datasite/ACL ownership concepts.
package vault

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/vaultsync/vaultsync/internal/utils"
)

const (
	metadataDirName = ".vaultsync"
	lockFileName    = "instance.lock"
	stateFileName   = "state.db"
	historyFileName = "history.db"
)

// ErrLocked is returned by Lock when another process already holds the
// vault's instance lock.
var ErrLocked = errors.New("vault is locked by another vaultsync process")

// Vault is the root directory being synced, plus its sidecar state.
type Vault struct {
	Root          string
	MetadataDir   string
	StatePath     string
	HistoryDBPath string

	flock *flock.Flock
}

// Open resolves rootDir and prepares a Vault handle. It does not create any
// directories or acquire the lock; call Setup for that.
func Open(rootDir string) (*Vault, error) {
	root, err := utils.ResolvePath(rootDir)
	if err != nil {
		return nil, fmt.Errorf("resolve vault root %s: %w", rootDir, err)
	}

	metadataDir := filepath.Join(root, metadataDirName)
	return &Vault{
		Root:          root,
		MetadataDir:   metadataDir,
		StatePath:     filepath.Join(metadataDir, stateFileName),
		HistoryDBPath: filepath.Join(metadataDir, historyFileName),
		flock:         flock.New(filepath.Join(metadataDir, lockFileName)),
	}, nil
}

// Setup creates the vault root and metadata directory if missing, and
// acquires the instance lock.
func (v *Vault) Setup() error {
	if err := utils.EnsureDir(v.Root); err != nil {
		return fmt.Errorf("create vault root %s: %w", v.Root, err)
	}
	if err := utils.EnsureDir(v.MetadataDir); err != nil {
		return fmt.Errorf("create vault metadata dir %s: %w", v.MetadataDir, err)
	}

	if err := v.Lock(); err != nil {
		return err
	}

	slog.Info("vault ready", "root", v.Root)
	return nil
}

// Lock acquires the vault's instance lock, failing fast if another process
// already holds it.
func (v *Vault) Lock() error {
	locked, err := v.flock.TryLock()
	if err != nil {
		return fmt.Errorf("lock vault: %w", err)
	}
	if !locked {
		return ErrLocked
	}
	return nil
}

// Unlock releases the instance lock and removes the lock file, but only if
// this process is the one holding it.
func (v *Vault) Unlock() error {
	if !v.flock.Locked() {
		return nil
	}
	if err := v.flock.Unlock(); err != nil {
		return fmt.Errorf("unlock vault: %w", err)
	}
	return os.Remove(v.flock.Path())
}

// AbsPath resolves a vault-relative path against the vault root.
func (v *Vault) AbsPath(relPath string) string {
	return filepath.Join(v.Root, filepath.FromSlash(relPath))
}

// RelPath converts an absolute path under the vault root into a
// forward-slashed, vault-relative path.
func (v *Vault) RelPath(absPath string) (string, error) {
	rel, err := filepath.Rel(v.Root, absPath)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}
