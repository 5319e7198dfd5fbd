package fileops

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vaultsync/vaultsync/internal/binaryclassify"
	"github.com/vaultsync/vaultsync/internal/metadata"
	"github.com/vaultsync/vaultsync/internal/reconcile"
	"github.com/vaultsync/vaultsync/internal/tokenizer"
)

// OSFileOps implements FileOps against a real directory tree.
type OSFileOps struct {
	Root string

	// NativeLineEndings replaces each LF when writing mergeable content to
	// disk on a host whose native line ending differs from LF (spec §6's
	// `nativeLineEndings` client-facade construction parameter).
	NativeLineEndings string

	// Tokenizer drives three-way merge alignment (§4.1); defaults to the
	// words tokenizer when left zero-valued, overridable per vault via
	// `.vaultsync.yaml`.
	Tokenizer tokenizer.Tokenizer

	hashCacheOnce sync.Once
	hashCache     *lru.Cache[RelativePath, cachedHash]
}

type cachedHash struct {
	modTime time.Time
	size    int64
	hash    metadata.ContentHash
}

const hashCacheSize = 4096

// HashFile returns path's content fingerprint, reusing a cached value when
// the file's size and modification time haven't changed since it was last
// computed. A bounded LRU avoids rehashing unchanged files on every local
// scan without growing without bound on a large vault.
func (o *OSFileOps) HashFile(path RelativePath) (metadata.ContentHash, error) {
	o.hashCacheOnce.Do(func() {
		o.hashCache, _ = lru.New[RelativePath, cachedHash](hashCacheSize)
	})

	info, err := os.Stat(o.abs(path))
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}

	if cached, ok := o.hashCache.Get(path); ok && cached.modTime.Equal(info.ModTime()) && cached.size == info.Size() {
		return cached.hash, nil
	}

	data, err := os.ReadFile(o.abs(path))
	if err != nil {
		return "", err
	}

	hash := metadata.HashContent(data)
	o.hashCache.Add(path, cachedHash{modTime: info.ModTime(), size: info.Size(), hash: hash})
	return hash, nil
}

// NewOSFileOps constructs an OSFileOps rooted at root, defaulting native
// line endings to the current OS's convention and the tokenizer to words.
func NewOSFileOps(root string) *OSFileOps {
	nle := "\n"
	if runtime.GOOS == "windows" {
		nle = "\r\n"
	}
	return &OSFileOps{Root: root, NativeLineEndings: nle, Tokenizer: tokenizer.WordsTokenizer{}}
}

func (o *OSFileOps) abs(path RelativePath) string {
	return filepath.Join(o.Root, filepath.FromSlash(path))
}

func (o *OSFileOps) ListAll() ([]RelativePath, error) {
	var out []RelativePath
	err := filepath.WalkDir(o.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(o.Root, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (o *OSFileOps) Read(path RelativePath) ([]byte, error) {
	data, err := os.ReadFile(o.abs(path))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if binaryclassify.IsMergeable(data) {
		data = []byte(tokenizer.NormalizeNewlines(string(data)))
	}
	return data, nil
}

func (o *OSFileOps) Exists(path RelativePath) bool {
	_, err := os.Stat(o.abs(path))
	return err == nil
}

func (o *OSFileOps) GetFileSize(path RelativePath) (int64, error) {
	info, err := os.Stat(o.abs(path))
	if errors.Is(err, os.ErrNotExist) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (o *OSFileOps) GetModificationTime(path RelativePath) (time.Time, error) {
	info, err := os.Stat(o.abs(path))
	if errors.Is(err, os.ErrNotExist) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

func (o *OSFileOps) Create(path RelativePath, content []byte) error {
	if o.Exists(path) {
		_, err := o.Write(path, nil, content)
		return err
	}
	if binaryclassify.IsMergeable(content) {
		content = o.applyNativeLineEndings(content)
	}
	return o.writeBytes(path, content)
}

func (o *OSFileOps) Write(path RelativePath, expectedBytes, newBytes []byte) ([]byte, error) {
	if !o.Exists(path) {
		return nil, nil
	}

	current, err := os.ReadFile(o.abs(path))
	if err != nil {
		return nil, err
	}

	if binaryclassify.IsBinary(current) {
		if err := o.writeBytes(path, newBytes); err != nil {
			return nil, err
		}
		return newBytes, nil
	}

	current = []byte(tokenizer.NormalizeNewlines(string(current)))
	expected := []byte(tokenizer.NormalizeNewlines(string(expectedBytes)))

	var result []byte
	if string(current) == string(expected) {
		result = newBytes
	} else {
		tok := o.Tokenizer
		if tok == nil {
			tok = tokenizer.WordsTokenizer{}
		}
		merged := reconcile.MergeTextWith(string(expected), string(current), string(newBytes), tok)
		result = []byte(merged)
	}

	if err := o.writeBytes(path, o.applyNativeLineEndings(result)); err != nil {
		return nil, err
	}
	return result, nil
}

func (o *OSFileOps) applyNativeLineEndings(content []byte) []byte {
	if o.NativeLineEndings == "\n" {
		return content
	}
	return []byte(strings.ReplaceAll(string(content), "\n", o.NativeLineEndings))
}

func (o *OSFileOps) writeBytes(path RelativePath, content []byte) error {
	abs := o.abs(path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(abs, content, 0o644); err != nil {
		return err
	}
	slog.Debug("fileops: wrote file", "path", path, "size", humanize.Bytes(uint64(len(content))))
	return nil
}

// Remove soft-deletes via the OS trash where available, falling back to a
// permanent unlink. Idempotent when the path is already gone.
func (o *OSFileOps) Remove(path RelativePath) error {
	abs := o.abs(path)
	if _, err := os.Stat(abs); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	if err := moveToTrash(abs); err == nil {
		return nil
	}
	err := os.Remove(abs)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (o *OSFileOps) Move(oldPath, newPath RelativePath) error {
	if oldPath == newPath {
		return nil
	}
	newAbs := o.abs(newPath)
	if err := os.MkdirAll(filepath.Dir(newAbs), 0o755); err != nil {
		return err
	}
	err := os.Rename(o.abs(oldPath), newAbs)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// IsEligibleForSync excludes nothing by default; a host embedding OSFileOps
// on a constrained platform can wrap it to exclude binaries.
func (o *OSFileOps) IsEligibleForSync(path RelativePath) bool {
	return true
}

// MarkConflicted renames path to <stem>.vaultconflict<ext>, non-destructively
// preserving the losing side of a binary conflict (spec §7 IntegrityError)
// before the orchestrator overwrites path with the server's winning
// content, instead of silently discarding the local version.
func (o *OSFileOps) MarkConflicted(path RelativePath) error {
	return os.Rename(o.abs(path), o.abs(ConflictPath(path)))
}

func moveToTrash(absPath string) error {
	if runtime.GOOS == "darwin" {
		return moveToMacOSTrash(absPath)
	}
	return errTrashUnavailable
}

var errTrashUnavailable = errors.New("fileops: os trash not available on this platform")

func moveToMacOSTrash(absPath string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	trashDir := filepath.Join(home, ".Trash")
	if _, err := os.Stat(trashDir); err != nil {
		return err
	}

	name := filepath.Base(absPath)
	dest := filepath.Join(trashDir, name)
	if _, err := os.Stat(dest); err == nil {
		ext := filepath.Ext(name)
		stem := strings.TrimSuffix(name, ext)
		for i := 2; ; i++ {
			candidate := filepath.Join(trashDir, stem+" "+strconv.Itoa(i)+ext)
			if _, err := os.Stat(candidate); errors.Is(err, os.ErrNotExist) {
				dest = candidate
				break
			}
		}
	}

	return os.Rename(absPath, dest)
}
