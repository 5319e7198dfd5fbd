package metadata

import (
	"hash/crc32"

	"github.com/vaultsync/vaultsync/internal/utils"
)

// HashContent computes the deterministic 32-bit fingerprint described in
// spec §3: collisions are tolerated because a mismatch always falls back to
// a safe merge path, and a match is only ever a hint.
func HashContent(content []byte) ContentHash {
	return ContentHash(utils.EncodeBase34Uint32(crc32.ChecksumIEEE(content)))
}
