// Package binaryclassify decides whether a byte buffer is mergeable text
// or opaque binary, per spec §3's "Mergeable" glossary entry.
package binaryclassify

import (
	"bytes"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
)

// sniffLimit bounds how many leading bytes are inspected; mirrors
// mimetype's own default read limit philosophy of sampling a prefix rather
// than the whole file.
const sniffLimit = 8000

// IsBinary reports whether content should be treated as opaque binary
// (last-writer-wins, never merged) rather than mergeable text.
func IsBinary(content []byte) bool {
	sample := content
	if len(sample) > sniffLimit {
		sample = sample[:sniffLimit]
	}

	if bytes.IndexByte(sample, 0) >= 0 {
		return true
	}

	if !utf8.Valid(sample) {
		return true
	}

	mt := mimetype.Detect(sample)
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return false
		}
	}
	return !mt.Is("text/plain") && mt.String() != "inode/x-empty" && isLikelyBinaryMIME(mt.String())
}

// isLikelyBinaryMIME treats anything mimetype didn't resolve to a text/* or
// empty-file type as binary, matching the conservative default: when in
// doubt, don't merge.
func isLikelyBinaryMIME(mime string) bool {
	return len(mime) < 5 || mime[:5] != "text/"
}

// IsMergeable is the inverse of IsBinary, named to match spec vocabulary.
func IsMergeable(content []byte) bool {
	return !IsBinary(content)
}
