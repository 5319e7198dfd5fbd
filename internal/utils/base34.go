package utils

import (
	"crypto/rand"
	"fmt"
)

const base34Table = "0123456789ABCDEFGHJKLMNPQRSTUVWXYZ" // base34 table
const tableLen = byte(len(base34Table))

// RandBase34 generates a random base34 string of the given length
func RandBase34(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("invalid length: %d", length)
	}

	randBytes := make([]byte, length)
	if _, err := rand.Read(randBytes); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	for i := range randBytes {
		randBytes[i] = base34Table[randBytes[i]%tableLen]
	}

	return string(randBytes), nil
}

// EncodeBase34Uint32 serializes n as a compact base34 string, used to render
// the 32-bit content fingerprint (spec §3's ContentHash) in a form that's
// safe to embed in filenames and JSON without escaping.
func EncodeBase34Uint32(n uint32) string {
	if n == 0 {
		return string(base34Table[0])
	}
	var buf [7]byte // ceil(log34(2^32)) == 7
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = base34Table[n%uint32(tableLen)]
		n /= uint32(tableLen)
	}
	return string(buf[i:])
}
