package engine

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/zeebo/xxh3"
)

// Digest is the 128-bit cache identity of a request. It covers method,
// URI and body only: headers and source IP are excluded so identical
// payloads from different clients share one cache entry, which is also
// exactly what the scorer sees.
type Digest [16]byte

// DigestRequest hashes the request's cache identity.
func DigestRequest(method, uri, body string) Digest {
	h128 := xxh3.HashString128(method + uri + body)
	var d Digest
	binary.LittleEndian.PutUint64(d[:8], h128.Lo)
	binary.LittleEndian.PutUint64(d[8:], h128.Hi)
	return d
}

// Hex returns the lowercase hex encoding used in cache keys.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}
