package util

import (
	"encoding/hex"
	"hash/fnv"
)

// Fingerprint computes a stable textual identity for the given parts. Parts
// are length-prefixed so that ("ab", "c") and ("a", "bc") never collide.
func Fingerprint(parts ...string) string {
	h := fnv.New128a()
	for _, p := range parts {
		var n [4]byte
		l := len(p)
		n[0], n[1], n[2], n[3] = byte(l>>24), byte(l>>16), byte(l>>8), byte(l)
		h.Write(n[:])
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
