// Package checksum provides the content hash used as a file's origin version.
package checksum

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Sum returns the hex-encoded BLAKE3 digest of data.
func Sum(data []byte) string {
	h := blake3.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Strings hashes parts in order, each terminated by a zero byte so that
// ("ab","c") and ("a","bc") differ.
func Strings(parts ...string) string {
	h := blake3.New()
	for _, p := range parts {
		_, _ = h.WriteString(p)
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
