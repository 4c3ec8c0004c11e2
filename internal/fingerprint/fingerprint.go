// Package fingerprint computes the content digest used as the dedup key.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
)

// Size is the length of a hex-encoded fingerprint.
const Size = md5.Size * 2

var validFingerprint = regexp.MustCompile(fmt.Sprintf(`^[0-9a-f]{%d}$`, Size))

// Sum returns the lowercase hex digest of data.
func Sum(data []byte) string {
	h := md5.Sum(data)
	return hex.EncodeToString(h[:])
}

// Reader streams r through the digest and returns its hex encoding.
func Reader(r io.Reader) (string, error) {
	h := md5.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Valid reports whether s is a well-formed fingerprint.
func Valid(s string) bool {
	return validFingerprint.MatchString(s)
}
