package helpers

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// ChecksumLength is the number of hex digits kept by Checksum.
const ChecksumLength = 12

// Checksum returns a short hex digest of content, used to tell module
// versions apart in logs and caches.
func Checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])[:ChecksumLength]
}

// ChecksumReader digests everything read from r.
func ChecksumReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil))[:ChecksumLength], nil
}
