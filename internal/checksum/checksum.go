// Package checksum digests serialized document content so unchanged
// content can be recognised without comparing whole models.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Content returns the digest of a content column. A never-edited document
// (nil content) digests to the empty string.
func Content(content *string) string {
	if content == nil {
		return ""
	}
	return Sum([]byte(*content))
}
