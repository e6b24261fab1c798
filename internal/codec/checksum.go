package codec

import (
	"crypto/sha256"
	"encoding/hex"
)

// EmptyVersion is the version of a table that has never been written.
var EmptyVersion = Checksum("")

// Checksum returns the version token of a table blob.
func Checksum(blob string) string {
	hash := sha256.Sum256([]byte(blob))
	return "sha256:" + hex.EncodeToString(hash[:])
}

// VerifyChecksum reports whether blob matches the expected version.
func VerifyChecksum(blob, expected string) bool {
	return Checksum(blob) == expected
}
