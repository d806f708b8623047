package chain

import (
	"crypto/sha256"
	"encoding/hex"
)

// BlockDigest is the digest a wait certificate commits to for block: the
// lowercase hex SHA-256 of its bytes.
func BlockDigest(block []byte) string {
	sum := sha256.Sum256(block)
	return hex.EncodeToString(sum[:])
}
