// Package types defines the primitive identifiers and limits shared by the PoET packages.
package types

import "fmt"

// CertificateID identifies a wait certificate within the certificate chain.
// It is the lowercase hex encoding of the certificate's hash tree root.
type CertificateID string

// NullCertificateID is the chain tip before any certificate has been accepted.
const NullCertificateID CertificateID = "0000000000000000000000000000000000000000000000000000000000000000"

// Protocol limits.
const (
	MaxIdentifierLength = 256 // previous_certificate_id, nonce and block_digest byte bound
	MaxSignatureLength  = 96  // fits secp256k1 [R || S || V] and BLS-sized blobs
	CompressedKeyLength = 33  // SEC1 compressed secp256k1 public key
)

func (id CertificateID) IsNull() bool { return id == NullCertificateID }

// IsEmpty reports whether the identifier carries no bytes at all.
func (id CertificateID) IsEmpty() bool { return id == "" }

// Short returns the first 8 characters of the identifier for logging.
func (id CertificateID) Short() string {
	if len(id) <= 8 {
		return string(id)
	}
	return string(id[:8])
}

// RootToID converts a 32-byte hash tree root into its hex identifier.
func RootToID(root [32]byte) CertificateID {
	return CertificateID(fmt.Sprintf("%x", root[:]))
}
