// Package signer provides a software secp256k1 key handle for signing wait
// certificates. It stands in for an enclave-held key: callers only see the
// Sign and PublicKey methods.
package signer

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/crypto"
)

var ErrNoPrivateKey = errors.New("no private key configured")

// Secp256k1 signs sha256(data) with a secp256k1 private key.
type Secp256k1 struct {
	privKey *ecdsa.PrivateKey
	pubKey  []byte // compressed
}

// Generate creates a signer with a fresh random key.
func Generate() (*Secp256k1, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return FromKey(key)
}

// FromKey wraps an existing private key.
func FromKey(key *ecdsa.PrivateKey) (*Secp256k1, error) {
	if key == nil {
		return nil, ErrNoPrivateKey
	}
	return &Secp256k1{
		privKey: key,
		pubKey:  crypto.CompressPubkey(&key.PublicKey),
	}, nil
}

// LoadOrGenerate loads a hex-encoded key from path, or generates one and
// saves it there if the file does not exist.
func LoadOrGenerate(path string) (*Secp256k1, error) {
	key, err := loadOrGenerateKey(path)
	if err != nil {
		return nil, err
	}
	return FromKey(key)
}

// Sign returns a 65-byte [R || S || V] signature over sha256(data).
func (s *Secp256k1) Sign(data []byte) ([]byte, error) {
	if s.privKey == nil {
		return nil, ErrNoPrivateKey
	}
	digest := sha256.Sum256(data)
	sig, err := crypto.Sign(digest[:], s.privKey)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return sig, nil
}

// PublicKey returns the 33-byte compressed public key.
func (s *Secp256k1) PublicKey() []byte {
	out := make([]byte, len(s.pubKey))
	copy(out, s.pubKey)
	return out
}

// Bytes returns the raw 32-byte private key, used to derive the node's
// libp2p identity from the same key.
func (s *Secp256k1) Bytes() []byte {
	return crypto.FromECDSA(s.privKey)
}

// Verify reports whether signature is a valid signature of sha256(data) by
// publicKey. It accepts 64-byte [R || S] and 65-byte [R || S || V] forms;
// V must be 0 or 1.
func Verify(data, signature, publicKey []byte) bool {
	switch {
	case len(signature) == 64:
	case len(signature) == 65 && signature[64] <= 1:
	default:
		return false
	}
	if _, err := crypto.DecompressPubkey(publicKey); err != nil {
		return false
	}
	digest := sha256.Sum256(data)
	return crypto.VerifySignature(publicKey, digest[:], signature[:64])
}

// loadOrGenerateKey loads a secp256k1 key from file or generates a new one.
func loadOrGenerateKey(path string) (*ecdsa.PrivateKey, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		if err := crypto.SaveECDSA(path, key); err != nil {
			return nil, fmt.Errorf("save key: %w", err)
		}
		return key, nil
	}
	key, err := crypto.LoadECDSA(path)
	if err == nil {
		return key, nil
	}

	// Fall back to a raw 32-byte key.
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		return nil, fmt.Errorf("read key file: %w", readErr)
	}
	if len(data) == 32 {
		return crypto.ToECDSA(data)
	}
	return nil, fmt.Errorf("invalid key format (hex or binary): %w", err)
}
