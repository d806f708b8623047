package signer

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/geanlabs/poet/poet"
	"github.com/geanlabs/poet/types"
)

var (
	_ poet.Signer     = (*Secp256k1)(nil)
	_ poet.VerifyFunc = Verify
)

func TestSignVerify(t *testing.T) {
	s, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	data := []byte("Indigestion. Pepto Bismol.")

	sig, err := s.Sign(data)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(sig) != 65 {
		t.Errorf("len(sig) = %d, want 65", len(sig))
	}
	if len(s.PublicKey()) != types.CompressedKeyLength {
		t.Errorf("len(pubkey) = %d, want %d", len(s.PublicKey()), types.CompressedKeyLength)
	}

	if !Verify(data, sig, s.PublicKey()) {
		t.Error("signature should verify")
	}
	if !Verify(data, sig[:64], s.PublicKey()) {
		t.Error("64-byte signature should verify")
	}
}

func TestVerify_Rejects(t *testing.T) {
	s, _ := Generate()
	other, _ := Generate()
	data := []byte("payload")
	sig, _ := s.Sign(data)

	tampered := bytes.Clone(sig)
	tampered[10] ^= 0xff

	badRecovery := bytes.Clone(sig)
	badRecovery[64] = 27

	tests := []struct {
		name string
		data []byte
		sig  []byte
		key  []byte
	}{
		{"wrong data", []byte("other payload"), sig, s.PublicKey()},
		{"wrong key", data, sig, other.PublicKey()},
		{"tampered signature", data, tampered, s.PublicKey()},
		{"short signature", data, sig[:30], s.PublicKey()},
		{"recovery id out of range", data, badRecovery, s.PublicKey()},
		{"trailing byte", data, append(bytes.Clone(sig), 0), s.PublicKey()},
		{"garbage key", data, sig, []byte{1, 2, 3}},
		{"empty key", data, sig, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if Verify(tt.data, tt.sig, tt.key) {
				t.Error("Verify = true, want false")
			}
		})
	}
}

func TestFromKey_Nil(t *testing.T) {
	if _, err := FromKey(nil); err != ErrNoPrivateKey {
		t.Errorf("err = %v, want ErrNoPrivateKey", err)
	}
}

func TestLoadOrGenerate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poet.key")

	first, err := LoadOrGenerate(path)
	if err != nil {
		t.Fatalf("LoadOrGenerate (generate): %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("key file not written: %v", err)
	}

	second, err := LoadOrGenerate(path)
	if err != nil {
		t.Fatalf("LoadOrGenerate (load): %v", err)
	}
	if !bytes.Equal(first.PublicKey(), second.PublicKey()) {
		t.Error("reloaded key differs from the generated one")
	}
	if !bytes.Equal(first.Bytes(), second.Bytes()) {
		t.Error("reloaded private key bytes differ")
	}
	if len(first.Bytes()) != 32 {
		t.Errorf("private key is %d bytes, want 32", len(first.Bytes()))
	}
}

func TestLoadOrGenerate_RawKey(t *testing.T) {
	key, _ := crypto.GenerateKey()
	path := filepath.Join(t.TempDir(), "raw.key")
	if err := os.WriteFile(path, crypto.FromECDSA(key), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}

	s, err := LoadOrGenerate(path)
	if err != nil {
		t.Fatalf("LoadOrGenerate: %v", err)
	}
	if !bytes.Equal(s.PublicKey(), crypto.CompressPubkey(&key.PublicKey)) {
		t.Error("raw key loaded incorrectly")
	}
}

func TestLoadOrGenerate_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.key")
	if err := os.WriteFile(path, []byte("not a key"), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	if _, err := LoadOrGenerate(path); err == nil {
		t.Error("expected error for malformed key file")
	}
}

func TestSignedCertificateWithSecp256k1(t *testing.T) {
	s, _ := Generate()
	timer, err := poet.NewWaitTimer(1466554668.322701, 3.14159, "Smart, Maxwell Smart", 2.71828)
	if err != nil {
		t.Fatalf("NewWaitTimer: %v", err)
	}
	cert, err := poet.NewWaitCertificateFromTimer(timer, "Eeny, meeny, miny, moe.", "Indigestion. Pepto Bismol.")
	if err != nil {
		t.Fatalf("NewWaitCertificateFromTimer: %v", err)
	}
	signed, err := poet.Sign(cert, s)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	serialized, _ := cert.Serialize()
	received, err := poet.NewSignedWaitCertificateFromSerialized(serialized, signed.Signature())
	if err != nil {
		t.Fatalf("NewSignedWaitCertificateFromSerialized: %v", err)
	}
	if !received.Verify(s.PublicKey(), Verify) {
		t.Error("received certificate should verify with the producer's key")
	}
	other, _ := Generate()
	if received.Verify(other.PublicKey(), Verify) {
		t.Error("received certificate must not verify with another key")
	}
}
