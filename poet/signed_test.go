package poet

import (
	"bytes"
	"errors"
	"testing"
)

func TestSign(t *testing.T) {
	_, cert := newTestCertificate(t)
	signer := testSigner{key: []byte("producer key")}

	signed, err := Sign(cert, signer)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(signed.Signature()) == 0 {
		t.Fatal("signature should be present after signing")
	}
	if signed.Certificate() != cert {
		t.Error("signed certificate should wrap the original certificate")
	}
	if signed.ID() != cert.ID() {
		t.Errorf("ID = %s, want %s", signed.ID(), cert.ID())
	}
	if !signed.Verify(signer.PublicKey(), testVerify) {
		t.Error("signature should verify against the signer's public key")
	}
}

func TestSign_EmptySignature(t *testing.T) {
	_, cert := newTestCertificate(t)
	_, err := Sign(cert, emptySigner{})
	if !errors.Is(err, ErrEmptySignature) {
		t.Errorf("err = %v, want ErrEmptySignature", err)
	}
}

type emptySigner struct{}

func (emptySigner) Sign([]byte) ([]byte, error) { return nil, nil }
func (emptySigner) PublicKey() []byte           { return []byte("empty") }

func TestSignedWaitCertificate_SignatureIsCopied(t *testing.T) {
	_, cert := newTestCertificate(t)
	sig := []byte("signature bytes")
	signed, err := NewSignedWaitCertificate(cert, sig)
	if err != nil {
		t.Fatalf("NewSignedWaitCertificate: %v", err)
	}

	sig[0] = 'X'
	if bytes.Equal(signed.Signature(), sig) {
		t.Error("mutating the input slice changed the stored signature")
	}
	out := signed.Signature()
	out[1] = 'Y'
	if bytes.Equal(signed.Signature(), out) {
		t.Error("mutating the returned slice changed the stored signature")
	}
}

func TestNewSignedWaitCertificateFromSerialized(t *testing.T) {
	_, cert := newTestCertificate(t)
	signer := testSigner{key: []byte("producer key")}
	signed, err := Sign(cert, signer)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	serialized, err := cert.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	copied, err := NewSignedWaitCertificateFromSerialized(serialized, signed.Signature())
	if err != nil {
		t.Fatalf("NewSignedWaitCertificateFromSerialized: %v", err)
	}

	assertCertificateFields(t, copied.Certificate(), cert)
	if !bytes.Equal(copied.Signature(), signed.Signature()) {
		t.Error("signature was not attached verbatim")
	}
	again, err := copied.Certificate().Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if !bytes.Equal(again, serialized) {
		t.Error("reconstructed certificate serializes differently")
	}
	if !copied.Verify(signer.PublicKey(), testVerify) {
		t.Error("reconstructed certificate should verify")
	}
}

func TestNewSignedWaitCertificateFromSerialized_Errors(t *testing.T) {
	_, cert := newTestCertificate(t)
	serialized, _ := cert.Serialize()

	if _, err := NewSignedWaitCertificateFromSerialized(serialized[:10], []byte("sig")); !errors.Is(err, ErrDeserialization) {
		t.Errorf("truncated: err = %v, want ErrDeserialization", err)
	}
	if _, err := NewSignedWaitCertificateFromSerialized(serialized, nil); !errors.Is(err, ErrDeserialization) {
		t.Errorf("missing signature: err = %v, want ErrDeserialization", err)
	}
	if _, err := NewSignedWaitCertificateFromSerialized(serialized, make([]byte, 97)); !errors.Is(err, ErrDeserialization) {
		t.Errorf("oversized signature: err = %v, want ErrDeserialization", err)
	}
}

func TestVerify_Rejections(t *testing.T) {
	_, cert := newTestCertificate(t)
	signer := testSigner{key: []byte("producer key")}
	signed, err := Sign(cert, signer)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	other, err := NewWaitCertificate(cert.RequestTime(), cert.Duration(), cert.PreviousCertificateID(), cert.LocalMean(), cert.Nonce(), "a different block")
	if err != nil {
		t.Fatalf("NewWaitCertificate: %v", err)
	}
	transplanted, err := NewSignedWaitCertificate(other, signed.Signature())
	if err != nil {
		t.Fatalf("NewSignedWaitCertificate: %v", err)
	}

	tests := []struct {
		name   string
		signed *SignedWaitCertificate
		key    []byte
		verify VerifyFunc
	}{
		{"wrong key", signed, []byte("someone else"), testVerify},
		{"empty key", signed, nil, testVerify},
		{"nil verifier", signed, signer.PublicKey(), nil},
		{"signature moved to other certificate", transplanted, signer.PublicKey(), testVerify},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.signed.Verify(tt.key, tt.verify) {
				t.Error("Verify = true, want false")
			}
		})
	}
}

func TestVerify_PassesRecomputedBytes(t *testing.T) {
	_, cert := newTestCertificate(t)
	want, _ := cert.Serialize()
	signed, err := NewSignedWaitCertificate(cert, []byte("sig"))
	if err != nil {
		t.Fatalf("NewSignedWaitCertificate: %v", err)
	}

	var gotData, gotSig, gotKey []byte
	signed.Verify([]byte("key"), func(data, signature, publicKey []byte) bool {
		gotData, gotSig, gotKey = data, signature, publicKey
		return true
	})

	if !bytes.Equal(gotData, want) {
		t.Error("verifier did not receive the canonical serialization")
	}
	if string(gotSig) != "sig" || string(gotKey) != "key" {
		t.Errorf("verifier got sig=%q key=%q", gotSig, gotKey)
	}
}

func TestSignedEnvelope_RoundTrip(t *testing.T) {
	_, cert := newTestCertificate(t)
	signed, err := Sign(cert, testSigner{key: []byte("k")})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	data, err := signed.MarshalSSZ()
	if err != nil {
		t.Fatalf("MarshalSSZ: %v", err)
	}
	decoded, err := UnmarshalSignedWaitCertificate(data)
	if err != nil {
		t.Fatalf("UnmarshalSignedWaitCertificate: %v", err)
	}
	assertCertificateFields(t, decoded.Certificate(), cert)
	if !bytes.Equal(decoded.Signature(), signed.Signature()) {
		t.Error("signature changed through the envelope")
	}

	again, err := decoded.MarshalSSZ()
	if err != nil {
		t.Fatalf("MarshalSSZ: %v", err)
	}
	if !bytes.Equal(again, data) {
		t.Error("envelope encoding is not stable")
	}
}

func TestUnmarshalSignedWaitCertificate_Malformed(t *testing.T) {
	_, cert := newTestCertificate(t)
	signed, _ := Sign(cert, testSigner{key: []byte("k")})
	valid, _ := signed.MarshalSSZ()

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short", valid[:4]},
		{"bad first offset", append([]byte{9, 0, 0, 0}, valid[4:]...)},
		{"truncated certificate", valid[:40]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := UnmarshalSignedWaitCertificate(tt.data); !errors.Is(err, ErrDeserialization) {
				t.Errorf("err = %v, want ErrDeserialization", err)
			}
		})
	}
}
