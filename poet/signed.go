package poet

import (
	"bytes"
	"fmt"

	"github.com/geanlabs/poet/types"
)

// Signer is a handle to a private signing key. It may be backed by a secure
// enclave or by a software key; the certificate only needs its output.
type Signer interface {
	Sign(data []byte) ([]byte, error)
	PublicKey() []byte
}

// VerifyFunc checks signature over data against publicKey.
type VerifyFunc func(data, signature, publicKey []byte) bool

// SignedWaitCertificate is a wait certificate together with the signature
// over its canonical serialization.
type SignedWaitCertificate struct {
	certificate *WaitCertificate
	signature   []byte
}

// Sign signs the certificate's canonical bytes with signer.
func Sign(c *WaitCertificate, signer Signer) (*SignedWaitCertificate, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: nil certificate", ErrInvalidParameter)
	}
	data, err := c.Serialize()
	if err != nil {
		return nil, fmt.Errorf("serialize certificate: %w", err)
	}
	sig, err := signer.Sign(data)
	if err != nil {
		return nil, fmt.Errorf("sign certificate: %w", err)
	}
	return NewSignedWaitCertificate(c, sig)
}

// NewSignedWaitCertificate attaches an already computed signature to c.
func NewSignedWaitCertificate(c *WaitCertificate, signature []byte) (*SignedWaitCertificate, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: nil certificate", ErrInvalidParameter)
	}
	if len(signature) == 0 {
		return nil, ErrEmptySignature
	}
	if len(signature) > types.MaxSignatureLength {
		return nil, fmt.Errorf("%w: signature is %d bytes, max %d", ErrInvalidParameter, len(signature), types.MaxSignatureLength)
	}
	return &SignedWaitCertificate{
		certificate: c,
		signature:   bytes.Clone(signature),
	}, nil
}

// NewSignedWaitCertificateFromSerialized rebuilds a peer's certificate from
// its serialized bytes and attaches signature verbatim. No verification is
// performed; call Verify.
func NewSignedWaitCertificateFromSerialized(data, signature []byte) (*SignedWaitCertificate, error) {
	c, err := NewWaitCertificateFromBytes(data)
	if err != nil {
		return nil, err
	}
	signed, err := NewSignedWaitCertificate(c, signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeserialization, err)
	}
	return signed, nil
}

// Certificate returns the signed certificate.
func (s *SignedWaitCertificate) Certificate() *WaitCertificate { return s.certificate }

// Signature returns a copy of the signature bytes.
func (s *SignedWaitCertificate) Signature() []byte { return bytes.Clone(s.signature) }

// ID returns the identifier of the underlying certificate.
func (s *SignedWaitCertificate) ID() types.CertificateID { return s.certificate.ID() }

// Verify recomputes the certificate's serialization and checks the signature
// against publicKey. A false result is a routine rejection.
func (s *SignedWaitCertificate) Verify(publicKey []byte, verify VerifyFunc) bool {
	if verify == nil || len(publicKey) == 0 {
		return false
	}
	data, err := s.certificate.Serialize()
	if err != nil {
		return false
	}
	return verify(data, bytes.Clone(s.signature), publicKey)
}

// MarshalSSZ encodes the certificate and signature as a single envelope.
func (s *SignedWaitCertificate) MarshalSSZ() ([]byte, error) {
	data, err := s.certificate.Serialize()
	if err != nil {
		return nil, err
	}
	env := signedEnvelope{Certificate: data, Signature: s.signature}
	return env.MarshalSSZ()
}

// UnmarshalSignedWaitCertificate decodes an envelope produced by MarshalSSZ.
func UnmarshalSignedWaitCertificate(buf []byte) (*SignedWaitCertificate, error) {
	var env signedEnvelope
	if err := env.UnmarshalSSZ(buf); err != nil {
		return nil, fmt.Errorf("%w: envelope: %v", ErrDeserialization, err)
	}
	return NewSignedWaitCertificateFromSerialized(env.Certificate, env.Signature)
}
