package poet

import (
	"fmt"

	ssz "github.com/ferranbt/fastssz"

	"github.com/geanlabs/poet/types"
)

// WireVersion is the version byte leading every serialized certificate.
// Signatures are computed over this encoding, so any layout change must bump it.
const WireVersion uint8 = 1

const (
	certificateFixedSize = 37 // version + 3 float64 bits + 3 offsets
	envelopeFixedSize    = 8  // 2 offsets

	// MaxCertificateSize bounds a serialized certificate.
	MaxCertificateSize = certificateFixedSize + 3*types.MaxIdentifierLength
	// MaxEnvelopeSize bounds a serialized signed certificate.
	MaxEnvelopeSize = envelopeFixedSize + MaxCertificateSize + types.MaxSignatureLength
)

// waitCertificateContainer is the SSZ layout of a certificate. Floats are
// carried as their IEEE-754 bit patterns so the encoding is exact.
//
//	Version               uint8
//	RequestTime           uint64
//	Duration              uint64
//	PreviousCertificateID []byte `ssz-max:"256"`
//	LocalMean             uint64
//	Nonce                 []byte `ssz-max:"256"`
//	BlockDigest           []byte `ssz-max:"256"`
type waitCertificateContainer struct {
	Version               uint8
	RequestTime           uint64
	Duration              uint64
	PreviousCertificateID []byte
	LocalMean             uint64
	Nonce                 []byte
	BlockDigest           []byte
}

// MarshalSSZ ssz marshals the waitCertificateContainer object
func (w *waitCertificateContainer) MarshalSSZ() ([]byte, error) {
	return w.MarshalSSZTo(make([]byte, 0, w.SizeSSZ()))
}

// MarshalSSZTo ssz marshals the waitCertificateContainer object to a target array
func (w *waitCertificateContainer) MarshalSSZTo(buf []byte) (dst []byte, err error) {
	dst = buf
	offset := certificateFixedSize

	// Field (0) 'Version'
	dst = ssz.MarshalUint8(dst, w.Version)

	// Field (1) 'RequestTime'
	dst = ssz.MarshalUint64(dst, w.RequestTime)

	// Field (2) 'Duration'
	dst = ssz.MarshalUint64(dst, w.Duration)

	// Offset (3) 'PreviousCertificateID'
	dst = ssz.WriteOffset(dst, offset)
	offset += len(w.PreviousCertificateID)

	// Field (4) 'LocalMean'
	dst = ssz.MarshalUint64(dst, w.LocalMean)

	// Offset (5) 'Nonce'
	dst = ssz.WriteOffset(dst, offset)
	offset += len(w.Nonce)

	// Offset (6) 'BlockDigest'
	dst = ssz.WriteOffset(dst, offset)

	for _, field := range []struct {
		name string
		data []byte
	}{
		{"previous certificate id", w.PreviousCertificateID},
		{"nonce", w.Nonce},
		{"block digest", w.BlockDigest},
	} {
		if size := len(field.data); size > types.MaxIdentifierLength {
			err = fmt.Errorf("%s: %w (%d > %d)", field.name, ssz.ErrBytesLength, size, types.MaxIdentifierLength)
			return
		}
		dst = append(dst, field.data...)
	}
	return
}

// UnmarshalSSZ ssz unmarshals the waitCertificateContainer object.
// Offsets must be exactly contiguous so every value has a single encoding.
func (w *waitCertificateContainer) UnmarshalSSZ(buf []byte) error {
	size := uint64(len(buf))
	if size < certificateFixedSize {
		return ssz.ErrSize
	}
	if size > MaxCertificateSize {
		return ssz.ErrSize
	}

	tail := buf
	var o3, o5, o6 uint64

	// Field (0) 'Version'
	w.Version = ssz.UnmarshallUint8(buf[0:1])

	// Field (1) 'RequestTime'
	w.RequestTime = ssz.UnmarshallUint64(buf[1:9])

	// Field (2) 'Duration'
	w.Duration = ssz.UnmarshallUint64(buf[9:17])

	// Offset (3) 'PreviousCertificateID'
	if o3 = ssz.ReadOffset(buf[17:21]); o3 > size {
		return ssz.ErrOffset
	}
	if o3 != certificateFixedSize {
		return ssz.ErrInvalidVariableOffset
	}

	// Field (4) 'LocalMean'
	w.LocalMean = ssz.UnmarshallUint64(buf[21:29])

	// Offset (5) 'Nonce'
	if o5 = ssz.ReadOffset(buf[29:33]); o5 > size || o3 > o5 {
		return ssz.ErrOffset
	}

	// Offset (6) 'BlockDigest'
	if o6 = ssz.ReadOffset(buf[33:37]); o6 > size || o5 > o6 {
		return ssz.ErrOffset
	}

	var err error
	if w.PreviousCertificateID, err = unmarshalBytes(tail[o3:o5], types.MaxIdentifierLength); err != nil {
		return err
	}
	if w.Nonce, err = unmarshalBytes(tail[o5:o6], types.MaxIdentifierLength); err != nil {
		return err
	}
	if w.BlockDigest, err = unmarshalBytes(tail[o6:], types.MaxIdentifierLength); err != nil {
		return err
	}
	return nil
}

// SizeSSZ returns the ssz encoded size in bytes for the waitCertificateContainer object
func (w *waitCertificateContainer) SizeSSZ() (size int) {
	size = certificateFixedSize
	size += len(w.PreviousCertificateID)
	size += len(w.Nonce)
	size += len(w.BlockDigest)
	return
}

// HashTreeRoot ssz hashes the waitCertificateContainer object
func (w *waitCertificateContainer) HashTreeRoot() ([32]byte, error) {
	return ssz.HashWithDefaultHasher(w)
}

// HashTreeRootWith ssz hashes the waitCertificateContainer object with a hasher
func (w *waitCertificateContainer) HashTreeRootWith(hh ssz.HashWalker) (err error) {
	indx := hh.Index()

	// Field (0) 'Version'
	hh.PutUint8(w.Version)

	// Field (1) 'RequestTime'
	hh.PutUint64(w.RequestTime)

	// Field (2) 'Duration'
	hh.PutUint64(w.Duration)

	// Field (3) 'PreviousCertificateID'
	if err = putBytesList(hh, w.PreviousCertificateID, types.MaxIdentifierLength); err != nil {
		return
	}

	// Field (4) 'LocalMean'
	hh.PutUint64(w.LocalMean)

	// Field (5) 'Nonce'
	if err = putBytesList(hh, w.Nonce, types.MaxIdentifierLength); err != nil {
		return
	}

	// Field (6) 'BlockDigest'
	if err = putBytesList(hh, w.BlockDigest, types.MaxIdentifierLength); err != nil {
		return
	}

	hh.Merkleize(indx)
	return
}

// GetTree ssz hashes the waitCertificateContainer object
func (w *waitCertificateContainer) GetTree() (*ssz.Node, error) {
	return ssz.ProofTree(w)
}

// signedEnvelope is the SSZ layout of a signed certificate as stored and
// gossiped: the certificate's canonical bytes followed by the signature.
//
//	Certificate []byte `ssz-max:"805"`
//	Signature   []byte `ssz-max:"96"`
type signedEnvelope struct {
	Certificate []byte
	Signature   []byte
}

// MarshalSSZ ssz marshals the signedEnvelope object
func (s *signedEnvelope) MarshalSSZ() ([]byte, error) {
	return s.MarshalSSZTo(make([]byte, 0, s.SizeSSZ()))
}

// MarshalSSZTo ssz marshals the signedEnvelope object to a target array
func (s *signedEnvelope) MarshalSSZTo(buf []byte) (dst []byte, err error) {
	dst = buf
	offset := envelopeFixedSize

	// Offset (0) 'Certificate'
	dst = ssz.WriteOffset(dst, offset)
	offset += len(s.Certificate)

	// Offset (1) 'Signature'
	dst = ssz.WriteOffset(dst, offset)

	// Field (0) 'Certificate'
	if size := len(s.Certificate); size > MaxCertificateSize {
		err = fmt.Errorf("certificate: %w (%d > %d)", ssz.ErrBytesLength, size, MaxCertificateSize)
		return
	}
	dst = append(dst, s.Certificate...)

	// Field (1) 'Signature'
	if size := len(s.Signature); size > types.MaxSignatureLength {
		err = fmt.Errorf("signature: %w (%d > %d)", ssz.ErrBytesLength, size, types.MaxSignatureLength)
		return
	}
	dst = append(dst, s.Signature...)
	return
}

// UnmarshalSSZ ssz unmarshals the signedEnvelope object
func (s *signedEnvelope) UnmarshalSSZ(buf []byte) error {
	size := uint64(len(buf))
	if size < envelopeFixedSize || size > MaxEnvelopeSize {
		return ssz.ErrSize
	}

	tail := buf
	var o0, o1 uint64

	// Offset (0) 'Certificate'
	if o0 = ssz.ReadOffset(buf[0:4]); o0 > size {
		return ssz.ErrOffset
	}
	if o0 != envelopeFixedSize {
		return ssz.ErrInvalidVariableOffset
	}

	// Offset (1) 'Signature'
	if o1 = ssz.ReadOffset(buf[4:8]); o1 > size || o0 > o1 {
		return ssz.ErrOffset
	}

	var err error
	if s.Certificate, err = unmarshalBytes(tail[o0:o1], MaxCertificateSize); err != nil {
		return err
	}
	if s.Signature, err = unmarshalBytes(tail[o1:], types.MaxSignatureLength); err != nil {
		return err
	}
	return nil
}

// SizeSSZ returns the ssz encoded size in bytes for the signedEnvelope object
func (s *signedEnvelope) SizeSSZ() (size int) {
	return envelopeFixedSize + len(s.Certificate) + len(s.Signature)
}

func unmarshalBytes(buf []byte, limit int) ([]byte, error) {
	if len(buf) > limit {
		return nil, ssz.ErrBytesLength
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	return out, nil
}

func putBytesList(hh ssz.HashWalker, data []byte, limit int) error {
	elemIndx := hh.Index()
	byteLen := uint64(len(data))
	if byteLen > uint64(limit) {
		return ssz.ErrIncorrectListSize
	}
	hh.Append(data)
	hh.MerkleizeWithMixin(elemIndx, byteLen, uint64(limit+31)/32)
	return nil
}
