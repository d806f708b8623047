// Package reqresp implements the request/response protocols used to catch up
// on the certificate chain (Status, CertificateChain).
package reqresp

import (
	"fmt"

	ssz "github.com/ferranbt/fastssz"

	"github.com/geanlabs/poet/types"
)

const (
	StatusProtocolV1           = "/poet/req/status/1/"
	CertificateChainProtocolV1 = "/poet/req/certificate_chain/1/"
	MaxRequestCertificates     = 1024

	statusFixedSize       = 4
	chainRequestFixedSize = 8 + 4
)

// Status is the handshake message exchanged upon connection.
type Status struct {
	Tip types.CertificateID
}

// CertificateChainRequest asks for up to Count certificates, walking back
// from From towards the null id.
type CertificateChainRequest struct {
	Count uint64
	From  types.CertificateID
}

// MarshalSSZ ssz marshals the Status object
func (s *Status) MarshalSSZ() ([]byte, error) {
	if len(s.Tip) > types.MaxIdentifierLength {
		return nil, ssz.ErrBytesLength
	}
	dst := make([]byte, 0, statusFixedSize+len(s.Tip))

	// Offset (0) 'Tip'
	dst = ssz.WriteOffset(dst, statusFixedSize)

	// Field (0) 'Tip'
	dst = append(dst, s.Tip...)
	return dst, nil
}

// UnmarshalSSZ ssz unmarshals the Status object
func (s *Status) UnmarshalSSZ(buf []byte) error {
	size := uint64(len(buf))
	if size < statusFixedSize {
		return ssz.ErrSize
	}
	if o0 := ssz.ReadOffset(buf[0:4]); o0 != statusFixedSize {
		return ssz.ErrInvalidVariableOffset
	}
	tip := buf[statusFixedSize:]
	if len(tip) > types.MaxIdentifierLength {
		return ssz.ErrBytesLength
	}
	s.Tip = types.CertificateID(tip)
	return nil
}

// MarshalSSZ ssz marshals the CertificateChainRequest object
func (r *CertificateChainRequest) MarshalSSZ() ([]byte, error) {
	if len(r.From) > types.MaxIdentifierLength {
		return nil, ssz.ErrBytesLength
	}
	dst := make([]byte, 0, chainRequestFixedSize+len(r.From))

	// Field (0) 'Count'
	dst = ssz.MarshalUint64(dst, r.Count)

	// Offset (1) 'From'
	dst = ssz.WriteOffset(dst, chainRequestFixedSize)

	// Field (1) 'From'
	dst = append(dst, r.From...)
	return dst, nil
}

// UnmarshalSSZ ssz unmarshals the CertificateChainRequest object
func (r *CertificateChainRequest) UnmarshalSSZ(buf []byte) error {
	size := uint64(len(buf))
	if size < chainRequestFixedSize {
		return ssz.ErrSize
	}

	// Field (0) 'Count'
	r.Count = ssz.UnmarshallUint64(buf[0:8])

	// Offset (1) 'From'
	if o1 := ssz.ReadOffset(buf[8:12]); o1 != chainRequestFixedSize {
		return ssz.ErrInvalidVariableOffset
	}
	from := buf[chainRequestFixedSize:]
	if len(from) == 0 || len(from) > types.MaxIdentifierLength {
		return fmt.Errorf("from: %w", ssz.ErrBytesLength)
	}
	r.From = types.CertificateID(from)
	return nil
}
