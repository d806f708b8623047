package p2p

import (
	"bytes"
	"errors"
	"fmt"

	ssz "github.com/ferranbt/fastssz"

	"github.com/geanlabs/poet/poet"
	"github.com/geanlabs/poet/types"
)

const (
	// MaxBlockSize bounds the opaque block payload carried with a certificate.
	MaxBlockSize = 1 << 20

	announcementFixedSize = 4 + types.CompressedKeyLength + 4

	// MaxAnnouncementSize bounds a decoded announcement.
	MaxAnnouncementSize = announcementFixedSize + poet.MaxEnvelopeSize + MaxBlockSize
)

var (
	ErrMessageTooLarge = errors.New("message too large")
	ErrMalformed       = errors.New("malformed announcement")
)

// Announcement is the gossip message a leader broadcasts: its signed wait
// certificate, the key that signed it, and the block it backs.
type Announcement struct {
	Certificate *poet.SignedWaitCertificate
	ProposerKey []byte
	Block       []byte
}

// announcementContainer is the SSZ layout of an Announcement.
//
//	Envelope    []byte   `ssz-max:"909"`
//	ProposerKey [33]byte `ssz-size:"33"`
//	Block       []byte   `ssz-max:"1048576"`
type announcementContainer struct {
	Envelope    []byte
	ProposerKey [types.CompressedKeyLength]byte
	Block       []byte
}

// MarshalSSZ encodes the announcement.
func (a *Announcement) MarshalSSZ() ([]byte, error) {
	if a.Certificate == nil {
		return nil, fmt.Errorf("%w: missing certificate", ErrMalformed)
	}
	if len(a.ProposerKey) != types.CompressedKeyLength {
		return nil, fmt.Errorf("%w: proposer key is %d bytes, want %d", ErrMalformed, len(a.ProposerKey), types.CompressedKeyLength)
	}
	if len(a.Block) > MaxBlockSize {
		return nil, fmt.Errorf("%w: block is %d bytes", ErrMessageTooLarge, len(a.Block))
	}

	envelope, err := a.Certificate.MarshalSSZ()
	if err != nil {
		return nil, fmt.Errorf("marshal certificate: %w", err)
	}

	c := announcementContainer{Envelope: envelope, Block: a.Block}
	copy(c.ProposerKey[:], a.ProposerKey)

	dst := make([]byte, 0, announcementFixedSize+len(c.Envelope)+len(c.Block))
	offset := announcementFixedSize

	// Offset (0) 'Envelope'
	dst = ssz.WriteOffset(dst, offset)
	offset += len(c.Envelope)

	// Field (1) 'ProposerKey'
	dst = append(dst, c.ProposerKey[:]...)

	// Offset (2) 'Block'
	dst = ssz.WriteOffset(dst, offset)

	dst = append(dst, c.Envelope...)
	dst = append(dst, c.Block...)
	return dst, nil
}

// UnmarshalAnnouncement decodes an announcement and its embedded signed
// certificate. It does not verify the signature.
func UnmarshalAnnouncement(buf []byte) (*Announcement, error) {
	size := uint64(len(buf))
	if size < announcementFixedSize {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, ssz.ErrSize)
	}
	if size > MaxAnnouncementSize {
		return nil, ErrMessageTooLarge
	}

	var o0, o2 uint64

	// Offset (0) 'Envelope'
	if o0 = ssz.ReadOffset(buf[0:4]); o0 != announcementFixedSize {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, ssz.ErrInvalidVariableOffset)
	}

	// Field (1) 'ProposerKey'
	key := bytes.Clone(buf[4 : 4+types.CompressedKeyLength])

	// Offset (2) 'Block'
	if o2 = ssz.ReadOffset(buf[4+types.CompressedKeyLength : announcementFixedSize]); o2 > size || o0 > o2 {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, ssz.ErrOffset)
	}
	if o2-o0 > poet.MaxEnvelopeSize {
		return nil, fmt.Errorf("%w: envelope: %v", ErrMalformed, ssz.ErrBytesLength)
	}

	signed, err := poet.UnmarshalSignedWaitCertificate(buf[o0:o2])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return &Announcement{
		Certificate: signed,
		ProposerKey: key,
		Block:       bytes.Clone(buf[o2:]),
	}, nil
}
