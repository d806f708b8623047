package poet

import (
	"bytes"
	"fmt"
	"math"

	"github.com/geanlabs/poet/types"
)

// WaitCertificate is the transmissible proof that a wait was observed,
// bound to one chain position and one block digest. Its fields are fixed at
// construction.
//
// A WaitCertificate is always unsigned. Signing produces a distinct
// SignedWaitCertificate, so an unsigned certificate can never be verified.
type WaitCertificate struct {
	requestTime           float64
	duration              float64
	previousCertificateID types.CertificateID
	localMean             float64
	nonce                 string
	blockDigest           string

	id types.CertificateID
}

// NewWaitCertificateFromTimer copies the timer's fields into a new certificate
// bound to nonce and blockDigest. It does not check that the timer has
// expired or that it matches the current tip; both are the caller's policy.
func NewWaitCertificateFromTimer(timer *WaitTimer, nonce, blockDigest string) (*WaitCertificate, error) {
	if timer == nil {
		return nil, fmt.Errorf("%w: nil wait timer", ErrInvalidParameter)
	}
	return NewWaitCertificate(
		timer.requestTime,
		timer.duration,
		timer.previousCertificateID,
		timer.localMean,
		nonce,
		blockDigest,
	)
}

// NewWaitCertificate builds a certificate from explicit field values.
func NewWaitCertificate(
	requestTime, duration float64,
	previousCertificateID types.CertificateID,
	localMean float64,
	nonce, blockDigest string,
) (*WaitCertificate, error) {
	// Reuse the timer checks for the four copied fields.
	timer, err := NewWaitTimer(requestTime, duration, previousCertificateID, localMean)
	if err != nil {
		return nil, err
	}
	if err := validateString("nonce", nonce); err != nil {
		return nil, err
	}
	if err := validateString("block digest", blockDigest); err != nil {
		return nil, err
	}

	c := &WaitCertificate{
		requestTime:           timer.requestTime,
		duration:              timer.duration,
		previousCertificateID: timer.previousCertificateID,
		localMean:             timer.localMean,
		nonce:                 nonce,
		blockDigest:           blockDigest,
	}

	root, err := c.container().HashTreeRoot()
	if err != nil {
		return nil, fmt.Errorf("hash certificate: %w", err)
	}
	c.id = types.RootToID(root)
	return c, nil
}

// NewWaitCertificateFromBytes decodes a certificate from its canonical
// serialization. Any input that is not the exact output of Serialize for
// some valid certificate fails with ErrDeserialization.
func NewWaitCertificateFromBytes(data []byte) (*WaitCertificate, error) {
	var raw waitCertificateContainer
	if err := raw.UnmarshalSSZ(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeserialization, err)
	}
	if raw.Version != WireVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrDeserialization, raw.Version)
	}

	c, err := NewWaitCertificate(
		math.Float64frombits(raw.RequestTime),
		math.Float64frombits(raw.Duration),
		types.CertificateID(raw.PreviousCertificateID),
		math.Float64frombits(raw.LocalMean),
		string(raw.Nonce),
		string(raw.BlockDigest),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeserialization, err)
	}

	// Negative zero and similar encodings decode to valid values but would not
	// re-serialize to the same bytes.
	reencoded, err := c.Serialize()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeserialization, err)
	}
	if !bytes.Equal(reencoded, data) {
		return nil, fmt.Errorf("%w: non-canonical encoding", ErrDeserialization)
	}
	return c, nil
}

func (c *WaitCertificate) RequestTime() float64 { return c.requestTime }
func (c *WaitCertificate) Duration() float64    { return c.duration }
func (c *WaitCertificate) LocalMean() float64   { return c.localMean }
func (c *WaitCertificate) Nonce() string        { return c.nonce }
func (c *WaitCertificate) BlockDigest() string  { return c.blockDigest }

func (c *WaitCertificate) PreviousCertificateID() types.CertificateID {
	return c.previousCertificateID
}

// ID returns the certificate's chain identifier: the hex hash tree root of
// its six fields. The next round's timers link to it.
func (c *WaitCertificate) ID() types.CertificateID {
	return c.id
}

// ExpiresAt returns the time at which the wait recorded in the certificate
// elapsed.
func (c *WaitCertificate) ExpiresAt() float64 {
	return c.requestTime + c.duration
}

// Serialize returns the canonical encoding of the certificate. Two
// certificates with equal fields always serialize to identical bytes.
func (c *WaitCertificate) Serialize() ([]byte, error) {
	return c.container().MarshalSSZ()
}

// Equal reports whether both certificates carry identical fields.
func (c *WaitCertificate) Equal(other *WaitCertificate) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.requestTime == other.requestTime &&
		c.duration == other.duration &&
		c.previousCertificateID == other.previousCertificateID &&
		c.localMean == other.localMean &&
		c.nonce == other.nonce &&
		c.blockDigest == other.blockDigest
}

func (c *WaitCertificate) String() string {
	return fmt.Sprintf("WaitCertificate{id=%s prev=%s duration=%.6f local_mean=%.6f}",
		c.id.Short(), c.previousCertificateID.Short(), c.duration, c.localMean)
}

func (c *WaitCertificate) container() *waitCertificateContainer {
	return &waitCertificateContainer{
		Version:               WireVersion,
		RequestTime:           math.Float64bits(c.requestTime),
		Duration:              math.Float64bits(c.duration),
		PreviousCertificateID: []byte(c.previousCertificateID),
		LocalMean:             math.Float64bits(c.localMean),
		Nonce:                 []byte(c.nonce),
		BlockDigest:           []byte(c.blockDigest),
	}
}
