// Package poet implements the Proof-of-Elapsed-Time leader election primitive:
// randomized wait timers and the signed, chain-linked wait certificates built
// from them.
//
// A participant creates a WaitTimer against the current chain tip, waits
// until it expires, and turns it into a WaitCertificate bound to the digest of
// its candidate block. The certificate's canonical serialization is signed and
// broadcast; receivers rebuild the certificate from the same bytes and verify
// the signature before accepting the sender as leader.
package poet

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/geanlabs/poet/clock"
	"github.com/geanlabs/poet/types"
)

// WaitTimer is a sampled waiting obligation. It is held by its creator until
// it is consumed into a WaitCertificate or discarded because the chain tip
// moved.
type WaitTimer struct {
	requestTime           float64
	duration              float64
	previousCertificateID types.CertificateID
	localMean             float64
}

// CreateWaitTimer samples a wait duration from an exponential distribution
// with mean localMean. The timer is bound to previousCertificateID and starts
// at c.Now(). random must be a cryptographically adequate source such as
// crypto/rand.Reader.
func CreateWaitTimer(localMean float64, previousCertificateID types.CertificateID, c clock.Clock, random io.Reader) (*WaitTimer, error) {
	if err := validateTimerParams(localMean, previousCertificateID); err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("%w: nil clock", ErrInvalidParameter)
	}
	if random == nil {
		return nil, fmt.Errorf("%w: nil randomness source", ErrInvalidParameter)
	}

	u, err := sampleUnit(random)
	if err != nil {
		return nil, fmt.Errorf("sample duration: %w", err)
	}

	return NewWaitTimer(c.Now(), -localMean*math.Log(u), previousCertificateID, localMean)
}

// NewWaitTimer builds a timer from fixed values, bypassing sampling. It
// applies the same checks as CreateWaitTimer.
func NewWaitTimer(requestTime, duration float64, previousCertificateID types.CertificateID, localMean float64) (*WaitTimer, error) {
	if err := validateTimerParams(localMean, previousCertificateID); err != nil {
		return nil, err
	}
	if !isFinite(requestTime) {
		return nil, fmt.Errorf("%w: request time must be finite, got %v", ErrInvalidParameter, requestTime)
	}
	if !isFinite(duration) || duration < 0 {
		return nil, fmt.Errorf("%w: duration must be finite and non-negative, got %v", ErrInvalidParameter, duration)
	}

	return &WaitTimer{
		requestTime:           canonicalFloat(requestTime),
		duration:              canonicalFloat(duration),
		previousCertificateID: previousCertificateID,
		localMean:             localMean,
	}, nil
}

func (w *WaitTimer) RequestTime() float64 { return w.requestTime }
func (w *WaitTimer) Duration() float64    { return w.duration }
func (w *WaitTimer) LocalMean() float64   { return w.localMean }

func (w *WaitTimer) PreviousCertificateID() types.CertificateID {
	return w.previousCertificateID
}

// ExpiresAt returns the time in seconds at which the wait has elapsed.
func (w *WaitTimer) ExpiresAt() float64 {
	return w.requestTime + w.duration
}

// HasExpired reports whether the wait has elapsed according to c.
func (w *WaitTimer) HasExpired(c clock.Clock) bool {
	return c.Now() >= w.ExpiresAt()
}

// IsStale reports whether the timer was created against a tip other than tip.
// A stale timer must be discarded, not certified.
func (w *WaitTimer) IsStale(tip types.CertificateID) bool {
	return w.previousCertificateID != tip
}

func validateTimerParams(localMean float64, previousCertificateID types.CertificateID) error {
	if !isFinite(localMean) || localMean <= 0 {
		return fmt.Errorf("%w: local mean must be positive, got %v", ErrInvalidParameter, localMean)
	}
	return validateString("previous certificate id", string(previousCertificateID))
}

func validateString(name, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is empty", ErrInvalidParameter, name)
	}
	if len(value) > types.MaxIdentifierLength {
		return fmt.Errorf("%w: %s is %d bytes, max %d", ErrInvalidParameter, name, len(value), types.MaxIdentifierLength)
	}
	return nil
}

// sampleUnit draws a uniform value in (0, 1] from 53 random bits.
func sampleUnit(random io.Reader) (float64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(random, buf[:]); err != nil {
		return 0, err
	}
	bits := binary.BigEndian.Uint64(buf[:]) >> 11
	return float64(bits+1) / (1 << 53), nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// canonicalFloat folds negative zero into positive zero so that equal values
// always encode to the same bits.
func canonicalFloat(f float64) float64 {
	if f == 0 {
		return 0
	}
	return f
}
