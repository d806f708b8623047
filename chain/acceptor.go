// Package chain implements the receiver side of PoET leader election: the
// policy deciding whether a peer's signed wait certificate becomes the next
// chain tip.
package chain

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/geanlabs/poet/clock"
	"github.com/geanlabs/poet/observability/metrics"
	"github.com/geanlabs/poet/poet"
	"github.com/geanlabs/poet/storage"
	"github.com/geanlabs/poet/types"
)

// Config holds the acceptor's collaborators.
type Config struct {
	Store     storage.Store
	Proposers *KeyRing
	Verify    poet.VerifyFunc
	Clock     clock.Clock
	Metrics   *metrics.Collector
	Logger    *slog.Logger

	// Tolerance is how many seconds a certificate's expiry may lie in the
	// local future, absorbing clock skew between participants.
	Tolerance float64

	// LocalMean is the network's agreed mean wait. When positive, a
	// certificate whose timer was sampled with any other mean is rejected.
	LocalMean float64
}

// Acceptor tracks the local chain tip and accepts at most one certificate
// per tip.
type Acceptor struct {
	cfg    Config
	logger *slog.Logger

	mu          sync.Mutex
	tip         types.CertificateID
	subscribers map[int]chan types.CertificateID
	nextSubID   int
}

// NewAcceptor creates an acceptor whose tip is restored from cfg.Store.
func NewAcceptor(cfg Config) (*Acceptor, error) {
	if cfg.Store == nil {
		return nil, errors.New("acceptor requires a store")
	}
	if cfg.Verify == nil {
		return nil, errors.New("acceptor requires a verify function")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Proposers == nil {
		cfg.Proposers = NewKeyRing()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tip, err := cfg.Store.Tip()
	if err != nil {
		return nil, fmt.Errorf("load tip: %w", err)
	}

	return &Acceptor{
		cfg:         cfg,
		logger:      logger,
		tip:         tip,
		subscribers: make(map[int]chan types.CertificateID),
	}, nil
}

// Tip returns the id of the most recently accepted certificate.
func (a *Acceptor) Tip() types.CertificateID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tip
}

// HasCertificate reports whether id has been accepted.
func (a *Acceptor) HasCertificate(id types.CertificateID) (bool, error) {
	return a.cfg.Store.HasCertificate(id)
}

// GetCertificate returns an accepted certificate by id.
func (a *Acceptor) GetCertificate(id types.CertificateID) (*poet.SignedWaitCertificate, error) {
	return a.cfg.Store.GetCertificate(id)
}

// Accept checks signed against the local chain and, if it passes, makes it
// the new tip. blockDigest is the digest of the block the certificate is
// proposed with; publicKey is the sender's key.
//
// Checks run in order: known proposer, not a duplicate, links to the
// current tip, backs this block, sampled with the network mean, wait has
// elapsed, signature verifies.
func (a *Acceptor) Accept(signed *poet.SignedWaitCertificate, blockDigest string, publicKey []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.accept(signed, blockDigest, publicKey)
}

// Import accepts a certificate learned through chain sync, where the block
// itself is not available. The digest check is skipped and the signer is
// looked up among the registered proposers.
func (a *Acceptor) Import(signed *poet.SignedWaitCertificate) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var signer []byte
	for _, key := range a.cfg.Proposers.Keys() {
		if signed.Verify(key, a.cfg.Verify) {
			signer = key
			break
		}
	}
	if signer == nil {
		a.cfg.Metrics.CertificateRejected(metrics.ReasonUnknownProposer)
		return fmt.Errorf("%w: no registered proposer signed %s", ErrUnknownProposer, signed.ID().Short())
	}
	return a.accept(signed, signed.Certificate().BlockDigest(), signer)
}

// accept must be called with a.mu held.
func (a *Acceptor) accept(signed *poet.SignedWaitCertificate, blockDigest string, publicKey []byte) error {
	if err := a.check(signed, blockDigest, publicKey); err != nil {
		a.cfg.Metrics.CertificateRejected(rejectionReason(err))
		return err
	}

	if err := a.cfg.Store.Advance(signed); err != nil {
		a.cfg.Metrics.CertificateRejected(metrics.ReasonStorage)
		return fmt.Errorf("store certificate: %w", err)
	}
	prev := a.tip
	a.tip = signed.ID()
	a.notify(a.tip)
	a.cfg.Metrics.CertificateAccepted()

	cert := signed.Certificate()
	a.logger.Info("accepted wait certificate",
		"id", a.tip.Short(),
		"prev", prev.Short(),
		"duration", cert.Duration(),
		"local_mean", cert.LocalMean(),
	)
	return nil
}

func (a *Acceptor) check(signed *poet.SignedWaitCertificate, blockDigest string, publicKey []byte) error {
	cert := signed.Certificate()

	if !a.cfg.Proposers.Contains(publicKey) {
		return ErrUnknownProposer
	}

	known, err := a.cfg.Store.HasCertificate(signed.ID())
	if err != nil {
		return fmt.Errorf("lookup certificate: %w", err)
	}
	if known {
		return fmt.Errorf("%w: %s", ErrDuplicateCertificate, signed.ID().Short())
	}

	if cert.PreviousCertificateID() != a.tip {
		return fmt.Errorf("%w: certificate links to %s, tip is %s",
			ErrStaleChain, cert.PreviousCertificateID().Short(), a.tip.Short())
	}

	if cert.BlockDigest() != blockDigest {
		return ErrDigestMismatch
	}

	if a.cfg.LocalMean > 0 && cert.LocalMean() != a.cfg.LocalMean {
		return fmt.Errorf("%w: certificate mean %v, network mean %v", ErrLocalMeanMismatch, cert.LocalMean(), a.cfg.LocalMean)
	}

	if now := a.cfg.Clock.Now(); cert.ExpiresAt() > now+a.cfg.Tolerance {
		return fmt.Errorf("%w: expires at %.3f, now %.3f", ErrPrematureCertificate, cert.ExpiresAt(), now)
	}

	if !signed.Verify(publicKey, a.cfg.Verify) {
		return ErrInvalidSignature
	}
	return nil
}

// Subscribe returns a channel receiving each new tip and a function that
// cancels the subscription. Slow receivers only see the latest tip.
func (a *Acceptor) Subscribe() (<-chan types.CertificateID, func()) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ch := make(chan types.CertificateID, 1)
	id := a.nextSubID
	a.nextSubID++
	a.subscribers[id] = ch

	return ch, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.subscribers, id)
	}
}

// notify must be called with a.mu held.
func (a *Acceptor) notify(tip types.CertificateID) {
	for _, ch := range a.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- tip
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrUnknownProposer):
		return metrics.ReasonUnknownProposer
	case errors.Is(err, ErrDuplicateCertificate):
		return metrics.ReasonDuplicate
	case errors.Is(err, ErrStaleChain):
		return metrics.ReasonStaleChain
	case errors.Is(err, ErrDigestMismatch):
		return metrics.ReasonDigestMismatch
	case errors.Is(err, ErrLocalMeanMismatch):
		return metrics.ReasonLocalMean
	case errors.Is(err, ErrPrematureCertificate):
		return metrics.ReasonPremature
	case errors.Is(err, ErrInvalidSignature):
		return metrics.ReasonBadSignature
	default:
		return metrics.ReasonStorage
	}
}
