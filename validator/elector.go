// Package validator runs the local side of PoET leader election: sampling a
// wait timer against the chain tip, sleeping it out, and certifying a block
// if no other leader was accepted first.
package validator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/geanlabs/poet/chain"
	"github.com/geanlabs/poet/clock"
	"github.com/geanlabs/poet/observability/metrics"
	"github.com/geanlabs/poet/poet"
	"github.com/geanlabs/poet/types"
)

// NonceLength is the number of random bytes in a certificate nonce.
const NonceLength = 16

// BlockSource builds the payload a leader proposes on top of tip.
type BlockSource interface {
	NextBlock(ctx context.Context, tip types.CertificateID) ([]byte, error)
}

// BlockSourceFunc adapts a function to BlockSource.
type BlockSourceFunc func(ctx context.Context, tip types.CertificateID) ([]byte, error)

func (f BlockSourceFunc) NextBlock(ctx context.Context, tip types.CertificateID) ([]byte, error) {
	return f(ctx, tip)
}

// Config configures an Elector.
type Config struct {
	Signer    poet.Signer
	Blocks    BlockSource
	LocalMean float64
	Clock     clock.Clock
	Random    io.Reader // defaults to crypto/rand
	Metrics   *metrics.Collector
	Logger    *slog.Logger
}

// Proposal is a won round: the signed certificate and the block it backs.
type Proposal struct {
	Certificate *poet.SignedWaitCertificate
	Block       []byte
}

// Elector runs election rounds for one signing key.
type Elector struct {
	cfg Config
	log *slog.Logger
}

// New creates an elector.
func New(cfg Config) (*Elector, error) {
	if cfg.Signer == nil {
		return nil, ErrNoSigner
	}
	if cfg.Blocks == nil {
		return nil, ErrNoBlocks
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Random == nil {
		cfg.Random = rand.Reader
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Elector{cfg: cfg, log: log}, nil
}

// RunRound competes for the block after tip. It waits out a freshly sampled
// timer and returns a signed proposal. If a different tip arrives on tips
// before the timer expires the round is abandoned with ErrRoundStale.
func (e *Elector) RunRound(ctx context.Context, tip types.CertificateID, tips <-chan types.CertificateID) (*Proposal, error) {
	timer, err := poet.CreateWaitTimer(e.cfg.LocalMean, tip, e.cfg.Clock, e.cfg.Random)
	if err != nil {
		return nil, fmt.Errorf("create wait timer: %w", err)
	}
	e.cfg.Metrics.TimerCreated(timer.Duration())
	e.log.Debug("wait timer created",
		"prev", tip.Short(),
		"duration", timer.Duration(),
	)

	if err := e.wait(ctx, timer, tips); err != nil {
		return nil, err
	}

	block, err := e.cfg.Blocks.NextBlock(ctx, tip)
	if err != nil {
		return nil, fmt.Errorf("build block: %w", err)
	}

	nonce, err := e.nonce()
	if err != nil {
		return nil, err
	}

	cert, err := poet.NewWaitCertificateFromTimer(timer, nonce, chain.BlockDigest(block))
	if err != nil {
		return nil, fmt.Errorf("create wait certificate: %w", err)
	}
	signed, err := poet.Sign(cert, e.cfg.Signer)
	if err != nil {
		return nil, fmt.Errorf("sign wait certificate: %w", err)
	}
	e.cfg.Metrics.CertificateProduced()

	e.log.Info("won election round",
		"id", signed.ID().Short(),
		"prev", tip.Short(),
		"duration", timer.Duration(),
	)
	return &Proposal{Certificate: signed, Block: block}, nil
}

// wait blocks until timer has expired by the elector's clock.
func (e *Elector) wait(ctx context.Context, timer *poet.WaitTimer, tips <-chan types.CertificateID) error {
	tip := timer.PreviousCertificateID()
	t := time.NewTimer(clock.Until(e.cfg.Clock.Now(), timer.ExpiresAt()))
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case next := <-tips:
			if !timer.IsStale(next) {
				continue
			}
			e.cfg.Metrics.RoundAbandoned()
			e.log.Debug("wait timer discarded",
				"prev", tip.Short(),
				"tip", next.Short(),
			)
			return fmt.Errorf("%w: now %s", ErrRoundStale, next.Short())
		case <-t.C:
			if timer.HasExpired(e.cfg.Clock) {
				return nil
			}
			t.Reset(clock.Until(e.cfg.Clock.Now(), timer.ExpiresAt()))
		}
	}
}

func (e *Elector) nonce() (string, error) {
	buf := make([]byte, NonceLength)
	if _, err := io.ReadFull(e.cfg.Random, buf); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
