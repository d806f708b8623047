// Package chainsync catches a node up on the certificate chain.
//
// When a node learns of a peer whose tip it does not hold (via the Status
// handshake), it walks the peer's chain backwards with CertificateChain
// requests until it reaches its own tip, then imports the missing
// certificates oldest first. A peer chain that reaches a known certificate
// other than the local tip is a fork and is not imported.
//
// Requests use exponential backoff retry (1s, 2s, 4s, max 3 retries) to
// handle transient stream failures gracefully.
package chainsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/geanlabs/poet/p2p/reqresp"
	"github.com/geanlabs/poet/poet"
	"github.com/geanlabs/poet/types"
)

var (
	ErrSyncInProgress  = errors.New("sync in progress")
	ErrMissingAncestor = errors.New("peer is missing an ancestor certificate")
	ErrBrokenChain     = errors.New("peer returned a certificate outside the requested chain")
	ErrFork            = errors.New("peer chain does not extend the local tip")
	ErrChainTooLong    = errors.New("peer chain exceeds sync limit")
)

// ChainStore is the local chain the syncer extends.
type ChainStore interface {
	Tip() types.CertificateID
	HasCertificate(id types.CertificateID) (bool, error)
	Import(signed *poet.SignedWaitCertificate) error
}

// Requester issues req/resp calls to peers. Satisfied by
// reqresp.StreamHandler.
type Requester interface {
	SendStatus(ctx context.Context, peerID peer.ID, status *reqresp.Status) (*reqresp.Status, error)
	RequestCertificateChain(ctx context.Context, peerID peer.ID, from types.CertificateID, count uint64) ([]*poet.SignedWaitCertificate, error)
}

const (
	reqrespTimeout = 30 * time.Second
	maxSyncRetries = 3
	baseRetryDelay = 1 * time.Second

	// MaxSyncCertificates bounds how far back a single sync walks.
	MaxSyncCertificates = 1 << 16
)

type SyncState int

const (
	SyncStateIdle SyncState = iota
	SyncStateSyncing
)

type Syncer struct {
	host      host.Host
	chain     ChainStore
	requester Requester
	batchSize uint64
	logger    *slog.Logger

	mu         sync.RWMutex
	peerStatus map[peer.ID]*reqresp.Status
	state      SyncState

	ctx    context.Context
	cancel context.CancelFunc
}

// Config holds syncer configuration.
type Config struct {
	Host      host.Host // optional; without it the syncer only syncs on demand
	Chain     ChainStore
	Requester Requester
	BatchSize uint64 // defaults to reqresp.MaxRequestCertificates
	Logger    *slog.Logger
}

// NewSyncer creates a new syncer.
func NewSyncer(ctx context.Context, cfg Config) *Syncer {
	ctx, cancel := context.WithCancel(ctx)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	batch := cfg.BatchSize
	if batch == 0 || batch > reqresp.MaxRequestCertificates {
		batch = reqresp.MaxRequestCertificates
	}

	return &Syncer{
		host:       cfg.Host,
		chain:      cfg.Chain,
		requester:  cfg.Requester,
		batchSize:  batch,
		logger:     logger,
		peerStatus: make(map[peer.ID]*reqresp.Status),
		state:      SyncStateIdle,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins the syncer background tasks.
func (s *Syncer) Start() {
	if s.host == nil {
		return
	}

	s.host.Network().Notify(&connectionNotifier{syncer: s, logger: s.logger})

	// Check for existing peers (e.g., bootnodes connected before syncer started)
	for _, peerID := range s.host.Network().Peers() {
		go func(pid peer.ID) {
			ctx, cancel := context.WithTimeout(s.ctx, reqrespTimeout)
			defer cancel()
			if err := s.InitiateStatusExchange(ctx, pid); err != nil {
				s.logger.Warn("status exchange with existing peer failed",
					"peer", pid,
					"err", err,
				)
			}
		}(peerID)
	}

	s.logger.Info("syncer started")
}

// Stop shuts down the syncer.
func (s *Syncer) Stop() {
	s.cancel()
	s.logger.Info("syncer stopped")
}

// InitiateStatusExchange sends our status and processes the peer's response.
func (s *Syncer) InitiateStatusExchange(ctx context.Context, peerID peer.ID) error {
	ourStatus := &reqresp.Status{Tip: s.chain.Tip()}

	s.logger.Debug("sending status to peer",
		"peer", peerID,
		"tip", ourStatus.Tip.Short(),
	)

	peerStatus, err := s.requester.SendStatus(ctx, peerID, ourStatus)
	if err != nil {
		return fmt.Errorf("send status: %w", err)
	}

	s.OnPeerStatus(peerID, peerStatus)
	return nil
}

// OnPeerStatus records a peer's status and starts a background sync if the
// peer's tip is unknown locally.
func (s *Syncer) OnPeerStatus(peerID peer.ID, status *reqresp.Status) {
	s.mu.Lock()
	s.peerStatus[peerID] = status
	s.mu.Unlock()

	known, err := s.isKnown(status.Tip)
	if err != nil {
		s.logger.Warn("status check failed", "peer", peerID, "err", err)
		return
	}
	if known {
		return
	}

	s.logger.Info("peer has unknown tip, initiating sync",
		"peer", peerID,
		"peer_tip", status.Tip.Short(),
		"our_tip", s.chain.Tip().Short(),
	)
	go func() {
		if err := s.SyncFromPeer(peerID, status.Tip); err != nil && !errors.Is(err, ErrSyncInProgress) {
			s.logger.Warn("sync failed", "peer", peerID, "err", err)
		}
	}()
}

// SyncFromPeer fetches the chain ending at target from peerID and imports
// the certificates missing locally.
func (s *Syncer) SyncFromPeer(peerID peer.ID, target types.CertificateID) error {
	s.mu.Lock()
	if s.state == SyncStateSyncing {
		s.mu.Unlock()
		return ErrSyncInProgress
	}
	s.state = SyncStateSyncing
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.state = SyncStateIdle
		s.mu.Unlock()
	}()

	pending, base, err := s.fetchMissing(peerID, target)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	if tip := s.chain.Tip(); base != tip {
		return fmt.Errorf("%w: branches at %s, tip is %s", ErrFork, base.Short(), tip.Short())
	}

	// pending is newest first.
	for i := len(pending) - 1; i >= 0; i-- {
		if err := s.chain.Import(pending[i]); err != nil {
			return fmt.Errorf("import %s: %w", pending[i].ID().Short(), err)
		}
	}

	s.logger.Info("synced certificates",
		"peer", peerID,
		"count", len(pending),
		"tip", s.chain.Tip().Short(),
	)
	return nil
}

// fetchMissing walks back from target until it reaches a certificate held
// locally (or the null id). It returns the missing certificates newest
// first and the id they build on.
func (s *Syncer) fetchMissing(peerID peer.ID, target types.CertificateID) ([]*poet.SignedWaitCertificate, types.CertificateID, error) {
	var pending []*poet.SignedWaitCertificate
	next := target

	for {
		known, err := s.isKnown(next)
		if err != nil {
			return nil, "", err
		}
		if known {
			return pending, next, nil
		}
		if len(pending) >= MaxSyncCertificates {
			return nil, "", ErrChainTooLong
		}

		batch, err := s.requestWithRetry(peerID, next)
		if err != nil {
			return nil, "", err
		}
		if len(batch) == 0 {
			return nil, "", fmt.Errorf("%w: %s", ErrMissingAncestor, next.Short())
		}

		for _, signed := range batch {
			if signed.ID() != next {
				return nil, "", fmt.Errorf("%w: got %s, want %s", ErrBrokenChain, signed.ID().Short(), next.Short())
			}
			pending = append(pending, signed)
			next = signed.Certificate().PreviousCertificateID()
			if known, err := s.isKnown(next); err != nil || known {
				break
			}
		}
	}
}

func (s *Syncer) isKnown(id types.CertificateID) (bool, error) {
	if id.IsNull() {
		return true, nil
	}
	return s.chain.HasCertificate(id)
}

// requestWithRetry wraps RequestCertificateChain with exponential backoff retry.
// Retries up to maxSyncRetries (3) times with delays of 1s, 2s, 4s.
func (s *Syncer) requestWithRetry(peerID peer.ID, from types.CertificateID) ([]*poet.SignedWaitCertificate, error) {
	var lastErr error
	for attempt := 0; attempt <= maxSyncRetries; attempt++ {
		if attempt > 0 {
			delay := baseRetryDelay * time.Duration(1<<(attempt-1)) // 1s, 2s, 4s
			s.logger.Debug("retrying certificate request",
				"peer", peerID,
				"attempt", attempt+1,
				"delay", delay,
			)
			select {
			case <-s.ctx.Done():
				return nil, s.ctx.Err()
			case <-time.After(delay):
			}
		}

		ctx, cancel := context.WithTimeout(s.ctx, reqrespTimeout)
		chain, err := s.requester.RequestCertificateChain(ctx, peerID, from, s.batchSize)
		cancel()
		if err == nil {
			return chain, nil
		}
		lastErr = err
		s.logger.Debug("certificate request failed",
			"peer", peerID,
			"attempt", attempt+1,
			"err", err,
		)
	}
	return nil, fmt.Errorf("after %d retries: %w", maxSyncRetries, lastErr)
}

// PeerStatus returns the last status received from peerID.
func (s *Syncer) PeerStatus(peerID peer.ID) (*reqresp.Status, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.peerStatus[peerID]
	return status, ok
}

// RemovePeer removes a peer from tracking.
func (s *Syncer) RemovePeer(peerID peer.ID) {
	s.mu.Lock()
	delete(s.peerStatus, peerID)
	s.mu.Unlock()
}

// connectionNotifier listens for peer connection events.
type connectionNotifier struct {
	syncer *Syncer
	logger *slog.Logger
}

// Listen implements network.Notifiee
func (n *connectionNotifier) Listen(network.Network, multiaddr.Multiaddr) {}

// ListenClose implements network.Notifiee
func (n *connectionNotifier) ListenClose(network.Network, multiaddr.Multiaddr) {}

// Connected is called when a new peer connection is established.
// The dialer sends Status first; the listener answers from its stream handler.
func (n *connectionNotifier) Connected(net network.Network, conn network.Conn) {
	peerID := conn.RemotePeer()
	if conn.Stat().Direction != network.DirOutbound {
		n.logger.Debug("new inbound connection", "peer", peerID)
		return
	}

	n.logger.Debug("new outbound connection, initiating status exchange", "peer", peerID)
	go func() {
		ctx, cancel := context.WithTimeout(n.syncer.ctx, reqrespTimeout)
		defer cancel()
		if err := n.syncer.InitiateStatusExchange(ctx, peerID); err != nil {
			n.logger.Warn("status exchange failed", "peer", peerID, "err", err)
		}
	}()
}

// Disconnected is called when a peer disconnects.
func (n *connectionNotifier) Disconnected(net network.Network, conn network.Conn) {
	peerID := conn.RemotePeer()
	n.logger.Debug("peer disconnected", "peer", peerID)
	n.syncer.RemovePeer(peerID)
}

var _ network.Notifiee = (*connectionNotifier)(nil)
