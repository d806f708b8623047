// Package node wires the election, acceptance, storage and gossip layers
// into a running PoET participant.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	p2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/geanlabs/poet/chain"
	"github.com/geanlabs/poet/clock"
	"github.com/geanlabs/poet/observability/metrics"
	"github.com/geanlabs/poet/p2p"
	"github.com/geanlabs/poet/p2p/chainsync"
	"github.com/geanlabs/poet/p2p/reqresp"
	"github.com/geanlabs/poet/signer"
	"github.com/geanlabs/poet/storage"
	"github.com/geanlabs/poet/storage/memory"
	"github.com/geanlabs/poet/storage/pebbledb"
	"github.com/geanlabs/poet/types"
	"github.com/geanlabs/poet/validator"
)

// publisher broadcasts won certificates.
type publisher interface {
	PublishAnnouncement(ctx context.Context, a *p2p.Announcement) error
}

type Node struct {
	config   *Config
	signer   *signer.Secp256k1
	store    storage.Store
	acceptor *chain.Acceptor
	elector  *validator.Elector
	net      *p2p.Service
	syncer   *chainsync.Syncer
	pub      publisher
	registry *prometheus.Registry
	metrics  *metrics.Collector
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Config struct {
	NetworkName        string
	ListenAddrs        []string
	Bootnodes          []string
	KeyFile            string
	DataDir            string // empty keeps the chain in memory
	LocalMean          float64
	Proposers          []string
	MetricsAddr        string
	PrematureTolerance float64
	Blocks             validator.BlockSource // defaults to a heartbeat payload
	Logger             *slog.Logger
}

// New creates a new node with the given configuration.
func New(ctx context.Context, cfg *Config) (*Node, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	key, err := signer.LoadOrGenerate(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load node key: %w", err)
	}

	store, err := openStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	n, err := newNode(ctx, cfg, key, store, clock.New(), logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	// The libp2p identity is derived from the signing key.
	privKey, err := p2pcrypto.UnmarshalSecp256k1PrivateKey(key.Bytes())
	if err != nil {
		n.close()
		return nil, fmt.Errorf("derive host key: %w", err)
	}

	host, err := p2p.NewHost(n.ctx, p2p.HostConfig{
		PrivateKey:  privKey,
		ListenAddrs: cfg.ListenAddrs,
	})
	if err != nil {
		n.close()
		return nil, fmt.Errorf("create host: %w", err)
	}

	bootnodes, err := p2p.ParseBootnodes(cfg.Bootnodes)
	if err != nil {
		host.Close()
		n.close()
		return nil, fmt.Errorf("parse bootnodes: %w", err)
	}

	netSvc, err := p2p.NewService(n.ctx, p2p.ServiceConfig{
		Host: host,
		Handlers: &p2p.MessageHandlers{
			OnAnnouncement: n.handleAnnouncement,
			Logger:         logger,
		},
		Bootnodes:   bootnodes,
		NetworkName: cfg.NetworkName,
		Metrics:     n.metrics,
		Logger:      logger,
	})
	if err != nil {
		host.Close()
		n.close()
		return nil, fmt.Errorf("create p2p service: %w", err)
	}
	n.net = netSvc
	n.pub = netSvc

	// Request/response protocols for catching up on the chain.
	streamHandler := reqresp.NewStreamHandler(host, reqresp.NewHandler(n.acceptor), func(from peer.ID, status *reqresp.Status) {
		n.syncer.OnPeerStatus(from, status)
	}, logger)

	n.syncer = chainsync.NewSyncer(n.ctx, chainsync.Config{
		Host:      host,
		Chain:     n.acceptor,
		Requester: streamHandler,
		Logger:    logger,
	})
	streamHandler.RegisterProtocols()

	return n, nil
}

// newNode builds everything except the network layer.
func newNode(ctx context.Context, cfg *Config, key *signer.Secp256k1, store storage.Store, c clock.Clock, logger *slog.Logger) (*Node, error) {
	if logger == nil {
		logger = slog.Default()
	}

	proposers, err := chain.ParseKeyRing(cfg.Proposers)
	if err != nil {
		return nil, fmt.Errorf("parse proposers: %w", err)
	}
	proposers.Add(key.PublicKey())

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	acceptor, err := chain.NewAcceptor(chain.Config{
		Store:     store,
		Proposers: proposers,
		Verify:    signer.Verify,
		Clock:     c,
		Metrics:   m,
		Logger:    logger,
		Tolerance: cfg.PrematureTolerance,
		LocalMean: cfg.LocalMean,
	})
	if err != nil {
		return nil, fmt.Errorf("create acceptor: %w", err)
	}

	blocks := cfg.Blocks
	if blocks == nil {
		blocks = heartbeatBlocks(key.PublicKey(), c)
	}

	elector, err := validator.New(validator.Config{
		Signer:    key,
		Blocks:    blocks,
		LocalMean: cfg.LocalMean,
		Clock:     c,
		Metrics:   m,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create elector: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	return &Node{
		config:   cfg,
		signer:   key,
		store:    store,
		acceptor: acceptor,
		elector:  elector,
		registry: registry,
		metrics:  m,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

func openStore(dataDir string) (storage.Store, error) {
	if dataDir == "" {
		return memory.New(), nil
	}
	store, err := pebbledb.Open(dataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return store, nil
}

// Start begins node operation.
func (n *Node) Start() {
	if n.net != nil {
		n.net.Start()
		n.syncer.Start()
	}

	if n.config.MetricsAddr != "" {
		metrics.Serve(n.ctx, n.config.MetricsAddr, n.registry, n.logger)
	}

	n.wg.Add(1)
	go n.electionLoop()

	n.logger.Info("node started",
		"tip", n.acceptor.Tip().Short(),
		"local_mean", n.config.LocalMean,
		"proposers", n.config.Proposers,
	)
}

// Stop gracefully shuts down the node.
func (n *Node) Stop() {
	n.cancel()
	n.wg.Wait()
	if n.net != nil {
		n.syncer.Stop()
		n.net.Stop()
	}
	if err := n.store.Close(); err != nil {
		n.logger.Error("failed to close store", "err", err)
	}
	n.logger.Info("node stopped")
}

func (n *Node) close() {
	n.cancel()
	n.store.Close()
}

// handleAnnouncement offers a peer's certificate to the acceptor.
func (n *Node) handleAnnouncement(_ context.Context, a *p2p.Announcement, from peer.ID) error {
	err := n.acceptor.Accept(a.Certificate, chain.BlockDigest(a.Block), a.ProposerKey)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, chain.ErrStaleChain), errors.Is(err, chain.ErrDuplicateCertificate):
		// Losing a race to another leader is routine.
		return fmt.Errorf("accept certificate: %w", err)
	default:
		n.logger.Warn("rejected certificate",
			"id", a.Certificate.ID().Short(),
			"from", from,
			"err", err,
		)
		return fmt.Errorf("accept certificate: %w", err)
	}
}

// Tip returns the id of the current chain tip.
func (n *Node) Tip() types.CertificateID {
	return n.acceptor.Tip()
}

// PublicKey returns the node's compressed signing key.
func (n *Node) PublicKey() []byte {
	return n.signer.PublicKey()
}

// PeerCount returns the number of connected peers.
func (n *Node) PeerCount() int {
	if n.net == nil {
		return 0
	}
	return n.net.PeerCount()
}
