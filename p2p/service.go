package p2p

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/geanlabs/poet/observability/metrics"
)

// Service gossips certificate announcements over a single topic.
type Service struct {
	host     host.Host
	pubsub   *pubsub.PubSub
	handlers *MessageHandlers
	logger   *slog.Logger

	topic *pubsub.Topic
	sub   *pubsub.Subscription

	// Bootnodes that failed initial connection, to be retried.
	failedBootnodes []peer.AddrInfo

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ServiceConfig holds configuration for the p2p service.
type ServiceConfig struct {
	Host        host.Host
	Handlers    *MessageHandlers
	Bootnodes   []peer.AddrInfo
	NetworkName string
	Metrics     *metrics.Collector
	Logger      *slog.Logger
}

// NewService creates a new p2p service.
func NewService(ctx context.Context, cfg ServiceConfig) (*Service, error) {
	ctx, cancel := context.WithCancel(ctx)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ps, err := NewGossipSub(ctx, cfg.Host, DefaultGossipsubParams())
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create gossipsub: %w", err)
	}

	topicName := CertificateTopic(cfg.NetworkName)
	if err := ps.RegisterTopicValidator(topicName, announcementValidator(cfg.Metrics)); err != nil {
		cancel()
		return nil, fmt.Errorf("register validator: %w", err)
	}

	topic, err := ps.Join(topicName)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("join certificate topic: %w", err)
	}

	sub, err := topic.Subscribe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe certificate topic: %w", err)
	}

	svc := &Service{
		host:     cfg.Host,
		pubsub:   ps,
		handlers: cfg.Handlers,
		logger:   logger,
		topic:    topic,
		sub:      sub,
		ctx:      ctx,
		cancel:   cancel,
	}

	// Connect to bootnodes, track failures for retry
	for _, pi := range cfg.Bootnodes {
		if err := cfg.Host.Connect(ctx, pi); err != nil {
			logger.Warn("failed to connect to bootnode",
				"peer", pi.ID,
				"err", err,
			)
			svc.failedBootnodes = append(svc.failedBootnodes, pi)
		} else {
			logger.Info("connected to bootnode", "peer", pi.ID)
		}
	}

	return svc, nil
}

// announcementValidator drops undecodable messages before they propagate.
// Chain acceptance happens later in the handler.
func announcementValidator(m *metrics.Collector) func(context.Context, peer.ID, *pubsub.Message) pubsub.ValidationResult {
	return func(_ context.Context, _ peer.ID, msg *pubsub.Message) pubsub.ValidationResult {
		if _, err := decodeAnnouncement(msg.Data); err != nil {
			m.CertificateRejected(metrics.ReasonMalformed)
			return pubsub.ValidationReject
		}
		return pubsub.ValidationAccept
	}
}

// Start begins processing incoming messages.
func (s *Service) Start() {
	s.wg.Add(1)
	go s.processAnnouncements()

	if len(s.failedBootnodes) > 0 {
		s.wg.Add(1)
		go s.retryBootnodes()
	}

	s.logger.Info("p2p service started",
		"peer_id", s.host.ID(),
		"addrs", s.host.Addrs(),
	)
}

// Stop shuts down the p2p service.
func (s *Service) Stop() {
	s.cancel()
	s.sub.Cancel()
	s.wg.Wait()
	s.host.Close()
	s.logger.Info("p2p service stopped")
}

// PublishAnnouncement publishes a certificate announcement to the network.
func (s *Service) PublishAnnouncement(ctx context.Context, a *Announcement) error {
	data, err := EncodeAnnouncement(a)
	if err != nil {
		return err
	}
	return s.topic.Publish(ctx, data)
}

// PeerCount returns the number of connected peers.
func (s *Service) PeerCount() int {
	return len(s.host.Network().Peers())
}

const bootnodeRetryInterval = 30 * time.Second

// retryBootnodes periodically retries connecting to failed bootnodes.
func (s *Service) retryBootnodes() {
	defer s.wg.Done()

	ticker := time.NewTicker(bootnodeRetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			var remaining []peer.AddrInfo
			for _, pi := range s.failedBootnodes {
				if err := s.host.Connect(s.ctx, pi); err != nil {
					s.logger.Debug("bootnode reconnect failed", "peer", pi.ID, "err", err)
					remaining = append(remaining, pi)
				} else {
					s.logger.Info("reconnected to bootnode", "peer", pi.ID)
				}
			}
			s.failedBootnodes = remaining
			if len(s.failedBootnodes) == 0 {
				s.logger.Debug("all bootnodes connected, stopping retry")
				return
			}
		}
	}
}

// processAnnouncements handles incoming announcement messages.
func (s *Service) processAnnouncements() {
	defer s.wg.Done()

	for {
		msg, err := s.sub.Next(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return // context cancelled
			}
			s.logger.Error("certificate subscription error", "err", err)
			continue
		}

		// Skip self-published messages
		if msg.ReceivedFrom == s.host.ID() {
			continue
		}

		if s.handlers != nil {
			if err := s.handlers.HandleAnnouncementMessage(s.ctx, msg.Data, msg.ReceivedFrom); err != nil {
				s.logger.Debug("announcement rejected", "from", msg.ReceivedFrom, "err", err)
			}
		}
	}
}
