package node

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/geanlabs/poet/chain"
	"github.com/geanlabs/poet/clock"
	"github.com/geanlabs/poet/p2p"
	"github.com/geanlabs/poet/poet"
	"github.com/geanlabs/poet/signer"
	"github.com/geanlabs/poet/storage/memory"
	"github.com/geanlabs/poet/types"
)

type fakePublisher struct {
	mu   sync.Mutex
	sent []*p2p.Announcement
	ch   chan struct{}
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{ch: make(chan struct{}, 64)}
}

func (f *fakePublisher) PublishAnnouncement(_ context.Context, a *p2p.Announcement) error {
	f.mu.Lock()
	f.sent = append(f.sent, a)
	f.mu.Unlock()
	select {
	case f.ch <- struct{}{}:
	default:
	}
	return nil
}

func (f *fakePublisher) announcements() []*p2p.Announcement {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*p2p.Announcement(nil), f.sent...)
}

func newTestNode(t *testing.T, cfg *Config, c clock.Clock) *Node {
	t.Helper()
	key, err := signer.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	n, err := newNode(context.Background(), cfg, key, memory.New(), c, nil)
	if err != nil {
		t.Fatalf("newNode: %v", err)
	}
	return n
}

func peerAnnouncement(t *testing.T, s poet.Signer, prev types.CertificateID, block []byte) *p2p.Announcement {
	t.Helper()
	cert, err := poet.NewWaitCertificate(990, 5, prev, 10, "peer-nonce", chain.BlockDigest(block))
	if err != nil {
		t.Fatalf("NewWaitCertificate: %v", err)
	}
	signed, err := poet.Sign(cert, s)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return &p2p.Announcement{Certificate: signed, ProposerKey: s.PublicKey(), Block: block}
}

func TestNode_ElectsAndPublishes(t *testing.T) {
	n := newTestNode(t, &Config{LocalMean: 0.01}, clock.New())
	pub := newFakePublisher()
	n.pub = pub

	n.Start()
	deadline := time.After(10 * time.Second)
	for len(pub.announcements()) < 3 {
		select {
		case <-pub.ch:
		case <-deadline:
			n.Stop()
			t.Fatalf("published %d certificates, want 3", len(pub.announcements()))
		}
	}
	n.Stop()

	sent := pub.announcements()
	if sent[0].Certificate.Certificate().PreviousCertificateID() != types.NullCertificateID {
		t.Error("first certificate should link to the null id")
	}
	for i := 1; i < len(sent); i++ {
		prev := sent[i].Certificate.Certificate().PreviousCertificateID()
		if prev != sent[i-1].Certificate.ID() {
			t.Errorf("certificate %d links to %s, want %s", i, prev, sent[i-1].Certificate.ID())
		}
	}
	for i, a := range sent {
		if !a.Certificate.Verify(n.PublicKey(), signer.Verify) {
			t.Errorf("certificate %d does not verify", i)
		}
		if a.Certificate.Certificate().BlockDigest() != chain.BlockDigest(a.Block) {
			t.Errorf("certificate %d does not back its block", i)
		}
	}
	if n.Tip().IsNull() {
		t.Error("tip should have advanced")
	}
}

func TestNode_HandleAnnouncement(t *testing.T) {
	peerKey, err := signer.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	stranger, err := signer.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	cfg := &Config{
		LocalMean: 10,
		Proposers: []string{"0x" + hex.EncodeToString(peerKey.PublicKey())},
	}
	n := newTestNode(t, cfg, clock.NewManual(1000))
	block := []byte("peer block")

	t.Run("unknown proposer", func(t *testing.T) {
		a := peerAnnouncement(t, stranger, types.NullCertificateID, block)
		if err := n.handleAnnouncement(context.Background(), a, ""); !errors.Is(err, chain.ErrUnknownProposer) {
			t.Errorf("err = %v, want ErrUnknownProposer", err)
		}
	})

	t.Run("digest mismatch", func(t *testing.T) {
		a := peerAnnouncement(t, peerKey, types.NullCertificateID, block)
		a.Block = []byte("another block")
		if err := n.handleAnnouncement(context.Background(), a, ""); !errors.Is(err, chain.ErrDigestMismatch) {
			t.Errorf("err = %v, want ErrDigestMismatch", err)
		}
	})

	t.Run("local mean mismatch", func(t *testing.T) {
		cert, err := poet.NewWaitCertificate(990, 5, types.NullCertificateID, 20, "peer-nonce", chain.BlockDigest(block))
		if err != nil {
			t.Fatalf("NewWaitCertificate: %v", err)
		}
		signed, err := poet.Sign(cert, peerKey)
		if err != nil {
			t.Fatalf("Sign: %v", err)
		}
		a := &p2p.Announcement{Certificate: signed, ProposerKey: peerKey.PublicKey(), Block: block}
		if err := n.handleAnnouncement(context.Background(), a, ""); !errors.Is(err, chain.ErrLocalMeanMismatch) {
			t.Errorf("err = %v, want ErrLocalMeanMismatch", err)
		}
	})

	a := peerAnnouncement(t, peerKey, types.NullCertificateID, block)

	t.Run("accepted", func(t *testing.T) {
		if err := n.handleAnnouncement(context.Background(), a, ""); err != nil {
			t.Fatalf("handleAnnouncement: %v", err)
		}
		if n.Tip() != a.Certificate.ID() {
			t.Errorf("tip = %s, want %s", n.Tip(), a.Certificate.ID())
		}
		if _, err := n.store.GetCertificate(a.Certificate.ID()); err != nil {
			t.Errorf("accepted certificate not stored: %v", err)
		}
	})

	t.Run("replayed", func(t *testing.T) {
		if err := n.handleAnnouncement(context.Background(), a, ""); !errors.Is(err, chain.ErrDuplicateCertificate) {
			t.Errorf("err = %v, want ErrDuplicateCertificate", err)
		}
	})

	t.Run("stale", func(t *testing.T) {
		late := peerAnnouncement(t, peerKey, types.NullCertificateID, []byte("late block"))
		if err := n.handleAnnouncement(context.Background(), late, ""); !errors.Is(err, chain.ErrStaleChain) {
			t.Errorf("err = %v, want ErrStaleChain", err)
		}
	})
}

func TestNewNode_InvalidProposer(t *testing.T) {
	key, _ := signer.Generate()
	cfg := &Config{LocalMean: 1, Proposers: []string{"zz"}}
	if _, err := newNode(context.Background(), cfg, key, memory.New(), clock.New(), nil); err == nil {
		t.Error("expected error for invalid proposer key")
	}
}

func TestHeartbeatBlocks(t *testing.T) {
	c := clock.NewManual(1000)
	blocks := heartbeatBlocks([]byte{0x02, 0x03}, c)

	first, err := blocks.NextBlock(context.Background(), "tip-a")
	if err != nil {
		t.Fatalf("NextBlock: %v", err)
	}
	other, _ := blocks.NextBlock(context.Background(), "tip-b")
	c.Advance(1)
	later, _ := blocks.NextBlock(context.Background(), "tip-a")

	if chain.BlockDigest(first) == chain.BlockDigest(other) {
		t.Error("blocks on different tips should differ")
	}
	if chain.BlockDigest(first) == chain.BlockDigest(later) {
		t.Error("blocks built at different times should differ")
	}
}
