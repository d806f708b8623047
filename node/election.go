package node

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"time"

	"github.com/geanlabs/poet/chain"
	"github.com/geanlabs/poet/clock"
	"github.com/geanlabs/poet/p2p"
	"github.com/geanlabs/poet/types"
	"github.com/geanlabs/poet/validator"
)

const roundRetryDelay = time.Second

// electionLoop competes for every tip until the node stops.
func (n *Node) electionLoop() {
	defer n.wg.Done()

	tips, unsubscribe := n.acceptor.Subscribe()
	defer unsubscribe()

	for {
		if n.ctx.Err() != nil {
			return
		}

		// Drop notifications for tips already superseded before reading
		// the tip this round competes for.
		select {
		case <-tips:
		default:
		}
		tip := n.acceptor.Tip()

		p, err := n.elector.RunRound(n.ctx, tip, tips)
		switch {
		case err == nil:
			n.propose(p)
		case errors.Is(err, validator.ErrRoundStale):
		case n.ctx.Err() != nil:
			return
		default:
			n.logger.Error("election round failed", "tip", tip.Short(), "err", err)
			select {
			case <-n.ctx.Done():
				return
			case <-time.After(roundRetryDelay):
			}
		}
	}
}

// propose accepts a won certificate locally and broadcasts it.
func (n *Node) propose(p *validator.Proposal) {
	key := n.signer.PublicKey()
	if err := n.acceptor.Accept(p.Certificate, chain.BlockDigest(p.Block), key); err != nil {
		n.logger.Debug("own certificate not accepted",
			"id", p.Certificate.ID().Short(),
			"err", err,
		)
		return
	}

	if n.pub == nil {
		return
	}
	a := &p2p.Announcement{
		Certificate: p.Certificate,
		ProposerKey: key,
		Block:       p.Block,
	}
	if err := n.pub.PublishAnnouncement(n.ctx, a); err != nil {
		n.logger.Error("failed to publish certificate",
			"id", p.Certificate.ID().Short(),
			"err", err,
		)
		return
	}
	n.logger.Info("published certificate",
		"id", p.Certificate.ID().Short(),
		"peers", n.PeerCount(),
	)
}

// heartbeatBlocks produces placeholder payloads for nodes without a block
// builder: the proposer key, the parent tip and the build time.
func heartbeatBlocks(proposer []byte, c clock.Clock) validator.BlockSource {
	return validator.BlockSourceFunc(func(_ context.Context, tip types.CertificateID) ([]byte, error) {
		block := make([]byte, 0, len(proposer)+len(tip)+8)
		block = append(block, proposer...)
		block = append(block, tip...)
		block = binary.LittleEndian.AppendUint64(block, math.Float64bits(c.Now()))
		return block, nil
	})
}
