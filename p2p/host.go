package p2p

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// HostConfig holds configuration for creating a libp2p host.
type HostConfig struct {
	PrivateKey  crypto.PrivKey
	ListenAddrs []string
}

// NewHost creates a new libp2p host with the given configuration.
func NewHost(ctx context.Context, cfg HostConfig) (host.Host, error) {
	var privKey crypto.PrivKey
	var err error

	if cfg.PrivateKey != nil {
		privKey = cfg.PrivateKey
	} else {
		privKey, _, err = crypto.GenerateKeyPairWithReader(crypto.Secp256k1, 256, rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate key: %w", err)
		}
	}

	listenAddrs := cfg.ListenAddrs
	if len(listenAddrs) == 0 {
		listenAddrs = []string{
			"/ip4/0.0.0.0/tcp/9000",
			"/ip4/0.0.0.0/udp/9000/quic-v1",
		}
	}

	h, err := libp2p.New(
		libp2p.Identity(privKey),
		libp2p.ListenAddrStrings(listenAddrs...),
	)
	if err != nil {
		return nil, fmt.Errorf("create host: %w", err)
	}

	return h, nil
}

// ParseBootnodes parses a list of multiaddr or ENR strings into peer.AddrInfo.
func ParseBootnodes(addrs []string) ([]peer.AddrInfo, error) {
	var peers []peer.AddrInfo
	for _, addr := range addrs {
		if strings.HasPrefix(addr, "enr:") {
			pi, err := ENRToAddrInfo(addr)
			if err != nil {
				return nil, fmt.Errorf("parse enr %s: %w", addr, err)
			}
			peers = append(peers, *pi)
			continue
		}
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			return nil, fmt.Errorf("parse multiaddr %s: %w", addr, err)
		}
		pi, err := peer.AddrInfoFromP2pAddr(ma)
		if err != nil {
			return nil, fmt.Errorf("parse peer info %s: %w", addr, err)
		}
		peers = append(peers, *pi)
	}
	return peers, nil
}
