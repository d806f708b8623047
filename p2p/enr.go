package p2p

import (
	"fmt"
	"net"
	"strconv"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/p2p/enode"
	"github.com/ethereum/go-ethereum/p2p/enr"
	libp2p_crypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// ENRToAddrInfo parses an ENR string and returns a libp2p AddrInfo. A TCP
// port is preferred; records with only a QUIC port yield a QUIC multiaddr.
func ENRToAddrInfo(enrStr string) (*peer.AddrInfo, error) {
	node, err := enode.Parse(enode.ValidSchemes, enrStr)
	if err != nil {
		return nil, fmt.Errorf("parse enr: %w", err)
	}

	ip := node.IP()
	if ip == nil {
		return nil, fmt.Errorf("enr has no IP")
	}

	var addrStr string
	var tcpPort enr.TCP
	var quicPort enr.QUIC
	switch {
	case node.Record().Load(&tcpPort) == nil:
		addrStr = fmt.Sprintf("/ip4/%s/tcp/%d", ip, tcpPort)
	case node.Record().Load(&quicPort) == nil:
		addrStr = fmt.Sprintf("/ip4/%s/udp/%d/quic-v1", ip, quicPort)
	default:
		return nil, fmt.Errorf("enr has no tcp or quic port")
	}

	pubkey := node.Pubkey()
	if pubkey == nil {
		return nil, fmt.Errorf("enr has no public key")
	}
	compressed := crypto.CompressPubkey(pubkey)
	libp2pKey, err := libp2p_crypto.UnmarshalSecp256k1PublicKey(compressed)
	if err != nil {
		return nil, fmt.Errorf("convert pubkey: %w", err)
	}
	pid, err := peer.IDFromPublicKey(libp2pKey)
	if err != nil {
		return nil, fmt.Errorf("derive peer id: %w", err)
	}

	addr, err := ma.NewMultiaddr(addrStr)
	if err != nil {
		return nil, fmt.Errorf("build multiaddr: %w", err)
	}

	return &peer.AddrInfo{ID: pid, Addrs: []ma.Multiaddr{addr}}, nil
}

// LocalENR builds a signed ENR advertising the node reachable at
// listenAddr (an /ip4/.../tcp/... multiaddr) under the given secp256k1 key.
func LocalENR(privKey []byte, listenAddr string) (string, error) {
	key, err := crypto.ToECDSA(privKey)
	if err != nil {
		return "", fmt.Errorf("decode key: %w", err)
	}

	addr, err := ma.NewMultiaddr(listenAddr)
	if err != nil {
		return "", fmt.Errorf("parse multiaddr %s: %w", listenAddr, err)
	}
	ipStr, err := addr.ValueForProtocol(ma.P_IP4)
	if err != nil {
		return "", fmt.Errorf("multiaddr %s has no ip4 component", listenAddr)
	}
	ip := net.ParseIP(ipStr)
	if ip == nil || ip.IsUnspecified() {
		return "", fmt.Errorf("multiaddr %s does not name a routable ip", listenAddr)
	}
	portStr, err := addr.ValueForProtocol(ma.P_TCP)
	if err != nil {
		return "", fmt.Errorf("multiaddr %s has no tcp component", listenAddr)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", fmt.Errorf("parse tcp port: %w", err)
	}

	// An empty path opens an in-memory node database.
	db, err := enode.OpenDB("")
	if err != nil {
		return "", fmt.Errorf("open node db: %w", err)
	}
	defer db.Close()

	local := enode.NewLocalNode(db, key)
	local.Set(enr.IP(ip))
	local.Set(enr.TCP(port))
	return local.Node().String(), nil
}
