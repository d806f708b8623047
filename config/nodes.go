package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/geanlabs/poet/types"
)

// NodeEntry is one participant listed in a shared nodes.yaml. Either field
// may be empty, but not both: a proposer need not be a bootnode, and a
// bootnode need not propose.
type NodeEntry struct {
	Multiaddr string `yaml:"multiaddr"`
	PublicKey string `yaml:"public_key"` // hex compressed secp256k1 key
}

// Nodes is the content of a nodes.yaml split by use.
type Nodes struct {
	Bootnodes []string
	Proposers []string
}

// LoadNodes loads a nodes.yaml file shared by every participant.
// Supports both formats:
//   - Struct:  [{multiaddr: "/ip4/...", public_key: "02ab..."}]
//   - Plain:   ["/ip4/.../p2p/16Uiu2...", "enr:-IS4Q..."]
//
// The plain form lists bootnodes only.
func LoadNodes(path string) (*Nodes, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read nodes: %w", err)
	}

	var entries []NodeEntry
	if err := yaml.Unmarshal(data, &entries); err == nil {
		return collectNodes(entries)
	}

	var strs []string
	if err := yaml.Unmarshal(data, &strs); err != nil {
		return nil, fmt.Errorf("parse nodes: %w", err)
	}
	return &Nodes{Bootnodes: strs}, nil
}

func collectNodes(entries []NodeEntry) (*Nodes, error) {
	nodes := &Nodes{}
	for i, e := range entries {
		if e.Multiaddr == "" && e.PublicKey == "" {
			return nil, fmt.Errorf("node %d: needs a multiaddr or a public_key", i)
		}
		if e.Multiaddr != "" {
			nodes.Bootnodes = append(nodes.Bootnodes, e.Multiaddr)
		}
		if e.PublicKey != "" {
			if err := checkPublicKey(e.PublicKey); err != nil {
				return nil, fmt.Errorf("node %d: %w", i, err)
			}
			nodes.Proposers = append(nodes.Proposers, e.PublicKey)
		}
	}
	return nodes, nil
}

func checkPublicKey(s string) error {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return fmt.Errorf("public_key: %w", err)
	}
	if len(raw) != types.CompressedKeyLength {
		return fmt.Errorf("public_key is %d bytes, want %d", len(raw), types.CompressedKeyLength)
	}
	return nil
}
