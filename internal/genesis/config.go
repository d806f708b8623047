// Package genesis loads the network genesis file shared by every node of a
// network: the network name, the agreed local mean and the proposer set.
package genesis

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/geanlabs/poet/types"
)

// GenesisConfig holds the network-wide election parameters.
type GenesisConfig struct {
	NetworkName string
	LocalMean   float64
	Proposers   [][]byte
}

// configJSON is the intermediate struct for JSON unmarshaling.
type configJSON struct {
	NetworkName string   `json:"NETWORK_NAME"`
	LocalMean   float64  `json:"LOCAL_MEAN"`
	Proposers   []string `json:"GENESIS_PROPOSERS"`
}

// LoadFromFile loads a GenesisConfig from a JSON file.
func LoadFromFile(path string) (*GenesisConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading genesis file: %w", err)
	}
	return LoadFromJSON(data)
}

// LoadFromJSON loads a GenesisConfig from JSON bytes.
func LoadFromJSON(data []byte) (*GenesisConfig, error) {
	var raw configJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing genesis JSON: %w", err)
	}
	if raw.LocalMean < 0 || math.IsInf(raw.LocalMean, 0) {
		return nil, fmt.Errorf("invalid LOCAL_MEAN %v", raw.LocalMean)
	}

	config := &GenesisConfig{
		NetworkName: raw.NetworkName,
		LocalMean:   raw.LocalMean,
		Proposers:   make([][]byte, len(raw.Proposers)),
	}

	for i, hexStr := range raw.Proposers {
		pubkey, err := parseHexPubkey(hexStr)
		if err != nil {
			return nil, fmt.Errorf("parsing proposer %d pubkey: %w", i, err)
		}
		config.Proposers[i] = pubkey
	}

	return config, nil
}

// parseHexPubkey converts a hex string (with or without 0x prefix) to a
// compressed secp256k1 public key.
func parseHexPubkey(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s) != 2*types.CompressedKeyLength {
		return nil, fmt.Errorf("invalid pubkey length: got %d hex chars, want %d", len(s), 2*types.CompressedKeyLength)
	}

	decoded, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding hex: %w", err)
	}
	return decoded, nil
}

// ProposerHex returns the proposer keys as hex strings, in file order.
func (c *GenesisConfig) ProposerHex() []string {
	out := make([]string, len(c.Proposers))
	for i, pk := range c.Proposers {
		out[i] = hex.EncodeToString(pk)
	}
	return out
}
