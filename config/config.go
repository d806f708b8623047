// Package config loads the node configuration file.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultListenAddr         = "/ip4/0.0.0.0/tcp/9000"
	DefaultLocalMean          = 30.0
	DefaultPrematureTolerance = 1.0
	DefaultLogLevel           = "info"
	DefaultKeyFile            = "node.key"
	DefaultNetworkName        = "devnet0"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config is the on-disk node configuration.
type Config struct {
	NetworkName        string   `yaml:"network_name"`
	ListenAddrs        []string `yaml:"listen_addrs"`
	Bootnodes          []string `yaml:"bootnodes"`
	NodesFile          string   `yaml:"nodes_file"`
	GenesisFile        string   `yaml:"genesis_file"`
	KeyFile            string   `yaml:"key_file"`
	DataDir            string   `yaml:"data_dir"`
	LocalMean          float64  `yaml:"local_mean"`
	Proposers          []string `yaml:"proposers"`
	LogLevel           string   `yaml:"log_level"`
	MetricsAddr        string   `yaml:"metrics_addr"`
	PrematureTolerance float64  `yaml:"premature_tolerance"`
}

// Default returns a configuration with every field at its default.
func Default() *Config {
	return &Config{
		NetworkName:        DefaultNetworkName,
		ListenAddrs:        []string{DefaultListenAddr},
		KeyFile:            DefaultKeyFile,
		LocalMean:          DefaultLocalMean,
		LogLevel:           DefaultLogLevel,
		PrematureTolerance: DefaultPrematureTolerance,
	}
}

// Load reads a YAML config file over the defaults. Bootnodes listed in
// nodes_file are appended to the inline bootnodes, and their public keys to
// the inline proposers.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.NodesFile != "" {
		nodes, err := LoadNodes(cfg.NodesFile)
		if err != nil {
			return nil, err
		}
		cfg.Bootnodes = append(cfg.Bootnodes, nodes.Bootnodes...)
		cfg.Proposers = append(cfg.Proposers, nodes.Proposers...)
	}

	return cfg, nil
}

// Validate checks the values a node cannot start without.
func (c *Config) Validate() error {
	if !(c.LocalMean > 0) || math.IsInf(c.LocalMean, 0) {
		return fmt.Errorf("%w: local_mean must be positive and finite, got %v", ErrInvalidConfig, c.LocalMean)
	}
	if c.PrematureTolerance < 0 || math.IsNaN(c.PrematureTolerance) || math.IsInf(c.PrematureTolerance, 0) {
		return fmt.Errorf("%w: premature_tolerance must be non-negative, got %v", ErrInvalidConfig, c.PrematureTolerance)
	}
	if len(c.ListenAddrs) == 0 {
		return fmt.Errorf("%w: no listen_addrs", ErrInvalidConfig)
	}
	if c.KeyFile == "" {
		return fmt.Errorf("%w: key_file is required", ErrInvalidConfig)
	}
	return nil
}
