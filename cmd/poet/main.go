package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/geanlabs/poet/config"
	"github.com/geanlabs/poet/internal/genesis"
	"github.com/geanlabs/poet/node"
	"github.com/geanlabs/poet/observability/logging"
	"github.com/geanlabs/poet/p2p"
	"github.com/geanlabs/poet/signer"
)

func main() {
	var (
		configPath  string
		listenAddr  string
		bootnodes   string
		keyFile     string
		dataDir     string
		localMean   float64
		logLevel    string
		metricsAddr string
		network     string
		genesisPath string
		printENR    bool
	)

	flag.StringVar(&configPath, "config", "", "Path to YAML config file")
	flag.StringVar(&listenAddr, "listen", "", "Listen multiaddr (overrides config)")
	flag.StringVar(&bootnodes, "bootnodes", "", "Comma-separated bootnode multiaddrs")
	flag.StringVar(&keyFile, "key-file", "", "Path to the secp256k1 node key")
	flag.StringVar(&dataDir, "data-dir", "", "Certificate store directory (empty for in-memory)")
	flag.Float64Var(&localMean, "local-mean", 0, "Mean wait duration in seconds")
	flag.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "Prometheus listen address, e.g. :9102")
	flag.StringVar(&network, "network", "", "Network name used in gossip topics")
	flag.StringVar(&genesisPath, "genesis", "", "Path to genesis JSON (overrides config genesis_file)")
	flag.BoolVar(&printENR, "print-enr", false, "Print this node's ENR for the first listen address and exit")
	flag.Parse()

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	if genesisPath != "" {
		cfg.GenesisFile = genesisPath
	}
	if cfg.GenesisFile != "" {
		gen, err := genesis.LoadFromFile(cfg.GenesisFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load genesis: %v\n", err)
			os.Exit(1)
		}
		applyGenesis(cfg, gen)
	}

	// Flags override the file.
	if listenAddr != "" {
		cfg.ListenAddrs = []string{listenAddr}
	}
	if bootnodes != "" {
		cfg.Bootnodes = strings.Split(bootnodes, ",")
	}
	if keyFile != "" {
		cfg.KeyFile = keyFile
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if localMean != 0 {
		cfg.LocalMean = localMean
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}
	if network != "" {
		cfg.NetworkName = network
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	if printENR {
		if err := writeENR(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "failed to build enr: %v\n", err)
			os.Exit(1)
		}
		return
	}

	logger := logging.New(cfg.LogLevel, os.Stdout)

	n, err := node.New(context.Background(), &node.Config{
		NetworkName:        cfg.NetworkName,
		ListenAddrs:        cfg.ListenAddrs,
		Bootnodes:          cfg.Bootnodes,
		KeyFile:            cfg.KeyFile,
		DataDir:            cfg.DataDir,
		LocalMean:          cfg.LocalMean,
		Proposers:          cfg.Proposers,
		MetricsAddr:        cfg.MetricsAddr,
		PrematureTolerance: cfg.PrematureTolerance,
		Logger:             logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create node: %v\n", err)
		os.Exit(1)
	}

	n.Start()

	logger.Info("poet node running",
		"tip", n.Tip().Short(),
		"public_key", fmt.Sprintf("%x", n.PublicKey()),
		"peers", n.PeerCount(),
	)

	// Wait for interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down...")
	n.Stop()
}

// applyGenesis layers the network-wide genesis parameters over cfg. Genesis
// proposers are added to any listed in the config file.
func applyGenesis(cfg *config.Config, gen *genesis.GenesisConfig) {
	if gen.NetworkName != "" {
		cfg.NetworkName = gen.NetworkName
	}
	if gen.LocalMean > 0 {
		cfg.LocalMean = gen.LocalMean
	}
	cfg.Proposers = append(cfg.Proposers, gen.ProposerHex()...)
}

func writeENR(cfg *config.Config) error {
	key, err := signer.LoadOrGenerate(cfg.KeyFile)
	if err != nil {
		return err
	}
	record, err := p2p.LocalENR(key.Bytes(), cfg.ListenAddrs[0])
	if err != nil {
		return err
	}
	fmt.Println(record)
	return nil
}
