package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

const testKey = "02e2a03c1689769ae5f5762222b170b4a925f3f8e89340ed1cd31d31c134b0abc2"

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoad(t *testing.T) {
	nodes := writeFile(t, "nodes.yaml", `
- multiaddr: /ip4/10.0.0.2/tcp/9000/p2p/peerB
  public_key: "`+testKey+`"
`)
	path := writeFile(t, "config.yaml", `
listen_addrs: ["/ip4/127.0.0.1/tcp/9100"]
bootnodes: ["/ip4/10.0.0.1/tcp/9000/p2p/peerA"]
nodes_file: `+nodes+`
data_dir: /var/lib/poet
local_mean: 12.5
proposers: ["0x02aa"]
metrics_addr: ":9102"
genesis_file: /etc/poet/genesis.json
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.LocalMean != 12.5 {
		t.Errorf("LocalMean = %v, want 12.5", cfg.LocalMean)
	}
	if cfg.DataDir != "/var/lib/poet" {
		t.Errorf("DataDir = %s, want /var/lib/poet", cfg.DataDir)
	}
	wantBoot := []string{"/ip4/10.0.0.1/tcp/9000/p2p/peerA", "/ip4/10.0.0.2/tcp/9000/p2p/peerB"}
	if !reflect.DeepEqual(cfg.Bootnodes, wantBoot) {
		t.Errorf("Bootnodes = %v, want %v", cfg.Bootnodes, wantBoot)
	}
	wantProposers := []string{"0x02aa", testKey}
	if !reflect.DeepEqual(cfg.Proposers, wantProposers) {
		t.Errorf("Proposers = %v, want %v", cfg.Proposers, wantProposers)
	}
	if cfg.GenesisFile != "/etc/poet/genesis.json" {
		t.Errorf("GenesisFile = %s, want /etc/poet/genesis.json", cfg.GenesisFile)
	}
	// Unset fields keep their defaults.
	if cfg.KeyFile != DefaultKeyFile {
		t.Errorf("KeyFile = %s, want %s", cfg.KeyFile, DefaultKeyFile)
	}
	if cfg.PrematureTolerance != DefaultPrematureTolerance {
		t.Errorf("PrematureTolerance = %v, want %v", cfg.PrematureTolerance, DefaultPrematureTolerance)
	}
	if cfg.NetworkName != DefaultNetworkName {
		t.Errorf("NetworkName = %s, want %s", cfg.NetworkName, DefaultNetworkName)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Load(writeFile(t, "bad.yaml", "local_mean: [")); err == nil {
		t.Error("expected error for invalid yaml")
	}
	if _, err := Load(writeFile(t, "c.yaml", "nodes_file: /nonexistent/nodes.yaml\n")); err == nil {
		t.Error("expected error for missing nodes file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero local mean", func(c *Config) { c.LocalMean = 0 }},
		{"negative local mean", func(c *Config) { c.LocalMean = -1 }},
		{"nan local mean", func(c *Config) { c.LocalMean = math.NaN() }},
		{"infinite local mean", func(c *Config) { c.LocalMean = math.Inf(1) }},
		{"negative tolerance", func(c *Config) { c.PrematureTolerance = -0.5 }},
		{"no listen addrs", func(c *Config) { c.ListenAddrs = nil }},
		{"no key file", func(c *Config) { c.KeyFile = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() = %v, want ErrInvalidConfig", err)
			}
		})
	}

	if err := Default().Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadNodes(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    Nodes
	}{
		{
			name:    "struct format",
			content: "- multiaddr: /ip4/1.2.3.4/tcp/9000/p2p/a\n- multiaddr: /ip4/1.2.3.5/tcp/9000/p2p/b\n",
			want:    Nodes{Bootnodes: []string{"/ip4/1.2.3.4/tcp/9000/p2p/a", "/ip4/1.2.3.5/tcp/9000/p2p/b"}},
		},
		{
			name: "bootnodes and proposers",
			content: "- multiaddr: /ip4/1.2.3.4/tcp/9000/p2p/a\n  public_key: \"0x" + testKey + "\"\n" +
				"- public_key: " + testKey + "\n",
			want: Nodes{
				Bootnodes: []string{"/ip4/1.2.3.4/tcp/9000/p2p/a"},
				Proposers: []string{"0x" + testKey, testKey},
			},
		},
		{
			name:    "plain list",
			content: "- /ip4/1.2.3.4/tcp/9000/p2p/a\n- enr:-IS4QHCYrYZbAKWCBRlAy5zzaDZXJBGkcnh4MHcBFZntXNFrdvJjX04jRzjzCBOonrkTfj499SZuOh8R33Ls8RRcy5wBgmlkgnY0\n",
			want: Nodes{Bootnodes: []string{
				"/ip4/1.2.3.4/tcp/9000/p2p/a",
				"enr:-IS4QHCYrYZbAKWCBRlAy5zzaDZXJBGkcnh4MHcBFZntXNFrdvJjX04jRzjzCBOonrkTfj499SZuOh8R33Ls8RRcy5wBgmlkgnY0",
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LoadNodes(writeFile(t, "nodes.yaml", tt.content))
			if err != nil {
				t.Fatalf("LoadNodes: %v", err)
			}
			if !reflect.DeepEqual(*got, tt.want) {
				t.Errorf("got %+v, want %+v", *got, tt.want)
			}
		})
	}
}

func TestLoadNodes_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty entry", "- multiaddr: /ip4/1.2.3.4/tcp/9000/p2p/a\n- {}\n"},
		{"short key", "- public_key: 02aa\n"},
		{"bad hex", "- public_key: zz" + testKey[2:] + "\n"},
		{"not a list", "multiaddr: /ip4/1.2.3.4/tcp/9000\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadNodes(writeFile(t, "nodes.yaml", tt.content)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}

	if _, err := LoadNodes(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
