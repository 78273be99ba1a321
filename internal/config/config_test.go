package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klingon-exchange/klingon-dlc/internal/backend"
	"github.com/klingon-exchange/klingon-dlc/internal/chain"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Chain != "BTC" || cfg.Network != chain.Mainnet {
		t.Errorf("expected BTC mainnet, got %s %s", cfg.Chain, cfg.Network)
	}
	if cfg.RPC.ListenAddr == "" {
		t.Error("expected a default listen address")
	}
	if cfg.Contract.MinRefundDelay != 144 {
		t.Errorf("expected 144 block refund delay, got %d", cfg.Contract.MinRefundDelay)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unsupported chain", func(c *Config) { c.Chain = "DOGE" }, "unsupported chain"},
		{"ltc signet", func(c *Config) { c.Chain = "LTC"; c.Network = chain.Signet }, "unsupported chain"},
		{"no listen addr", func(c *Config) { c.RPC.ListenAddr = "" }, "listen_addr"},
		{"zero fee cap", func(c *Config) { c.Contract.MaxFeeRate = 0 }, "max_fee_rate"},
		{"zero outcomes", func(c *Config) { c.Contract.MaxOutcomes = 0 }, "max_outcomes"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"bad backend", func(c *Config) { c.Backend.Type = "electrum" }, "backend.type"},
		{"negative poll interval", func(c *Config) { c.Backend.PollInterval = -1 }, "poll_interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestChainParams(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Network = chain.Regtest

	params, err := cfg.ChainParams()
	if err != nil {
		t.Fatalf("ChainParams() error = %v", err)
	}
	if params.Bech32HRP != "bcrt" {
		t.Errorf("expected bcrt, got %s", params.Bech32HRP)
	}
}

func TestBackendConfig(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		wantNil  bool
		wantType backend.Type
		wantURL  string
	}{
		{"mainnet default", func(c *Config) {}, false, backend.TypeMempool, "https://mempool.space/api"},
		{"ltc testnet default", func(c *Config) { c.Chain = "LTC"; c.Network = chain.Testnet }, false, backend.TypeMempool, "https://litecoinspace.org/testnet/api"},
		{"regtest without url", func(c *Config) { c.Network = chain.Regtest }, true, "", ""},
		{"regtest with url", func(c *Config) {
			c.Network = chain.Regtest
			c.Backend.Type = backend.TypeEsplora
			c.Backend.URL = "http://127.0.0.1:3002"
		}, false, backend.TypeEsplora, "http://127.0.0.1:3002"},
		{"custom url without type", func(c *Config) {
			c.Backend.Type = ""
			c.Backend.URL = "http://explorer.local/api"
		}, false, backend.TypeMempool, "http://explorer.local/api"},
		{"disabled", func(c *Config) { c.Backend.Enabled = false }, true, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			got := cfg.BackendConfig()
			if tt.wantNil {
				if got != nil {
					t.Errorf("BackendConfig() = %+v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("BackendConfig() = nil")
			}
			if got.Type != tt.wantType || got.URL != tt.wantURL {
				t.Errorf("BackendConfig() = %s %s, want %s %s", got.Type, got.URL, tt.wantType, tt.wantURL)
			}
			if got.Timeout != cfg.Backend.Timeout {
				t.Errorf("Timeout = %d, want %d", got.Timeout, cfg.Backend.Timeout)
			}
		})
	}
}

func TestLoadConfigCreatesDefault(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := LoadConfig(tmpDir)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(tmpDir, ConfigFileName)); os.IsNotExist(err) {
		t.Error("config file was not created")
	}
	if cfg.Storage.DataDir != tmpDir {
		t.Errorf("expected DataDir %s, got %s", tmpDir, cfg.Storage.DataDir)
	}
}

func TestLoadConfigReadsExisting(t *testing.T) {
	tmpDir := t.TempDir()

	customConfig := `chain: LTC
network: testnet
rpc:
  listen_addr: 0.0.0.0:9000
  enable_websocket: false
contract:
  max_outcomes: 64
logging:
  level: debug
  format: json
`
	if err := os.WriteFile(filepath.Join(tmpDir, ConfigFileName), []byte(customConfig), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadConfig(tmpDir)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Chain != "LTC" || cfg.Network != chain.Testnet {
		t.Errorf("expected LTC testnet, got %s %s", cfg.Chain, cfg.Network)
	}
	if cfg.RPC.ListenAddr != "0.0.0.0:9000" || cfg.RPC.EnableWebSocket {
		t.Errorf("unexpected rpc config: %+v", cfg.RPC)
	}
	if cfg.Contract.MaxOutcomes != 64 {
		t.Errorf("expected 64 outcomes, got %d", cfg.Contract.MaxOutcomes)
	}
	// Unset values keep their defaults.
	if cfg.Contract.MaxFeeRate != DefaultConfig().Contract.MaxFeeRate {
		t.Errorf("expected default fee cap, got %d", cfg.Contract.MaxFeeRate)
	}
	if cfg.Contract.MinRefundDelay != ChainPolicies["LTC"].RefundDelayBlocks {
		t.Errorf("expected LTC refund delay, got %d", cfg.Contract.MinRefundDelay)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("unexpected logging config: %+v", cfg.Logging)
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, ConfigFileName), []byte("chain: [unterminated"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(tmpDir); err == nil {
		t.Error("expected parse error")
	}
}

func TestConfigSave(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Network = chain.Signet
	cfg.Logging.Level = "debug"

	configPath := filepath.Join(tmpDir, "nested", "test-config.yaml")
	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "# Klingon DLC Daemon Configuration") {
		t.Error("config file missing header comment")
	}
	if !strings.Contains(content, "network: signet") {
		t.Error("config file missing network")
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		input    string
		expected string
	}{
		{"~/.klingon-dlc", filepath.Join(home, ".klingon-dlc")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := ExpandPath(tt.input); got != tt.expected {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}
