// Package config holds the DLC daemon configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/klingon-exchange/klingon-dlc/internal/backend"
	"github.com/klingon-exchange/klingon-dlc/internal/chain"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the daemon.
type Config struct {
	// Chain is the symbol of the chain contracts settle on (BTC, LTC).
	Chain string `yaml:"chain"`

	// Network is mainnet, testnet, signet or regtest.
	Network chain.Network `yaml:"network"`

	RPC      RPCConfig      `yaml:"rpc"`
	Contract ContractConfig `yaml:"contract"`
	Storage  StorageConfig  `yaml:"storage"`
	Backend  BackendConfig  `yaml:"backend"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// RPCConfig holds JSON-RPC server settings.
type RPCConfig struct {
	// ListenAddr is the host:port the server binds to.
	ListenAddr string `yaml:"listen_addr"`

	// EnableWebSocket serves the event feed on /ws.
	EnableWebSocket bool `yaml:"enable_websocket"`

	// MaxBodyBytes caps the size of a request body.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// ContractConfig bounds the contracts the daemon builds and signs.
type ContractConfig struct {
	// MaxFeeRate is the highest accepted fee rate in sat/vB.
	MaxFeeRate uint64 `yaml:"max_fee_rate"`

	// MaxOutcomes is the largest number of CETs per contract.
	MaxOutcomes int `yaml:"max_outcomes"`

	// MaxOracles is the largest number of oracles per CET.
	MaxOracles int `yaml:"max_oracles"`

	// MinRefundDelay is the minimum number of blocks between the CET lock
	// time and the refund lock time when both are block heights. Zero
	// disables the check.
	MinRefundDelay uint32 `yaml:"min_refund_delay"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	// DataDir is the directory holding the config file.
	DataDir string `yaml:"data_dir"`
}

// BackendConfig selects the block explorer used to broadcast and track
// contract transactions.
type BackendConfig struct {
	// Enabled turns the chain_* RPC methods on.
	Enabled bool `yaml:"enabled"`

	// Type is mempool or esplora.
	Type backend.Type `yaml:"type"`

	// URL of the explorer API. Empty uses the public default for the
	// chain and network, if there is one.
	URL string `yaml:"url"`

	// Timeout in seconds.
	Timeout int `yaml:"timeout"`

	// PollInterval is the number of seconds between contract checks.
	// Zero disables the contract monitor.
	PollInterval int `yaml:"poll_interval"`

	// MinConfirmations before a funding transaction counts as confirmed.
	MinConfirmations int64 `yaml:"min_confirmations"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`

	// Format is text, logfmt or json.
	Format string `yaml:"format"`

	// File is the log file path (empty for stderr).
	File string `yaml:"file"`
}

// ChainPolicy holds per-chain contract defaults.
type ChainPolicy struct {
	// RefundDelayBlocks is roughly one day of blocks, the default gap
	// between the CETs and the refund becoming valid.
	RefundDelayBlocks uint32

	// AvgBlockTimeSeconds is the average block time of the chain.
	AvgBlockTimeSeconds uint32
}

// ChainPolicies defines contract defaults per chain symbol.
var ChainPolicies = map[string]ChainPolicy{
	"BTC": {RefundDelayBlocks: 144, AvgBlockTimeSeconds: 600},
	"LTC": {RefundDelayBlocks: 576, AvgBlockTimeSeconds: 150},
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Chain:   "BTC",
		Network: chain.Mainnet,
		RPC: RPCConfig{
			ListenAddr:      "127.0.0.1:8535",
			EnableWebSocket: true,
			MaxBodyBytes:    4 << 20,
		},
		Contract: ContractConfig{
			MaxFeeRate:     1_000,
			MaxOutcomes:    10_000,
			MaxOracles:     16,
			MinRefundDelay: ChainPolicies["BTC"].RefundDelayBlocks,
		},
		Storage: StorageConfig{
			DataDir: "~/.klingon-dlc",
		},
		Backend: BackendConfig{
			Enabled: true,
			Type:             backend.TypeMempool,
			Timeout:          30,
			PollInterval:     60,
			MinConfirmations: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if _, ok := chain.Get(c.Chain, c.Network); !ok {
		errs = append(errs, fmt.Errorf("unsupported chain %q on network %q", c.Chain, c.Network))
	}
	if c.RPC.ListenAddr == "" {
		errs = append(errs, errors.New("rpc.listen_addr is required"))
	}
	if c.RPC.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("rpc.max_body_bytes must be positive"))
	}
	if c.Contract.MaxFeeRate == 0 {
		errs = append(errs, errors.New("contract.max_fee_rate must be positive"))
	}
	if c.Contract.MaxOutcomes <= 0 {
		errs = append(errs, errors.New("contract.max_outcomes must be positive"))
	}
	if c.Contract.MaxOracles <= 0 {
		errs = append(errs, errors.New("contract.max_oracles must be positive"))
	}
	switch c.Backend.Type {
	case "", backend.TypeMempool, backend.TypeEsplora:
	default:
		errs = append(errs, fmt.Errorf("unknown backend.type %q", c.Backend.Type))
	}
	if c.Backend.PollInterval < 0 {
		errs = append(errs, errors.New("backend.poll_interval must not be negative"))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "logfmt", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown logging.format %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// ChainParams returns the parameters of the configured chain and network.
func (c *Config) ChainParams() (*chain.Params, error) {
	params, ok := chain.Get(c.Chain, c.Network)
	if !ok {
		return nil, fmt.Errorf("unsupported chain %q on network %q", c.Chain, c.Network)
	}
	return params, nil
}

// BackendConfig returns the explorer configuration to connect to, or nil
// when the backend is disabled or no URL is known for the network.
func (c *Config) BackendConfig() *backend.Config {
	if !c.Backend.Enabled {
		return nil
	}
	cfg := &backend.Config{Type: c.Backend.Type, URL: c.Backend.URL, Timeout: c.Backend.Timeout}
	if cfg.URL == "" {
		def := backend.DefaultConfig(c.Chain, c.Network)
		if def == nil {
			return nil
		}
		cfg.URL = def.URL
		if cfg.Type == "" {
			cfg.Type = def.Type
		}
	}
	if cfg.Type == "" {
		cfg.Type = backend.TypeMempool
	}
	return cfg
}

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(dataDir string) (*Config, error) {
	configPath := ConfigPath(dataDir)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Storage.DataDir = dataDir

		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// A config switched to another chain keeps that chain's refund delay
	// unless it sets one explicitly.
	if !strings.Contains(string(data), "min_refund_delay") {
		if policy, ok := ChainPolicies[cfg.Chain]; ok {
			cfg.Contract.MinRefundDelay = policy.RefundDelayBlocks
		}
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# Klingon DLC Daemon Configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ConfigPath returns the full path to the config file for the given data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(ExpandPath(dataDir), ConfigFileName)
}

// ExpandPath expands ~ to the home directory.
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
