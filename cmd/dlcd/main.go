// Package main provides dlcd, a daemon that builds and signs Discreet Log
// Contract transactions over JSON-RPC.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/klingon-exchange/klingon-dlc/internal/backend"
	"github.com/klingon-exchange/klingon-dlc/internal/chain"
	"github.com/klingon-exchange/klingon-dlc/internal/config"
	"github.com/klingon-exchange/klingon-dlc/internal/dlc"
	"github.com/klingon-exchange/klingon-dlc/internal/monitor"
	"github.com/klingon-exchange/klingon-dlc/internal/oracle"
	"github.com/klingon-exchange/klingon-dlc/internal/rpc"
	"github.com/klingon-exchange/klingon-dlc/internal/storage"
	"github.com/klingon-exchange/klingon-dlc/internal/wallet"
	"github.com/klingon-exchange/klingon-dlc/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir     = flag.String("data-dir", "~/.klingon-dlc", "Data directory")
		configFile  = flag.String("config", "", "Config file path (default: <data-dir>/config.yaml)")
		apiAddr     = flag.String("api", "", "JSON-RPC API address, overrides config")
		chainSymbol = flag.String("chain", "", "Chain symbol (BTC, LTC), overrides config")
		network     = flag.String("network", "", "Network (mainnet, testnet, signet, regtest), overrides config")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error), overrides config")
		selfCheck   = flag.Bool("self-check", true, "Verify oracle anchor math before serving")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	// Initial logger, replaced once the config is loaded.
	log := logging.New(&logging.Config{
		Level:      "info",
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("dlcd %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	configDir := *dataDir
	if *configFile != "" {
		configDir = filepath.Dir(*configFile)
	}
	cfg, err := config.LoadConfig(configDir)
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	// CLI flags take precedence over the config file.
	if *apiAddr != "" {
		cfg.RPC.ListenAddr = *apiAddr
	}
	if *chainSymbol != "" {
		cfg.Chain = *chainSymbol
	}
	if *network != "" {
		cfg.Network = chain.Network(*network)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid config", "error", err)
	}

	output, closeLog, err := logOutput(cfg.Logging.File)
	if err != nil {
		log.Fatal("Failed to open log file", "error", err)
	}
	defer closeLog()

	log = logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		TimeFormat: time.TimeOnly,
		Output:     output,
	})
	logging.SetDefault(log)
	log = log.Component("dlcd")

	log.Info("Config loaded", "path", config.ConfigPath(configDir))

	if *selfCheck {
		if err := checkAnchorMath(); err != nil {
			log.Fatal("Self-check failed", "error", err)
		}
		log.Debug("Self-check passed")
	}

	store, err := storage.New(&storage.Config{DataDir: cfg.Storage.DataDir})
	if err != nil {
		log.Fatal("Failed to open storage", "error", err)
	}
	defer store.Close()
	log.Info("Storage opened", "path", store.Path())

	var chainBackend backend.Backend
	if bcfg := cfg.BackendConfig(); bcfg != nil {
		chainBackend, err = backend.New(bcfg)
		if err != nil {
			log.Fatal("Failed to create chain backend", "error", err)
		}
		log.Info("Chain backend configured", "type", bcfg.Type, "url", bcfg.URL)
	} else {
		log.Warn("No chain backend, broadcast disabled", "chain", cfg.Chain, "network", cfg.Network)
	}

	params, err := cfg.ChainParams()
	if err != nil {
		log.Fatal("Invalid chain", "error", err)
	}
	keys := wallet.NewKeystore(filepath.Join(config.ExpandPath(cfg.Storage.DataDir), wallet.SeedFileName), params)
	defer keys.Lock()
	if keys.Exists() {
		log.Info("Wallet found, unlock it with wallet_unlock", "path", keys.Path())
	}

	rpcServer, err := rpc.NewServer(cfg, store, chainBackend, keys)
	if err != nil {
		log.Fatal("Failed to create RPC server", "error", err)
	}
	if err := rpcServer.Start(cfg.RPC.ListenAddr); err != nil {
		log.Fatal("Failed to start RPC server", "error", err)
	}

	var contractMonitor *monitor.Monitor
	if chainBackend != nil && cfg.Backend.PollInterval > 0 {
		contractMonitor = monitor.New(&monitor.Config{
			Store:            store,
			Chain:            chainBackend,
			Interval:         time.Duration(cfg.Backend.PollInterval) * time.Second,
			MinConfirmations: cfg.Backend.MinConfirmations,
			Notify:           rpcServer.NotifyContractState,
		})
		contractMonitor.Start()
	}

	printBanner(log, cfg, rpcServer.Addr().String())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	log.Info("Shutting down...")

	if contractMonitor != nil {
		contractMonitor.Stop()
	}

	if err := rpcServer.Stop(); err != nil {
		log.Error("Error stopping RPC server", "error", err)
	}

	log.Info("Goodbye!")
}

// logOutput opens the configured log file, or stderr when none is set.
func logOutput(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stderr, func() {}, nil
	}
	f, err := os.OpenFile(config.ExpandPath(path), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

// checkAnchorMath attests a throwaway event and checks that the anchor
// computed from the announcement is the point of the attestation secret.
func checkAnchorMath() error {
	o, err := oracle.Generate()
	if err != nil {
		return err
	}
	ev, info, err := o.Announce(1)
	if err != nil {
		return err
	}
	msgs := oracle.HashOutcomes([][]string{{"self-check"}})
	anchor, err := dlc.AnchorFromOracleInfo([]dlc.OracleInfo{info}, msgs)
	if err != nil {
		return err
	}
	sigs, err := o.Attest(ev, []string{"self-check"})
	if err != nil {
		return err
	}
	secret, err := dlc.SignaturesToSecret([][]*schnorr.Signature{sigs})
	if err != nil {
		return err
	}
	defer secret.Zero()

	if !bytes.Equal(btcec.PrivKeyFromScalar(secret).PubKey().SerializeCompressed(), anchor.SerializeCompressed()) {
		return fmt.Errorf("anchor does not match attestation")
	}
	return nil
}

func printBanner(log *logging.Logger, cfg *config.Config, apiAddr string) {
	log.Info("")
	log.Info("=================================================")
	log.Infof("  Klingon DLC Daemon (%s %s)", cfg.Chain, cfg.Network)
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  API: http://%s", apiAddr)
	if cfg.RPC.EnableWebSocket {
		log.Infof("  WS:  ws://%s/ws", apiAddr)
	}
	log.Infof("  Max fee rate: %d sat/vB | Max outcomes: %d | Max oracles: %d",
		cfg.Contract.MaxFeeRate, cfg.Contract.MaxOutcomes, cfg.Contract.MaxOracles)
	log.Infof("  Data dir: %s", config.ExpandPath(cfg.Storage.DataDir))
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}
