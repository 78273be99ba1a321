// Package backend talks to block explorer APIs to broadcast contract
// transactions, track their confirmation and estimate fee rates.
// It never handles private keys.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/klingon-exchange/klingon-dlc/internal/chain"
	"github.com/klingon-exchange/klingon-dlc/internal/dlc"
)

// Common errors
var (
	ErrTxNotFound         = errors.New("transaction not found")
	ErrBroadcastFailed    = errors.New("broadcast failed")
	ErrRateLimited        = errors.New("rate limited")
	ErrUnsupportedBackend = errors.New("unsupported backend type")
	ErrLockTimeNotReached = errors.New("lock time not reached")
)

// Type represents the backend type.
type Type string

const (
	TypeMempool Type = "mempool" // mempool.space API
	TypeEsplora Type = "esplora" // blockstream.info API
)

// TxStatus is the confirmation status of a transaction.
type TxStatus struct {
	TxID          string `json:"txid"`
	Confirmed     bool   `json:"confirmed"`
	BlockHeight   int64  `json:"block_height,omitempty"`
	BlockHash     string `json:"block_hash,omitempty"`
	BlockTime     int64  `json:"block_time,omitempty"`
	Confirmations int64  `json:"confirmations"`
}

// Outspend reports whether an output has been spent and by which
// transaction.
type Outspend struct {
	Spent     bool   `json:"spent"`
	TxID      string `json:"txid,omitempty"`
	Vin       int    `json:"vin,omitempty"`
	Confirmed bool   `json:"confirmed"`
}

// FeeEstimate contains fee estimation for different confirmation targets.
type FeeEstimate struct {
	FastestFee  uint64 `json:"fastest_fee"`   // sat/vB for next block
	HalfHourFee uint64 `json:"half_hour_fee"` // sat/vB for ~30 min
	HourFee     uint64 `json:"hour_fee"`      // sat/vB for ~1 hour
	EconomyFee  uint64 `json:"economy_fee"`   // sat/vB for low priority
	MinimumFee  uint64 `json:"minimum_fee"`   // sat/vB minimum relay fee
}

// Backend defines the interface for blockchain data providers.
type Backend interface {
	// Type returns the backend type (mempool, esplora).
	Type() Type

	// BroadcastTransaction submits tx and returns its txid.
	BroadcastTransaction(ctx context.Context, tx *wire.MsgTx) (string, error)

	// GetTxStatus returns the confirmation status of a transaction.
	GetTxStatus(ctx context.Context, txID string) (*TxStatus, error)

	// GetOutspend returns the spending status of output vout of txID.
	GetOutspend(ctx context.Context, txID string, vout uint32) (*Outspend, error)

	// GetBlockHeight returns the current chain tip height.
	GetBlockHeight(ctx context.Context) (int64, error)

	// GetFeeEstimates returns fee rates in sat/vB.
	GetFeeEstimates(ctx context.Context) (*FeeEstimate, error)
}

// Config contains backend configuration.
type Config struct {
	Type Type   `yaml:"type"`
	URL  string `yaml:"url"`

	// Timeout in seconds, default 30.
	Timeout int `yaml:"timeout,omitempty"`
}

// defaultURLs holds public explorer APIs per chain and network.
var defaultURLs = map[string]map[chain.Network]string{
	"BTC": {
		chain.Mainnet: "https://mempool.space/api",
		chain.Testnet: "https://mempool.space/testnet/api",
		chain.Signet:  "https://mempool.space/signet/api",
	},
	"LTC": {
		chain.Mainnet: "https://litecoinspace.org/api",
		chain.Testnet: "https://litecoinspace.org/testnet/api",
	},
}

// DefaultConfig returns the public mempool backend for a chain and
// network, or nil when there is none (regtest).
func DefaultConfig(symbol string, network chain.Network) *Config {
	url, ok := defaultURLs[symbol][network]
	if !ok {
		return nil
	}
	return &Config{Type: TypeMempool, URL: url}
}

// New creates a backend from its configuration.
func New(cfg *Config) (Backend, error) {
	timeout := 30 * time.Second
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}

	switch cfg.Type {
	case TypeMempool:
		return NewMempoolBackend(cfg.URL, timeout), nil
	case TypeEsplora:
		return NewEsploraBackend(cfg.URL, timeout), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, cfg.Type)
	}
}

// CheckLockTime returns ErrLockTimeNotReached when tx has a block height
// lock time that the next block cannot satisfy yet. Timestamp lock times
// are left to the node to enforce.
func CheckLockTime(ctx context.Context, b Backend, tx *wire.MsgTx) error {
	if tx.LockTime == 0 || tx.LockTime >= dlc.LockTimeThreshold || !lockTimeEnabled(tx) {
		return nil
	}

	height, err := b.GetBlockHeight(ctx)
	if err != nil {
		return fmt.Errorf("failed to get block height: %w", err)
	}
	// The next block is at height+1 and needs lock time < height+1.
	if int64(tx.LockTime) > height {
		return fmt.Errorf("%w: lock time %d, tip %d", ErrLockTimeNotReached, tx.LockTime, height)
	}
	return nil
}

func lockTimeEnabled(tx *wire.MsgTx) bool {
	for _, in := range tx.TxIn {
		if in.Sequence != wire.MaxTxInSequenceNum {
			return true
		}
	}
	return false
}
