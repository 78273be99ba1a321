// Package wallet derives contract funding keys and payout addresses from a
// BIP39 seed, so callers can sign CETs without handing raw keys over RPC.
package wallet

import (
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/klingon-exchange/klingon-dlc/internal/chain"
	"github.com/tyler-smith/go-bip39"
)

// Wallet errors
var (
	ErrInvalidMnemonic = errors.New("invalid mnemonic")
	ErrIndexOutOfRange = errors.New("key index out of range")
)

// Accounts keys are derived under. Payout addresses live in the regular
// receive branch so any BIP84 wallet restored from the seed sees payouts.
// Funding keys get their own account and never receive coins directly.
const (
	PayoutAccount  uint32 = 0
	FundingAccount uint32 = 1

	// MaxKeyIndex bounds derivation indexes.
	MaxKeyIndex uint32 = 100_000
)

// Wallet manages HD keys derived from a BIP39 seed for one chain.
type Wallet struct {
	masterKey *hdkeychain.ExtendedKey
	params    *chain.Params
	mu        sync.Mutex

	// Derived keys by path.
	cache map[string]*hdkeychain.ExtendedKey
}

// GenerateMnemonic generates a new 24-word BIP39 mnemonic.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", fmt.Errorf("failed to generate entropy: %w", err)
	}

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("failed to generate mnemonic: %w", err)
	}
	return mnemonic, nil
}

// ValidateMnemonic checks if a mnemonic is valid.
func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(mnemonic)
}

// NewFromMnemonic creates a wallet from a BIP39 mnemonic and an optional
// passphrase.
func NewFromMnemonic(mnemonic, passphrase string, params *chain.Params) (*Wallet, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	return NewFromSeed(bip39.NewSeed(mnemonic, passphrase), params)
}

// NewFromSeed creates a wallet from a raw BIP39 seed.
func NewFromSeed(seed []byte, params *chain.Params) (*Wallet, error) {
	// The network only affects extended key serialization, which is never
	// exposed, so the master key is always created with mainnet params.
	masterKey, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}

	return &Wallet{
		masterKey: masterKey,
		params:    params,
		cache:     make(map[string]*hdkeychain.ExtendedKey),
	}, nil
}

// Params returns the chain the wallet derives keys for.
func (w *Wallet) Params() *chain.Params {
	return w.params
}

// derive walks the BIP84 path for account/change/index.
func (w *Wallet) derive(account, change, index uint32) (*hdkeychain.ExtendedKey, error) {
	if index > MaxKeyIndex {
		return nil, fmt.Errorf("%w: %d > %d", ErrIndexOutOfRange, index, MaxKeyIndex)
	}

	path := w.params.DerivationPathString(account, change, index)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.masterKey == nil {
		return nil, errors.New("wallet is closed")
	}
	if key, ok := w.cache[path]; ok {
		return key, nil
	}

	key := w.masterKey
	for _, child := range w.params.DerivationPath(account, change, index) {
		next, err := key.Derive(child)
		if err != nil {
			return nil, fmt.Errorf("failed to derive %s: %w", path, err)
		}
		key = next
	}

	w.cache[path] = key
	return key, nil
}

// FundingKey returns the private funding key at index.
func (w *Wallet) FundingKey(index uint32) (*btcec.PrivateKey, error) {
	key, err := w.derive(FundingAccount, 0, index)
	if err != nil {
		return nil, err
	}
	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("failed to get private key: %w", err)
	}
	return priv, nil
}

// FundingPubKey returns the public funding key at index.
func (w *Wallet) FundingPubKey(index uint32) (*btcec.PublicKey, error) {
	key, err := w.derive(FundingAccount, 0, index)
	if err != nil {
		return nil, err
	}
	pub, err := key.ECPubKey()
	if err != nil {
		return nil, fmt.Errorf("failed to get public key: %w", err)
	}
	return pub, nil
}

// FundingKeyPath returns the derivation path of the funding key at index.
func (w *Wallet) FundingKeyPath(index uint32) string {
	return w.params.DerivationPathString(FundingAccount, 0, index)
}

// PayoutAddress returns the P2WPKH payout address at index and its output
// script.
func (w *Wallet) PayoutAddress(index uint32) (string, []byte, error) {
	key, err := w.derive(PayoutAccount, 0, index)
	if err != nil {
		return "", nil, err
	}
	pub, err := key.ECPubKey()
	if err != nil {
		return "", nil, fmt.Errorf("failed to get public key: %w", err)
	}

	addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pub.SerializeCompressed()), w.params.ChainConfig())
	if err != nil {
		return "", nil, fmt.Errorf("failed to create P2WPKH address: %w", err)
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return "", nil, err
	}
	return addr.EncodeAddress(), script, nil
}

// PayoutAddressPath returns the derivation path of the payout address at
// index.
func (w *Wallet) PayoutAddressPath(index uint32) string {
	return w.params.DerivationPathString(PayoutAccount, 0, index)
}

// Close wipes the master key and every derived key.
func (w *Wallet) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for path, key := range w.cache {
		key.Zero()
		delete(w.cache, path)
	}
	if w.masterKey != nil {
		w.masterKey.Zero()
		w.masterKey = nil
	}
}
