package wallet

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/klingon-exchange/klingon-dlc/internal/chain"
)

// SeedFileName is the encrypted seed file in the data directory.
const SeedFileName = "wallet.json"

// Keystore errors
var (
	ErrNoWallet     = errors.New("no wallet, create one first")
	ErrWalletExists = errors.New("wallet already exists")
	ErrWalletLocked = errors.New("wallet is locked")
)

// Keystore owns the encrypted seed file and the unlocked wallet, if any.
type Keystore struct {
	path   string
	params *chain.Params

	mu     sync.RWMutex
	wallet *Wallet
}

// NewKeystore returns a locked keystore for the seed file at path.
func NewKeystore(path string, params *chain.Params) *Keystore {
	return &Keystore{path: path, params: params}
}

// Path returns the seed file path.
func (k *Keystore) Path() string {
	return k.path
}

// Exists reports whether a seed file has been created.
func (k *Keystore) Exists() bool {
	_, err := os.Stat(k.path)
	return err == nil
}

// Unlocked reports whether keys can be derived.
func (k *Keystore) Unlocked() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.wallet != nil
}

// Create encrypts mnemonic under password, writes the seed file and leaves
// the keystore unlocked. An existing seed file is never overwritten.
func (k *Keystore) Create(mnemonic, password string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.Exists() {
		return ErrWalletExists
	}

	w, err := NewFromMnemonic(mnemonic, "", k.params)
	if err != nil {
		return err
	}
	seed, err := EncryptMnemonic(mnemonic, password)
	if err != nil {
		w.Close()
		return err
	}
	if err := SaveEncryptedSeed(seed, k.path); err != nil {
		w.Close()
		return err
	}

	k.replace(w)
	return nil
}

// Unlock decrypts the seed file.
func (k *Keystore) Unlock(password string) error {
	if !k.Exists() {
		return ErrNoWallet
	}
	seed, err := LoadEncryptedSeed(k.path)
	if err != nil {
		return err
	}

	mnemonic, err := DecryptMnemonic(seed, password)
	if err != nil {
		return err
	}
	w, err := NewFromMnemonic(mnemonic, "", k.params)
	if err != nil {
		return fmt.Errorf("seed file holds an invalid mnemonic: %w", err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.replace(w)
	return nil
}

// Lock wipes the unlocked wallet.
func (k *Keystore) Lock() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.replace(nil)
}

// Wallet returns the unlocked wallet.
func (k *Keystore) Wallet() (*Wallet, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.wallet == nil {
		if !k.Exists() {
			return nil, ErrNoWallet
		}
		return nil, ErrWalletLocked
	}
	return k.wallet, nil
}

// replace swaps the unlocked wallet. Callers hold mu.
func (k *Keystore) replace(w *Wallet) {
	if k.wallet != nil {
		k.wallet.Close()
	}
	k.wallet = w
}
