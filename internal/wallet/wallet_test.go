package wallet

import (
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klingon-exchange/klingon-dlc/internal/chain"
)

// Test mnemonic (DO NOT USE FOR REAL FUNDS)
const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

const testPassword = "TestPassword123!"

func mustParams(t *testing.T, symbol string, network chain.Network) *chain.Params {
	t.Helper()
	params, ok := chain.Get(symbol, network)
	if !ok {
		t.Fatalf("%s %s not registered", symbol, network)
	}
	return params
}

func testWallet(t *testing.T, network chain.Network) *Wallet {
	t.Helper()
	w, err := NewFromMnemonic(testMnemonic, "", mustParams(t, "BTC", network))
	if err != nil {
		t.Fatalf("NewFromMnemonic() error = %v", err)
	}
	t.Cleanup(w.Close)
	return w
}

func TestGenerateMnemonic(t *testing.T) {
	mnemonic, err := GenerateMnemonic()
	if err != nil {
		t.Fatalf("GenerateMnemonic() error = %v", err)
	}
	if words := strings.Fields(mnemonic); len(words) != 24 {
		t.Errorf("expected 24 words, got %d", len(words))
	}
	if !ValidateMnemonic(mnemonic) {
		t.Error("generated mnemonic should be valid")
	}
}

func TestValidateMnemonic(t *testing.T) {
	tests := []struct {
		mnemonic string
		valid    bool
	}{
		{testMnemonic, true},
		{"invalid mnemonic words", false},
		{"", false},
		{"abandon", false},
	}

	for _, tc := range tests {
		if got := ValidateMnemonic(tc.mnemonic); got != tc.valid {
			t.Errorf("ValidateMnemonic(%q) = %v, want %v", tc.mnemonic, got, tc.valid)
		}
	}

	if _, err := NewFromMnemonic("invalid mnemonic", "", mustParams(t, "BTC", chain.Mainnet)); !errors.Is(err, ErrInvalidMnemonic) {
		t.Errorf("NewFromMnemonic(invalid) error = %v, want %v", err, ErrInvalidMnemonic)
	}
}

// BIP84 test vector for m/84'/0'/0'/0/0.
func TestPayoutAddressBIP84Vector(t *testing.T) {
	w := testWallet(t, chain.Mainnet)

	addr, script, err := w.PayoutAddress(0)
	if err != nil {
		t.Fatalf("PayoutAddress() error = %v", err)
	}
	if addr != "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu" {
		t.Errorf("address = %s", addr)
	}
	if len(script) != 22 || script[0] != 0x00 || script[1] != 0x14 {
		t.Errorf("script = %x, want P2WPKH", script)
	}
	if got := w.PayoutAddressPath(0); got != "m/84'/0'/0'/0/0" {
		t.Errorf("path = %s", got)
	}
}

func TestFundingKey(t *testing.T) {
	w := testWallet(t, chain.Mainnet)

	priv, err := w.FundingKey(3)
	if err != nil {
		t.Fatalf("FundingKey() error = %v", err)
	}
	pub, err := w.FundingPubKey(3)
	if err != nil {
		t.Fatalf("FundingPubKey() error = %v", err)
	}
	if !priv.PubKey().IsEqual(pub) {
		t.Error("funding private and public keys do not match")
	}
	if got := w.FundingKeyPath(3); got != "m/84'/0'/1'/0/3" {
		t.Errorf("path = %s", got)
	}

	// Funding keys are separate from payout keys at the same index.
	payout, err := w.derive(PayoutAccount, 0, 3)
	if err != nil {
		t.Fatal(err)
	}
	payoutPub, err := payout.ECPubKey()
	if err != nil {
		t.Fatal(err)
	}
	if payoutPub.IsEqual(pub) {
		t.Error("funding key equals payout key")
	}

	other, err := w.FundingPubKey(4)
	if err != nil {
		t.Fatal(err)
	}
	if other.IsEqual(pub) {
		t.Error("different indexes gave the same key")
	}

	if _, err := w.FundingKey(MaxKeyIndex + 1); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("FundingKey(max+1) error = %v, want %v", err, ErrIndexOutOfRange)
	}
}

func TestDeterministicDerivation(t *testing.T) {
	a := testWallet(t, chain.Regtest)
	b := testWallet(t, chain.Regtest)

	pubA, err := a.FundingPubKey(7)
	if err != nil {
		t.Fatal(err)
	}
	pubB, err := b.FundingPubKey(7)
	if err != nil {
		t.Fatal(err)
	}
	if hex.EncodeToString(pubA.SerializeCompressed()) != hex.EncodeToString(pubB.SerializeCompressed()) {
		t.Error("same seed derived different keys")
	}

	// Test networks use coin type 1.
	mainnet := testWallet(t, chain.Mainnet)
	pubMain, err := mainnet.FundingPubKey(7)
	if err != nil {
		t.Fatal(err)
	}
	if pubMain.IsEqual(pubA) {
		t.Error("mainnet and regtest share funding keys")
	}

	addr, _, err := a.PayoutAddress(0)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(addr, "bcrt1q") {
		t.Errorf("regtest address = %s", addr)
	}
}

func TestLitecoinPayoutAddress(t *testing.T) {
	w, err := NewFromMnemonic(testMnemonic, "", mustParams(t, "LTC", chain.Mainnet))
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	addr, _, err := w.PayoutAddress(0)
	if err != nil {
		t.Fatalf("PayoutAddress() error = %v", err)
	}
	if !strings.HasPrefix(addr, "ltc1q") {
		t.Errorf("address = %s, want ltc1q...", addr)
	}
}

func TestClose(t *testing.T) {
	w, err := NewFromMnemonic(testMnemonic, "", mustParams(t, "BTC", chain.Mainnet))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.FundingKey(0); err != nil {
		t.Fatal(err)
	}

	w.Close()
	if _, err := w.FundingKey(0); err == nil {
		t.Error("expected error deriving from a closed wallet")
	}
}

func TestEncryptDecryptMnemonic(t *testing.T) {
	encrypted, err := EncryptMnemonic(testMnemonic, testPassword)
	if err != nil {
		t.Fatalf("EncryptMnemonic() error = %v", err)
	}
	if encrypted.Version != 1 {
		t.Errorf("version = %d, want 1", encrypted.Version)
	}

	decrypted, err := DecryptMnemonic(encrypted, testPassword)
	if err != nil {
		t.Fatalf("DecryptMnemonic() error = %v", err)
	}
	if decrypted != testMnemonic {
		t.Error("decrypted mnemonic doesn't match original")
	}

	if _, err := DecryptMnemonic(encrypted, "WrongPassword123!"); !errors.Is(err, ErrWrongPassword) {
		t.Errorf("DecryptMnemonic(wrong) error = %v, want %v", err, ErrWrongPassword)
	}
}

func TestEncryptMnemonicRejects(t *testing.T) {
	if _, err := EncryptMnemonic(testMnemonic, "weak"); !errors.Is(err, ErrWeakPassword) {
		t.Errorf("weak password error = %v, want %v", err, ErrWeakPassword)
	}
	if _, err := EncryptMnemonic("not a mnemonic", testPassword); !errors.Is(err, ErrInvalidMnemonic) {
		t.Errorf("bad mnemonic error = %v, want %v", err, ErrInvalidMnemonic)
	}
}

func TestSaveLoadEncryptedSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", SeedFileName)

	encrypted, err := EncryptMnemonic(testMnemonic, testPassword)
	if err != nil {
		t.Fatal(err)
	}
	if err := SaveEncryptedSeed(encrypted, path); err != nil {
		t.Fatalf("SaveEncryptedSeed() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permissions = %o, want 0600", perm)
	}

	loaded, err := LoadEncryptedSeed(path)
	if err != nil {
		t.Fatalf("LoadEncryptedSeed() error = %v", err)
	}
	decrypted, err := DecryptMnemonic(loaded, testPassword)
	if err != nil {
		t.Fatalf("DecryptMnemonic() error = %v", err)
	}
	if decrypted != testMnemonic {
		t.Error("loaded and decrypted mnemonic doesn't match")
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		password string
		valid    bool
	}{
		{"Short1!", false},
		{"alllowercase", false},
		{"lowercase123", false},
		{"Lowercase123", true},
		{"lower-case-1", true},
		{"UPPER_lower", true},
		{strings.Repeat("Aa1", 100), false},
	}

	for _, tc := range tests {
		err := ValidatePassword(tc.password)
		if tc.valid && err != nil {
			t.Errorf("ValidatePassword(%q) error = %v", tc.password, err)
		}
		if !tc.valid && !errors.Is(err, ErrWeakPassword) {
			t.Errorf("ValidatePassword(%q) error = %v, want %v", tc.password, err, ErrWeakPassword)
		}
	}
}

func TestKeystore(t *testing.T) {
	params := mustParams(t, "BTC", chain.Regtest)
	path := filepath.Join(t.TempDir(), SeedFileName)
	ks := NewKeystore(path, params)

	if ks.Exists() || ks.Unlocked() {
		t.Fatal("new keystore should be empty and locked")
	}
	if _, err := ks.Wallet(); !errors.Is(err, ErrNoWallet) {
		t.Errorf("Wallet() error = %v, want %v", err, ErrNoWallet)
	}
	if err := ks.Unlock(testPassword); !errors.Is(err, ErrNoWallet) {
		t.Errorf("Unlock() error = %v, want %v", err, ErrNoWallet)
	}

	if err := ks.Create(testMnemonic, "weak"); !errors.Is(err, ErrWeakPassword) {
		t.Errorf("Create(weak) error = %v, want %v", err, ErrWeakPassword)
	}
	if ks.Exists() {
		t.Fatal("failed create left a seed file")
	}

	if err := ks.Create(testMnemonic, testPassword); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !ks.Exists() || !ks.Unlocked() {
		t.Fatal("keystore should exist and be unlocked after Create")
	}
	w, err := ks.Wallet()
	if err != nil {
		t.Fatal(err)
	}
	want, err := w.FundingPubKey(0)
	if err != nil {
		t.Fatal(err)
	}

	if err := ks.Create(testMnemonic, testPassword); !errors.Is(err, ErrWalletExists) {
		t.Errorf("second Create() error = %v, want %v", err, ErrWalletExists)
	}

	ks.Lock()
	if _, err := ks.Wallet(); !errors.Is(err, ErrWalletLocked) {
		t.Errorf("Wallet() after Lock error = %v, want %v", err, ErrWalletLocked)
	}
	if err := ks.Unlock("WrongPassword123!"); !errors.Is(err, ErrWrongPassword) {
		t.Errorf("Unlock(wrong) error = %v, want %v", err, ErrWrongPassword)
	}

	// A fresh keystore on the same file unlocks to the same keys.
	reopened := NewKeystore(path, params)
	if err := reopened.Unlock(testPassword); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	defer reopened.Lock()
	w, err = reopened.Wallet()
	if err != nil {
		t.Fatal(err)
	}
	got, err := w.FundingPubKey(0)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsEqual(want) {
		t.Error("reopened keystore derived a different key")
	}
}
