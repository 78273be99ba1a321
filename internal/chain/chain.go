// Package chain defines the networks contracts can be settled on and the
// address handling the daemon needs for them. Only segwit chains are listed:
// the funding output is P2WSH and CET signatures commit to BIP-143 digests.
package chain

import (
	"crypto/sha256"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// Network identifies a network of a chain.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
	Signet  Network = "signet"
	Regtest Network = "regtest"
)

// Params contains the parameters of a chain on one network.
type Params struct {
	Symbol   string // BTC, LTC
	Name     string
	Network  Network
	Decimals uint8

	PubKeyHashAddrID byte
	ScriptHashAddrID byte
	Bech32HRP        string

	// MinRelayFeeRate is the default minimum fee rate in sat/vB.
	MinRelayFeeRate uint64

	// CoinType is the BIP44 coin type keys are derived under (0=BTC,
	// 2=LTC, 1 for every test network).
	CoinType uint32

	net *chaincfg.Params
}

// ChainConfig returns the btcd network parameters used to encode and decode
// addresses.
func (p *Params) ChainConfig() *chaincfg.Params {
	return p.net
}

// AddressToScript decodes an address of this network into its output
// script.
func (p *Params) AddressToScript(address string) ([]byte, error) {
	decoded, err := btcutil.DecodeAddress(address, p.net)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %s address %q: %w", p.Symbol, p.Network, address, err)
	}
	if !decoded.IsForNet(p.net) {
		return nil, fmt.Errorf("address %q is not for %s %s", address, p.Symbol, p.Network)
	}
	return txscript.PayToAddrScript(decoded)
}

// ScriptToAddress encodes a standard output script as an address. Scripts
// without an address form return an error.
func (p *Params) ScriptToAddress(script []byte) (string, error) {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(script, p.net)
	if err != nil {
		return "", fmt.Errorf("extract address: %w", err)
	}
	if len(addrs) != 1 {
		return "", fmt.Errorf("script has %d addresses", len(addrs))
	}
	return addrs[0].EncodeAddress(), nil
}

// WitnessScriptAddress returns the P2WSH address of a witness script, the
// address the funding transaction pays the collateral to.
func (p *Params) WitnessScriptAddress(script []byte) (string, error) {
	scriptHash := sha256.Sum256(script)
	addr, err := btcutil.NewAddressWitnessScriptHash(scriptHash[:], p.net)
	if err != nil {
		return "", fmt.Errorf("failed to create P2WSH address: %w", err)
	}
	return addr.EncodeAddress(), nil
}

// KeyPurpose is the BIP43 purpose of derived keys. Funding and payout keys
// are native segwit keys, so BIP84 paths are used.
const KeyPurpose = 84

// DerivationPath returns the hardened-prefix path m/84'/coin'/account'/change/index.
func (p *Params) DerivationPath(account, change, index uint32) []uint32 {
	const hardened = 0x80000000
	return []uint32{KeyPurpose + hardened, p.CoinType + hardened, account + hardened, change, index}
}

// DerivationPathString returns the derivation path in m/84'/0'/0'/0/0 form.
func (p *Params) DerivationPathString(account, change, index uint32) string {
	return fmt.Sprintf("m/%d'/%d'/%d'/%d/%d", KeyPurpose, p.CoinType, account, change, index)
}

// registry holds all chain parameters indexed by symbol and network.
var registry = make(map[string]map[Network]*Params)

// Register adds chain params to the registry.
func Register(params *Params) {
	if registry[params.Symbol] == nil {
		registry[params.Symbol] = make(map[Network]*Params)
	}
	registry[params.Symbol][params.Network] = params
}

// Get returns chain params for a symbol and network.
func Get(symbol string, network Network) (*Params, bool) {
	nets, ok := registry[symbol]
	if !ok {
		return nil, false
	}
	params, ok := nets[network]
	return params, ok
}

// List returns all registered chain symbols, sorted.
func List() []string {
	symbols := make([]string, 0, len(registry))
	for symbol := range registry {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// IsSupported returns true if the chain is registered.
func IsSupported(symbol string) bool {
	_, ok := registry[symbol]
	return ok
}
