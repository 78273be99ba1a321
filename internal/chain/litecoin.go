package chain

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
)

func init() {
	registerLitecoin(&Params{
		Symbol:           "LTC",
		Name:             "Litecoin",
		Network:          Mainnet,
		Decimals:         8,
		PubKeyHashAddrID: 0x30, // L...
		ScriptHashAddrID: 0x32, // M...
		Bech32HRP:        "ltc",
		MinRelayFeeRate:  1,
		CoinType:         2,
	}, chaincfg.MainNetParams, 0xdbb6c0fb)

	registerLitecoin(&Params{
		Symbol:           "LTC",
		Name:             "Litecoin Testnet",
		Network:          Testnet,
		Decimals:         8,
		PubKeyHashAddrID: 0x6F, // m or n
		ScriptHashAddrID: 0x3A, // Q...
		Bech32HRP:        "tltc",
		MinRelayFeeRate:  1,
		CoinType:         1,
	}, chaincfg.TestNet3Params, 0xf1c8d2fd)
}

// registerLitecoin derives btcd network params for Litecoin from a Bitcoin
// network by swapping the address prefixes and network magic. The result is
// registered with chaincfg so btcutil recognizes its bech32 prefix.
func registerLitecoin(p *Params, base chaincfg.Params, magic wire.BitcoinNet) {
	base.Name = "litecoin-" + string(p.Network)
	base.Net = magic
	base.Bech32HRPSegwit = p.Bech32HRP
	base.PubKeyHashAddrID = p.PubKeyHashAddrID
	base.ScriptHashAddrID = p.ScriptHashAddrID
	if err := chaincfg.Register(&base); err != nil && !errors.Is(err, chaincfg.ErrDuplicateNet) {
		panic(fmt.Sprintf("register %s params: %v", base.Name, err))
	}
	p.net = &base
	Register(p)
}
