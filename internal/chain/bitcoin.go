package chain

import "github.com/btcsuite/btcd/chaincfg"

func init() {
	for _, n := range []struct {
		network  Network
		name     string
		coinType uint32
		net      *chaincfg.Params
	}{
		{Mainnet, "Bitcoin", 0, &chaincfg.MainNetParams},
		{Testnet, "Bitcoin Testnet", 1, &chaincfg.TestNet3Params},
		{Signet, "Bitcoin Signet", 1, &chaincfg.SigNetParams},
		{Regtest, "Bitcoin Regtest", 1, &chaincfg.RegressionNetParams},
	} {
		Register(&Params{
			Symbol:           "BTC",
			Name:             n.name,
			Network:          n.network,
			Decimals:         8,
			PubKeyHashAddrID: n.net.PubKeyHashAddrID,
			ScriptHashAddrID: n.net.ScriptHashAddrID,
			Bech32HRP:        n.net.Bech32HRPSegwit,
			MinRelayFeeRate:  1,
			CoinType:         n.coinType,
			net:              n.net,
		})
	}
}
