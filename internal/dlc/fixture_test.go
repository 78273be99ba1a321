package dlc_test

import (
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/klingon-exchange/klingon-dlc/internal/dlc"
)

const (
	testCollateral  = 100_000
	testInputAmount = 150_000
	testRefundLock  = 1_000
)

func privKey(seed string) *btcec.PrivateKey {
	h := sha256.Sum256([]byte(seed))
	priv, _ := btcec.PrivKeyFromBytes(h[:])
	return priv
}

func p2wpkh(t *testing.T, pub *btcec.PublicKey) []byte {
	t.Helper()
	addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pub.SerializeCompressed()), &chaincfg.RegressionNetParams)
	if err != nil {
		t.Fatalf("NewAddressWitnessPubKeyHash: %v", err)
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		t.Fatalf("PayToAddrScript: %v", err)
	}
	return script
}

func outpoint(seed string) wire.OutPoint {
	return wire.OutPoint{Hash: chainhash.Hash(sha256.Sum256([]byte(seed))), Index: 0}
}

// party returns P2WPKH-only params for a party named name.
func party(t *testing.T, name string, inputSerial, changeSerial, payoutSerial uint64) (*btcec.PrivateKey, *dlc.PartyParams) {
	t.Helper()
	fundSK := privKey(name + " fund")
	return fundSK, &dlc.PartyParams{
		FundPubKey:         fundSK.PubKey(),
		ChangeScriptPubKey: p2wpkh(t, privKey(name+" change").PubKey()),
		ChangeSerialID:     changeSerial,
		PayoutScriptPubKey: p2wpkh(t, privKey(name+" payout").PubKey()),
		PayoutSerialID:     payoutSerial,
		Inputs: []dlc.TxInputInfo{{
			Outpoint:      outpoint(name + " utxo"),
			Value:         testInputAmount,
			MaxWitnessLen: 107,
			SerialID:      inputSerial,
		}},
		InputAmount: testInputAmount,
		Collateral:  testCollateral,
	}
}

type binaryContract struct {
	offerSK, acceptSK *btcec.PrivateKey
	offer, accept     *dlc.PartyParams
	txs               *dlc.DlcTransactions
}

// newBinaryContract builds the 100,000/100,000 two outcome contract at
// 1 sat/vB where CET 0 pays everything to offer and CET 1 to accept.
func newBinaryContract(t *testing.T) *binaryContract {
	t.Helper()
	c := &binaryContract{}
	c.offerSK, c.offer = party(t, "offer", 10, 0, 0)
	c.acceptSK, c.accept = party(t, "accept", 20, 2, 1)

	payouts := []dlc.Payout{
		{Offer: 2 * testCollateral, Accept: 0},
		{Offer: 0, Accept: 2 * testCollateral},
	}
	txs, err := dlc.CreateDlcTransactions(c.offer, c.accept, payouts, testRefundLock, 1, 0, 0, 1)
	if err != nil {
		t.Fatalf("CreateDlcTransactions: %v", err)
	}
	c.txs = txs
	return c
}

// executeFundingSpend runs the script of input 0 of tx against the funding
// output.
func executeFundingSpend(txs *dlc.DlcTransactions, tx *wire.MsgTx) error {
	prevOut := txs.Fund.TxOut[txs.FundOutputIndex()]
	fetcher := txscript.NewCannedPrevOutputFetcher(prevOut.PkScript, prevOut.Value)
	vm, err := txscript.NewEngine(
		prevOut.PkScript,
		tx,
		0,
		txscript.StandardVerifyFlags,
		nil,
		txscript.NewTxSigHashes(tx, fetcher),
		prevOut.Value,
		fetcher,
	)
	if err != nil {
		return err
	}
	return vm.Execute()
}
