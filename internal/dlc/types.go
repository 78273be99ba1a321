// Package dlc builds and signs the transactions of a two-party Discreet Log
// Contract.
//
// A contract locks both parties' collateral in a 2-of-2 P2WSH funding output.
// Each possible outcome has a Contract Execution Transaction (CET) spending
// that output. CET signatures are exchanged as ECDSA adaptor signatures
// encrypted under the oracle's signature point for the outcome, so a CET only
// becomes spendable once the oracle attests to it. A refund transaction with
// a later lock time returns the collateral if the oracle never attests.
package dlc

import (
	"bytes"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
)

// Message is the 32 byte digest an oracle signs for one outcome (or one digit
// of a numeric outcome).
type Message [32]byte

// TxInputInfo describes a funding input contributed by one party.
type TxInputInfo struct {
	Outpoint wire.OutPoint

	// Value of the spent output. Zero means unknown; when every input of a
	// party carries a value their sum must match the party's InputAmount.
	Value uint64

	// MaxWitnessLen is the largest witness, in bytes, needed to spend the
	// input. 107 for P2WPKH.
	MaxWitnessLen uint64

	// RedeemScript is set for P2SH-wrapped segwit inputs and pushed as the
	// input's scriptSig.
	RedeemScript []byte

	SerialID uint64
}

// PartyParams holds everything one party contributes to a contract.
type PartyParams struct {
	FundPubKey         *btcec.PublicKey
	ChangeScriptPubKey []byte
	ChangeSerialID     uint64
	PayoutScriptPubKey []byte
	PayoutSerialID     uint64
	Inputs             []TxInputInfo
	InputAmount        uint64
	Collateral         uint64
}

// Payout is the split of the funding output for one outcome.
type Payout struct {
	Offer  uint64
	Accept uint64
}

// OracleInfo is an oracle's public key and its committed nonces, one per
// digit of the event. Both are BIP-340 x-only keys; the Y coordinate of the
// given points is ignored.
type OracleInfo struct {
	PublicKey *btcec.PublicKey
	Nonces    []*btcec.PublicKey
}

// DlcTransactions is the unsigned transaction set of a contract.
type DlcTransactions struct {
	Fund   *wire.MsgTx
	Cets   []*wire.MsgTx
	Refund *wire.MsgTx

	// FundingScriptPubKey is the 2-of-2 multisig witness script locking the
	// funding output. The funding output itself pays to its P2WSH wrapper.
	FundingScriptPubKey []byte
}

// FundOutputIndex returns the index of the funding output in the funding
// transaction, or -1 if it is missing.
func (t *DlcTransactions) FundOutputIndex() int {
	if t == nil || t.Fund == nil {
		return -1
	}
	pkScript, err := WitnessScriptHash(t.FundingScriptPubKey)
	if err != nil {
		return -1
	}
	for i, out := range t.Fund.TxOut {
		if bytes.Equal(out.PkScript, pkScript) {
			return i
		}
	}
	return -1
}

// FundOutputValue returns the value locked in the funding output, or 0 if it
// is missing.
func (t *DlcTransactions) FundOutputValue() uint64 {
	idx := t.FundOutputIndex()
	if idx < 0 {
		return 0
	}
	return uint64(t.Fund.TxOut[idx].Value)
}

// FundOutPoint returns the outpoint every CET and the refund spend.
func (t *DlcTransactions) FundOutPoint() (wire.OutPoint, bool) {
	idx := t.FundOutputIndex()
	if idx < 0 {
		return wire.OutPoint{}, false
	}
	return wire.OutPoint{Hash: t.Fund.TxHash(), Index: uint32(idx)}, true
}
