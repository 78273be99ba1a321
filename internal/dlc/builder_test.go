package dlc_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/klingon-exchange/klingon-dlc/internal/dlc"
)

func TestCreateDlcTransactionsBinary(t *testing.T) {
	c := newBinaryContract(t)
	txs := c.txs

	// Per party: fund weight 502 -> 126 sat, cet weight 338 -> 85 sat.
	const (
		fundFee   = 126
		cetFee    = 85
		fundValue = 2*testCollateral + 2*cetFee
		change    = testInputAmount - testCollateral - fundFee - cetFee
	)

	if len(txs.Cets) != 2 {
		t.Fatalf("got %d cets, want 2", len(txs.Cets))
	}

	t.Run("funding", func(t *testing.T) {
		fund := txs.Fund
		if fund.Version != dlc.TxVersion {
			t.Errorf("version = %d, want %d", fund.Version, dlc.TxVersion)
		}
		if len(fund.TxIn) != 2 {
			t.Fatalf("got %d inputs, want 2", len(fund.TxIn))
		}
		if fund.TxIn[0].PreviousOutPoint != c.offer.Inputs[0].Outpoint {
			t.Error("offer input (serial 10) should come first")
		}
		for i, in := range fund.TxIn {
			if in.Sequence != wire.MaxTxInSequenceNum {
				t.Errorf("input %d sequence = %x, want final", i, in.Sequence)
			}
		}

		if len(fund.TxOut) != 3 {
			t.Fatalf("got %d outputs, want 3", len(fund.TxOut))
		}
		if idx := txs.FundOutputIndex(); idx != 1 {
			t.Errorf("fund output index = %d, want 1", idx)
		}
		if v := txs.FundOutputValue(); v != fundValue {
			t.Errorf("fund output value = %d, want %d", v, fundValue)
		}
		if !bytes.Equal(fund.TxOut[0].PkScript, c.offer.ChangeScriptPubKey) || fund.TxOut[0].Value != change {
			t.Errorf("output 0 should be offer change of %d, got %d", change, fund.TxOut[0].Value)
		}
		if !bytes.Equal(fund.TxOut[2].PkScript, c.accept.ChangeScriptPubKey) || fund.TxOut[2].Value != change {
			t.Errorf("output 2 should be accept change of %d, got %d", change, fund.TxOut[2].Value)
		}
	})

	t.Run("cets", func(t *testing.T) {
		fundOutPoint, ok := txs.FundOutPoint()
		if !ok {
			t.Fatal("fund outpoint missing")
		}
		wantScripts := [][]byte{c.offer.PayoutScriptPubKey, c.accept.PayoutScriptPubKey}
		for i, cet := range txs.Cets {
			if len(cet.TxIn) != 1 || cet.TxIn[0].PreviousOutPoint != fundOutPoint {
				t.Errorf("cet %d does not spend the funding output", i)
			}
			if len(cet.TxIn[0].Witness) != 0 {
				t.Errorf("cet %d should be unsigned", i)
			}
			// The losing side's zero payout is below dust and dropped.
			if len(cet.TxOut) != 1 {
				t.Fatalf("cet %d has %d outputs, want 1", i, len(cet.TxOut))
			}
			out := cet.TxOut[0]
			if out.Value != 2*testCollateral || !bytes.Equal(out.PkScript, wantScripts[i]) {
				t.Errorf("cet %d pays %d to the wrong party", i, out.Value)
			}
			if fee := int64(fundValue) - out.Value; fee != 2*cetFee {
				t.Errorf("cet %d fee = %d, want %d", i, fee, 2*cetFee)
			}
		}
	})

	t.Run("refund", func(t *testing.T) {
		refund := txs.Refund
		if refund.LockTime != testRefundLock {
			t.Errorf("lock time = %d, want %d", refund.LockTime, testRefundLock)
		}
		if refund.TxIn[0].Sequence != wire.MaxTxInSequenceNum-1 {
			t.Errorf("sequence = %x, want lock time enabled", refund.TxIn[0].Sequence)
		}
		if len(refund.TxOut) != 2 {
			t.Fatalf("got %d outputs, want 2", len(refund.TxOut))
		}
		if refund.TxOut[0].Value != testCollateral || !bytes.Equal(refund.TxOut[0].PkScript, c.offer.PayoutScriptPubKey) {
			t.Error("refund output 0 should return offer collateral")
		}
		if refund.TxOut[1].Value != testCollateral || !bytes.Equal(refund.TxOut[1].PkScript, c.accept.PayoutScriptPubKey) {
			t.Error("refund output 1 should return accept collateral")
		}
	})
}

func TestFundingWeightEstimate(t *testing.T) {
	c := newBinaryContract(t)

	// Attach P2WPKH sized witnesses to measure the signed funding tx.
	fund := c.txs.Fund.Copy()
	for _, in := range fund.TxIn {
		in.Witness = wire.TxWitness{make([]byte, 72), make([]byte, 33)}
	}
	weight := blockchain.GetTransactionWeight(btcutil.NewTx(fund))

	// Both parties pay for 502 weight units each.
	const estimated = 2 * 502
	if diff := weight - estimated; diff < -8 || diff > 8 {
		t.Errorf("funding weight %d too far from estimate %d", weight, estimated)
	}

	if err := blockchain.CheckTransactionSanity(btcutil.NewTx(c.txs.Fund)); err != nil {
		t.Errorf("funding tx not sane: %v", err)
	}
	for i, cet := range c.txs.Cets {
		if err := blockchain.CheckTransactionSanity(btcutil.NewTx(cet)); err != nil {
			t.Errorf("cet %d not sane: %v", i, err)
		}
	}
}

func TestCreateDlcTransactionsLockTimes(t *testing.T) {
	_, offer := party(t, "offer", 10, 0, 0)
	_, accept := party(t, "accept", 20, 2, 1)
	payouts := []dlc.Payout{{Offer: 2 * testCollateral}}

	txs, err := dlc.CreateDlcTransactions(offer, accept, payouts, 2_000, 1, 100, 1_500, 1)
	if err != nil {
		t.Fatalf("CreateDlcTransactions: %v", err)
	}
	if txs.Fund.LockTime != 100 || txs.Fund.TxIn[0].Sequence != wire.MaxTxInSequenceNum-1 {
		t.Error("funding lock time not applied")
	}
	cet := txs.Cets[0]
	if cet.LockTime != 1_500 || cet.TxIn[0].Sequence != wire.MaxTxInSequenceNum-1 {
		t.Error("cet lock time not applied")
	}
}

func TestInputOrderingBySerialID(t *testing.T) {
	_, offer := party(t, "offer", 50, 0, 0)
	_, accept := party(t, "accept", 5, 2, 1)

	txs, err := dlc.CreateDlcTransactions(offer, accept, []dlc.Payout{{Accept: 2 * testCollateral}}, testRefundLock, 1, 0, 0, 1)
	if err != nil {
		t.Fatalf("CreateDlcTransactions: %v", err)
	}
	if txs.Fund.TxIn[0].PreviousOutPoint != accept.Inputs[0].Outpoint {
		t.Error("accept input has the lower serial id and should come first")
	}
}

func TestCreateDlcTransactionsDeterministic(t *testing.T) {
	a := newBinaryContract(t)
	b := newBinaryContract(t)

	if a.txs.Fund.TxHash() != b.txs.Fund.TxHash() {
		t.Error("funding txid differs between builds")
	}
	for i := range a.txs.Cets {
		if a.txs.Cets[i].TxHash() != b.txs.Cets[i].TxHash() {
			t.Errorf("cet %d txid differs between builds", i)
		}
	}
}

func TestCreateDlcTransactionsErrors(t *testing.T) {
	valid := []dlc.Payout{{Offer: 2 * testCollateral}, {Accept: 2 * testCollateral}}

	tests := []struct {
		name    string
		mutate  func(offer, accept *dlc.PartyParams)
		payouts []dlc.Payout
		refund  uint32
		feeRate uint64
		fund    uint32
		cet     uint32
		wantErr error
	}{
		{
			name:    "zero fee rate",
			payouts: valid, refund: testRefundLock, feeRate: 0,
			wantErr: dlc.ErrInvalidArgument,
		},
		{
			name:    "no payouts",
			payouts: nil, refund: testRefundLock, feeRate: 1,
			wantErr: dlc.ErrInvalidArgument,
		},
		{
			name:    "payout does not sum to collateral",
			payouts: []dlc.Payout{{Offer: testCollateral, Accept: testCollateral - 1}},
			refund:  testRefundLock, feeRate: 1,
			wantErr: dlc.ErrInvalidArgument,
		},
		{
			name:    "payout overflow",
			payouts: []dlc.Payout{{Offer: ^uint64(0), Accept: 2}},
			refund:  testRefundLock, feeRate: 1,
			wantErr: dlc.ErrInvalidArgument,
		},
		{
			name: "payout row all dust",
			mutate: func(o, a *dlc.PartyParams) {
				o.Collateral, a.Collateral = 600, 600
			},
			payouts: []dlc.Payout{{Offer: 1200}, {Offer: 600, Accept: 600}},
			refund:  testRefundLock, feeRate: 1,
			wantErr: dlc.ErrInvalidArgument,
		},
		{
			name: "refund all dust",
			mutate: func(o, a *dlc.PartyParams) {
				o.Collateral, a.Collateral = 900, 900
			},
			payouts: []dlc.Payout{{Offer: 1800}, {Accept: 1800}},
			refund:  testRefundLock, feeRate: 1,
			wantErr: dlc.ErrInvalidArgument,
		},
		{
			name:    "missing funding key",
			mutate:  func(o, _ *dlc.PartyParams) { o.FundPubKey = nil },
			payouts: valid, refund: testRefundLock, feeRate: 1,
			wantErr: dlc.ErrInvalidArgument,
		},
		{
			name:    "identical funding keys",
			mutate:  func(o, a *dlc.PartyParams) { a.FundPubKey = o.FundPubKey },
			payouts: valid, refund: testRefundLock, feeRate: 1,
			wantErr: dlc.ErrInvalidArgument,
		},
		{
			name:    "no inputs",
			mutate:  func(_, a *dlc.PartyParams) { a.Inputs = nil },
			payouts: valid, refund: testRefundLock, feeRate: 1,
			wantErr: dlc.ErrInvalidArgument,
		},
		{
			name:    "input values disagree with input amount",
			mutate:  func(o, _ *dlc.PartyParams) { o.InputAmount++ },
			payouts: valid, refund: testRefundLock, feeRate: 1,
			wantErr: dlc.ErrInvalidArgument,
		},
		{
			name:    "zero refund lock time",
			payouts: valid, refund: 0, feeRate: 1,
			wantErr: dlc.ErrInvalidParameter,
		},
		{
			name:    "cet after refund",
			payouts: valid, refund: testRefundLock, feeRate: 1, cet: testRefundLock + 1,
			wantErr: dlc.ErrInvalidParameter,
		},
		{
			name:    "cet equal to refund",
			payouts: valid, refund: testRefundLock, feeRate: 1, cet: testRefundLock,
			wantErr: dlc.ErrInvalidParameter,
		},
		{
			name:    "cet timestamp with refund height",
			payouts: valid, refund: testRefundLock, feeRate: 1, cet: 600_000_000,
			wantErr: dlc.ErrInvalidParameter,
		},
		{
			name:    "fund after refund",
			payouts: valid, refund: testRefundLock, feeRate: 1, fund: testRefundLock,
			wantErr: dlc.ErrInvalidParameter,
		},
		{
			name:    "duplicate change serial id",
			mutate:  func(o, a *dlc.PartyParams) { a.ChangeSerialID = o.ChangeSerialID },
			payouts: valid, refund: testRefundLock, feeRate: 1,
			wantErr: dlc.ErrInvalidArgument,
		},
		{
			name:    "duplicate input serial id",
			mutate:  func(o, a *dlc.PartyParams) { a.Inputs[0].SerialID = o.Inputs[0].SerialID },
			payouts: valid, refund: testRefundLock, feeRate: 1,
			wantErr: dlc.ErrInvalidArgument,
		},
		{
			name:    "same outpoint twice",
			mutate:  func(o, a *dlc.PartyParams) { a.Inputs[0].Outpoint = o.Inputs[0].Outpoint },
			payouts: valid, refund: testRefundLock, feeRate: 1,
			wantErr: dlc.ErrInvalidArgument,
		},
		{
			name: "inputs cannot cover collateral and fees",
			mutate: func(o, _ *dlc.PartyParams) {
				o.InputAmount = testCollateral + 100
				o.Inputs[0].Value = o.InputAmount
			},
			payouts: valid, refund: testRefundLock, feeRate: 1,
			wantErr: dlc.ErrInsufficientFunds,
		},
		{
			name:    "fee rate too high",
			payouts: valid, refund: testRefundLock, feeRate: 1_000,
			wantErr: dlc.ErrInsufficientFunds,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, offer := party(t, "offer", 10, 0, 0)
			_, accept := party(t, "accept", 20, 2, 1)
			if tt.mutate != nil {
				tt.mutate(offer, accept)
			}
			_, err := dlc.CreateDlcTransactions(offer, accept, tt.payouts, tt.refund, tt.feeRate, tt.fund, tt.cet, 1)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
