package dlc

import (
	"fmt"
	"slices"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

const (
	// TxVersion is the version of every contract transaction.
	TxVersion = 2

	// LockTimeThreshold separates block height lock times from unix
	// timestamps.
	LockTimeThreshold = 500_000_000

	sequenceEnableLockTime = wire.MaxTxInSequenceNum - 1
)

// CreateDlcTransactions builds the funding transaction, one CET per payout
// (CET i pays payouts[i]) and the refund transaction of a contract.
//
// Inputs and outputs are ordered by the serial ids both parties agreed on, so
// both sides build byte-identical transactions. Fees are split by weight: each
// party pays for its own inputs and outputs plus half of the base weight.
func CreateDlcTransactions(
	offer, accept *PartyParams,
	payouts []Payout,
	refundLockTime uint32,
	feeRatePerVb uint64,
	fundLockTime, cetLockTime uint32,
	fundOutputSerialID uint64,
) (*DlcTransactions, error) {
	if feeRatePerVb == 0 {
		return nil, fmt.Errorf("%w: fee rate must be greater than 0", ErrInvalidArgument)
	}
	if len(payouts) == 0 {
		return nil, fmt.Errorf("%w: no payouts", ErrInvalidArgument)
	}
	if err := validateParty("offer", offer); err != nil {
		return nil, err
	}
	if err := validateParty("accept", accept); err != nil {
		return nil, err
	}

	totalCollateral, ok := checkedSum(offer.Collateral, accept.Collateral)
	if !ok || totalCollateral > btcutil.MaxSatoshi {
		return nil, fmt.Errorf("%w: total collateral overflow", ErrInvalidArgument)
	}
	for i, p := range payouts {
		sum, ok := checkedSum(p.Offer, p.Accept)
		if !ok || sum != totalCollateral {
			return nil, fmt.Errorf("%w: payout %d pays %d+%d, want total collateral %d",
				ErrInvalidArgument, i, p.Offer, p.Accept, totalCollateral)
		}
		if p.Offer < DustLimit && p.Accept < DustLimit {
			return nil, fmt.Errorf("%w: payout %d leaves no output above dust", ErrInvalidArgument, i)
		}
	}
	if offer.Collateral < DustLimit && accept.Collateral < DustLimit {
		return nil, fmt.Errorf("%w: refund leaves no output above dust", ErrInvalidArgument)
	}

	if err := validateLockTimes(fundLockTime, cetLockTime, refundLockTime); err != nil {
		return nil, err
	}
	if err := validateSerialIDs(offer, accept, fundOutputSerialID); err != nil {
		return nil, err
	}

	offerFees, err := computeFees(offer, feeRatePerVb)
	if err != nil {
		return nil, fmt.Errorf("offer: %w", err)
	}
	acceptFees, err := computeFees(accept, feeRatePerVb)
	if err != nil {
		return nil, fmt.Errorf("accept: %w", err)
	}

	fundingScript, err := FundingScript(offer.FundPubKey, accept.FundPubKey)
	if err != nil {
		return nil, err
	}
	fundPkScript, err := WitnessScriptHash(fundingScript)
	if err != nil {
		return nil, err
	}

	fundValue, ok := checkedSum(totalCollateral, offerFees.cet, acceptFees.cet)
	if !ok || fundValue > btcutil.MaxSatoshi {
		return nil, fmt.Errorf("%w: funding output value overflow", ErrInvalidArgument)
	}
	if fundValue < DustLimit {
		return nil, fmt.Errorf("%w: funding output value %d below dust limit", ErrInvalidArgument, fundValue)
	}

	fund, err := buildFundingTx(offer, accept, offerFees, acceptFees, fundPkScript, fundValue,
		fundLockTime, fundOutputSerialID)
	if err != nil {
		return nil, err
	}

	txs := &DlcTransactions{Fund: fund, FundingScriptPubKey: fundingScript}
	fundOutPoint, ok := txs.FundOutPoint()
	if !ok {
		return nil, fmt.Errorf("%w: funding output missing", ErrInternalCrypto)
	}

	txs.Cets = make([]*wire.MsgTx, len(payouts))
	for i, p := range payouts {
		txs.Cets[i] = buildCet(fundOutPoint, offer, accept, p, cetLockTime)
	}
	txs.Refund = buildRefundTx(fundOutPoint, offer, accept, refundLockTime)

	return txs, nil
}

func validateParty(role string, p *PartyParams) error {
	if p == nil {
		return fmt.Errorf("%w: %s params missing", ErrInvalidArgument, role)
	}
	if p.FundPubKey == nil {
		return fmt.Errorf("%w: %s funding public key missing", ErrInvalidArgument, role)
	}
	if len(p.Inputs) == 0 {
		return fmt.Errorf("%w: %s has no funding inputs", ErrInvalidArgument, role)
	}
	if len(p.ChangeScriptPubKey) == 0 || len(p.PayoutScriptPubKey) == 0 {
		return fmt.Errorf("%w: %s change and payout scripts are required", ErrInvalidArgument, role)
	}
	if p.InputAmount > btcutil.MaxSatoshi {
		return fmt.Errorf("%w: %s input amount %d exceeds max money", ErrInvalidArgument, role, p.InputAmount)
	}

	var sum uint64
	known := true
	for _, in := range p.Inputs {
		if in.Value == 0 {
			known = false
			break
		}
		var ok bool
		if sum, ok = checkedSum(sum, in.Value); !ok {
			return fmt.Errorf("%w: %s input values overflow", ErrInvalidArgument, role)
		}
	}
	if known && sum != p.InputAmount {
		return fmt.Errorf("%w: %s inputs sum to %d, input amount is %d",
			ErrInvalidArgument, role, sum, p.InputAmount)
	}
	return nil
}

// validateLockTimes makes sure the refund can never become valid before the
// CETs.
func validateLockTimes(fundLockTime, cetLockTime, refundLockTime uint32) error {
	if refundLockTime == 0 {
		return fmt.Errorf("%w: refund lock time must be set", ErrInvalidParameter)
	}

	if cetLockTime != 0 {
		if isTimestamp(cetLockTime) != isTimestamp(refundLockTime) {
			return fmt.Errorf("%w: cet lock time %d and refund lock time %d use different units",
				ErrInvalidParameter, cetLockTime, refundLockTime)
		}
		if cetLockTime >= refundLockTime {
			return fmt.Errorf("%w: refund lock time %d must be after cet lock time %d",
				ErrInvalidParameter, refundLockTime, cetLockTime)
		}
	}

	if fundLockTime != 0 && isTimestamp(fundLockTime) == isTimestamp(refundLockTime) &&
		fundLockTime >= refundLockTime {
		return fmt.Errorf("%w: refund lock time %d must be after fund lock time %d",
			ErrInvalidParameter, refundLockTime, fundLockTime)
	}
	return nil
}

func isTimestamp(lockTime uint32) bool {
	return lockTime >= LockTimeThreshold
}

func validateSerialIDs(offer, accept *PartyParams, fundOutputSerialID uint64) error {
	if fundOutputSerialID == offer.ChangeSerialID ||
		fundOutputSerialID == accept.ChangeSerialID ||
		offer.ChangeSerialID == accept.ChangeSerialID {
		return fmt.Errorf("%w: funding transaction output serial ids must be unique", ErrInvalidArgument)
	}

	serials := make(map[uint64]struct{})
	outpoints := make(map[wire.OutPoint]struct{})
	for _, p := range []*PartyParams{offer, accept} {
		for _, in := range p.Inputs {
			if _, dup := serials[in.SerialID]; dup {
				return fmt.Errorf("%w: duplicate input serial id %d", ErrInvalidArgument, in.SerialID)
			}
			if _, dup := outpoints[in.Outpoint]; dup {
				return fmt.Errorf("%w: input %s spent twice", ErrInvalidArgument, in.Outpoint)
			}
			serials[in.SerialID] = struct{}{}
			outpoints[in.Outpoint] = struct{}{}
		}
	}
	return nil
}

// sequenceFor returns the input sequence that lets lockTime take effect.
func sequenceFor(lockTime uint32) uint32 {
	if lockTime == 0 {
		return wire.MaxTxInSequenceNum
	}
	return sequenceEnableLockTime
}

type serialInput struct {
	in       *wire.TxIn
	serialID uint64
}

type serialOutput struct {
	out      *wire.TxOut
	serialID uint64
}

// orderOutputs drops dust outputs and sorts the rest by serial id. Ties keep
// their original order.
func orderOutputs(outs []serialOutput) []*wire.TxOut {
	slices.SortStableFunc(outs, func(a, b serialOutput) int {
		switch {
		case a.serialID < b.serialID:
			return -1
		case a.serialID > b.serialID:
			return 1
		}
		return 0
	})

	ordered := make([]*wire.TxOut, 0, len(outs))
	for _, o := range outs {
		if o.out.Value >= DustLimit {
			ordered = append(ordered, o.out)
		}
	}
	return ordered
}

func buildFundingTx(
	offer, accept *PartyParams,
	offerFees, acceptFees partyFees,
	fundPkScript []byte,
	fundValue uint64,
	lockTime uint32,
	fundOutputSerialID uint64,
) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(TxVersion)
	tx.LockTime = lockTime

	var inputs []serialInput
	for _, p := range []*PartyParams{offer, accept} {
		for _, info := range p.Inputs {
			scriptSig, err := redeemScriptToScriptSig(info.RedeemScript)
			if err != nil {
				return nil, err
			}
			in := wire.NewTxIn(&info.Outpoint, scriptSig, nil)
			in.Sequence = sequenceFor(lockTime)
			inputs = append(inputs, serialInput{in: in, serialID: info.SerialID})
		}
	}
	slices.SortStableFunc(inputs, func(a, b serialInput) int {
		switch {
		case a.serialID < b.serialID:
			return -1
		case a.serialID > b.serialID:
			return 1
		}
		return 0
	})
	for _, in := range inputs {
		tx.AddTxIn(in.in)
	}

	outputs := orderOutputs([]serialOutput{
		{out: wire.NewTxOut(int64(fundValue), fundPkScript), serialID: fundOutputSerialID},
		{out: wire.NewTxOut(int64(offerFees.change), offer.ChangeScriptPubKey), serialID: offer.ChangeSerialID},
		{out: wire.NewTxOut(int64(acceptFees.change), accept.ChangeScriptPubKey), serialID: accept.ChangeSerialID},
	})
	for _, out := range outputs {
		tx.AddTxOut(out)
	}

	return tx, nil
}

func buildCet(fundOutPoint wire.OutPoint, offer, accept *PartyParams, payout Payout, lockTime uint32) *wire.MsgTx {
	tx := wire.NewMsgTx(TxVersion)
	tx.LockTime = lockTime

	in := wire.NewTxIn(&fundOutPoint, nil, nil)
	in.Sequence = sequenceFor(lockTime)
	tx.AddTxIn(in)

	outputs := orderOutputs([]serialOutput{
		{out: wire.NewTxOut(int64(payout.Offer), offer.PayoutScriptPubKey), serialID: offer.PayoutSerialID},
		{out: wire.NewTxOut(int64(payout.Accept), accept.PayoutScriptPubKey), serialID: accept.PayoutSerialID},
	})
	for _, out := range outputs {
		tx.AddTxOut(out)
	}
	return tx
}

func buildRefundTx(fundOutPoint wire.OutPoint, offer, accept *PartyParams, lockTime uint32) *wire.MsgTx {
	tx := wire.NewMsgTx(TxVersion)
	tx.LockTime = lockTime

	in := wire.NewTxIn(&fundOutPoint, nil, nil)
	in.Sequence = sequenceEnableLockTime
	tx.AddTxIn(in)

	for _, p := range []*PartyParams{offer, accept} {
		if p.Collateral >= DustLimit {
			tx.AddTxOut(wire.NewTxOut(int64(p.Collateral), p.PayoutScriptPubKey))
		}
	}
	return tx
}
