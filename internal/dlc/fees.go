package dlc

import (
	"fmt"
	"math/bits"
)

// Weight constants used to split fees between the two parties. Each party
// pays for its own inputs and outputs plus half of the shared base weight.
const (
	// TxInputBaseWeight is the weight of an input without scriptSig or
	// witness: outpoint, scriptSig length and sequence.
	TxInputBaseWeight = 164

	// FundTxBaseWeight covers version, lock time, counts, segwit marker and
	// the funding output.
	FundTxBaseWeight = 214

	// CetBaseWeight covers a CET without its payout scripts, including the
	// 2-of-2 witness of its single input.
	CetBaseWeight = 500

	// changeOutputBaseWeight is the value and script length of a change
	// output, scaled to weight units.
	changeOutputBaseWeight = 36

	// DustLimit is the smallest output value kept in any contract
	// transaction. Smaller outputs are dropped and their value goes to fees.
	DustLimit = 1000

	witnessScaleFactor = 4
)

// partyFees is one party's share of the funding and CET fees.
type partyFees struct {
	fund   uint64
	cet    uint64
	change uint64
}

// feeForWeight converts a weight to a fee at feeRate sat/vB, rounding the
// virtual size up.
func feeForWeight(weight, feeRate uint64) (uint64, error) {
	vsize := weight / witnessScaleFactor
	if weight%witnessScaleFactor != 0 {
		vsize++
	}
	hi, fee := bits.Mul64(vsize, feeRate)
	if hi != 0 {
		return 0, fmt.Errorf("%w: fee overflow", ErrInvalidArgument)
	}
	return fee, nil
}

// checkedSum adds values, reporting overflow.
func checkedSum(values ...uint64) (uint64, bool) {
	var sum uint64
	for _, v := range values {
		var carry uint64
		sum, carry = bits.Add64(sum, v, 0)
		if carry != 0 {
			return 0, false
		}
	}
	return sum, true
}

// computeFees returns the party's fee shares and its change value.
func computeFees(p *PartyParams, feeRate uint64) (partyFees, error) {
	weight := uint64(FundTxBaseWeight / 2)
	for i, in := range p.Inputs {
		scriptSig, err := redeemScriptToScriptSig(in.RedeemScript)
		if err != nil {
			return partyFees{}, err
		}
		w, ok := checkedSum(weight, TxInputBaseWeight,
			uint64(len(scriptSig))*witnessScaleFactor, in.MaxWitnessLen)
		if !ok {
			return partyFees{}, fmt.Errorf("%w: input %d weight overflow", ErrInvalidArgument, i)
		}
		weight = w
	}
	weight, ok := checkedSum(weight,
		uint64(len(p.ChangeScriptPubKey))*witnessScaleFactor, changeOutputBaseWeight)
	if !ok {
		return partyFees{}, fmt.Errorf("%w: funding weight overflow", ErrInvalidArgument)
	}

	fundFee, err := feeForWeight(weight, feeRate)
	if err != nil {
		return partyFees{}, err
	}

	cetWeight := uint64(CetBaseWeight/2) + uint64(len(p.PayoutScriptPubKey))*witnessScaleFactor
	cetFee, err := feeForWeight(cetWeight, feeRate)
	if err != nil {
		return partyFees{}, err
	}

	required, ok := checkedSum(p.Collateral, fundFee, cetFee)
	if !ok || required > p.InputAmount {
		return partyFees{}, fmt.Errorf("%w: inputs %d cannot cover collateral %d plus fees %d+%d",
			ErrInsufficientFunds, p.InputAmount, p.Collateral, fundFee, cetFee)
	}

	return partyFees{
		fund:   fundFee,
		cet:    cetFee,
		change: p.InputAmount - required,
	}, nil
}
