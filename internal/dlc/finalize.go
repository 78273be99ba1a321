package dlc

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/wire"
	"github.com/klingon-exchange/klingon-dlc/internal/adaptor"
)

// FinalizeCet returns a copy of cet carrying the 2-of-2 witness built from
// both parties' signatures. The signatures may be given in any order; each
// must verify against a distinct key of the funding script.
func FinalizeCet(cet *wire.MsgTx, sigA, sigB *ecdsa.Signature, fundingScript []byte, fundOutputValue uint64) (*wire.MsgTx, error) {
	return finalizeFundingSpend(cet, sigA, sigB, fundingScript, fundOutputValue)
}

// FinalizeRefund is FinalizeCet for the refund transaction.
func FinalizeRefund(refund *wire.MsgTx, sigA, sigB *ecdsa.Signature, fundingScript []byte, fundOutputValue uint64) (*wire.MsgTx, error) {
	return finalizeFundingSpend(refund, sigA, sigB, fundingScript, fundOutputValue)
}

func finalizeFundingSpend(tx *wire.MsgTx, sigA, sigB *ecdsa.Signature, fundingScript []byte, fundOutputValue uint64) (*wire.MsgTx, error) {
	keys, err := ParseFundingScript(fundingScript)
	if err != nil {
		return nil, err
	}
	hash, err := CetSigHash(tx, fundingScript, fundOutputValue)
	if err != nil {
		return nil, err
	}

	var ordered [2]*ecdsa.Signature
	for n, sig := range []*ecdsa.Signature{sigA, sigB} {
		if sig == nil {
			return nil, fmt.Errorf("%w: signature %d missing", ErrInvalidSignature, n)
		}
		placed := false
		for i, key := range keys {
			if ordered[i] == nil && sig.Verify(hash, key) {
				ordered[i] = sig
				placed = true
				break
			}
		}
		if !placed {
			return nil, fmt.Errorf("%w: signature %d matches no remaining funding key", ErrInvalidSignature, n)
		}
	}

	signed := tx.Copy()
	signed.TxIn[0].Witness = fundingWitness(ordered[0], ordered[1], fundingScript)
	return signed, nil
}

// SignCet completes a CET once the oracle has attested: it decrypts the
// counterparty's adaptor signature with the attestation, adds our own
// signature and returns the fully signed CET.
func SignCet(
	cet *wire.MsgTx,
	adaptorSig *adaptor.Signature,
	oracleSigs [][]*schnorr.Signature,
	fundingSK *btcec.PrivateKey,
	otherPK *btcec.PublicKey,
	fundingScript []byte,
	fundOutputValue uint64,
) (*wire.MsgTx, error) {
	secret, err := SignaturesToSecret(oracleSigs)
	if err != nil {
		return nil, err
	}
	defer secret.Zero()

	otherSig, err := DecryptCetAdaptorSignature(adaptorSig, secret, cet, otherPK, fundingScript, fundOutputValue)
	if err != nil {
		return nil, err
	}
	ownSig, err := SignFundingOutputSpend(cet, fundingSK, fundingScript, fundOutputValue)
	if err != nil {
		return nil, err
	}
	return FinalizeCet(cet, ownSig, otherSig, fundingScript, fundOutputValue)
}

// SignRefund signs the refund with our funding key and combines it with the
// counterparty's plain refund signature.
func SignRefund(
	refund *wire.MsgTx,
	fundingSK *btcec.PrivateKey,
	otherSig *ecdsa.Signature,
	fundingScript []byte,
	fundOutputValue uint64,
) (*wire.MsgTx, error) {
	ownSig, err := SignFundingOutputSpend(refund, fundingSK, fundingScript, fundOutputValue)
	if err != nil {
		return nil, err
	}
	return FinalizeRefund(refund, ownSig, otherSig, fundingScript, fundOutputValue)
}
