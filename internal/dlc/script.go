package dlc

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// FundingScript builds the 2-of-2 multisig witness script locking the
// funding output.
//
// Script structure:
//
//	OP_2 <key_a> <key_b> OP_2 OP_CHECKMULTISIG
//
// Keys are ordered by their compressed serialization so both parties derive
// the same script regardless of argument order.
func FundingScript(a, b *btcec.PublicKey) ([]byte, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("%w: nil funding public key", ErrInvalidArgument)
	}
	ka, kb := a.SerializeCompressed(), b.SerializeCompressed()
	switch bytes.Compare(ka, kb) {
	case 0:
		return nil, fmt.Errorf("%w: funding public keys are identical", ErrInvalidArgument)
	case 1:
		ka, kb = kb, ka
	}

	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_2)
	builder.AddData(ka)
	builder.AddData(kb)
	builder.AddOp(txscript.OP_2)
	builder.AddOp(txscript.OP_CHECKMULTISIG)

	script, err := builder.Script()
	if err != nil {
		return nil, fmt.Errorf("%w: build funding script: %v", ErrInternalCrypto, err)
	}
	return script, nil
}

// WitnessScriptHash returns the P2WSH scriptPubKey (OP_0 <sha256(script)>)
// for a witness script.
func WitnessScriptHash(script []byte) ([]byte, error) {
	if len(script) == 0 {
		return nil, fmt.Errorf("%w: empty witness script", ErrInvalidArgument)
	}
	scriptHash := sha256.Sum256(script)
	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_0)
	builder.AddData(scriptHash[:])
	return builder.Script()
}

// ParseFundingScript extracts the two public keys of a funding script, in
// script order.
func ParseFundingScript(script []byte) ([2]*btcec.PublicKey, error) {
	var keys [2]*btcec.PublicKey

	tokenizer := txscript.MakeScriptTokenizer(0, script)

	if !tokenizer.Next() || tokenizer.Opcode() != txscript.OP_2 {
		return keys, fmt.Errorf("%w: funding script: expected OP_2", ErrInvalidArgument)
	}
	for i := range keys {
		if !tokenizer.Next() || tokenizer.Opcode() != txscript.OP_DATA_33 {
			return keys, fmt.Errorf("%w: funding script: expected 33 byte key", ErrInvalidArgument)
		}
		key, err := btcec.ParsePubKey(tokenizer.Data())
		if err != nil {
			return keys, fmt.Errorf("%w: funding script key %d: %v", ErrInvalidArgument, i, err)
		}
		keys[i] = key
	}
	if !tokenizer.Next() || tokenizer.Opcode() != txscript.OP_2 {
		return keys, fmt.Errorf("%w: funding script: expected OP_2", ErrInvalidArgument)
	}
	if !tokenizer.Next() || tokenizer.Opcode() != txscript.OP_CHECKMULTISIG {
		return keys, fmt.Errorf("%w: funding script: expected OP_CHECKMULTISIG", ErrInvalidArgument)
	}
	if tokenizer.Next() || tokenizer.Err() != nil {
		return keys, fmt.Errorf("%w: funding script: trailing data", ErrInvalidArgument)
	}
	if keys[0].IsEqual(keys[1]) {
		return keys, fmt.Errorf("%w: funding script keys are identical", ErrInvalidArgument)
	}

	return keys, nil
}

// fundingWitness creates the witness spending the funding output. Signatures
// must already be in script key order.
//
// Witness stack (bottom to top):
//
//	<empty> (CHECKMULTISIG extra pop)
//	<sig_a|SIGHASH_ALL>
//	<sig_b|SIGHASH_ALL>
//	<script>
func fundingWitness(sigA, sigB *ecdsa.Signature, script []byte) wire.TxWitness {
	return wire.TxWitness{
		{},
		append(sigA.Serialize(), byte(txscript.SigHashAll)),
		append(sigB.Serialize(), byte(txscript.SigHashAll)),
		script,
	}
}

// redeemScriptToScriptSig returns the scriptSig of a P2SH-wrapped input, a
// single push of its redeem script. Native segwit inputs get an empty one.
func redeemScriptToScriptSig(redeem []byte) ([]byte, error) {
	if len(redeem) == 0 {
		return nil, nil
	}
	script, err := txscript.NewScriptBuilder().AddData(redeem).Script()
	if err != nil {
		return nil, fmt.Errorf("%w: redeem script: %v", ErrInvalidArgument, err)
	}
	return script, nil
}
