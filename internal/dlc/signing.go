package dlc

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/klingon-exchange/klingon-dlc/internal/adaptor"
)

// SignatureState tracks a CET signature through the protocol.
type SignatureState int

const (
	StateUnsigned SignatureState = iota
	StateAdaptorCreated
	StateAdaptorVerified
	StateDecrypted
)

func (s SignatureState) String() string {
	switch s {
	case StateUnsigned:
		return "unsigned"
	case StateAdaptorCreated:
		return "adaptor_created"
	case StateAdaptorVerified:
		return "adaptor_verified"
	case StateDecrypted:
		return "decrypted"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// CetSigHash returns the BIP-143 SIGHASH_ALL digest of the funding input of
// a CET (or the refund), which is always input 0.
func CetSigHash(tx *wire.MsgTx, fundingScript []byte, fundOutputValue uint64) ([]byte, error) {
	if tx == nil || len(tx.TxIn) == 0 {
		return nil, fmt.Errorf("%w: transaction has no inputs", ErrSigning)
	}
	if fundOutputValue > btcutil.MaxSatoshi {
		return nil, fmt.Errorf("%w: funding output value %d exceeds max money", ErrSigning, fundOutputValue)
	}
	if _, err := ParseFundingScript(fundingScript); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}
	pkScript, err := WitnessScriptHash(fundingScript)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}

	value := int64(fundOutputValue)
	fetcher := txscript.NewCannedPrevOutputFetcher(pkScript, value)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	hash, err := txscript.CalcWitnessSigHash(fundingScript, sigHashes, txscript.SigHashAll, tx, 0, value)
	if err != nil {
		return nil, fmt.Errorf("%w: sighash: %v", ErrSigning, err)
	}
	return hash, nil
}

// CreateCetAdaptorSignature signs a CET with the funding key, encrypted under
// anchor. The counterparty can only complete the signature with the oracle
// attestation behind anchor.
func CreateCetAdaptorSignature(
	cet *wire.MsgTx,
	anchor *btcec.PublicKey,
	fundingSK *btcec.PrivateKey,
	fundingScript []byte,
	fundOutputValue uint64,
) (*adaptor.Signature, error) {
	if anchor == nil || fundingSK == nil {
		return nil, fmt.Errorf("%w: nil anchor or funding key", ErrInvalidArgument)
	}
	hash, err := CetSigHash(cet, fundingScript, fundOutputValue)
	if err != nil {
		return nil, err
	}
	sig, err := adaptor.Encrypt(fundingSK, hash, anchor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalCrypto, err)
	}
	return sig, nil
}

// CreateCetAdaptorSigFromOracleInfo resolves the anchor of msgs under infos
// and creates the CET adaptor signature for it.
func CreateCetAdaptorSigFromOracleInfo(
	cet *wire.MsgTx,
	infos []OracleInfo,
	fundingSK *btcec.PrivateKey,
	fundingScript []byte,
	fundOutputValue uint64,
	msgs [][]Message,
) (*adaptor.Signature, error) {
	anchor, err := AnchorFromOracleInfo(infos, msgs)
	if err != nil {
		return nil, err
	}
	return CreateCetAdaptorSignature(cet, anchor, fundingSK, fundingScript, fundOutputValue)
}

// CreateCetAdaptorSigFromPolicy creates the CET adaptor signature for the
// anchor of policy.
func CreateCetAdaptorSigFromPolicy(
	cet *wire.MsgTx,
	policy Policy,
	fundingSK *btcec.PrivateKey,
	fundingScript []byte,
	fundOutputValue uint64,
) (*adaptor.Signature, error) {
	if policy == nil {
		return nil, fmt.Errorf("%w: nil oracle policy", ErrInvalidArgument)
	}
	anchor, err := policy.Anchor()
	if err != nil {
		return nil, err
	}
	return CreateCetAdaptorSignature(cet, anchor, fundingSK, fundingScript, fundOutputValue)
}

// CreateCetAdaptorSignatures signs every CET under the anchor with the same
// index.
func CreateCetAdaptorSignatures(
	cets []*wire.MsgTx,
	anchors []*btcec.PublicKey,
	fundingSK *btcec.PrivateKey,
	fundingScript []byte,
	fundOutputValue uint64,
) ([]*adaptor.Signature, error) {
	if len(cets) != len(anchors) {
		return nil, fmt.Errorf("%w: %d cets for %d anchors", ErrInvalidArgument, len(cets), len(anchors))
	}
	sigs := make([]*adaptor.Signature, len(cets))
	for i := range cets {
		sig, err := CreateCetAdaptorSignature(cets[i], anchors[i], fundingSK, fundingScript, fundOutputValue)
		if err != nil {
			return nil, fmt.Errorf("cet %d: %w", i, err)
		}
		sigs[i] = sig
	}
	return sigs, nil
}

// VerifyCetAdaptorSignature checks that sig is an adaptor signature of cet by
// pubKey encrypted under anchor. Safe on untrusted input.
func VerifyCetAdaptorSignature(
	sig *adaptor.Signature,
	cet *wire.MsgTx,
	anchor *btcec.PublicKey,
	pubKey *btcec.PublicKey,
	fundingScript []byte,
	fundOutputValue uint64,
) error {
	if sig == nil || anchor == nil || pubKey == nil {
		return fmt.Errorf("%w: nil signature, anchor or public key", ErrVerification)
	}
	hash, err := CetSigHash(cet, fundingScript, fundOutputValue)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerification, err)
	}
	if err := sig.Verify(hash, pubKey, anchor); err != nil {
		return fmt.Errorf("%w: %v", ErrVerification, err)
	}
	return nil
}

// VerifyCetAdaptorSigFromOracleInfo resolves the anchor of msgs under infos
// and verifies sig against it.
func VerifyCetAdaptorSigFromOracleInfo(
	sig *adaptor.Signature,
	cet *wire.MsgTx,
	infos []OracleInfo,
	pubKey *btcec.PublicKey,
	fundingScript []byte,
	fundOutputValue uint64,
	msgs [][]Message,
) error {
	anchor, err := AnchorFromOracleInfo(infos, msgs)
	if err != nil {
		return err
	}
	return VerifyCetAdaptorSignature(sig, cet, anchor, pubKey, fundingScript, fundOutputValue)
}

// VerifyCetAdaptorSignatures verifies one signature per CET. It stops at the
// first invalid signature and reports its index.
func VerifyCetAdaptorSignatures(
	sigs []*adaptor.Signature,
	cets []*wire.MsgTx,
	anchors []*btcec.PublicKey,
	pubKey *btcec.PublicKey,
	fundingScript []byte,
	fundOutputValue uint64,
) error {
	if len(sigs) != len(cets) || len(cets) != len(anchors) {
		return fmt.Errorf("%w: %d signatures, %d cets, %d anchors",
			ErrInvalidArgument, len(sigs), len(cets), len(anchors))
	}
	for i := range sigs {
		if err := VerifyCetAdaptorSignature(sigs[i], cets[i], anchors[i], pubKey, fundingScript, fundOutputValue); err != nil {
			return fmt.Errorf("cet %d: %w", i, err)
		}
	}
	return nil
}

// SignaturesToSecret sums the s values of the oracle attestations, giving
// the discrete log of the anchor built from the same oracles and messages.
func SignaturesToSecret(oracleSigs [][]*schnorr.Signature) (*btcec.ModNScalar, error) {
	var secret btcec.ModNScalar
	count := 0
	for i, sigs := range oracleSigs {
		if len(sigs) == 0 {
			return nil, fmt.Errorf("%w: oracle %d has no signatures", ErrInvalidArgument, i)
		}
		for j, sig := range sigs {
			if sig == nil {
				return nil, fmt.Errorf("%w: oracle %d signature %d missing", ErrInvalidArgument, i, j)
			}
			// BIP-340 encoding is r (32 bytes) followed by s.
			var s btcec.ModNScalar
			s.SetByteSlice(sig.Serialize()[32:64])
			secret.Add(&s)
			count++
		}
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: no oracle signatures", ErrInvalidArgument)
	}
	if secret.IsZero() {
		return nil, fmt.Errorf("%w: oracle signatures sum to zero", ErrInternalCrypto)
	}
	return &secret, nil
}

// DecryptCetAdaptorSignature completes the counterparty's adaptor signature
// with the oracle secret. The result is checked against pubKey and the CET
// sighash, so a wrong secret fails here instead of at broadcast.
func DecryptCetAdaptorSignature(
	sig *adaptor.Signature,
	secret *btcec.ModNScalar,
	cet *wire.MsgTx,
	pubKey *btcec.PublicKey,
	fundingScript []byte,
	fundOutputValue uint64,
) (*ecdsa.Signature, error) {
	if sig == nil || pubKey == nil {
		return nil, fmt.Errorf("%w: nil signature or public key", ErrDecryption)
	}
	hash, err := CetSigHash(cet, fundingScript, fundOutputValue)
	if err != nil {
		return nil, err
	}
	plain, err := sig.Decrypt(secret)
	if err != nil {
		if errors.Is(err, adaptor.ErrInvalidKey) {
			return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInternalCrypto, err)
	}
	if !plain.Verify(hash, pubKey) {
		return nil, fmt.Errorf("%w: decrypted signature does not verify", ErrDecryption)
	}
	return plain, nil
}

// SignFundingOutputSpend creates a plain signature of input 0 of tx, which
// must spend the funding output.
func SignFundingOutputSpend(tx *wire.MsgTx, fundingSK *btcec.PrivateKey, fundingScript []byte, fundOutputValue uint64) (*ecdsa.Signature, error) {
	if fundingSK == nil {
		return nil, fmt.Errorf("%w: nil funding key", ErrSigning)
	}
	hash, err := CetSigHash(tx, fundingScript, fundOutputValue)
	if err != nil {
		return nil, err
	}
	return ecdsa.Sign(fundingSK, hash), nil
}
