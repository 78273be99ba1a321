package dlc

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// ComputeSigPoint returns the point s*G of the BIP-340 signature an oracle
// with public key pubKey will produce for msg using nonce:
//
//	S = R + e*P,  e = H_BIP0340/challenge(R.x || P.x || msg)
//
// Both keys are treated as x-only and lifted to even Y.
func ComputeSigPoint(pubKey, nonce *btcec.PublicKey, msg Message) (*btcec.PublicKey, error) {
	if pubKey == nil || nonce == nil {
		return nil, fmt.Errorf("%w: nil oracle key or nonce", ErrInvalidArgument)
	}

	pBytes := schnorr.SerializePubKey(pubKey)
	rBytes := schnorr.SerializePubKey(nonce)
	p, err := schnorr.ParsePubKey(pBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: oracle public key: %v", ErrInternalCrypto, err)
	}
	r, err := schnorr.ParsePubKey(rBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: oracle nonce: %v", ErrInternalCrypto, err)
	}

	commitment := chainhash.TaggedHash(chainhash.TagBIP0340Challenge, rBytes, pBytes, msg[:])
	var e secp256k1.ModNScalar
	e.SetBytes((*[32]byte)(commitment))

	var pJ, rJ, eP, sum secp256k1.JacobianPoint
	p.AsJacobian(&pJ)
	r.AsJacobian(&rJ)
	secp256k1.ScalarMultNonConst(&e, &pJ, &eP)
	secp256k1.AddNonConst(&rJ, &eP, &sum)

	return affineKey(&sum)
}

// OracleSigPoint sums the signature points of one oracle over msgs. Messages
// use the oracle's nonces in order; a numeric outcome may cover fewer digits
// than the oracle committed to.
func OracleSigPoint(info *OracleInfo, msgs []Message) (*btcec.PublicKey, error) {
	if err := checkOracleShape(info, msgs); err != nil {
		return nil, err
	}

	points := make([]*btcec.PublicKey, len(msgs))
	for i, msg := range msgs {
		point, err := ComputeSigPoint(info.PublicKey, info.Nonces[i], msg)
		if err != nil {
			return nil, err
		}
		points[i] = point
	}
	return combinePoints(points)
}

// AnchorFromOracleInfo returns the adaptor point of a CET attested by
// several oracles: the sum of each oracle's signature point over its
// messages. msgs[i] are the messages oracle infos[i] is expected to sign.
func AnchorFromOracleInfo(infos []OracleInfo, msgs [][]Message) (*btcec.PublicKey, error) {
	if len(infos) == 0 {
		return nil, fmt.Errorf("%w: no oracle info", ErrInvalidArgument)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("%w: no messages", ErrInvalidArgument)
	}
	if len(msgs) != len(infos) {
		return nil, fmt.Errorf("%w: %d message sets for %d oracles", ErrInvalidArgument, len(msgs), len(infos))
	}
	for i := range infos {
		if err := checkOracleShape(&infos[i], msgs[i]); err != nil {
			return nil, fmt.Errorf("oracle %d: %w", i, err)
		}
	}

	points := make([]*btcec.PublicKey, len(infos))
	for i := range infos {
		point, err := OracleSigPoint(&infos[i], msgs[i])
		if err != nil {
			return nil, fmt.Errorf("oracle %d: %w", i, err)
		}
		points[i] = point
	}
	return combinePoints(points)
}

func checkOracleShape(info *OracleInfo, msgs []Message) error {
	if info == nil || info.PublicKey == nil {
		return fmt.Errorf("%w: oracle public key missing", ErrInvalidArgument)
	}
	if len(info.Nonces) == 0 {
		return fmt.Errorf("%w: oracle has no nonces", ErrInvalidArgument)
	}
	if len(msgs) == 0 {
		return fmt.Errorf("%w: no messages for oracle", ErrInvalidArgument)
	}
	if len(msgs) > len(info.Nonces) {
		return fmt.Errorf("%w: %d messages but only %d nonces", ErrInvalidArgument, len(msgs), len(info.Nonces))
	}
	for i := range msgs {
		if info.Nonces[i] == nil {
			return fmt.Errorf("%w: nonce %d missing", ErrInvalidArgument, i)
		}
	}
	return nil
}

func combinePoints(points []*btcec.PublicKey) (*btcec.PublicKey, error) {
	var sum secp256k1.JacobianPoint
	points[0].AsJacobian(&sum)
	for _, p := range points[1:] {
		var pJ, next secp256k1.JacobianPoint
		p.AsJacobian(&pJ)
		secp256k1.AddNonConst(&sum, &pJ, &next)
		sum = next
	}
	return affineKey(&sum)
}

func affineKey(p *secp256k1.JacobianPoint) (*btcec.PublicKey, error) {
	if (p.X.IsZero() && p.Y.IsZero()) || p.Z.IsZero() {
		return nil, fmt.Errorf("%w: point at infinity", ErrInternalCrypto)
	}
	p.ToAffine()
	return secp256k1.NewPublicKey(&p.X, &p.Y), nil
}

// Policy selects the oracle messages a CET is locked to and resolves them
// into its adaptor point.
type Policy interface {
	Anchor() (*btcec.PublicKey, error)
}

// SingleOracle locks a CET to one oracle attesting to one outcome.
type SingleOracle struct {
	Oracle  OracleInfo
	Outcome Message
}

// Anchor implements Policy.
func (p SingleOracle) Anchor() (*btcec.PublicKey, error) {
	return OracleSigPoint(&p.Oracle, []Message{p.Outcome})
}

// NumericOracle locks a CET to one oracle attesting to a prefix of the
// digits of a numeric outcome.
type NumericOracle struct {
	Oracle OracleInfo
	Digits []Message
}

// Anchor implements Policy.
func (p NumericOracle) Anchor() (*btcec.PublicKey, error) {
	return OracleSigPoint(&p.Oracle, p.Digits)
}

// MultiOracle locks a CET to a set of oracles each attesting to its own
// messages. For a threshold contract this is one attesting subset; a CET
// is signed once per subset.
type MultiOracle struct {
	Oracles  []OracleInfo
	Outcomes [][]Message
}

// Anchor implements Policy.
func (p MultiOracle) Anchor() (*btcec.PublicKey, error) {
	return AnchorFromOracleInfo(p.Oracles, p.Outcomes)
}
