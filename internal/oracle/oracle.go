// Package oracle implements the oracle side of a DLC: committing to nonces
// for an event and attesting to its outcome with BIP-340 signatures that
// use those nonces.
//
// Contracts never talk to an oracle directly. They only need its public key,
// its nonces and, once the event happened, the attestation signatures.
package oracle

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strconv"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/klingon-exchange/klingon-dlc/internal/dlc"
)

// Oracle errors
var (
	ErrEventAttested  = errors.New("event already attested")
	ErrOutcomeCount   = errors.New("outcome count does not match nonces")
	ErrInvalidEvent   = errors.New("invalid event")
	ErrInvalidDigits  = errors.New("invalid digit decomposition")
	ErrSigningFailure = errors.New("attestation signing failed")
)

// HashOutcome returns the message an oracle signs for outcome.
func HashOutcome(outcome string) dlc.Message {
	return sha256.Sum256([]byte(outcome))
}

// HashOutcomes hashes the outcome strings of several oracles, keeping the
// per-oracle grouping.
func HashOutcomes(outcomes [][]string) [][]dlc.Message {
	msgs := make([][]dlc.Message, len(outcomes))
	for i, set := range outcomes {
		msgs[i] = make([]dlc.Message, len(set))
		for j, outcome := range set {
			msgs[i][j] = HashOutcome(outcome)
		}
	}
	return msgs
}

// Oracle holds an attestation key.
type Oracle struct {
	key *btcec.PrivateKey
}

// New returns an oracle signing with key.
func New(key *btcec.PrivateKey) *Oracle {
	return &Oracle{key: key}
}

// Generate returns an oracle with a fresh random key.
func Generate() (*Oracle, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate oracle key: %w", err)
	}
	return New(key), nil
}

// PublicKey returns the oracle's attestation key.
func (o *Oracle) PublicKey() *btcec.PublicKey {
	return o.key.PubKey()
}

// Event is an announced event: the secret nonces the oracle committed to,
// one per outcome digit. Each nonce can be used for a single attestation.
type Event struct {
	nonces   []*btcec.PrivateKey
	attested bool
}

// Announce commits to numDigits fresh nonces and returns the event together
// with the public information contracts are built against.
func (o *Oracle) Announce(numDigits int) (*Event, dlc.OracleInfo, error) {
	if numDigits <= 0 {
		return nil, dlc.OracleInfo{}, fmt.Errorf("%w: need at least one digit", ErrInvalidEvent)
	}

	ev := &Event{nonces: make([]*btcec.PrivateKey, numDigits)}
	info := dlc.OracleInfo{
		PublicKey: o.PublicKey(),
		Nonces:    make([]*btcec.PublicKey, numDigits),
	}
	for i := range ev.nonces {
		k, err := btcec.NewPrivateKey()
		if err != nil {
			return nil, dlc.OracleInfo{}, fmt.Errorf("generate nonce: %w", err)
		}
		ev.nonces[i] = k
		info.Nonces[i] = k.PubKey()
	}
	return ev, info, nil
}

// Attest signs one outcome per committed nonce. Attesting twice would reveal
// the oracle key, so an event can only be attested once.
func (o *Oracle) Attest(ev *Event, outcomes []string) ([]*schnorr.Signature, error) {
	if ev == nil {
		return nil, fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	if ev.attested {
		return nil, ErrEventAttested
	}
	if len(outcomes) != len(ev.nonces) {
		return nil, fmt.Errorf("%w: %d outcomes for %d nonces", ErrOutcomeCount, len(outcomes), len(ev.nonces))
	}

	sigs := make([]*schnorr.Signature, len(outcomes))
	for i, outcome := range outcomes {
		msg := HashOutcome(outcome)
		sig, err := SignWithNonce(o.key, ev.nonces[i], msg[:])
		if err != nil {
			return nil, err
		}
		sigs[i] = sig
	}

	ev.attested = true
	for _, k := range ev.nonces {
		k.Zero()
	}
	return sigs, nil
}

// SignWithNonce creates a BIP-340 signature of msg using a nonce fixed in
// advance, so its signature point is known before signing.
func SignWithNonce(key, nonce *btcec.PrivateKey, msg []byte) (*schnorr.Signature, error) {
	if key == nil || nonce == nil {
		return nil, fmt.Errorf("%w: nil key or nonce", ErrSigningFailure)
	}

	var d, k btcec.ModNScalar
	d.Set(&key.Key)
	k.Set(&nonce.Key)
	defer d.Zero()
	defer k.Zero()
	if d.IsZero() || k.IsZero() {
		return nil, fmt.Errorf("%w: zero key or nonce", ErrSigningFailure)
	}

	pub := key.PubKey()
	if pub.SerializeCompressed()[0] == secp256k1.PubKeyFormatCompressedOdd {
		d.Negate()
	}
	r := nonce.PubKey()
	if r.SerializeCompressed()[0] == secp256k1.PubKeyFormatCompressedOdd {
		k.Negate()
	}

	pBytes := schnorr.SerializePubKey(pub)
	rBytes := schnorr.SerializePubKey(r)
	commitment := chainhash.TaggedHash(chainhash.TagBIP0340Challenge, rBytes, pBytes, msg)
	var e btcec.ModNScalar
	e.SetBytes((*[32]byte)(commitment))

	// s = k + e*d
	s := new(btcec.ModNScalar).Mul2(&e, &d).Add(&k)

	var rx btcec.FieldVal
	rx.SetByteSlice(rBytes)
	sig := schnorr.NewSignature(&rx, s)
	if !sig.Verify(msg, pub) {
		return nil, fmt.Errorf("%w: signature does not verify", ErrSigningFailure)
	}
	return sig, nil
}

// DecomposeValue splits value into numDigits digits in base, most
// significant first.
func DecomposeValue(value uint64, base, numDigits int) ([]int, error) {
	if base < 2 || numDigits <= 0 {
		return nil, fmt.Errorf("%w: base %d, %d digits", ErrInvalidDigits, base, numDigits)
	}

	digits := make([]int, numDigits)
	b := uint64(base)
	for i := numDigits - 1; i >= 0; i-- {
		digits[i] = int(value % b)
		value /= b
	}
	if value != 0 {
		return nil, fmt.Errorf("%w: value does not fit in %d base %d digits", ErrInvalidDigits, numDigits, base)
	}
	return digits, nil
}

// DigitOutcomes returns the outcome strings an oracle attests for value,
// one per digit.
func DigitOutcomes(value uint64, base, numDigits int) ([]string, error) {
	digits, err := DecomposeValue(value, base, numDigits)
	if err != nil {
		return nil, err
	}
	outcomes := make([]string, len(digits))
	for i, d := range digits {
		outcomes[i] = strconv.Itoa(d)
	}
	return outcomes, nil
}

// DigitMessages hashes digit outcome strings into the messages a numeric
// CET is locked to.
func DigitMessages(digits []int) []dlc.Message {
	msgs := make([]dlc.Message, len(digits))
	for i, d := range digits {
		msgs[i] = HashOutcome(strconv.Itoa(d))
	}
	return msgs
}
