// Package adaptor implements ECDSA adaptor signatures over secp256k1.
//
// An adaptor signature is an ECDSA signature "encrypted" under a public point
// Y. Anyone holding the signer's public key and Y can check that decrypting
// with the discrete log y of Y yields a valid ECDSA signature, but only the
// holder of y can actually perform the decryption.
//
// Encoding of a Signature (162 bytes):
//
//	sig[0:33]    R  = k*Y, compressed
//	sig[33:66]   R' = k*G, compressed
//	sig[66:98]   s' = k^-1 * (m + r*d) mod n, big endian
//	sig[98:130]  e, DLEQ challenge
//	sig[130:162] z, DLEQ response
//
// The DLEQ proof shows log_G(R') == log_Y(R) without revealing k.
package adaptor

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// SignatureSize is the size of an encoded adaptor signature.
const SignatureSize = 162

const (
	pubKeySize = 33
	scalarSize = 32
)

// Adaptor errors
var (
	ErrMalformedSignature = errors.New("malformed adaptor signature")
	ErrInvalidProof       = errors.New("invalid DLEQ proof")
	ErrInvalidSignature   = errors.New("adaptor signature does not verify")
	ErrInvalidHash        = errors.New("invalid message hash")
	ErrInvalidKey         = errors.New("invalid key")
)

var (
	// tagNonce domain separates the signing nonce from plain ECDSA nonces
	// derived from the same key and message.
	tagNonce     = []byte("ECDSAadaptor/non")
	tagDLEQ      = []byte("DLEQ")
	tagDLEQNonce = []byte("DLEQ/non")
)

// errRetryNonce signals that the current nonce produced a degenerate
// signature and a new one must be derived.
var errRetryNonce = errors.New("retry with new nonce")

// Signature is an ECDSA adaptor signature.
type Signature struct {
	r    secp256k1.JacobianPoint // k*Y, affine
	rHat secp256k1.JacobianPoint // k*G, affine
	s    secp256k1.ModNScalar
	e    secp256k1.ModNScalar
	z    secp256k1.ModNScalar
}

// Encrypt creates an adaptor signature of hash with privKey, encrypted under
// encKey. The nonce is derived deterministically with RFC6979 so signing the
// same inputs twice yields the same signature.
func Encrypt(privKey *btcec.PrivateKey, hash []byte, encKey *btcec.PublicKey) (*Signature, error) {
	if privKey == nil || encKey == nil {
		return nil, fmt.Errorf("%w: nil key", ErrInvalidKey)
	}
	if len(hash) != scalarSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidHash, len(hash), scalarSize)
	}

	var d secp256k1.ModNScalar
	d.Set(&privKey.Key)
	if d.IsZero() {
		return nil, fmt.Errorf("%w: private key is zero", ErrInvalidKey)
	}
	defer d.Zero()

	var m secp256k1.ModNScalar
	m.SetByteSlice(hash)

	var y secp256k1.JacobianPoint
	encKey.AsJacobian(&y)

	privKeyBytes := d.Bytes()
	defer zeroArray(&privKeyBytes)

	extra := chainhash.TaggedHash(tagNonce, encKey.SerializeCompressed())
	for iteration := uint32(0); ; iteration++ {
		k := btcec.NonceRFC6979(privKeyBytes[:], hash, extra[:], nil, iteration)
		sig, err := encryptWithNonce(&d, k, &m, &y)
		k.Zero()
		if errors.Is(err, errRetryNonce) {
			continue
		}
		return sig, err
	}
}

func encryptWithNonce(d, k, m *secp256k1.ModNScalar, y *secp256k1.JacobianPoint) (*Signature, error) {
	var r, rHat secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(k, y, &r)
	secp256k1.ScalarBaseMultNonConst(k, &rHat)
	if isInfinity(&r) || isInfinity(&rHat) {
		return nil, errRetryNonce
	}
	r.ToAffine()
	rHat.ToAffine()

	rx := xScalar(&r)
	if rx.IsZero() {
		return nil, errRetryNonce
	}

	// s' = k^-1 * (m + r*d)
	kInv := new(secp256k1.ModNScalar).InverseValNonConst(k)
	s := new(secp256k1.ModNScalar).Mul2(&rx, d).Add(m).Mul(kInv)
	if s.IsZero() {
		return nil, errRetryNonce
	}

	e, z, err := proveDLEQ(k, &rHat, y, &r)
	if err != nil {
		return nil, err
	}

	return &Signature{r: r, rHat: rHat, s: *s, e: *e, z: *z}, nil
}

// Verify checks that sig decrypts, under the discrete log of encKey, to a
// valid ECDSA signature of hash by pubKey. It requires no secret material and
// is safe to run on untrusted input.
func (sig *Signature) Verify(hash []byte, pubKey, encKey *btcec.PublicKey) error {
	if pubKey == nil || encKey == nil {
		return fmt.Errorf("%w: nil key", ErrInvalidKey)
	}
	if len(hash) != scalarSize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidHash, len(hash), scalarSize)
	}

	var y secp256k1.JacobianPoint
	encKey.AsJacobian(&y)
	if err := verifyDLEQ(&sig.e, &sig.z, &sig.rHat, &y, &sig.r); err != nil {
		return err
	}

	rx := xScalar(&sig.r)
	if rx.IsZero() || sig.s.IsZero() {
		return ErrInvalidSignature
	}

	var m secp256k1.ModNScalar
	m.SetByteSlice(hash)

	// R' == s'^-1 * (m*G + r*P)
	sInv := new(secp256k1.ModNScalar).InverseValNonConst(&sig.s)
	u1 := new(secp256k1.ModNScalar).Mul2(&m, sInv)
	u2 := new(secp256k1.ModNScalar).Mul2(&rx, sInv)

	var p, u1G, u2P, sum secp256k1.JacobianPoint
	pubKey.AsJacobian(&p)
	secp256k1.ScalarBaseMultNonConst(u1, &u1G)
	secp256k1.ScalarMultNonConst(u2, &p, &u2P)
	secp256k1.AddNonConst(&u1G, &u2P, &sum)
	if isInfinity(&sum) {
		return ErrInvalidSignature
	}
	sum.ToAffine()

	if !sum.X.Equals(&sig.rHat.X) || !sum.Y.Equals(&sig.rHat.Y) {
		return ErrInvalidSignature
	}
	return nil
}

// Decrypt returns the ECDSA signature hidden in sig using the secret y.
// A wrong secret yields a signature that does not verify, so callers must
// check the result against the signer's key before trusting it.
func (sig *Signature) Decrypt(secret *btcec.ModNScalar) (*ecdsa.Signature, error) {
	if secret == nil || secret.IsZero() {
		return nil, fmt.Errorf("%w: secret is zero", ErrInvalidKey)
	}

	yInv := new(secp256k1.ModNScalar).InverseValNonConst(secret)
	s := new(secp256k1.ModNScalar).Mul2(&sig.s, yInv)
	if s.IsOverHalfOrder() {
		s.Negate()
	}

	r := xScalar(&sig.r)
	return ecdsa.NewSignature(&r, s), nil
}

// Serialize encodes the signature in the 162 byte format described in the
// package documentation.
func (sig *Signature) Serialize() []byte {
	b := make([]byte, 0, SignatureSize)
	b = append(b, compressPoint(&sig.r)...)
	b = append(b, compressPoint(&sig.rHat)...)
	s, e, z := sig.s.Bytes(), sig.e.Bytes(), sig.z.Bytes()
	b = append(b, s[:]...)
	b = append(b, e[:]...)
	b = append(b, z[:]...)
	return b
}

// ParseSignature decodes a signature produced by Serialize. Points must be
// on the curve and scalars must be below the group order.
func ParseSignature(b []byte) (*Signature, error) {
	if len(b) != SignatureSize {
		return nil, fmt.Errorf("%w: wrong size %d", ErrMalformedSignature, len(b))
	}

	var sig Signature
	r, err := btcec.ParsePubKey(b[0:pubKeySize])
	if err != nil {
		return nil, fmt.Errorf("%w: R: %v", ErrMalformedSignature, err)
	}
	rHat, err := btcec.ParsePubKey(b[pubKeySize : 2*pubKeySize])
	if err != nil {
		return nil, fmt.Errorf("%w: R': %v", ErrMalformedSignature, err)
	}
	r.AsJacobian(&sig.r)
	rHat.AsJacobian(&sig.rHat)

	off := 2 * pubKeySize
	for _, field := range []struct {
		name string
		dst  *secp256k1.ModNScalar
	}{
		{"s", &sig.s},
		{"e", &sig.e},
		{"z", &sig.z},
	} {
		if overflow := field.dst.SetByteSlice(b[off : off+scalarSize]); overflow {
			return nil, fmt.Errorf("%w: %s >= group order", ErrMalformedSignature, field.name)
		}
		off += scalarSize
	}
	if sig.s.IsZero() {
		return nil, fmt.Errorf("%w: s is zero", ErrMalformedSignature)
	}

	return &sig, nil
}

// proveDLEQ proves log_G(rHat) == log_Y(r) == k.
func proveDLEQ(k *secp256k1.ModNScalar, rHat, y, r *secp256k1.JacobianPoint) (*secp256k1.ModNScalar, *secp256k1.ModNScalar, error) {
	kBytes := k.Bytes()
	defer zeroArray(&kBytes)

	nonceHash := chainhash.TaggedHash(
		tagDLEQNonce, kBytes[:], compressPoint(y), compressPoint(rHat), compressPoint(r),
	)
	var a secp256k1.ModNScalar
	a.SetBytes((*[32]byte)(nonceHash))
	if a.IsZero() {
		return nil, nil, errRetryNonce
	}
	defer a.Zero()

	var a1, a2 secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&a, &a1)
	secp256k1.ScalarMultNonConst(&a, y, &a2)
	a1.ToAffine()
	a2.ToAffine()

	e := dleqChallenge(y, rHat, r, &a1, &a2)
	z := new(secp256k1.ModNScalar).Mul2(e, k).Add(&a)
	return e, z, nil
}

func verifyDLEQ(e, z *secp256k1.ModNScalar, rHat, y, r *secp256k1.JacobianPoint) error {
	negE := new(secp256k1.ModNScalar).NegateVal(e)

	// A1 = z*G - e*R', A2 = z*Y - e*R
	var zG, eRHat, a1, zY, eR, a2 secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(z, &zG)
	secp256k1.ScalarMultNonConst(negE, rHat, &eRHat)
	secp256k1.AddNonConst(&zG, &eRHat, &a1)
	secp256k1.ScalarMultNonConst(z, y, &zY)
	secp256k1.ScalarMultNonConst(negE, r, &eR)
	secp256k1.AddNonConst(&zY, &eR, &a2)
	if isInfinity(&a1) || isInfinity(&a2) {
		return ErrInvalidProof
	}
	a1.ToAffine()
	a2.ToAffine()

	if !dleqChallenge(y, rHat, r, &a1, &a2).Equals(e) {
		return ErrInvalidProof
	}
	return nil
}

func dleqChallenge(y, rHat, r, a1, a2 *secp256k1.JacobianPoint) *secp256k1.ModNScalar {
	h := chainhash.TaggedHash(
		tagDLEQ, compressPoint(y), compressPoint(rHat), compressPoint(r),
		compressPoint(a1), compressPoint(a2),
	)
	var e secp256k1.ModNScalar
	e.SetBytes((*[32]byte)(h))
	return &e
}

// xScalar returns the x coordinate of an affine point reduced mod n.
func xScalar(p *secp256k1.JacobianPoint) secp256k1.ModNScalar {
	var x secp256k1.ModNScalar
	x.SetBytes(p.X.Bytes())
	return x
}

// compressPoint serializes an affine point in compressed form.
func compressPoint(p *secp256k1.JacobianPoint) []byte {
	aff := *p
	aff.ToAffine()
	return secp256k1.NewPublicKey(&aff.X, &aff.Y).SerializeCompressed()
}

func isInfinity(p *secp256k1.JacobianPoint) bool {
	return (p.X.IsZero() && p.Y.IsZero()) || p.Z.IsZero()
}

func zeroArray(a *[scalarSize]byte) {
	for i := range a {
		a[i] = 0
	}
}
