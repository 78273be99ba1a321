package dlc

import "errors"

// Contract errors. Every failure returned by this package wraps exactly one
// of these so callers can classify it with errors.Is.
var (
	// ErrInvalidArgument is returned for structurally malformed or
	// self-inconsistent input (payout sums, empty oracle data, bad keys).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidParameter is returned when lock times break the CET over
	// refund priority.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrInsufficientFunds is returned when a party's inputs cannot cover
	// its collateral plus its share of the fees.
	ErrInsufficientFunds = errors.New("insufficient funds")

	ErrVerification     = errors.New("verification failed")
	ErrDecryption       = errors.New("adaptor signature decryption failed")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrSigning          = errors.New("signing failed")
	ErrCodec            = errors.New("transaction codec error")

	// ErrInternalCrypto is returned when point arithmetic produces an
	// unusable result, such as the point at infinity.
	ErrInternalCrypto = errors.New("internal crypto error")
)
