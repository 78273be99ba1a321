package rpc

import (
	"fmt"

	"github.com/klingon-exchange/klingon-dlc/internal/backend"
	"github.com/klingon-exchange/klingon-dlc/internal/dlc"
	"github.com/klingon-exchange/klingon-dlc/internal/storage"
	"github.com/klingon-exchange/klingon-dlc/internal/wallet"
)

// codedError is a handler error with a fixed JSON-RPC code.
type codedError struct {
	code int
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }
func (e *codedError) Unwrap() error { return e.err }

// invalidParams reports request params that could not be decoded.
func invalidParams(format string, args ...interface{}) error {
	return &codedError{code: InvalidParams, err: fmt.Errorf("invalid params: "+format, args...)}
}

// errorCodes maps contract errors onto JSON-RPC codes, first match wins.
var errorCodes = []struct {
	err  error
	code int
}{
	{dlc.ErrInvalidArgument, InvalidParams},
	{dlc.ErrInvalidParameter, InvalidParams},
	{dlc.ErrCodec, InvalidParams},
	{dlc.ErrInsufficientFunds, InsufficientFunds},
	{dlc.ErrVerification, VerificationError},
	{dlc.ErrInvalidSignature, VerificationError},
	{dlc.ErrDecryption, DecryptionError},
	{dlc.ErrSigning, InternalError},
	{dlc.ErrInternalCrypto, InternalError},
	{storage.ErrContractNotFound, NotFound},
	{backend.ErrTxNotFound, NotFound},
	{backend.ErrLockTimeNotReached, BroadcastRejected},
	{backend.ErrBroadcastFailed, BroadcastRejected},
	{backend.ErrRateLimited, BackendUnavailable},
	{wallet.ErrNoWallet, WalletUnavailable},
	{wallet.ErrWalletLocked, WalletUnavailable},
	{wallet.ErrWrongPassword, WalletUnavailable},
	{wallet.ErrWalletExists, InvalidParams},
	{wallet.ErrInvalidMnemonic, InvalidParams},
	{wallet.ErrWeakPassword, InvalidParams},
	{wallet.ErrIndexOutOfRange, InvalidParams},
}
