package dlc

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/wire"
)

// SerializeTx encodes a transaction as lower-case hex, including witness
// data when present.
func SerializeTx(tx *wire.MsgTx) (string, error) {
	if tx == nil {
		return "", fmt.Errorf("%w: nil transaction", ErrCodec)
	}
	var buf bytes.Buffer
	buf.Grow(tx.SerializeSize())
	if err := tx.Serialize(&buf); err != nil {
		return "", fmt.Errorf("%w: serialize: %v", ErrCodec, err)
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

// DeserializeTx decodes a hex encoded transaction. The input must contain
// exactly one transaction.
func DeserializeTx(txHex string) (*wire.MsgTx, error) {
	raw, err := hex.DecodeString(txHex)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hex: %v", ErrCodec, err)
	}

	r := bytes.NewReader(raw)
	tx := wire.NewMsgTx(TxVersion)
	if err := tx.Deserialize(r); err != nil {
		return nil, fmt.Errorf("%w: deserialize: %v", ErrCodec, err)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCodec, r.Len())
	}
	return tx, nil
}

// SerializeTxs encodes a list of transactions.
func SerializeTxs(txs []*wire.MsgTx) ([]string, error) {
	out := make([]string, len(txs))
	for i, tx := range txs {
		s, err := SerializeTx(tx)
		if err != nil {
			return nil, fmt.Errorf("tx %d: %w", i, err)
		}
		out[i] = s
	}
	return out, nil
}
