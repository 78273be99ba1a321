package dlc_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/klingon-exchange/klingon-dlc/internal/dlc"
)

func TestSerializeDeserializeTx(t *testing.T) {
	c := newBinaryContract(t)

	// Unsigned and signed (witness carrying) transactions.
	sig, err := dlc.SignFundingOutputSpend(c.txs.Refund, c.acceptSK, c.txs.FundingScriptPubKey, c.txs.FundOutputValue())
	if err != nil {
		t.Fatal(err)
	}
	signedRefund, err := dlc.SignRefund(c.txs.Refund, c.offerSK, sig, c.txs.FundingScriptPubKey, c.txs.FundOutputValue())
	if err != nil {
		t.Fatal(err)
	}

	txs := []*wire.MsgTx{c.txs.Fund, c.txs.Cets[0], c.txs.Cets[1], c.txs.Refund, signedRefund}
	encoded, err := dlc.SerializeTxs(txs)
	if err != nil {
		t.Fatalf("SerializeTxs: %v", err)
	}
	for i, txHex := range encoded {
		if txHex != strings.ToLower(txHex) {
			t.Errorf("tx %d: hex is not lower case", i)
		}
		decoded, err := dlc.DeserializeTx(txHex)
		if err != nil {
			t.Fatalf("tx %d: DeserializeTx: %v", i, err)
		}
		if decoded.WitnessHash() != txs[i].WitnessHash() {
			t.Errorf("tx %d: round trip changed the transaction", i)
		}
		again, err := dlc.SerializeTx(decoded)
		if err != nil {
			t.Fatal(err)
		}
		if again != txHex {
			t.Errorf("tx %d: re-encoding differs", i)
		}
	}
}

func TestDeserializeTxErrors(t *testing.T) {
	c := newBinaryContract(t)
	valid, err := dlc.SerializeTx(c.txs.Cets[0])
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"not hex", "zz"},
		{"odd length", valid[:len(valid)-1]},
		{"truncated", valid[:len(valid)-2]},
		{"trailing bytes", valid + "00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := dlc.DeserializeTx(tt.input); !errors.Is(err, dlc.ErrCodec) {
				t.Errorf("error = %v, want %v", err, dlc.ErrCodec)
			}
		})
	}

	if _, err := dlc.SerializeTx(nil); !errors.Is(err, dlc.ErrCodec) {
		t.Errorf("nil tx error = %v, want %v", err, dlc.ErrCodec)
	}
}
