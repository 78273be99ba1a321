package rpc

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/klingon-exchange/klingon-dlc/internal/adaptor"
	"github.com/klingon-exchange/klingon-dlc/internal/dlc"
	"github.com/klingon-exchange/klingon-dlc/pkg/helpers"
)

// InputInfo is a funding input. Outpoint is "txid:vout".
type InputInfo struct {
	Outpoint      string `json:"outpoint"`
	Value         uint64 `json:"value,omitempty"`
	MaxWitnessLen uint64 `json:"maxWitnessLen"`
	RedeemScript  string `json:"redeemScript,omitempty"`
	SerialID      uint64 `json:"serialId"`
}

// PartyParams is one party's contribution to a contract. Change and payout
// destinations are given either as a hex script or as an address of the
// configured network.
type PartyParams struct {
	FundPubkey         string      `json:"fundPubkey"`
	ChangeScriptPubkey string      `json:"changeScriptPubkey,omitempty"`
	ChangeAddress      string      `json:"changeAddress,omitempty"`
	ChangeSerialID     uint64      `json:"changeSerialId"`
	PayoutScriptPubkey string      `json:"payoutScriptPubkey,omitempty"`
	PayoutAddress      string      `json:"payoutAddress,omitempty"`
	PayoutSerialID     uint64      `json:"payoutSerialId"`
	Inputs             []InputInfo `json:"inputs"`
	InputAmount        uint64      `json:"inputAmount"`
	Collateral         uint64      `json:"collateral"`
}

// Payout is the split of the funding output for one outcome.
type Payout struct {
	Offer  uint64 `json:"offer"`
	Accept uint64 `json:"accept"`
}

// OracleInfo is an oracle key and its nonces, hex encoded as 32 byte x-only
// or 33 byte compressed points.
type OracleInfo struct {
	PublicKey string   `json:"publicKey"`
	Nonces    []string `json:"nonces"`
}

// CreateDlcTransactionsParams is the request for dlc_createDlcTransactions.
type CreateDlcTransactionsParams struct {
	OfferParams        PartyParams `json:"offerParams"`
	AcceptParams       PartyParams `json:"acceptParams"`
	Payouts            []Payout    `json:"payouts"`
	RefundLockTime     uint32      `json:"refundLockTime"`
	FeeRatePerVb       uint64      `json:"feeRatePerVb"`
	FundLockTime       uint32      `json:"fundLockTime"`
	CetLockTime        uint32      `json:"cetLockTime"`
	FundOutputSerialID uint64      `json:"fundOutputSerialId"`
}

// CreateDlcTransactionsResult is the response for dlc_createDlcTransactions.
type CreateDlcTransactionsResult struct {
	Fund                string   `json:"fund"`
	Cets                []string `json:"cets"`
	Refund              string   `json:"refund"`
	FundVout            int      `json:"fundVout"`
	FundingScriptPubkey string   `json:"fundingScriptPubkey"`
	FundAddress         string   `json:"fundAddress"`
	FundOutputValue     uint64   `json:"fundOutputValue"`
}

// VerifyCetAdaptorSigParams is the request for
// dlc_verifyCetAdaptorSigFromOracleInfo. TotalCollateral is the value of the
// funding output the CET spends.
type VerifyCetAdaptorSigParams struct {
	AdaptorSig          string       `json:"adaptorSig"`
	Cet                 string       `json:"cet"`
	OracleInfos         []OracleInfo `json:"oracleInfos"`
	Pubkey              string       `json:"pubkey"`
	FundingScriptPubkey string       `json:"fundingScriptPubkey"`
	TotalCollateral     uint64       `json:"totalCollateral"`
	Msgs                [][]string   `json:"msgs"`
}

// VerifyResult is the response for dlc_verifyCetAdaptorSigFromOracleInfo.
type VerifyResult struct {
	Valid bool `json:"valid"`
}

// SignCetParams is the request for dlc_signCet. The funding key is given
// either as FundingSk or as the FundingKeyIndex of the unlocked wallet.
type SignCetParams struct {
	Cet                 string     `json:"cet"`
	AdaptorSignature    string     `json:"adaptorSignature"`
	OracleSignatures    [][]string `json:"oracleSignatures"`
	FundingSk           string     `json:"fundingSk,omitempty"`
	FundingKeyIndex     *uint32    `json:"fundingKeyIndex,omitempty"`
	OtherPk             string     `json:"otherPk"`
	FundingScriptPubkey string     `json:"fundingScriptPubkey"`
	FundOutputValue     uint64     `json:"fundOutputValue"`
}

// CreateCetAdaptorSigParams is the request for
// dlc_createCetAdaptorSigFromOracleInfo.
type CreateCetAdaptorSigParams struct {
	Cet                 string       `json:"cet"`
	OracleInfos         []OracleInfo `json:"oracleInfos"`
	FundingSk           string       `json:"fundingSk,omitempty"`
	FundingKeyIndex     *uint32      `json:"fundingKeyIndex,omitempty"`
	FundingScriptPubkey string       `json:"fundingScriptPubkey"`
	FundOutputValue     uint64       `json:"fundOutputValue"`
	Msgs                [][]string   `json:"msgs"`
}

// GetAdaptorPointParams is the request for dlc_getAdaptorPoint.
type GetAdaptorPointParams struct {
	OracleInfos []OracleInfo `json:"oracleInfos"`
	Msgs        [][]string   `json:"msgs"`
}

func decodeParams(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return invalidParams("missing params")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return invalidParams("%v", err)
	}
	return nil
}

// toPartyParams converts request params, resolving addresses against the
// configured network.
func (s *Server) toPartyParams(role string, in *PartyParams) (*dlc.PartyParams, error) {
	fundPubKey, err := parsePubKey(role+".fundPubkey", in.FundPubkey)
	if err != nil {
		return nil, err
	}
	changeScript, err := s.destination(role+".change", in.ChangeScriptPubkey, in.ChangeAddress)
	if err != nil {
		return nil, err
	}
	payoutScript, err := s.destination(role+".payout", in.PayoutScriptPubkey, in.PayoutAddress)
	if err != nil {
		return nil, err
	}

	inputs := make([]dlc.TxInputInfo, len(in.Inputs))
	for i, input := range in.Inputs {
		op, err := parseOutpoint(input.Outpoint)
		if err != nil {
			return nil, invalidParams("%s.inputs[%d]: %v", role, i, err)
		}
		redeem, err := helpers.HexToBytes(input.RedeemScript)
		if err != nil {
			return nil, invalidParams("%s.inputs[%d].redeemScript: %v", role, i, err)
		}
		inputs[i] = dlc.TxInputInfo{
			Outpoint:      op,
			Value:         input.Value,
			MaxWitnessLen: input.MaxWitnessLen,
			RedeemScript:  redeem,
			SerialID:      input.SerialID,
		}
	}

	return &dlc.PartyParams{
		FundPubKey:         fundPubKey,
		ChangeScriptPubKey: changeScript,
		ChangeSerialID:     in.ChangeSerialID,
		PayoutScriptPubKey: payoutScript,
		PayoutSerialID:     in.PayoutSerialID,
		Inputs:             inputs,
		InputAmount:        in.InputAmount,
		Collateral:         in.Collateral,
	}, nil
}

// destination returns the output script given either as hex or as an
// address, but not both.
func (s *Server) destination(field, scriptHex, address string) ([]byte, error) {
	switch {
	case scriptHex != "" && address != "":
		return nil, invalidParams("%s: both script and address given", field)
	case address != "":
		script, err := s.params.AddressToScript(address)
		if err != nil {
			return nil, invalidParams("%s: %v", field, err)
		}
		return script, nil
	default:
		script, err := helpers.HexToBytes(scriptHex)
		if err != nil {
			return nil, invalidParams("%s: %v", field, err)
		}
		return script, nil
	}
}

func parseOutpoint(s string) (wire.OutPoint, error) {
	txid, vout, ok := strings.Cut(s, ":")
	if !ok {
		return wire.OutPoint{}, fmt.Errorf("outpoint %q is not txid:vout", s)
	}
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return wire.OutPoint{}, fmt.Errorf("outpoint txid: %w", err)
	}
	index, err := strconv.ParseUint(vout, 10, 32)
	if err != nil {
		return wire.OutPoint{}, fmt.Errorf("outpoint vout: %w", err)
	}
	return wire.OutPoint{Hash: *hash, Index: uint32(index)}, nil
}

func parseTxid(s string) (*chainhash.Hash, error) {
	if len(s) != 2*chainhash.HashSize {
		return nil, invalidParams("txid must be %d hex characters", 2*chainhash.HashSize)
	}
	hash, err := chainhash.NewHashFromStr(s)
	if err != nil {
		return nil, invalidParams("txid: %v", err)
	}
	return hash, nil
}

func parsePubKey(field, s string) (*btcec.PublicKey, error) {
	b, err := helpers.HexToFixed(s, btcec.PubKeyBytesLenCompressed)
	if err != nil {
		return nil, invalidParams("%s: %v", field, err)
	}
	pub, err := btcec.ParsePubKey(b)
	if err != nil {
		return nil, invalidParams("%s: %v", field, err)
	}
	return pub, nil
}

// parsePoint accepts a BIP-340 x-only key or a compressed key.
func parsePoint(field, s string) (*btcec.PublicKey, error) {
	b, err := helpers.HexToBytes(s)
	if err != nil {
		return nil, invalidParams("%s: %v", field, err)
	}
	var pub *btcec.PublicKey
	switch len(b) {
	case schnorr.PubKeyBytesLen:
		pub, err = schnorr.ParsePubKey(b)
	case btcec.PubKeyBytesLenCompressed:
		pub, err = btcec.ParsePubKey(b)
	default:
		return nil, invalidParams("%s: expected 32 or 33 bytes, got %d", field, len(b))
	}
	if err != nil {
		return nil, invalidParams("%s: %v", field, err)
	}
	return pub, nil
}

func parsePrivKey(field, s string) (*btcec.PrivateKey, error) {
	b, err := helpers.HexToFixed(s, btcec.PrivKeyBytesLen)
	if err != nil {
		return nil, invalidParams("%s: %v", field, err)
	}
	defer helpers.Wipe(b)

	var k btcec.ModNScalar
	if overflow := k.SetByteSlice(b); overflow || k.IsZero() {
		return nil, invalidParams("%s: key out of range", field)
	}
	return btcec.PrivKeyFromScalar(&k), nil
}

func parseOracleInfos(infos []OracleInfo) ([]dlc.OracleInfo, error) {
	out := make([]dlc.OracleInfo, len(infos))
	for i, info := range infos {
		pub, err := parsePoint(fmt.Sprintf("oracleInfos[%d].publicKey", i), info.PublicKey)
		if err != nil {
			return nil, err
		}
		nonces := make([]*btcec.PublicKey, len(info.Nonces))
		for j, nonce := range info.Nonces {
			nonces[j], err = parsePoint(fmt.Sprintf("oracleInfos[%d].nonces[%d]", i, j), nonce)
			if err != nil {
				return nil, err
			}
		}
		out[i] = dlc.OracleInfo{PublicKey: pub, Nonces: nonces}
	}
	return out, nil
}

func parseAdaptorSig(field, s string) (*adaptor.Signature, error) {
	b, err := helpers.HexToBytes(s)
	if err != nil {
		return nil, invalidParams("%s: %v", field, err)
	}
	sig, err := adaptor.ParseSignature(b)
	if err != nil {
		return nil, invalidParams("%s: %v", field, err)
	}
	return sig, nil
}

func parseOracleSigs(sigs [][]string) ([][]*schnorr.Signature, error) {
	out := make([][]*schnorr.Signature, len(sigs))
	for i, set := range sigs {
		out[i] = make([]*schnorr.Signature, len(set))
		for j, s := range set {
			b, err := helpers.HexToFixed(s, schnorr.SignatureSize)
			if err != nil {
				return nil, invalidParams("oracleSignatures[%d][%d]: %v", i, j, err)
			}
			sig, err := schnorr.ParseSignature(b)
			if err != nil {
				return nil, invalidParams("oracleSignatures[%d][%d]: %v", i, j, err)
			}
			out[i][j] = sig
		}
	}
	return out, nil
}

func parseScript(field, s string) ([]byte, error) {
	b, err := helpers.HexToBytes(s)
	if err != nil {
		return nil, invalidParams("%s: %v", field, err)
	}
	return b, nil
}

func parseTx(field, s string) (*wire.MsgTx, error) {
	tx, err := dlc.DeserializeTx(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return tx, nil
}
