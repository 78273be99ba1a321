package rpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/klingon-exchange/klingon-dlc/internal/dlc"
	"github.com/klingon-exchange/klingon-dlc/internal/oracle"
	"github.com/klingon-exchange/klingon-dlc/pkg/helpers"
)

// Version of the daemon
const Version = "0.1.0-dev"

// ========================================
// Node handlers
// ========================================

// NodeInfoResult is the response for node_info.
type NodeInfoResult struct {
	Version   string   `json:"version"`
	Chain     string   `json:"chain"`
	Network   string   `json:"network"`
	Uptime    string   `json:"uptime"`
	WSClients int      `json:"ws_clients"`
	Methods   []string `json:"methods"`
}

func (s *Server) nodeInfo(ctx context.Context, params json.RawMessage) (interface{}, error) {
	s.mu.RLock()
	methods := make([]string, 0, len(s.handlers))
	for name := range s.handlers {
		methods = append(methods, name)
	}
	s.mu.RUnlock()
	sort.Strings(methods)

	return &NodeInfoResult{
		Version:   Version,
		Chain:     s.params.Symbol,
		Network:   string(s.params.Network),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		WSClients: s.wsHub.ClientCount(),
		Methods:   methods,
	}, nil
}

// ========================================
// Contract handlers
// ========================================

// ContractBuiltEvent is broadcast after dlc_createDlcTransactions.
type ContractBuiltEvent struct {
	FundTxid        string `json:"fund_txid"`
	FundVout        int    `json:"fund_vout"`
	FundOutputValue uint64 `json:"fund_output_value"`
	Cets            int    `json:"cets"`
}

// CetEvent is broadcast when a CET signature changes state. FundTxid is
// the outpoint the CET spends, which is the id of its contract.
type CetEvent struct {
	CetTxid  string `json:"cet_txid"`
	FundTxid string `json:"fund_txid"`
	State    string `json:"state"`
}

func (s *Server) createDlcTransactions(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p CreateDlcTransactionsParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := s.checkContractPolicy(&p); err != nil {
		return nil, err
	}

	offer, err := s.toPartyParams("offerParams", &p.OfferParams)
	if err != nil {
		return nil, err
	}
	accept, err := s.toPartyParams("acceptParams", &p.AcceptParams)
	if err != nil {
		return nil, err
	}
	payouts := make([]dlc.Payout, len(p.Payouts))
	for i, payout := range p.Payouts {
		payouts[i] = dlc.Payout{Offer: payout.Offer, Accept: payout.Accept}
	}

	txs, err := dlc.CreateDlcTransactions(
		offer, accept, payouts,
		p.RefundLockTime, p.FeeRatePerVb, p.FundLockTime, p.CetLockTime, p.FundOutputSerialID,
	)
	if err != nil {
		return nil, err
	}

	fund, err := dlc.SerializeTx(txs.Fund)
	if err != nil {
		return nil, err
	}
	cets, err := dlc.SerializeTxs(txs.Cets)
	if err != nil {
		return nil, err
	}
	refund, err := dlc.SerializeTx(txs.Refund)
	if err != nil {
		return nil, err
	}
	fundAddress, err := s.params.WitnessScriptAddress(txs.FundingScriptPubKey)
	if err != nil {
		return nil, fmt.Errorf("fund address: %w", err)
	}

	result := &CreateDlcTransactionsResult{
		Fund:                fund,
		Cets:                cets,
		Refund:              refund,
		FundVout:            txs.FundOutputIndex(),
		FundingScriptPubkey: hex.EncodeToString(txs.FundingScriptPubKey),
		FundAddress:         fundAddress,
		FundOutputValue:     txs.FundOutputValue(),
	}

	s.saveContract(txs, result, p.RefundLockTime)

	fundTxid := txs.Fund.TxHash().String()
	s.log.Info("Contract built",
		"fund_txid", fundTxid,
		"fund_value", helpers.FormatSats(result.FundOutputValue),
		"cets", len(cets),
		"fee_rate", p.FeeRatePerVb,
	)
	s.wsHub.Broadcast(EventContractBuilt, &ContractBuiltEvent{
		FundTxid:        fundTxid,
		FundVout:        result.FundVout,
		FundOutputValue: result.FundOutputValue,
		Cets:            len(cets),
	})

	return result, nil
}

// checkContractPolicy enforces the configured contract limits.
func (s *Server) checkContractPolicy(p *CreateDlcTransactionsParams) error {
	policy := s.cfg.Contract
	if p.FeeRatePerVb > policy.MaxFeeRate {
		return fmt.Errorf("%w: fee rate %d sat/vB above limit %d", dlc.ErrInvalidParameter, p.FeeRatePerVb, policy.MaxFeeRate)
	}
	if len(p.Payouts) > policy.MaxOutcomes {
		return fmt.Errorf("%w: %d outcomes above limit %d", dlc.ErrInvalidParameter, len(p.Payouts), policy.MaxOutcomes)
	}
	if policy.MinRefundDelay > 0 && p.CetLockTime != 0 &&
		p.CetLockTime < dlc.LockTimeThreshold && p.RefundLockTime < dlc.LockTimeThreshold &&
		p.RefundLockTime >= p.CetLockTime && p.RefundLockTime-p.CetLockTime < policy.MinRefundDelay {
		return fmt.Errorf("%w: refund lock time must be at least %d blocks after the CET lock time",
			dlc.ErrInvalidParameter, policy.MinRefundDelay)
	}
	return nil
}

func (s *Server) checkOracleCount(n int) error {
	if n > s.cfg.Contract.MaxOracles {
		return fmt.Errorf("%w: %d oracles above limit %d", dlc.ErrInvalidParameter, n, s.cfg.Contract.MaxOracles)
	}
	return nil
}

func (s *Server) createCetAdaptorSigFromOracleInfo(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p CreateCetAdaptorSigParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := s.checkOracleCount(len(p.OracleInfos)); err != nil {
		return nil, err
	}

	cet, err := parseTx("cet", p.Cet)
	if err != nil {
		return nil, err
	}
	infos, err := parseOracleInfos(p.OracleInfos)
	if err != nil {
		return nil, err
	}
	sk, err := s.fundingKey(p.FundingSk, p.FundingKeyIndex)
	if err != nil {
		return nil, err
	}
	defer sk.Zero()
	script, err := parseScript("fundingScriptPubkey", p.FundingScriptPubkey)
	if err != nil {
		return nil, err
	}

	sig, err := dlc.CreateCetAdaptorSigFromOracleInfo(cet, infos, sk, script, p.FundOutputValue, oracle.HashOutcomes(p.Msgs))
	if err != nil {
		return nil, err
	}

	sigHex := hex.EncodeToString(sig.Serialize())
	s.recordCet(cet, dlc.StateAdaptorCreated, sigHex, "")
	s.cetEvent(EventAdaptorSigCreated, cet, dlc.StateAdaptorCreated)
	return sigHex, nil
}

func (s *Server) verifyCetAdaptorSigFromOracleInfo(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p VerifyCetAdaptorSigParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := s.checkOracleCount(len(p.OracleInfos)); err != nil {
		return nil, err
	}

	sig, err := parseAdaptorSig("adaptorSig", p.AdaptorSig)
	if err != nil {
		return nil, err
	}
	cet, err := parseTx("cet", p.Cet)
	if err != nil {
		return nil, err
	}
	infos, err := parseOracleInfos(p.OracleInfos)
	if err != nil {
		return nil, err
	}
	pub, err := parsePubKey("pubkey", p.Pubkey)
	if err != nil {
		return nil, err
	}
	script, err := parseScript("fundingScriptPubkey", p.FundingScriptPubkey)
	if err != nil {
		return nil, err
	}

	err = dlc.VerifyCetAdaptorSigFromOracleInfo(sig, cet, infos, pub, script, p.TotalCollateral, oracle.HashOutcomes(p.Msgs))
	if err != nil {
		return nil, err
	}

	s.recordCet(cet, dlc.StateAdaptorVerified, p.AdaptorSig, "")
	s.cetEvent(EventAdaptorSigVerified, cet, dlc.StateAdaptorVerified)
	return &VerifyResult{Valid: true}, nil
}

func (s *Server) signCet(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p SignCetParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := s.checkOracleCount(len(p.OracleSignatures)); err != nil {
		return nil, err
	}

	cet, err := parseTx("cet", p.Cet)
	if err != nil {
		return nil, err
	}
	sig, err := parseAdaptorSig("adaptorSignature", p.AdaptorSignature)
	if err != nil {
		return nil, err
	}
	oracleSigs, err := parseOracleSigs(p.OracleSignatures)
	if err != nil {
		return nil, err
	}
	sk, err := s.fundingKey(p.FundingSk, p.FundingKeyIndex)
	if err != nil {
		return nil, err
	}
	defer sk.Zero()
	otherPK, err := parsePubKey("otherPk", p.OtherPk)
	if err != nil {
		return nil, err
	}
	script, err := parseScript("fundingScriptPubkey", p.FundingScriptPubkey)
	if err != nil {
		return nil, err
	}

	signed, err := dlc.SignCet(cet, sig, oracleSigs, sk, otherPK, script, p.FundOutputValue)
	if err != nil {
		return nil, err
	}
	signedHex, err := dlc.SerializeTx(signed)
	if err != nil {
		return nil, err
	}

	txid := signed.TxHash().String()
	s.log.Info("CET signed", "txid", txid, "value", helpers.FormatSats(p.FundOutputValue))
	s.recordCet(signed, dlc.StateDecrypted, "", signedHex)
	s.cetEvent(EventCetSigned, signed, dlc.StateDecrypted)
	return signedHex, nil
}

func (s *Server) getAdaptorPoint(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p GetAdaptorPointParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := s.checkOracleCount(len(p.OracleInfos)); err != nil {
		return nil, err
	}

	infos, err := parseOracleInfos(p.OracleInfos)
	if err != nil {
		return nil, err
	}
	point, err := dlc.AnchorFromOracleInfo(infos, oracle.HashOutcomes(p.Msgs))
	if err != nil {
		return nil, err
	}
	return hex.EncodeToString(point.SerializeCompressed()), nil
}

func (s *Server) cetEvent(eventType EventType, cet *wire.MsgTx, state dlc.SignatureState) {
	ev := newCetEvent(cet, state)
	id := s.wsHub.Broadcast(eventType, ev)
	s.log.Debug("CET signature event", "type", eventType, "id", id, "cet_txid", ev.CetTxid, "state", state)
}

func newCetEvent(cet *wire.MsgTx, state dlc.SignatureState) *CetEvent {
	ev := &CetEvent{CetTxid: cet.TxHash().String(), State: state.String()}
	if len(cet.TxIn) > 0 {
		ev.FundTxid = cet.TxIn[0].PreviousOutPoint.Hash.String()
	}
	return ev
}
