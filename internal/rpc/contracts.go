package rpc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/klingon-exchange/klingon-dlc/internal/dlc"
	"github.com/klingon-exchange/klingon-dlc/internal/storage"
)

// ========================================
// Contract history handlers
// ========================================

// GetContractParams is the request for dlc_getContract.
type GetContractParams struct {
	ID string `json:"id"`
}

// ListContractsParams is the request for dlc_listContracts.
type ListContractsParams struct {
	State string `json:"state,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// ContractInfo is a stored contract as returned by the history methods.
type ContractInfo struct {
	ID             string    `json:"id"`
	Chain          string    `json:"chain"`
	Network        string    `json:"network"`
	State          string    `json:"state"`
	Fund           string    `json:"fund,omitempty"`
	FundVout       int       `json:"fundVout"`
	FundValue      uint64    `json:"fundOutputValue"`
	FundingScript  string    `json:"fundingScriptPubkey"`
	RefundTxid     string    `json:"refundTxid"`
	Refund         string    `json:"refund,omitempty"`
	RefundLockTime uint32    `json:"refundLockTime"`
	Cets           []CetInfo `json:"cets,omitempty"`
	CreatedAt      int64     `json:"createdAt"`
	UpdatedAt      int64     `json:"updatedAt,omitempty"`
}

// CetInfo is a stored CET and the progress of its signature.
type CetInfo struct {
	Index      int    `json:"index"`
	Txid       string `json:"txid"`
	Cet        string `json:"cet"`
	State      string `json:"state"`
	AdaptorSig string `json:"adaptorSig,omitempty"`
	SignedCet  string `json:"signedCet,omitempty"`
}

func (s *Server) getContract(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p GetContractParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, invalidParams("id is required")
	}

	c, err := s.store.GetContract(p.ID)
	if err != nil {
		return nil, err
	}
	return toContractInfo(c, true), nil
}

func (s *Server) listContracts(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p ListContractsParams
	if len(params) > 0 {
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
	}

	contracts, err := s.store.ListContracts(storage.ContractState(p.State), p.Limit)
	if err != nil {
		return nil, err
	}

	result := make([]*ContractInfo, 0, len(contracts))
	for _, c := range contracts {
		result = append(result, toContractInfo(c, false))
	}
	return result, nil
}

func toContractInfo(c *storage.Contract, full bool) *ContractInfo {
	info := &ContractInfo{
		ID:             c.ID,
		Chain:          c.Chain,
		Network:        c.Network,
		State:          string(c.State),
		FundVout:       c.FundVout,
		FundValue:      c.FundValue,
		FundingScript:  c.FundingScript,
		RefundTxid:     c.RefundTxID,
		RefundLockTime: c.RefundLockTime,
		CreatedAt:      c.CreatedAt.Unix(),
	}
	if c.UpdatedAt != nil {
		info.UpdatedAt = c.UpdatedAt.Unix()
	}
	if !full {
		return info
	}

	info.Fund = c.FundTx
	info.Refund = c.RefundTx
	for _, cet := range c.Cets {
		info.Cets = append(info.Cets, CetInfo{
			Index:      cet.Index,
			Txid:       cet.TxID,
			Cet:        cet.Tx,
			State:      cet.State,
			AdaptorSig: cet.AdaptorSig,
			SignedCet:  cet.SignedTx,
		})
	}
	return info
}

// ContractStateEvent is broadcast when the contract monitor moves a contract
// to a new state.
type ContractStateEvent struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// NotifyContractState broadcasts a contract state change to WebSocket
// clients.
func (s *Server) NotifyContractState(id string, state storage.ContractState) {
	s.wsHub.Broadcast(EventContractState, &ContractStateEvent{ID: id, State: string(state)})
}

// saveContract records a newly built contract. Failures are logged and do
// not fail the request.
func (s *Server) saveContract(txs *dlc.DlcTransactions, result *CreateDlcTransactionsResult, refundLockTime uint32) {
	if s.store == nil {
		return
	}

	c := &storage.Contract{
		ID:             txs.Fund.TxHash().String(),
		Chain:          s.params.Symbol,
		Network:        string(s.params.Network),
		State:          storage.ContractStateBuilt,
		FundTx:         result.Fund,
		FundVout:       result.FundVout,
		FundValue:      result.FundOutputValue,
		FundingScript:  result.FundingScriptPubkey,
		RefundTxID:     txs.Refund.TxHash().String(),
		RefundTx:       result.Refund,
		RefundLockTime: refundLockTime,
		CreatedAt:      time.Now(),
	}
	for i, cet := range txs.Cets {
		c.Cets = append(c.Cets, storage.Cet{
			Index: i,
			TxID:  cet.TxHash().String(),
			Tx:    result.Cets[i],
			State: dlc.StateUnsigned.String(),
		})
	}

	if err := s.store.SaveContract(c); err != nil {
		s.log.Contract(c.ID).Warn("Failed to store contract", "error", err)
	}
}

// recordCet stores the signature progress of a CET. CETs of contracts
// built elsewhere are not tracked.
func (s *Server) recordCet(cet *wire.MsgTx, state dlc.SignatureState, adaptorSig, signedTx string) {
	if s.store == nil {
		return
	}

	txid := cet.TxHash().String()
	n, err := s.store.RecordCetSignature(txid, state.String(), adaptorSig, signedTx)
	if err != nil {
		s.log.Warn("Failed to record CET signature", "cet_txid", txid, "state", state, "error", err)
		return
	}
	if n > 0 {
		s.log.Debug("CET signature recorded", "cet_txid", txid, "state", state, "cets", n)
	}
}
