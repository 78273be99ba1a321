package rpc

import (
	"context"
	"encoding/json"

	"github.com/klingon-exchange/klingon-dlc/internal/backend"
)

// ========================================
// Chain handlers
// ========================================

// BroadcastTxParams is the request for chain_broadcastTx.
type BroadcastTxParams struct {
	Tx string `json:"tx"`
}

// BroadcastTxResult is the response for chain_broadcastTx.
type BroadcastTxResult struct {
	Txid string `json:"txid"`

	// ContractUpdated reports whether a stored contract changed state.
	ContractUpdated bool `json:"contractUpdated"`
}

// GetTxStatusParams is the request for chain_getTxStatus.
type GetTxStatusParams struct {
	Txid string `json:"txid"`
}

// BlockHeightResult is the response for chain_blockHeight.
type BlockHeightResult struct {
	Height int64 `json:"height"`
}

// TxBroadcastEvent is broadcast after a transaction was accepted.
type TxBroadcastEvent struct {
	Txid string `json:"txid"`
}

func (s *Server) broadcastTx(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p BroadcastTxParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	tx, err := parseTx("tx", p.Tx)
	if err != nil {
		return nil, err
	}

	if err := backend.CheckLockTime(ctx, s.chain, tx); err != nil {
		return nil, err
	}

	txid, err := s.chain.BroadcastTransaction(ctx, tx)
	if err != nil {
		s.log.Warn("Broadcast failed", "txid", tx.TxHash().String(), "error", err)
		return nil, err
	}

	result := &BroadcastTxResult{Txid: txid}
	if s.store != nil {
		updated, err := s.store.MarkBroadcast(txid)
		if err != nil {
			s.log.Warn("Failed to record broadcast", "txid", txid, "error", err)
		}
		result.ContractUpdated = updated
	}

	s.log.Info("Transaction broadcast", "txid", txid, "backend", s.chain.Type(), "contract_updated", result.ContractUpdated)
	s.wsHub.Broadcast(EventTxBroadcast, &TxBroadcastEvent{Txid: txid})
	return result, nil
}

func (s *Server) getTxStatus(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p GetTxStatusParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if _, err := parseTxid(p.Txid); err != nil {
		return nil, err
	}
	return s.chain.GetTxStatus(ctx, p.Txid)
}

func (s *Server) feeEstimates(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return s.chain.GetFeeEstimates(ctx)
}

func (s *Server) blockHeight(ctx context.Context, params json.RawMessage) (interface{}, error) {
	height, err := s.chain.GetBlockHeight(ctx)
	if err != nil {
		return nil, err
	}
	return &BlockHeightResult{Height: height}, nil
}
