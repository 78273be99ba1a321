package rpc

import (
	"context"
	"encoding/hex"
	"encoding/json"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/klingon-exchange/klingon-dlc/internal/wallet"
)

// ========================================
// Wallet handlers
// ========================================

// WalletStatusResult is the response for wallet_status.
type WalletStatusResult struct {
	Exists   bool   `json:"exists"`
	Unlocked bool   `json:"unlocked"`
	Chain    string `json:"chain"`
	Network  string `json:"network"`
}

// WalletGenerateResult is the response for wallet_generate.
type WalletGenerateResult struct {
	Mnemonic string `json:"mnemonic"`
}

// WalletCreateParams is the request for wallet_create.
type WalletCreateParams struct {
	Mnemonic string `json:"mnemonic"`
	Password string `json:"password"`
}

// WalletUnlockParams is the request for wallet_unlock.
type WalletUnlockParams struct {
	Password string `json:"password"`
}

// FundingKeyParams is the request for wallet_getFundingKey.
type FundingKeyParams struct {
	Index uint32 `json:"index"`
}

// FundingKeyResult carries what a party needs for its side of a contract:
// the funding public key and a payout destination.
type FundingKeyResult struct {
	Index              uint32 `json:"index"`
	FundPubkey         string `json:"fundPubkey"`
	FundPath           string `json:"fundPath"`
	PayoutAddress      string `json:"payoutAddress"`
	PayoutScriptPubkey string `json:"payoutScriptPubkey"`
	PayoutPath         string `json:"payoutPath"`
}

func (s *Server) walletStatus(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return &WalletStatusResult{
		Exists:   s.keys.Exists(),
		Unlocked: s.keys.Unlocked(),
		Chain:    s.params.Symbol,
		Network:  string(s.params.Network),
	}, nil
}

func (s *Server) walletGenerate(ctx context.Context, params json.RawMessage) (interface{}, error) {
	mnemonic, err := wallet.GenerateMnemonic()
	if err != nil {
		return nil, err
	}
	return &WalletGenerateResult{Mnemonic: mnemonic}, nil
}

func (s *Server) walletCreate(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p WalletCreateParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := s.keys.Create(p.Mnemonic, p.Password); err != nil {
		return nil, err
	}

	s.log.Info("Wallet created", "path", s.keys.Path())
	return s.walletStatus(ctx, nil)
}

func (s *Server) walletUnlock(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p WalletUnlockParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := s.keys.Unlock(p.Password); err != nil {
		s.log.Warn("Wallet unlock failed", "error", err)
		return nil, err
	}

	s.log.Info("Wallet unlocked")
	return s.walletStatus(ctx, nil)
}

func (s *Server) walletLock(ctx context.Context, params json.RawMessage) (interface{}, error) {
	s.keys.Lock()
	s.log.Info("Wallet locked")
	return s.walletStatus(ctx, nil)
}

func (s *Server) walletGetFundingKey(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p FundingKeyParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	w, err := s.keys.Wallet()
	if err != nil {
		return nil, err
	}
	pub, err := w.FundingPubKey(p.Index)
	if err != nil {
		return nil, err
	}
	addr, script, err := w.PayoutAddress(p.Index)
	if err != nil {
		return nil, err
	}

	return &FundingKeyResult{
		Index:              p.Index,
		FundPubkey:         hex.EncodeToString(pub.SerializeCompressed()),
		FundPath:           w.FundingKeyPath(p.Index),
		PayoutAddress:      addr,
		PayoutScriptPubkey: hex.EncodeToString(script),
		PayoutPath:         w.PayoutAddressPath(p.Index),
	}, nil
}

// fundingKey resolves the signing key of a request, given either as hex or
// as a wallet index.
func (s *Server) fundingKey(skHex string, index *uint32) (*btcec.PrivateKey, error) {
	switch {
	case skHex != "" && index != nil:
		return nil, invalidParams("fundingSk and fundingKeyIndex are mutually exclusive")
	case skHex != "":
		return parsePrivKey("fundingSk", skHex)
	case index == nil:
		return nil, invalidParams("fundingSk or fundingKeyIndex is required")
	case s.keys == nil:
		return nil, invalidParams("fundingKeyIndex needs a wallet")
	}

	w, err := s.keys.Wallet()
	if err != nil {
		return nil, err
	}
	return w.FundingKey(*index)
}
