package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/klingon-exchange/klingon-dlc/internal/dlc"
)

// MempoolBackend implements Backend using the mempool.space API.
// Compatible with mempool.space, litecoinspace.org, and self-hosted instances.
type MempoolBackend struct {
	baseURL    string
	httpClient *http.Client
}

// NewMempoolBackend creates a new mempool.space backend.
func NewMempoolBackend(baseURL string, timeout time.Duration) *MempoolBackend {
	return &MempoolBackend{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Type returns TypeMempool.
func (m *MempoolBackend) Type() Type {
	return TypeMempool
}

// BroadcastTransaction broadcasts a transaction and checks that the API
// reports the expected txid.
func (m *MempoolBackend) BroadcastTransaction(ctx context.Context, tx *wire.MsgTx) (string, error) {
	rawTxHex, err := dlc.SerializeTx(tx)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/tx", strings.NewReader(rawTxHex))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBroadcastFailed, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s", ErrBroadcastFailed, strings.TrimSpace(string(body)))
	}

	txid := strings.TrimSpace(string(body))
	if want := tx.TxHash().String(); txid != want {
		return "", fmt.Errorf("%w: api returned txid %s, expected %s", ErrBroadcastFailed, txid, want)
	}
	return txid, nil
}

// GetTxStatus returns the confirmation status of a transaction.
func (m *MempoolBackend) GetTxStatus(ctx context.Context, txID string) (*TxStatus, error) {
	var result struct {
		Confirmed   bool   `json:"confirmed"`
		BlockHeight int64  `json:"block_height"`
		BlockHash   string `json:"block_hash"`
		BlockTime   int64  `json:"block_time"`
	}
	if err := m.get(ctx, "/tx/"+txID+"/status", &result); err != nil {
		return nil, err
	}

	status := &TxStatus{
		TxID:        txID,
		Confirmed:   result.Confirmed,
		BlockHeight: result.BlockHeight,
		BlockHash:   result.BlockHash,
		BlockTime:   result.BlockTime,
	}

	// The API reports the block height but not the confirmation count.
	if status.Confirmed && status.BlockHeight > 0 {
		currentHeight, err := m.GetBlockHeight(ctx)
		if err == nil && currentHeight >= status.BlockHeight {
			status.Confirmations = currentHeight - status.BlockHeight + 1
		}
	}

	return status, nil
}

// GetOutspend returns the spending status of an output.
func (m *MempoolBackend) GetOutspend(ctx context.Context, txID string, vout uint32) (*Outspend, error) {
	var result struct {
		Spent  bool   `json:"spent"`
		TxID   string `json:"txid"`
		Vin    int    `json:"vin"`
		Status struct {
			Confirmed bool `json:"confirmed"`
		} `json:"status"`
	}
	if err := m.get(ctx, fmt.Sprintf("/tx/%s/outspend/%d", txID, vout), &result); err != nil {
		return nil, err
	}

	return &Outspend{
		Spent:     result.Spent,
		TxID:      result.TxID,
		Vin:       result.Vin,
		Confirmed: result.Status.Confirmed,
	}, nil
}

// GetBlockHeight returns the current block height.
func (m *MempoolBackend) GetBlockHeight(ctx context.Context) (int64, error) {
	var height int64
	if err := m.get(ctx, "/blocks/tip/height", &height); err != nil {
		return 0, err
	}
	return height, nil
}

// GetFeeEstimates returns fee estimates for different confirmation targets.
func (m *MempoolBackend) GetFeeEstimates(ctx context.Context) (*FeeEstimate, error) {
	var result map[string]float64
	if err := m.get(ctx, "/v1/fees/recommended", &result); err != nil {
		return nil, err
	}

	return &FeeEstimate{
		FastestFee:  ceilRate(result["fastestFee"]),
		HalfHourFee: ceilRate(result["halfHourFee"]),
		HourFee:     ceilRate(result["hourFee"]),
		EconomyFee:  ceilRate(result["economyFee"]),
		MinimumFee:  ceilRate(result["minimumFee"]),
	}, nil
}

// get performs a GET request and decodes JSON response.
func (m *MempoolBackend) get(ctx context.Context, path string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+path, nil)
	if err != nil {
		return err
	}

	// Add cache-busting headers to avoid stale CDN responses
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrTxNotFound
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(result)
}

// ceilRate rounds a fractional sat/vB rate up so the estimate never
// underpays.
func ceilRate(rate float64) uint64 {
	if rate <= 0 {
		return 0
	}
	return uint64(math.Ceil(rate))
}

// Ensure MempoolBackend implements Backend
var _ Backend = (*MempoolBackend)(nil)
