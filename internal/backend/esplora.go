package backend

import (
	"context"
	"time"
)

// EsploraBackend implements Backend using the Esplora API (blockstream.info).
// The Esplora API is a superset of what MempoolBackend uses except for fee
// estimates.
type EsploraBackend struct {
	*MempoolBackend
}

// NewEsploraBackend creates a new Esplora backend.
func NewEsploraBackend(baseURL string, timeout time.Duration) *EsploraBackend {
	return &EsploraBackend{
		MempoolBackend: NewMempoolBackend(baseURL, timeout),
	}
}

// Type returns TypeEsplora.
func (e *EsploraBackend) Type() Type {
	return TypeEsplora
}

// GetFeeEstimates returns fee estimates from the per-target
// /fee-estimates endpoint.
func (e *EsploraBackend) GetFeeEstimates(ctx context.Context) (*FeeEstimate, error) {
	var result map[string]float64
	if err := e.get(ctx, "/fee-estimates", &result); err != nil {
		return nil, err
	}

	return &FeeEstimate{
		FastestFee:  ceilRate(result["1"]),
		HalfHourFee: ceilRate(result["3"]),
		HourFee:     ceilRate(result["6"]),
		EconomyFee:  ceilRate(result["144"]),
		MinimumFee:  1,
	}, nil
}

// Ensure EsploraBackend implements Backend
var _ Backend = (*EsploraBackend)(nil)
