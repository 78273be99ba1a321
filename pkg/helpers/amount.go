package helpers

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
)

// FormatSats renders satoshis the way btcutil prints amounts, e.g.
// "0.00200000 BTC". Values beyond max money are printed as raw satoshis.
func FormatSats(satoshis uint64) string {
	if satoshis > btcutil.MaxSatoshi {
		return fmt.Sprintf("%d sat", satoshis)
	}
	return btcutil.Amount(satoshis).String()
}
