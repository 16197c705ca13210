package ledger

import (
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// payout returns stake + floor(stake*losing/winning). The product is taken
// in 256 bits; the result never exceeds stake+losing so it fits an Amount.
func payout(stake, losing, winning domain.Amount) domain.Amount {
	if stake == 0 || winning == 0 {
		return 0
	}
	share := new(uint256.Int).Mul(uint256.NewInt(uint64(stake)), uint256.NewInt(uint64(losing)))
	share.Div(share, uint256.NewInt(uint64(winning)))
	return stake + domain.Amount(share.Uint64())
}

// PoolOdds returns floor(100*yes/(yes+no)), or 50 for an empty pool.
func PoolOdds(yes, no domain.Amount) uint8 {
	total := new(uint256.Int).Add(uint256.NewInt(uint64(yes)), uint256.NewInt(uint64(no)))
	if total.IsZero() {
		return 50
	}
	pct := new(uint256.Int).Mul(uint256.NewInt(uint64(yes)), uint256.NewInt(100))
	pct.Div(pct, total)
	return uint8(pct.Uint64())
}
