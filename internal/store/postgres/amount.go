package postgres

import (
	"fmt"
	"strconv"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// Amounts are stored as NUMERIC(20,0) and exchanged as text so the full
// uint64 range survives the round trip.

func amountArg(a domain.Amount) string {
	return strconv.FormatUint(uint64(a), 10)
}

func parseAmount(s string) (domain.Amount, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("postgres: parse amount %q: %w", s, err)
	}
	return domain.Amount(v), nil
}
