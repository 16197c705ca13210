package events

import (
	"time"

	"github.com/alanyoungcy/parimutuel/internal/domain"
	"github.com/alanyoungcy/parimutuel/internal/ledger"
)

// OddsPoint is the state of a market's pools right after one stake.
type OddsPoint struct {
	Seq      uint64        `json:"seq"`
	At       time.Time     `json:"at"`
	YesTotal domain.Amount `json:"yes_total"`
	NoTotal  domain.Amount `json:"no_total"`
	Odds     uint8         `json:"odds"`
}

// OddsHistory rebuilds the odds curve of one market from its event log.
// Staked events carry post-update totals, so every point is exact.
func OddsHistory(log []domain.Event) []OddsPoint {
	out := make([]OddsPoint, 0, len(log))
	for _, e := range log {
		switch e.Kind {
		case domain.EventMarketCreated:
			out = append(out, OddsPoint{Seq: e.Seq, At: e.At, Odds: 50})
		case domain.EventStaked:
			out = append(out, OddsPoint{
				Seq:      e.Seq,
				At:       e.At,
				YesTotal: e.YesTotal,
				NoTotal:  e.NoTotal,
				Odds:     ledger.PoolOdds(e.YesTotal, e.NoTotal),
			})
		}
	}
	return out
}
