package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// EventKind names one of the ledger's observable state changes.
type EventKind string

const (
	EventMarketCreated EventKind = "market_created"
	EventStaked        EventKind = "staked"
	EventResolved      EventKind = "resolved"
	EventWithdrawn     EventKind = "withdrawn"
)

// Event is a single entry of a market's append-only log. Seq starts at 1
// with the MarketCreated event and increases by one per entry, so the log
// can be replayed to rebuild the ledger.
//
// Field use per kind:
//
//	market_created  Account=creator, Question, Deadline
//	staked          Account=participant, Side=prediction, Amount, YesTotal, NoTotal (post-update)
//	resolved        Account=resolver, Side=outcome
//	withdrawn       Account=participant, Amount
type Event struct {
	ID       uuid.UUID      `json:"id"`
	MarketID MarketID       `json:"market_id"`
	Seq      uint64         `json:"seq"`
	Kind     EventKind      `json:"kind"`
	At       time.Time      `json:"at"`
	Account  common.Address `json:"account"`
	Question string         `json:"question,omitempty"`
	Deadline time.Time      `json:"deadline,omitzero"`
	Side     Side           `json:"side,omitempty"`
	Amount   Amount         `json:"amount,omitempty"`
	YesTotal Amount         `json:"yes_total,omitempty"`
	NoTotal  Amount         `json:"no_total,omitempty"`
}
