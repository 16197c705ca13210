package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MarketID is the stable index of a market in the registry.
type MarketID uint64

// Side is one of the two outcomes a participant can back.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Valid reports whether s is Yes or No.
func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// ParseSide accepts "yes"/"no" and "true"/"false" in any case.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "true":
		return SideYes, nil
	case "no", "false":
		return SideNo, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSide, s)
	}
}

// SideOf maps the boolean prediction used by wallets (true = YES).
func SideOf(yes bool) Side {
	if yes {
		return SideYes
	}
	return SideNo
}

// MarketState is the lifecycle phase of a market.
type MarketState string

const (
	MarketStateOpen               MarketState = "open"
	MarketStateAwaitingResolution MarketState = "awaiting_resolution"
	MarketStateResolved           MarketState = "resolved"
)

// EmptyPoolPolicy decides what happens to the pool when nobody backed the
// winning side.
type EmptyPoolPolicy string

const (
	// EmptyPoolRefund lets every participant withdraw their own stake.
	EmptyPoolRefund EmptyPoolPolicy = "refund"
	// EmptyPoolLock leaves the pool in escrow with no payout path.
	EmptyPoolLock EmptyPoolPolicy = "lock"
	// EmptyPoolCreator lets the market creator withdraw the whole pool.
	EmptyPoolCreator EmptyPoolPolicy = "creator"
)

// Valid reports whether p is a known policy.
func (p EmptyPoolPolicy) Valid() bool {
	switch p {
	case EmptyPoolRefund, EmptyPoolLock, EmptyPoolCreator:
		return true
	}
	return false
}

// MarketSummary is the read-only view of a market ledger consumed by
// presentation layers.
type MarketSummary struct {
	ID           MarketID       `json:"id"`
	Question     string         `json:"question"`
	Creator      common.Address `json:"creator"`
	Escrow       common.Address `json:"escrow"`
	Deadline     time.Time      `json:"deadline"`
	CreatedAt    time.Time      `json:"created_at"`
	State        MarketState    `json:"state"`
	Resolved     bool           `json:"resolved"`
	Outcome      Side           `json:"outcome,omitempty"`
	TotalYes     Amount         `json:"total_yes"`
	TotalNo      Amount         `json:"total_no"`
	Odds         uint8          `json:"odds"`
	PaidOut      Amount         `json:"paid_out"`
	Participants int            `json:"participants"`
	Settling     bool           `json:"settling"`
	Seq          uint64         `json:"seq"`
	ArchivedAt   *time.Time     `json:"archived_at,omitempty"`
}

// Pool returns the sum of both sides.
func (m MarketSummary) Pool() Amount {
	return m.TotalYes + m.TotalNo
}

// MarketFilter narrows a market listing.
type MarketFilter string

const (
	MarketFilterAll      MarketFilter = "all"
	MarketFilterActive   MarketFilter = "active"
	MarketFilterAwaiting MarketFilter = "awaiting"
	MarketFilterResolved MarketFilter = "resolved"
)

// ParseMarketFilter maps a query-string value to a MarketFilter. Empty
// means all.
func ParseMarketFilter(s string) (MarketFilter, error) {
	switch f := MarketFilter(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return MarketFilterAll, nil
	case MarketFilterAll, MarketFilterActive, MarketFilterAwaiting, MarketFilterResolved:
		return f, nil
	default:
		return "", fmt.Errorf("unknown market filter %q", s)
	}
}

// Matches reports whether a market in state st passes the filter.
func (f MarketFilter) Matches(st MarketState) bool {
	switch f {
	case MarketFilterActive:
		return st == MarketStateOpen
	case MarketFilterAwaiting:
		return st == MarketStateAwaitingResolution
	case MarketFilterResolved:
		return st == MarketStateResolved
	default:
		return true
	}
}
