package domain

import "github.com/ethereum/go-ethereum/common"

// Position is one participant's stake in a single market. A participant may
// hold both sides at once.
type Position struct {
	Account   common.Address `json:"account"`
	Yes       Amount         `json:"yes"`
	No        Amount         `json:"no"`
	Withdrawn bool           `json:"withdrawn"`
}

// Stake returns the amount held on side s.
func (p Position) Stake(s Side) Amount {
	if s == SideYes {
		return p.Yes
	}
	return p.No
}

// Total returns the sum of both sides.
func (p Position) Total() Amount {
	return p.Yes + p.No
}
