package domain

import "time"

// Position is one participant's stake in one market. It is keyed by
// (MarketName, Participant) and is never deleted.
type Position struct {
	MarketName  string     `json:"market"`
	Participant string     `json:"participant"`
	Stake       uint64     `json:"stake"`
	Side        Side       `json:"side"`
	Claimed     bool       `json:"claimed"`
	Payout      uint64     `json:"payout"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Version     int64      `json:"version"`
}
