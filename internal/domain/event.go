package domain

import "time"

// EventType names a market lifecycle event.
type EventType string

const (
	EventMarketCreated   EventType = "market_created"
	EventBetPlaced       EventType = "bet_placed"
	EventMarketSettled   EventType = "market_settled"
	EventWinningsClaimed EventType = "winnings_claimed"
)

// Bus channels and streams carrying market events.
const (
	ChannelMarkets = "markets"
	StreamMarkets  = "stream:markets"
)

// MarketEvent is published after a mutation has been committed.
type MarketEvent struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	Market      string    `json:"market"`
	Participant string    `json:"participant,omitempty"`
	Amount      uint64    `json:"amount,omitempty"`
	Side        *Side     `json:"side,omitempty"`
	YesTotal    uint64    `json:"yes_total"`
	NoTotal     uint64    `json:"no_total"`
	At          time.Time `json:"at"`
}
