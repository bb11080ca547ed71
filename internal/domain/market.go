package domain

import (
	"strings"
	"time"
)

// MarketStatus is a derived, read-only label describing where a market sits in
// its lifecycle. The state machine itself only distinguishes open and settled;
// "expired" is an open market whose betting window has closed.
type MarketStatus string

const (
	MarketStatusOpen    MarketStatus = "open"
	MarketStatusExpired MarketStatus = "expired"
	MarketStatusSettled MarketStatus = "settled"
)

// Side is the binary prediction a bet is placed on.
type Side bool

const (
	SideYes Side = true
	SideNo  Side = false
)

// String returns "yes" or "no".
func (s Side) String() string {
	if s {
		return "yes"
	}
	return "no"
}

// ParseSide converts "yes"/"no" (case-insensitive, also "true"/"false") to a Side.
func ParseSide(v string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "true":
		return SideYes, nil
	case "no", "false":
		return SideNo, nil
	}
	return SideNo, ErrInvalidSide
}

// MarshalText encodes the side as "yes" or "no".
func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Side) UnmarshalText(text []byte) error {
	v, err := ParseSide(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Market is the authoritative record of one pari-mutuel market.
//
// YesTotal and NoTotal grow with every accepted bet and are frozen once the
// market is settled. Outcome is only meaningful when Settled is true.
type Market struct {
	Name      string     `json:"name"`
	Creator   string     `json:"creator"`
	Custody   string     `json:"custody"`
	ExpiresAt time.Time  `json:"expires_at"`
	YesTotal  uint64     `json:"yes_total"`
	NoTotal   uint64     `json:"no_total"`
	Outcome   Side       `json:"outcome"`
	Settled   bool       `json:"settled"`
	SettledAt *time.Time `json:"settled_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Version   int64      `json:"version"`
}

// Status reports the lifecycle label of m as observed at now.
func (m Market) Status(now time.Time) MarketStatus {
	switch {
	case m.Settled:
		return MarketStatusSettled
	case !now.Before(m.ExpiresAt):
		return MarketStatusExpired
	default:
		return MarketStatusOpen
	}
}

// TotalPool returns YesTotal + NoTotal. Bets that would overflow the pool are
// rejected before they are applied, so the sum always fits.
func (m Market) TotalPool() uint64 {
	return m.YesTotal + m.NoTotal
}

// SideTotal returns the pooled stake on the given side.
func (m Market) SideTotal(s Side) uint64 {
	if s == SideYes {
		return m.YesTotal
	}
	return m.NoTotal
}
