// Package settlement holds the pure state-transition and payout logic for
// binary pari-mutuel markets. Nothing here performs I/O: callers load the
// market and position, ask this package for the next state, move value, and
// then commit what it returned.
package settlement

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/parimarket/internal/domain"
)

// RebetPolicy decides what a second bet by the same participant does to an
// existing position.
type RebetPolicy string

const (
	// RebetAccumulate adds same-side rebets to the stake and rejects
	// opposite-side rebets with domain.ErrSideMismatch.
	RebetAccumulate RebetPolicy = "accumulate"
	// RebetReplace overwrites the position's side and stake with the latest
	// bet. Market totals still include every amount escrowed.
	RebetReplace RebetPolicy = "replace"
)

// ParseRebetPolicy validates a policy name. The empty string selects
// RebetAccumulate.
func ParseRebetPolicy(s string) (RebetPolicy, error) {
	switch RebetPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", RebetAccumulate:
		return RebetAccumulate, nil
	case RebetReplace:
		return RebetReplace, nil
	}
	return "", fmt.Errorf("settlement: unknown rebet policy %q", s)
}

// NewMarket validates creation parameters and returns an open market with
// empty pools.
func NewMarket(name, creator, custody string, expiresAt, now time.Time) (domain.Market, error) {
	name = strings.TrimSpace(name)
	if name == "" || creator == "" || custody == "" || expiresAt.IsZero() {
		return domain.Market{}, domain.ErrInvalidMarket
	}
	if !expiresAt.After(now) {
		return domain.Market{}, fmt.Errorf("%w: expiry %s is not after %s",
			domain.ErrInvalidMarket, expiresAt.Format(time.RFC3339), now.Format(time.RFC3339))
	}
	return domain.Market{
		Name:      name,
		Creator:   creator,
		Custody:   custody,
		ExpiresAt: expiresAt.UTC(),
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}, nil
}

// CheckBet validates a bet of amount against m at now. The checks run in a
// fixed order: zero amount, settled, expired, overflow.
func CheckBet(m domain.Market, amount uint64, now time.Time) error {
	if amount == 0 {
		return domain.ErrInvalidAmount
	}
	if m.Settled {
		return domain.ErrMarketAlreadySettled
	}
	if !now.Before(m.ExpiresAt) {
		return domain.ErrMarketExpired
	}
	if amount > math.MaxUint64-m.TotalPool() {
		return domain.ErrAmountOverflow
	}
	return nil
}

// PlaceBet validates a bet and returns the market and position as they must
// be committed once the escrow transfer succeeds. pos is nil when the
// participant has no position in m yet.
func PlaceBet(
	m domain.Market,
	pos *domain.Position,
	participant string,
	amount uint64,
	side domain.Side,
	policy RebetPolicy,
	now time.Time,
) (domain.Market, domain.Position, error) {
	if participant == "" {
		return domain.Market{}, domain.Position{}, domain.ErrUnauthorized
	}
	if err := CheckBet(m, amount, now); err != nil {
		return domain.Market{}, domain.Position{}, err
	}

	var next domain.Position
	if pos == nil {
		next = domain.Position{
			MarketName:  m.Name,
			Participant: participant,
			Stake:       amount,
			Side:        side,
			CreatedAt:   now.UTC(),
		}
	} else {
		next = *pos
		switch policy {
		case RebetReplace:
			next.Stake = amount
			next.Side = side
		default:
			if pos.Side != side {
				return domain.Market{}, domain.Position{}, domain.ErrSideMismatch
			}
			next.Stake += amount
		}
	}
	next.UpdatedAt = now.UTC()

	if side == domain.SideYes {
		m.YesTotal += amount
	} else {
		m.NoTotal += amount
	}
	m.UpdatedAt = now.UTC()

	return m, next, nil
}

// Settle records outcome on m. Only the creator may settle, only once, and
// only at or after expiry.
func Settle(m domain.Market, outcome domain.Side, caller string, now time.Time) (domain.Market, error) {
	if caller == "" || caller != m.Creator {
		return domain.Market{}, domain.ErrUnauthorized
	}
	if m.Settled {
		return domain.Market{}, domain.ErrAlreadySettled
	}
	if now.Before(m.ExpiresAt) {
		return domain.Market{}, domain.ErrNotYetExpired
	}

	settledAt := now.UTC()
	m.Outcome = outcome
	m.Settled = true
	m.SettledAt = &settledAt
	m.UpdatedAt = settledAt
	return m, nil
}

// CheckClaim validates that pos may be redeemed against m.
func CheckClaim(m domain.Market, pos domain.Position) error {
	if !m.Settled {
		return domain.ErrMarketNotSettled
	}
	if m.SideTotal(m.Outcome) == 0 {
		return domain.ErrNoWinningStake
	}
	if pos.Side != m.Outcome {
		return domain.ErrNotAWinner
	}
	if pos.Claimed {
		return domain.ErrAlreadyClaimed
	}
	return nil
}

// Claim validates the claim and returns the position as it must be committed
// together with the amount to pay out of custody.
func Claim(m domain.Market, pos domain.Position, now time.Time) (domain.Position, uint64, error) {
	if err := CheckClaim(m, pos); err != nil {
		return domain.Position{}, 0, err
	}
	amount, err := Winnings(pos.Stake, m.YesTotal, m.NoTotal, m.Outcome)
	if err != nil {
		return domain.Position{}, 0, err
	}

	claimedAt := now.UTC()
	pos.Claimed = true
	pos.Payout = amount
	pos.ClaimedAt = &claimedAt
	pos.UpdatedAt = claimedAt
	return pos, amount, nil
}

// Winnings returns floor(stake * (yes+no) / winningPool). The product is
// carried out at 256 bits so no input combination can overflow before the
// division.
func Winnings(stake, yesTotal, noTotal uint64, outcome domain.Side) (uint64, error) {
	winningPool := noTotal
	if outcome == domain.SideYes {
		winningPool = yesTotal
	}
	if winningPool == 0 {
		return 0, domain.ErrNoWinningStake
	}

	total := new(uint256.Int).Add(uint256.NewInt(yesTotal), uint256.NewInt(noTotal))
	out := new(uint256.Int).Mul(uint256.NewInt(stake), total)
	out.Div(out, uint256.NewInt(winningPool))
	if !out.IsUint64() {
		return 0, domain.ErrAmountOverflow
	}
	return out.Uint64(), nil
}

// Quote returns what pos would redeem if its side won under the current
// pools. It does not look at settlement state.
func Quote(m domain.Market, pos domain.Position) (uint64, error) {
	return Winnings(pos.Stake, m.YesTotal, m.NoTotal, pos.Side)
}
