package handler

import (
	"time"

	"github.com/alanyoungcy/parimarket/internal/amount"
	"github.com/alanyoungcy/parimarket/internal/domain"
	"github.com/alanyoungcy/parimarket/internal/service"
)

// Amounts are sent as decimal strings of base units so that values above
// 2^53 survive JavaScript clients. display carries the same amounts scaled
// by the asset's decimals.

type marketResponse struct {
	Name      string            `json:"name"`
	Creator   string            `json:"creator"`
	Custody   string            `json:"custody"`
	Status    string            `json:"status"`
	ExpiresAt time.Time         `json:"expires_at"`
	YesTotal  string            `json:"yes_total"`
	NoTotal   string            `json:"no_total"`
	TotalPool string            `json:"total_pool"`
	Display   map[string]string `json:"display"`
	Settled   bool              `json:"settled"`
	Outcome   *domain.Side      `json:"outcome,omitempty"`
	SettledAt *time.Time        `json:"settled_at,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Version   int64             `json:"version"`
}

type positionResponse struct {
	Market      string            `json:"market"`
	Participant string            `json:"participant"`
	Side        domain.Side       `json:"side"`
	Stake       string            `json:"stake"`
	Claimed     bool              `json:"claimed"`
	Payout      string            `json:"payout"`
	Projected   *string           `json:"projected,omitempty"`
	Display     map[string]string `json:"display"`
	ClaimedAt   *time.Time        `json:"claimed_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

type presenter struct {
	decimals int32
	now      func() time.Time
}

func (p presenter) market(m domain.Market) marketResponse {
	resp := marketResponse{
		Name:      m.Name,
		Creator:   m.Creator,
		Custody:   m.Custody,
		Status:    string(m.Status(p.now())),
		ExpiresAt: m.ExpiresAt,
		YesTotal:  amount.Format(m.YesTotal),
		NoTotal:   amount.Format(m.NoTotal),
		TotalPool: amount.Format(m.TotalPool()),
		Display: map[string]string{
			"yes_total":  amount.Display(m.YesTotal, p.decimals),
			"no_total":   amount.Display(m.NoTotal, p.decimals),
			"total_pool": amount.Display(m.TotalPool(), p.decimals),
		},
		Settled:   m.Settled,
		SettledAt: m.SettledAt,
		CreatedAt: m.CreatedAt,
		Version:   m.Version,
	}
	if m.Settled {
		outcome := m.Outcome
		resp.Outcome = &outcome
	}
	return resp
}

func (p presenter) markets(ms []domain.Market) []marketResponse {
	out := make([]marketResponse, 0, len(ms))
	for _, m := range ms {
		out = append(out, p.market(m))
	}
	return out
}

func (p presenter) position(pos domain.Position) positionResponse {
	return positionResponse{
		Market:      pos.MarketName,
		Participant: pos.Participant,
		Side:        pos.Side,
		Stake:       amount.Format(pos.Stake),
		Claimed:     pos.Claimed,
		Payout:      amount.Format(pos.Payout),
		Display: map[string]string{
			"stake":  amount.Display(pos.Stake, p.decimals),
			"payout": amount.Display(pos.Payout, p.decimals),
		},
		ClaimedAt: pos.ClaimedAt,
		CreatedAt: pos.CreatedAt,
	}
}

func (p presenter) positionView(v service.PositionView) positionResponse {
	resp := p.position(v.Position)
	projected := amount.Format(v.Projected)
	resp.Projected = &projected
	resp.Display["projected"] = amount.Display(v.Projected, p.decimals)
	return resp
}
