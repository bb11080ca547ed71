package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/parimarket/internal/domain"
	"github.com/alanyoungcy/parimarket/internal/settlement"
)

// PositionView is a position together with what it is worth: the settled
// payout once the market has resolved, otherwise the payout if its side
// won under the current pools.
type PositionView struct {
	domain.Position
	Projected uint64 `json:"projected"`
}

// GetMarket returns a market, checking the cache first and back-filling it
// from the store on a miss.
func (s *MarketService) GetMarket(ctx context.Context, name string) (domain.Market, error) {
	if s.cache != nil {
		if m, err := s.cache.Get(ctx, name); err == nil {
			return m, nil
		}
	}

	m, err := s.markets.Get(ctx, name)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get %q: %w", name, err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, m); err != nil {
			s.logger.WarnContext(ctx, "market_service: cache set failed",
				slog.String("market", name),
				slog.String("error", err.Error()),
			)
		}
	}
	return m, nil
}

// ListMarkets returns markets newest first.
func (s *MarketService) ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := s.markets.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list: %w", err)
	}
	return markets, nil
}

// CountMarkets returns the number of markets ever created.
func (s *MarketService) CountMarkets(ctx context.Context) (int64, error) {
	n, err := s.markets.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("market_service: count: %w", err)
	}
	return n, nil
}

// ListPositions returns every position in a market with its projection.
func (s *MarketService) ListPositions(ctx context.Context, name string) ([]PositionView, error) {
	m, err := s.markets.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("market_service: list positions of %q: %w", name, err)
	}
	positions, err := s.positions.ListByMarket(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("market_service: list positions of %q: %w", name, err)
	}
	views := make([]PositionView, 0, len(positions))
	for _, p := range positions {
		views = append(views, view(m, p))
	}
	return views, nil
}

// GetPosition returns one participant's position in a market.
func (s *MarketService) GetPosition(ctx context.Context, name, participant string) (PositionView, error) {
	m, err := s.markets.Get(ctx, name)
	if err != nil {
		return PositionView{}, fmt.Errorf("market_service: get position %q/%q: %w", name, participant, err)
	}
	p, err := s.positions.Get(ctx, name, participant)
	if err != nil {
		return PositionView{}, fmt.Errorf("market_service: get position %q/%q: %w", name, participant, err)
	}
	return view(m, p), nil
}

// ListParticipantPositions returns the positions a participant holds across
// markets.
func (s *MarketService) ListParticipantPositions(ctx context.Context, participant string, opts domain.ListOpts) ([]domain.Position, error) {
	positions, err := s.positions.ListByParticipant(ctx, participant, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list positions of participant %q: %w", participant, err)
	}
	return positions, nil
}

// Balance returns an escrow account balance.
func (s *MarketService) Balance(ctx context.Context, account string) (uint64, error) {
	b, err := s.escrow.Balance(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("market_service: balance %q: %w", account, err)
	}
	return b, nil
}

func view(m domain.Market, p domain.Position) PositionView {
	v := PositionView{Position: p}
	switch {
	case p.Claimed:
		v.Projected = p.Payout
	case m.Settled:
		if p.Side == m.Outcome {
			v.Projected, _ = settlement.Winnings(p.Stake, m.YesTotal, m.NoTotal, m.Outcome)
		}
	default:
		v.Projected, _ = settlement.Quote(m, p)
	}
	return v
}
