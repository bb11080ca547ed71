// Package service orchestrates market operations: it serializes each market
// behind a lock, validates through the settlement engine, moves value through
// escrow and commits through the stores.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/parimarket/internal/domain"
	"github.com/alanyoungcy/parimarket/internal/escrow"
	"github.com/alanyoungcy/parimarket/internal/settlement"
)

// Config holds engine tuning.
type Config struct {
	RebetPolicy settlement.RebetPolicy
	// LockTTL bounds how long a crashed holder can wedge a market.
	LockTTL time.Duration
	// LockWait is how long an operation waits for a busy market before
	// giving up with domain.ErrLockHeld.
	LockWait time.Duration
}

// Notifier receives committed market events.
type Notifier interface {
	NotifyMarketEvent(ctx context.Context, ev domain.MarketEvent) error
}

// Option configures optional MarketService collaborators.
type Option func(*MarketService)

// WithClock overrides the time source used for expiry checks and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *MarketService) { s.now = now }
}

// WithCache enables read-through caching of markets.
func WithCache(c domain.MarketCache) Option {
	return func(s *MarketService) { s.cache = c }
}

// WithEventBus publishes committed events to bus.
func WithEventBus(bus domain.EventBus) Option {
	return func(s *MarketService) { s.bus = bus }
}

// WithAudit records committed operations in audit.
func WithAudit(audit domain.AuditStore) Option {
	return func(s *MarketService) { s.audit = audit }
}

// WithNotifier forwards committed events to n.
func WithNotifier(n Notifier) Option {
	return func(s *MarketService) { s.notifier = n }
}

// MarketService implements create_market, place_bet, settle_market and
// claim_winnings plus the read paths used by the API.
type MarketService struct {
	markets   domain.MarketStore
	positions domain.PositionStore
	escrow    domain.Escrow
	locks     domain.LockManager
	deriver   escrow.Deriver
	cfg       Config
	logger    *slog.Logger

	cache    domain.MarketCache
	bus      domain.EventBus
	audit    domain.AuditStore
	notifier Notifier
	now      func() time.Time
}

// NewMarketService creates a MarketService with all required dependencies.
func NewMarketService(
	markets domain.MarketStore,
	positions domain.PositionStore,
	esc domain.Escrow,
	locks domain.LockManager,
	deriver escrow.Deriver,
	cfg Config,
	logger *slog.Logger,
	opts ...Option,
) *MarketService {
	if cfg.RebetPolicy == "" {
		cfg.RebetPolicy = settlement.RebetAccumulate
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Second
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 2 * time.Second
	}
	s := &MarketService{
		markets:   markets,
		positions: positions,
		escrow:    esc,
		locks:     locks,
		deriver:   deriver,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "market_service")),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateMarket opens a market named name that expires at expiresAt. The
// caller becomes its creator and sole settler.
func (s *MarketService) CreateMarket(ctx context.Context, caller, name string, expiresAt time.Time) (domain.Market, error) {
	if caller == "" {
		return domain.Market{}, domain.ErrUnauthorized
	}
	// The lock key and custody derive from the stored, trimmed name.
	name = strings.TrimSpace(name)
	unlock, err := s.lockMarket(ctx, name)
	if err != nil {
		return domain.Market{}, err
	}
	defer unlock()

	m, err := settlement.NewMarket(name, caller, s.deriver.Custody(name), expiresAt, s.now())
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: create %q: %w", name, err)
	}
	if err := s.markets.Create(ctx, m); err != nil {
		return domain.Market{}, fmt.Errorf("market_service: create %q: %w", name, err)
	}
	m.Version = 1

	s.logger.InfoContext(ctx, "market_service: market created",
		slog.String("market", m.Name),
		slog.String("creator", caller),
		slog.Time("expires_at", m.ExpiresAt),
	)
	s.afterCommit(ctx, m, domain.MarketEvent{
		Type:        domain.EventMarketCreated,
		Market:      m.Name,
		Participant: caller,
	})
	return m, nil
}

// PlaceBet escrows amount from caller into the market's custody and records
// it on side.
func (s *MarketService) PlaceBet(ctx context.Context, caller, name string, amount uint64, side domain.Side) (domain.Market, domain.Position, error) {
	if caller == "" {
		return domain.Market{}, domain.Position{}, domain.ErrUnauthorized
	}
	unlock, err := s.lockMarket(ctx, name)
	if err != nil {
		return domain.Market{}, domain.Position{}, err
	}
	defer unlock()

	m, err := s.markets.Get(ctx, name)
	if err != nil {
		return domain.Market{}, domain.Position{}, fmt.Errorf("market_service: bet on %q: %w", name, err)
	}
	var existing *domain.Position
	pos, err := s.positions.Get(ctx, name, caller)
	switch {
	case err == nil:
		existing = &pos
	case !errors.Is(err, domain.ErrNotFound):
		return domain.Market{}, domain.Position{}, fmt.Errorf("market_service: bet on %q: %w", name, err)
	}

	nextM, nextP, err := settlement.PlaceBet(m, existing, caller, amount, side, s.cfg.RebetPolicy, s.now())
	if err != nil {
		return domain.Market{}, domain.Position{}, fmt.Errorf("market_service: bet on %q: %w", name, err)
	}

	if err := s.escrow.Debit(ctx, caller, amount); err != nil {
		return domain.Market{}, domain.Position{}, fmt.Errorf("market_service: bet on %q: %w", name, err)
	}
	if err := s.escrow.Credit(ctx, m.Custody, amount); err != nil {
		s.compensate(ctx, "refund debit", name, caller, func() error {
			return s.escrow.Credit(ctx, caller, amount)
		})
		return domain.Market{}, domain.Position{}, fmt.Errorf("market_service: bet on %q: %w", name, err)
	}

	committedM, committedP, err := s.commitBet(ctx, m, nextM, existing, nextP)
	if err != nil {
		s.compensate(ctx, "reverse bet escrow", name, caller, func() error {
			return s.escrow.TransferAuthorizedByMarket(ctx, name, m.Custody, caller, amount)
		})
		return domain.Market{}, domain.Position{}, fmt.Errorf("market_service: bet on %q: %w", name, err)
	}

	s.logger.InfoContext(ctx, "market_service: bet placed",
		slog.String("market", name),
		slog.String("participant", caller),
		slog.Uint64("amount", amount),
		slog.String("side", side.String()),
	)
	s.afterCommit(ctx, committedM, domain.MarketEvent{
		Type:        domain.EventBetPlaced,
		Market:      name,
		Participant: caller,
		Amount:      amount,
		Side:        &side,
	})
	return committedM, committedP, nil
}

// commitBet writes the market first and then the position. If the position
// write fails the market totals are put back.
func (s *MarketService) commitBet(
	ctx context.Context,
	prevM, nextM domain.Market,
	existing *domain.Position,
	nextP domain.Position,
) (domain.Market, domain.Position, error) {
	committedM, err := s.markets.Update(ctx, nextM)
	if err != nil {
		return domain.Market{}, domain.Position{}, err
	}

	var committedP domain.Position
	if existing == nil {
		committedP, err = s.positions.Create(ctx, nextP)
	} else {
		committedP, err = s.positions.Update(ctx, nextP)
	}
	if err != nil {
		s.compensate(ctx, "restore market totals", prevM.Name, nextP.Participant, func() error {
			prevM.Version = committedM.Version
			restored, err := s.markets.Update(ctx, prevM)
			if err != nil {
				return err
			}
			s.refreshCache(ctx, restored)
			return nil
		})
		return domain.Market{}, domain.Position{}, err
	}
	return committedM, committedP, nil
}

// SettleMarket records outcome. Only the creator may settle, once, at or
// after expiry.
func (s *MarketService) SettleMarket(ctx context.Context, caller, name string, outcome domain.Side) (domain.Market, error) {
	if caller == "" {
		return domain.Market{}, domain.ErrUnauthorized
	}
	unlock, err := s.lockMarket(ctx, name)
	if err != nil {
		return domain.Market{}, err
	}
	defer unlock()

	m, err := s.markets.Get(ctx, name)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: settle %q: %w", name, err)
	}
	next, err := settlement.Settle(m, outcome, caller, s.now())
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: settle %q: %w", name, err)
	}
	committed, err := s.markets.Update(ctx, next)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: settle %q: %w", name, err)
	}

	s.logger.InfoContext(ctx, "market_service: market settled",
		slog.String("market", name),
		slog.String("outcome", outcome.String()),
		slog.Uint64("yes_total", committed.YesTotal),
		slog.Uint64("no_total", committed.NoTotal),
	)
	s.afterCommit(ctx, committed, domain.MarketEvent{
		Type:        domain.EventMarketSettled,
		Market:      name,
		Participant: caller,
		Side:        &outcome,
	})
	return committed, nil
}

// ClaimWinnings pays caller's pro-rata share of the pool out of custody and
// marks the position claimed. It returns the amount paid.
func (s *MarketService) ClaimWinnings(ctx context.Context, caller, name string) (domain.Position, uint64, error) {
	if caller == "" {
		return domain.Position{}, 0, domain.ErrUnauthorized
	}
	unlock, err := s.lockMarket(ctx, name)
	if err != nil {
		return domain.Position{}, 0, err
	}
	defer unlock()

	m, err := s.markets.Get(ctx, name)
	if err != nil {
		return domain.Position{}, 0, fmt.Errorf("market_service: claim %q: %w", name, err)
	}
	pos, err := s.positions.Get(ctx, name, caller)
	if err != nil {
		return domain.Position{}, 0, fmt.Errorf("market_service: claim %q: %w", name, err)
	}

	next, payout, err := settlement.Claim(m, pos, s.now())
	if err != nil {
		return domain.Position{}, 0, fmt.Errorf("market_service: claim %q: %w", name, err)
	}

	if err := s.escrow.TransferAuthorizedByMarket(ctx, name, m.Custody, caller, payout); err != nil {
		return domain.Position{}, 0, fmt.Errorf("market_service: claim %q: %w", name, err)
	}
	committed, err := s.positions.Update(ctx, next)
	if err != nil {
		s.compensate(ctx, "return payout to custody", name, caller, func() error {
			if err := s.escrow.Debit(ctx, caller, payout); err != nil {
				return err
			}
			return s.escrow.Credit(ctx, m.Custody, payout)
		})
		return domain.Position{}, 0, fmt.Errorf("market_service: claim %q: %w", name, err)
	}

	s.logger.InfoContext(ctx, "market_service: winnings claimed",
		slog.String("market", name),
		slog.String("participant", caller),
		slog.Uint64("stake", pos.Stake),
		slog.Uint64("payout", payout),
	)
	side := pos.Side
	s.afterCommit(ctx, m, domain.MarketEvent{
		Type:        domain.EventWinningsClaimed,
		Market:      name,
		Participant: caller,
		Amount:      payout,
		Side:        &side,
	})
	return committed, payout, nil
}

// lockMarket acquires the per-market lock, retrying while it is busy until
// LockWait elapses.
func (s *MarketService) lockMarket(ctx context.Context, name string) (func(), error) {
	key := "market:" + name
	deadline := time.Now().Add(s.cfg.LockWait)
	backoff := 5 * time.Millisecond

	for {
		unlock, err := s.locks.Acquire(ctx, key, s.cfg.LockTTL)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("market_service: lock %q: %w", name, err)
		}
		if !time.Now().Add(backoff).Before(deadline) {
			return nil, fmt.Errorf("market_service: lock %q: %w", name, domain.ErrLockHeld)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("market_service: lock %q: %w", name, ctx.Err())
		case <-timer.C:
		}
		if backoff < 100*time.Millisecond {
			backoff *= 2
		}
	}
}

// compensate runs an undo step after a later step failed. A failing undo
// leaves value stranded, so it is logged at error level with enough detail to
// reconcile by hand.
func (s *MarketService) compensate(ctx context.Context, step, market, participant string, undo func() error) {
	if err := undo(); err != nil {
		s.logger.ErrorContext(ctx, "market_service: compensation failed",
			slog.String("step", step),
			slog.String("market", market),
			slog.String("participant", participant),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.WarnContext(ctx, "market_service: compensated",
		slog.String("step", step),
		slog.String("market", market),
		slog.String("participant", participant),
	)
}
