package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/alanyoungcy/parimarket/internal/domain"
)

// afterCommit runs the best-effort steps that follow a committed mutation.
// Failures are logged and never change the operation's result.
func (s *MarketService) afterCommit(ctx context.Context, m domain.Market, ev domain.MarketEvent) {
	ev.ID = uuid.NewString()
	ev.YesTotal = m.YesTotal
	ev.NoTotal = m.NoTotal
	ev.At = s.now().UTC()

	s.refreshCache(ctx, m)

	if s.bus != nil {
		s.publish(ctx, ev)
	}

	if s.audit != nil {
		detail := map[string]any{
			"event_id":  ev.ID,
			"market":    ev.Market,
			"yes_total": ev.YesTotal,
			"no_total":  ev.NoTotal,
		}
		if ev.Participant != "" {
			detail["participant"] = ev.Participant
		}
		if ev.Amount > 0 {
			detail["amount"] = ev.Amount
		}
		if ev.Side != nil {
			detail["side"] = ev.Side.String()
		}
		if err := s.audit.Log(ctx, string(ev.Type), detail); err != nil {
			s.logger.WarnContext(ctx, "market_service: audit log failed",
				slog.String("event", string(ev.Type)),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.notifier != nil {
		if err := s.notifier.NotifyMarketEvent(ctx, ev); err != nil {
			s.logger.WarnContext(ctx, "market_service: notify failed",
				slog.String("event", string(ev.Type)),
				slog.String("error", err.Error()),
			)
		}
	}
}

// refreshCache writes the committed market over any cached copy. The cache
// keeps the higher version, so a read-through back-fill that loaded m's
// predecessor cannot overwrite it. If the write fails the entry is dropped.
func (s *MarketService) refreshCache(ctx context.Context, m domain.Market) {
	if s.cache == nil {
		return
	}
	err := s.cache.Set(ctx, m)
	if err == nil {
		return
	}
	s.logger.WarnContext(ctx, "market_service: cache refresh failed",
		slog.String("market", m.Name),
		slog.String("error", err.Error()),
	)
	if err := s.cache.Invalidate(ctx, m.Name); err != nil {
		s.logger.WarnContext(ctx, "market_service: cache invalidate failed",
			slog.String("market", m.Name),
			slog.String("error", err.Error()),
		)
	}
}

func (s *MarketService) publish(ctx context.Context, ev domain.MarketEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.ErrorContext(ctx, "market_service: marshal event failed",
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.bus.Publish(ctx, domain.ChannelMarkets, payload); err != nil {
		s.logger.WarnContext(ctx, "market_service: publish failed",
			slog.String("channel", domain.ChannelMarkets),
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, domain.StreamMarkets, payload); err != nil {
		s.logger.WarnContext(ctx, "market_service: stream append failed",
			slog.String("stream", domain.StreamMarkets),
			slog.String("error", err.Error()),
		)
	}
}
