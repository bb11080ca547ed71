package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/parimarket/internal/server"
	"github.com/alanyoungcy/parimarket/internal/server/handler"
	"github.com/alanyoungcy/parimarket/internal/server/ws"
	"github.com/alanyoungcy/parimarket/internal/service"
	"github.com/alanyoungcy/parimarket/internal/settlement"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// newMarketService builds the market service over deps.
func (a *App) newMarketService(deps *Dependencies) (*service.MarketService, error) {
	policy, err := settlement.ParseRebetPolicy(a.cfg.Engine.RebetPolicy)
	if err != nil {
		return nil, err
	}

	opts := []service.Option{
		service.WithEventBus(deps.EventBus),
		service.WithAudit(deps.AuditStore),
	}
	if deps.MarketCache != nil {
		opts = append(opts, service.WithCache(deps.MarketCache))
	}
	if deps.Notifier != nil {
		opts = append(opts, service.WithNotifier(deps.Notifier))
	}

	return service.NewMarketService(
		deps.MarketStore,
		deps.PositionStore,
		deps.Escrow,
		deps.LockManager,
		deps.Deriver,
		service.Config{
			RebetPolicy: policy,
			LockTTL:     a.cfg.Engine.LockTTL.Duration,
			LockWait:    a.cfg.Engine.LockWait.Duration,
		},
		a.logger,
		opts...,
	), nil
}

// ServerMode runs the HTTP API and the WebSocket hub until ctx is cancelled.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	svc, err := a.newMarketService(deps)
	if err != nil {
		return fmt.Errorf("server mode: %w", err)
	}

	checks := make(map[string]handler.Check, len(deps.Checks))
	for name, fn := range deps.Checks {
		checks[name] = fn
	}

	decimals := a.cfg.Escrow.AssetDecimals
	hub := ws.NewHub(deps.EventBus, a.logger.With(slog.String("component", "ws")))
	srv := server.NewServer(
		server.Config{
			Port:              a.cfg.Server.Port,
			CORSOrigins:       a.cfg.Server.CORSOrigins,
			APIKey:            a.cfg.Server.APIKey,
			RequireSignatures: a.cfg.Server.RequireSignatures,
			SignatureMaxAge:   a.cfg.Server.SignatureMaxAge.Duration,
			RateLimit:         a.cfg.Server.RateLimit,
			RateWindow:        a.cfg.Server.RateWindow.Duration,
			TrustProxy:        a.cfg.Server.TrustProxy,
		},
		server.Handlers{
			Health:   handler.NewHealthHandler(checks, a.logger),
			Markets:  handler.NewMarketHandler(svc, decimals, a.logger),
			Accounts: handler.NewAccountHandler(svc, decimals, a.logger),
		},
		hub,
		deps.RateLimiter,
		a.logger,
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("ws hub: %w", err)
		}
		return nil
	})

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return g.Wait()
}

// ArchiveMode copies markets settled longer than archive.older_than ago to
// object storage and exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: archiver not configured")
	}
	before := time.Now().Add(-a.cfg.Archive.OlderThan.Duration)

	a.logger.InfoContext(ctx, "starting archive mode",
		slog.Time("settled_before", before),
	)
	n, err := deps.Archiver.ArchiveSettled(ctx, before)
	if err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}

	verified, err := deps.Archiver.Verify(ctx, before)
	if err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	a.logger.InfoContext(ctx, "archive mode complete",
		slog.Int64("archived", n),
		slog.Int("verified_in_cutoff_month", verified),
	)
	return nil
}
