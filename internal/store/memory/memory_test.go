package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/parimarket/internal/domain"
)

func TestMarketStore_CreateIfAbsent(t *testing.T) {
	s := NewMarketStore()
	ctx := context.Background()
	m := domain.Market{Name: "m", Creator: "c", CreatedAt: time.Now()}

	if err := s.Create(ctx, m); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create(ctx, m); !errors.Is(err, domain.ErrDuplicateMarket) {
		t.Fatalf("expected ErrDuplicateMarket, got %v", err)
	}
	if _, err := s.Get(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMarketStore_CompareAndUpdate(t *testing.T) {
	s := NewMarketStore()
	ctx := context.Background()
	_ = s.Create(ctx, domain.Market{Name: "m"})

	cur, _ := s.Get(ctx, "m")
	stale := cur

	cur.YesTotal = 10
	updated, err := s.Update(ctx, cur)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Version != cur.Version+1 {
		t.Fatalf("expected version bump, got %d", updated.Version)
	}

	stale.NoTotal = 99
	if _, err := s.Update(ctx, stale); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	got, _ := s.Get(ctx, "m")
	if got.YesTotal != 10 || got.NoTotal != 0 {
		t.Fatalf("stale write leaked: %+v", got)
	}
}

func TestMarketStore_ListAndSettled(t *testing.T) {
	s := NewMarketStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	settledAt := base.Add(time.Hour)
	_ = s.Create(ctx, domain.Market{Name: "a", CreatedAt: base})
	_ = s.Create(ctx, domain.Market{Name: "b", CreatedAt: base.Add(time.Minute), Settled: true, SettledAt: &settledAt})
	_ = s.Create(ctx, domain.Market{Name: "c", CreatedAt: base.Add(2 * time.Minute)})

	list, _ := s.List(ctx, domain.ListOpts{Limit: 2})
	if len(list) != 2 || list[0].Name != "c" || list[1].Name != "b" {
		t.Fatalf("unexpected page %+v", list)
	}
	list, _ = s.List(ctx, domain.ListOpts{Offset: 5})
	if len(list) != 0 {
		t.Fatalf("expected empty page, got %d", len(list))
	}

	settled, _ := s.ListSettledBefore(ctx, base.Add(2*time.Hour))
	if len(settled) != 1 || settled[0].Name != "b" {
		t.Fatalf("unexpected settled list %+v", settled)
	}
	if n, _ := s.Count(ctx); n != 3 {
		t.Fatalf("expected 3, got %d", n)
	}
}

func TestPositionStore(t *testing.T) {
	s := NewPositionStore()
	ctx := context.Background()

	p, err := s.Create(ctx, domain.Position{MarketName: "m", Participant: "alice", Stake: 5})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Create(ctx, p); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict on duplicate create, got %v", err)
	}

	p.Claimed = true
	if _, err := s.Update(ctx, p); err != nil {
		t.Fatalf("update: %v", err)
	}
	// Same version again loses.
	if _, err := s.Update(ctx, p); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	_, _ = s.Create(ctx, domain.Position{MarketName: "other", Participant: "alice"})
	byMarket, _ := s.ListByMarket(ctx, "m")
	if len(byMarket) != 1 {
		t.Fatalf("expected 1 position in m, got %d", len(byMarket))
	}
	byAlice, _ := s.ListByParticipant(ctx, "alice", domain.ListOpts{})
	if len(byAlice) != 2 {
		t.Fatalf("expected 2 positions for alice, got %d", len(byAlice))
	}
}
