package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/parimarket/internal/cache/local"
	"github.com/alanyoungcy/parimarket/internal/domain"
	"github.com/alanyoungcy/parimarket/internal/escrow"
	"github.com/alanyoungcy/parimarket/internal/settlement"
	"github.com/alanyoungcy/parimarket/internal/store/memory"
)

const program = "0x00000000000000000000000000000000000000aa"

type harness struct {
	svc       *MarketService
	ledger    *escrow.Ledger
	deriver   escrow.Deriver
	markets   *memory.MarketStore
	positions domain.PositionStore
	bus       *local.EventBus
	audit     *memory.AuditStore
	now       time.Time
}

type harnessOpt func(*harnessConfig)

type harnessConfig struct {
	cfg       Config
	positions domain.PositionStore
	locks     domain.LockManager
	extra     []Option
	// wrapMarkets, when set, decorates the market store seen by the service.
	wrapMarkets func(domain.MarketStore) domain.MarketStore
}

func newHarness(t *testing.T, opts ...harnessOpt) *harness {
	t.Helper()
	hc := harnessConfig{
		cfg:       Config{RebetPolicy: settlement.RebetAccumulate, LockWait: 5 * time.Second},
		positions: memory.NewPositionStore(),
		locks:     local.NewLockManager(),
	}
	for _, o := range opts {
		o(&hc)
	}

	d, err := escrow.NewDeriver(program)
	if err != nil {
		t.Fatalf("deriver: %v", err)
	}
	h := &harness{
		ledger:    escrow.NewLedger(d),
		deriver:   d,
		markets:   memory.NewMarketStore(),
		positions: hc.positions,
		bus:       local.NewEventBus(),
		audit:     memory.NewAuditStore(),
		now:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	svcOpts := append([]Option{
		WithClock(func() time.Time { return h.now }),
		WithEventBus(h.bus),
		WithAudit(h.audit),
	}, hc.extra...)
	var markets domain.MarketStore = h.markets
	if hc.wrapMarkets != nil {
		markets = hc.wrapMarkets(markets)
	}
	h.svc = NewMarketService(
		markets, h.positions, h.ledger, hc.locks, d, hc.cfg,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		svcOpts...,
	)
	return h
}

func (h *harness) fund(t *testing.T, account string, amount uint64) {
	t.Helper()
	if err := h.ledger.Fund(account, amount); err != nil {
		t.Fatalf("fund %s: %v", account, err)
	}
}

func (h *harness) balance(t *testing.T, account string) uint64 {
	t.Helper()
	b, err := h.ledger.Balance(context.Background(), account)
	if err != nil {
		t.Fatalf("balance %s: %v", account, err)
	}
	return b
}

// openMarket creates "m" expiring in an hour, owned by "creator".
func (h *harness) openMarket(t *testing.T) domain.Market {
	t.Helper()
	m, err := h.svc.CreateMarket(context.Background(), "creator", "m", h.now.Add(time.Hour))
	if err != nil {
		t.Fatalf("create market: %v", err)
	}
	return m
}

func (h *harness) bet(t *testing.T, who string, amount uint64, side domain.Side) {
	t.Helper()
	h.fund(t, who, amount)
	if _, _, err := h.svc.PlaceBet(context.Background(), who, "m", amount, side); err != nil {
		t.Fatalf("bet %s %d: %v", who, amount, err)
	}
}

func (h *harness) settle(t *testing.T, outcome domain.Side) {
	t.Helper()
	h.now = h.now.Add(2 * time.Hour)
	if _, err := h.svc.SettleMarket(context.Background(), "creator", "m", outcome); err != nil {
		t.Fatalf("settle: %v", err)
	}
}

func TestCreateMarket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	m := h.openMarket(t)
	if m.Creator != "creator" || m.YesTotal != 0 || m.NoTotal != 0 || m.Settled {
		t.Fatalf("unexpected market %+v", m)
	}
	if m.Custody != h.deriver.Custody("m") {
		t.Fatalf("custody %s is not derived from the market name", m.Custody)
	}

	if _, err := h.svc.CreateMarket(ctx, "someone", "m", h.now.Add(time.Hour)); !errors.Is(err, domain.ErrDuplicateMarket) {
		t.Fatalf("expected ErrDuplicateMarket, got %v", err)
	}
	if _, err := h.svc.CreateMarket(ctx, "", "x", h.now.Add(time.Hour)); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := h.svc.CreateMarket(ctx, "creator", "past", h.now.Add(-time.Minute)); !errors.Is(err, domain.ErrInvalidMarket) {
		t.Fatalf("expected ErrInvalidMarket, got %v", err)
	}

	stored, err := h.markets.Get(ctx, "m")
	if err != nil || stored.Version != 1 {
		t.Fatalf("stored market %+v, %v", stored, err)
	}
}

func TestCreateMarket_TrimsNameBeforeDerivingCustody(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	m, err := h.svc.CreateMarket(ctx, "creator", "  padded ", h.now.Add(time.Hour))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if m.Name != "padded" || m.Custody != h.deriver.Custody("padded") {
		t.Fatalf("name %q custody %s, want custody of %q", m.Name, m.Custody, "padded")
	}

	for _, b := range []struct {
		who    string
		amount uint64
		side   domain.Side
	}{
		{"alice", 60, domain.SideYes},
		{"bob", 40, domain.SideNo},
	} {
		h.fund(t, b.who, b.amount)
		if _, _, err := h.svc.PlaceBet(ctx, b.who, "padded", b.amount, b.side); err != nil {
			t.Fatalf("bet %s: %v", b.who, err)
		}
	}

	h.now = h.now.Add(2 * time.Hour)
	if _, err := h.svc.SettleMarket(ctx, "creator", "padded", domain.SideYes); err != nil {
		t.Fatalf("settle: %v", err)
	}
	_, paid, err := h.svc.ClaimWinnings(ctx, "alice", "padded")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if paid != 100 || h.balance(t, "alice") != 100 {
		t.Fatalf("paid %d, balance %d, want 100", paid, h.balance(t, "alice"))
	}
	if b := h.balance(t, m.Custody); b != 0 {
		t.Fatalf("custody should be drained, has %d", b)
	}
}

func TestPlaceBet_MovesValueIntoCustody(t *testing.T) {
	h := newHarness(t)
	m := h.openMarket(t)
	h.fund(t, "alice", 1000)

	got, pos, err := h.svc.PlaceBet(context.Background(), "alice", "m", 100, domain.SideYes)
	if err != nil {
		t.Fatalf("bet: %v", err)
	}
	if got.YesTotal != 100 || got.NoTotal != 0 {
		t.Fatalf("unexpected totals yes=%d no=%d", got.YesTotal, got.NoTotal)
	}
	if pos.Stake != 100 || pos.Side != domain.SideYes || pos.Claimed {
		t.Fatalf("unexpected position %+v", pos)
	}
	if b := h.balance(t, "alice"); b != 900 {
		t.Fatalf("alice balance %d, want 900", b)
	}
	if b := h.balance(t, m.Custody); b != 100 {
		t.Fatalf("custody balance %d, want 100", b)
	}
}

func TestPlaceBet_InsufficientFundsLeavesNoState(t *testing.T) {
	h := newHarness(t)
	m := h.openMarket(t)
	h.fund(t, "alice", 50)
	ctx := context.Background()

	_, _, err := h.svc.PlaceBet(ctx, "alice", "m", 100, domain.SideYes)
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	stored, _ := h.markets.Get(ctx, "m")
	if stored.YesTotal != 0 || stored.NoTotal != 0 {
		t.Fatalf("totals moved: %+v", stored)
	}
	if _, err := h.positions.Get(ctx, "m", "alice"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected no position, got %v", err)
	}
	if b := h.balance(t, "alice"); b != 50 {
		t.Fatalf("alice balance %d, want 50", b)
	}
	if b := h.balance(t, m.Custody); b != 0 {
		t.Fatalf("custody balance %d, want 0", b)
	}
}

func TestPlaceBet_Rejections(t *testing.T) {
	h := newHarness(t)
	h.openMarket(t)
	h.fund(t, "alice", 1000)
	ctx := context.Background()

	if _, _, err := h.svc.PlaceBet(ctx, "alice", "missing", 10, domain.SideYes); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, _, err := h.svc.PlaceBet(ctx, "alice", "m", 0, domain.SideYes); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, _, err := h.svc.PlaceBet(ctx, "", "m", 10, domain.SideYes); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	if _, _, err := h.svc.PlaceBet(ctx, "alice", "m", 10, domain.SideYes); err != nil {
		t.Fatalf("bet: %v", err)
	}
	if _, _, err := h.svc.PlaceBet(ctx, "alice", "m", 10, domain.SideNo); !errors.Is(err, domain.ErrSideMismatch) {
		t.Fatalf("expected ErrSideMismatch, got %v", err)
	}
	if b := h.balance(t, "alice"); b != 990 {
		t.Fatalf("a rejected rebet must not move value, balance %d", b)
	}

	h.now = h.now.Add(time.Hour)
	if _, _, err := h.svc.PlaceBet(ctx, "alice", "m", 10, domain.SideYes); !errors.Is(err, domain.ErrMarketExpired) {
		t.Fatalf("expected ErrMarketExpired at expiry, got %v", err)
	}

	if _, err := h.svc.SettleMarket(ctx, "creator", "m", domain.SideYes); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if _, _, err := h.svc.PlaceBet(ctx, "alice", "m", 10, domain.SideYes); !errors.Is(err, domain.ErrMarketAlreadySettled) {
		t.Fatalf("expected ErrMarketAlreadySettled, got %v", err)
	}
}

func TestPlaceBet_ReplacePolicy(t *testing.T) {
	h := newHarness(t, func(hc *harnessConfig) { hc.cfg.RebetPolicy = settlement.RebetReplace })
	h.openMarket(t)
	h.bet(t, "alice", 100, domain.SideYes)
	h.bet(t, "alice", 40, domain.SideNo)

	pos, err := h.positions.Get(context.Background(), "m", "alice")
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if pos.Stake != 40 || pos.Side != domain.SideNo {
		t.Fatalf("expected position replaced by latest bet, got %+v", pos)
	}
	m, _ := h.markets.Get(context.Background(), "m")
	if m.YesTotal != 100 || m.NoTotal != 40 {
		t.Fatalf("totals must keep every escrowed amount, got yes=%d no=%d", m.YesTotal, m.NoTotal)
	}
}

func TestSettleMarket(t *testing.T) {
	h := newHarness(t)
	h.openMarket(t)
	ctx := context.Background()

	if _, err := h.svc.SettleMarket(ctx, "creator", "m", domain.SideYes); !errors.Is(err, domain.ErrNotYetExpired) {
		t.Fatalf("expected ErrNotYetExpired, got %v", err)
	}

	h.now = h.now.Add(time.Hour)
	if _, err := h.svc.SettleMarket(ctx, "mallory", "m", domain.SideYes); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	m, err := h.svc.SettleMarket(ctx, "creator", "m", domain.SideNo)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !m.Settled || m.Outcome != domain.SideNo || m.SettledAt == nil {
		t.Fatalf("unexpected settled market %+v", m)
	}

	if _, err := h.svc.SettleMarket(ctx, "creator", "m", domain.SideYes); !errors.Is(err, domain.ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled, got %v", err)
	}
	stored, _ := h.markets.Get(ctx, "m")
	if stored.Outcome != domain.SideNo {
		t.Fatal("outcome changed after settlement")
	}
}

func TestClaimWinnings_EvenSplit(t *testing.T) {
	h := newHarness(t)
	m := h.openMarket(t)
	h.bet(t, "alice", 150, domain.SideYes)
	h.bet(t, "bob", 150, domain.SideYes)
	h.bet(t, "carol", 100, domain.SideNo)
	h.settle(t, domain.SideYes)
	ctx := context.Background()

	for _, who := range []string{"alice", "bob"} {
		pos, paid, err := h.svc.ClaimWinnings(ctx, who, "m")
		if err != nil {
			t.Fatalf("claim %s: %v", who, err)
		}
		if paid != 200 || !pos.Claimed || pos.Payout != 200 {
			t.Fatalf("%s: paid %d, position %+v", who, paid, pos)
		}
		if b := h.balance(t, who); b != 200 {
			t.Fatalf("%s balance %d, want 200", who, b)
		}
	}
	if b := h.balance(t, m.Custody); b != 0 {
		t.Fatalf("custody should be drained, has %d", b)
	}

	if _, _, err := h.svc.ClaimWinnings(ctx, "carol", "m"); !errors.Is(err, domain.ErrNotAWinner) {
		t.Fatalf("expected ErrNotAWinner, got %v", err)
	}
	if _, _, err := h.svc.ClaimWinnings(ctx, "alice", "m"); !errors.Is(err, domain.ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}
	if _, _, err := h.svc.ClaimWinnings(ctx, "dave", "m"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a caller without a position, got %v", err)
	}
}

func TestClaimWinnings_DustStaysInCustody(t *testing.T) {
	h := newHarness(t)
	m := h.openMarket(t)
	h.bet(t, "a", 33, domain.SideYes)
	h.bet(t, "b", 33, domain.SideYes)
	h.bet(t, "c", 34, domain.SideYes)
	h.bet(t, "d", 50, domain.SideNo)
	h.settle(t, domain.SideYes)

	want := map[string]uint64{"a": 49, "b": 49, "c": 51}
	var total uint64
	for who, expected := range want {
		_, paid, err := h.svc.ClaimWinnings(context.Background(), who, "m")
		if err != nil {
			t.Fatalf("claim %s: %v", who, err)
		}
		if paid != expected {
			t.Fatalf("%s paid %d, want %d", who, paid, expected)
		}
		total += paid
	}
	if total != 149 {
		t.Fatalf("total paid %d, want 149", total)
	}
	if b := h.balance(t, m.Custody); b != 1 {
		t.Fatalf("expected 1 unit of dust in custody, got %d", b)
	}
}

func TestClaimWinnings_EmptyWinningPool(t *testing.T) {
	h := newHarness(t)
	h.openMarket(t)
	h.bet(t, "alice", 100, domain.SideYes)
	h.bet(t, "bob", 50, domain.SideYes)
	h.settle(t, domain.SideNo)

	for _, who := range []string{"alice", "bob"} {
		if _, _, err := h.svc.ClaimWinnings(context.Background(), who, "m"); !errors.Is(err, domain.ErrNoWinningStake) {
			t.Fatalf("%s: expected ErrNoWinningStake, got %v", who, err)
		}
	}
}

func TestClaimWinnings_BeforeSettlement(t *testing.T) {
	h := newHarness(t)
	h.openMarket(t)
	h.bet(t, "alice", 100, domain.SideYes)

	if _, _, err := h.svc.ClaimWinnings(context.Background(), "alice", "m"); !errors.Is(err, domain.ErrMarketNotSettled) {
		t.Fatalf("expected ErrMarketNotSettled, got %v", err)
	}
}

func TestClaimWinnings_ConcurrentClaimsPayOnce(t *testing.T) {
	h := newHarness(t)
	h.openMarket(t)
	h.bet(t, "alice", 100, domain.SideYes)
	h.bet(t, "bob", 100, domain.SideNo)
	h.settle(t, domain.SideYes)

	const n = 16
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := h.svc.ClaimWinnings(context.Background(), "alice", "m")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, already int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrAlreadyClaimed):
			already++
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if ok != 1 || already != n-1 {
		t.Fatalf("expected exactly one successful claim, got ok=%d already=%d", ok, already)
	}
	if b := h.balance(t, "alice"); b != 200 {
		t.Fatalf("alice balance %d, want 200", b)
	}
}

func TestPlaceBet_ConcurrentBetsKeepTotals(t *testing.T) {
	h := newHarness(t)
	m := h.openMarket(t)

	const n = 20
	for i := 0; i < n; i++ {
		h.fund(t, fmt.Sprintf("p%d", i), 10)
	}
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			side := domain.Side(i%2 == 0)
			if _, _, err := h.svc.PlaceBet(context.Background(), fmt.Sprintf("p%d", i), "m", 10, side); err != nil {
				t.Errorf("bet p%d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	stored, _ := h.markets.Get(context.Background(), "m")
	if stored.YesTotal != 100 || stored.NoTotal != 100 {
		t.Fatalf("unexpected totals yes=%d no=%d", stored.YesTotal, stored.NoTotal)
	}
	if b := h.balance(t, m.Custody); b != stored.TotalPool() {
		t.Fatalf("custody %d does not match pool %d", b, stored.TotalPool())
	}
}

// failingPositions refuses to create positions.
type failingPositions struct {
	*memory.PositionStore
}

func (f failingPositions) Create(context.Context, domain.Position) (domain.Position, error) {
	return domain.Position{}, errors.New("disk full")
}

func TestPlaceBet_CommitFailureReversesEscrow(t *testing.T) {
	h := newHarness(t, func(hc *harnessConfig) {
		hc.positions = failingPositions{memory.NewPositionStore()}
	})
	m := h.openMarket(t)
	h.fund(t, "alice", 100)

	if _, _, err := h.svc.PlaceBet(context.Background(), "alice", "m", 100, domain.SideYes); err == nil {
		t.Fatal("expected commit failure")
	}
	if b := h.balance(t, "alice"); b != 100 {
		t.Fatalf("alice balance %d, want 100 after reversal", b)
	}
	if b := h.balance(t, m.Custody); b != 0 {
		t.Fatalf("custody balance %d, want 0 after reversal", b)
	}
	stored, _ := h.markets.Get(context.Background(), "m")
	if stored.YesTotal != 0 {
		t.Fatalf("market totals not restored: %+v", stored)
	}
}

// busyLocks never grants a lock.
type busyLocks struct{}

func (busyLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

func TestLockWaitTimesOut(t *testing.T) {
	h := newHarness(t, func(hc *harnessConfig) {
		hc.locks = busyLocks{}
		hc.cfg.LockWait = 20 * time.Millisecond
	})
	_, err := h.svc.CreateMarket(context.Background(), "creator", "m", h.now.Add(time.Hour))
	if !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}
}

func TestAfterCommit_PublishesAndAudits(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	live, _ := h.bus.Subscribe(ctx, domain.ChannelMarkets)

	h.openMarket(t)
	h.bet(t, "alice", 70, domain.SideNo)

	msgs, err := h.bus.StreamRead(ctx, domain.StreamMarkets, "0", 10)
	if err != nil || len(msgs) != 2 {
		t.Fatalf("expected 2 stream entries, got %d (%v)", len(msgs), err)
	}
	var ev domain.MarketEvent
	if err := json.Unmarshal(msgs[1].Payload, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.Type != domain.EventBetPlaced || ev.Amount != 70 || ev.NoTotal != 70 || ev.Side == nil || *ev.Side != domain.SideNo {
		t.Fatalf("unexpected event %+v", ev)
	}

	select {
	case <-live:
	case <-time.After(time.Second):
		t.Fatal("expected a live event")
	}

	entries, _ := h.audit.List(ctx, domain.ListOpts{})
	if len(entries) != 2 || entries[0].Event != string(domain.EventBetPlaced) {
		t.Fatalf("unexpected audit entries %+v", entries)
	}
}

type mapCache struct {
	mu sync.Mutex
	m  map[string]domain.Market
}

func (c *mapCache) Set(_ context.Context, m domain.Market) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.m[m.Name]; ok && cur.Version > m.Version {
		return nil
	}
	c.m[m.Name] = m
	return nil
}

func (c *mapCache) Get(_ context.Context, name string) (domain.Market, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.m[name]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (c *mapCache) Invalidate(_ context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, name)
	return nil
}

func TestGetMarket_ReadThroughCache(t *testing.T) {
	cache := &mapCache{m: map[string]domain.Market{}}
	h := newHarness(t, func(hc *harnessConfig) { hc.extra = append(hc.extra, WithCache(cache)) })
	h.openMarket(t)
	ctx := context.Background()

	if _, err := h.svc.GetMarket(ctx, "m"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, ok := cache.m["m"]; !ok {
		t.Fatal("expected cache back-fill")
	}

	h.bet(t, "alice", 5, domain.SideYes)
	if cached := cache.m["m"]; cached.YesTotal != 5 || cached.Version != 2 {
		t.Fatalf("expected bet to refresh the cache, got %+v", cached)
	}
	m, _ := h.svc.GetMarket(ctx, "m")
	if m.YesTotal != 5 {
		t.Fatalf("stale read: %+v", m)
	}

	if _, err := h.svc.GetMarket(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// hookedMarkets runs afterGet once a Get has read from the store but before
// it returns, to stage a commit between a read and its cache back-fill.
type hookedMarkets struct {
	domain.MarketStore
	afterGet func()
}

func (s *hookedMarkets) Get(ctx context.Context, name string) (domain.Market, error) {
	m, err := s.MarketStore.Get(ctx, name)
	if fn := s.afterGet; fn != nil {
		s.afterGet = nil
		fn()
	}
	return m, err
}

func TestGetMarket_StaleBackfillDoesNotOverwriteCommit(t *testing.T) {
	cache := &mapCache{m: map[string]domain.Market{}}
	hooked := &hookedMarkets{}
	h := newHarness(t, func(hc *harnessConfig) {
		hc.extra = append(hc.extra, WithCache(cache))
		hc.wrapMarkets = func(s domain.MarketStore) domain.MarketStore {
			hooked.MarketStore = s
			return hooked
		}
	})
	h.openMarket(t)
	ctx := context.Background()
	if err := cache.Invalidate(ctx, "m"); err != nil {
		t.Fatal(err)
	}

	h.fund(t, "alice", 7)
	hooked.afterGet = func() {
		if _, _, err := h.svc.PlaceBet(ctx, "alice", "m", 7, domain.SideYes); err != nil {
			t.Errorf("bet: %v", err)
		}
	}

	stale, err := h.svc.GetMarket(ctx, "m")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stale.YesTotal != 0 {
		t.Fatalf("expected the pre-bet snapshot, got %+v", stale)
	}

	m, err := h.svc.GetMarket(ctx, "m")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if m.YesTotal != 7 || m.Version != 2 {
		t.Fatalf("cache serves a stale market: %+v", m)
	}
}

func TestPositionViews(t *testing.T) {
	h := newHarness(t)
	h.openMarket(t)
	h.bet(t, "alice", 100, domain.SideYes)
	h.bet(t, "bob", 300, domain.SideNo)
	ctx := context.Background()

	v, err := h.svc.GetPosition(ctx, "m", "alice")
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if v.Projected != 400 {
		t.Fatalf("alice would take the whole pool if yes wins, got %d", v.Projected)
	}

	h.settle(t, domain.SideNo)
	views, err := h.svc.ListPositions(ctx, "m")
	if err != nil || len(views) != 2 {
		t.Fatalf("list positions: %d %v", len(views), err)
	}
	for _, v := range views {
		switch v.Participant {
		case "alice":
			if v.Projected != 0 {
				t.Fatalf("losing position projects %d", v.Projected)
			}
		case "bob":
			if v.Projected != 400 {
				t.Fatalf("bob projects %d, want 400", v.Projected)
			}
		}
	}

	if _, _, err := h.svc.ClaimWinnings(ctx, "bob", "m"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	mine, err := h.svc.ListParticipantPositions(ctx, "bob", domain.ListOpts{})
	if err != nil || len(mine) != 1 || !mine[0].Claimed {
		t.Fatalf("unexpected participant positions %+v %v", mine, err)
	}
	if n, _ := h.svc.CountMarkets(ctx); n != 1 {
		t.Fatalf("expected 1 market, got %d", n)
	}
}
