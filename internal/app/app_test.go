package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/parimarket/internal/config"
	"github.com/alanyoungcy/parimarket/internal/server"
	"github.com/alanyoungcy/parimarket/internal/server/handler"
)

func memoryConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Storage = "memory"
	cfg.Redis.Enabled = false
	cfg.Escrow.AssetDecimals = 2
	cfg.Escrow.SeedBalances = map[string]string{"alice": "1000", "bob": "500"}
	cfg.Server.RateLimit = 0
	return &cfg
}

func TestWire_MemoryBackends(t *testing.T) {
	cfg := memoryConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	deps, cleanup, err := Wire(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	defer cleanup()

	if deps.MarketCache != nil {
		t.Fatal("market cache should be off without redis")
	}
	if deps.Archiver != nil {
		t.Fatal("archiver should only be wired in archive mode")
	}
	if deps.Notifier != nil {
		t.Fatal("notifier should be nil with no channels")
	}
	b, err := deps.Escrow.Balance(context.Background(), "alice")
	if err != nil || b != 1000 {
		t.Fatalf("seeded balance = %d, %v", b, err)
	}
}

func TestWire_RejectsBadSeed(t *testing.T) {
	cfg := memoryConfig()
	cfg.Escrow.SeedBalances = map[string]string{"alice": "lots"}
	if _, _, err := Wire(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatal("expected error for unparseable seed balance")
	}
}

func TestServer_EndToEnd(t *testing.T) {
	cfg := memoryConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	deps, cleanup, err := Wire(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	defer cleanup()

	a := New(cfg, logger)
	svc, err := a.newMarketService(deps)
	if err != nil {
		t.Fatalf("newMarketService: %v", err)
	}
	srv := server.NewServer(server.Config{}, server.Handlers{
		Health:   handler.NewHealthHandler(nil, logger),
		Markets:  handler.NewMarketHandler(svc, 2, logger),
		Accounts: handler.NewAccountHandler(svc, 2, logger),
	}, nil, deps.RateLimiter, logger)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	call := func(method, path, principal, body string) (int, map[string]any) {
		t.Helper()
		req, err := http.NewRequest(method, ts.URL+path, strings.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		if principal != "" {
			req.Header.Set("X-Principal", principal)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", method, path, err)
		}
		defer resp.Body.Close()
		var out map[string]any
		json.NewDecoder(resp.Body).Decode(&out)
		return resp.StatusCode, out
	}

	expires := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	code, body := call(http.MethodPost, "/api/markets", "carol", `{"name":"rain","expires_at":"`+expires+`"}`)
	if code != http.StatusCreated {
		t.Fatalf("create: %d %v", code, body)
	}

	code, body = call(http.MethodPost, "/api/markets/rain/bets", "alice", `{"amount":"300","side":"yes"}`)
	if code != http.StatusOK {
		t.Fatalf("bet: %d %v", code, body)
	}
	code, body = call(http.MethodPost, "/api/markets/rain/bets", "bob", `{"amount":"900","side":"no"}`)
	if code != http.StatusPaymentRequired || body["code"] != "InsufficientFunds" {
		t.Fatalf("overdrawn bet: %d %v", code, body)
	}

	code, body = call(http.MethodGet, "/api/accounts/alice/balance", "", "")
	if code != http.StatusOK || body["balance"] != "700" || body["display"] != "7" {
		t.Fatalf("balance: %d %v", code, body)
	}

	code, body = call(http.MethodGet, "/api/markets/rain", "", "")
	if code != http.StatusOK || body["yes_total"] != "300" || body["status"] != "open" {
		t.Fatalf("market: %d %v", code, body)
	}

	code, body = call(http.MethodPost, "/api/markets/rain/settle", "carol", `{"outcome":"yes"}`)
	if code != http.StatusUnprocessableEntity || body["code"] != "NotYetExpired" {
		t.Fatalf("early settle: %d %v", code, body)
	}

	code, body = call(http.MethodPost, "/api/markets/rain/claim", "", "")
	if code != http.StatusForbidden {
		t.Fatalf("anonymous claim: %d %v", code, body)
	}

	code, _ = call(http.MethodGet, "/api/health", "", "")
	if code != http.StatusOK {
		t.Fatalf("health: %d", code)
	}
}
