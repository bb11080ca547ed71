package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
storage = "memory"
log_level = "debug"

[escrow]
program = "0x00000000000000000000000000000000000000aa"
asset_decimals = 2

[escrow.seed_balances]
alice = "1000"

[engine]
rebet_policy = "replace"
lock_wait = "500ms"

[server]
port = 9000
`)
	t.Setenv("PARIMARKET_SERVER_PORT", "9100")
	t.Setenv("PARIMARKET_ENGINE_LOCK_TTL", "3s")
	t.Setenv("PARIMARKET_SERVER_CORS_ORIGINS", " https://a.example , ,https://b.example")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Storage != "memory" || cfg.LogLevel != "debug" {
		t.Fatalf("top-level = %q %q", cfg.Storage, cfg.LogLevel)
	}
	if cfg.Server.Port != 9100 {
		t.Fatalf("env override lost: port = %d", cfg.Server.Port)
	}
	if cfg.Engine.LockTTL.Duration != 3*time.Second || cfg.Engine.LockWait.Duration != 500*time.Millisecond {
		t.Fatalf("engine durations = %v %v", cfg.Engine.LockTTL, cfg.Engine.LockWait)
	}
	if cfg.Engine.CacheTTL.Duration != 30*time.Second {
		t.Fatalf("default cache_ttl lost: %v", cfg.Engine.CacheTTL)
	}
	if cfg.Escrow.SeedBalances["alice"] != "1000" || cfg.Escrow.AssetDecimals != 2 {
		t.Fatalf("escrow = %+v", cfg.Escrow)
	}
	if got := strings.Join(cfg.Server.CORSOrigins, "|"); got != "https://a.example|https://b.example" {
		t.Fatalf("cors = %q", got)
	}
}

func TestLoad_UnknownKey(t *testing.T) {
	path := writeConfig(t, "[engine]\nrebet = \"replace\"\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "engine.rebet") {
		t.Fatalf("err = %v, want unknown key engine.rebet", err)
	}
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Engine.RebetPolicy = "double"
	cfg.Escrow.Program = "not-an-address"
	cfg.Escrow.SeedBalances = map[string]string{"bob": "-5"}
	cfg.Server.Port = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"unknown mode", "rebet policy", "escrow: program", "seed_balances[bob]"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}
}

func TestValidate_ArchiveNeedsPostgres(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "archive"
	cfg.Storage = "memory"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "archive mode") {
		t.Fatalf("err = %v", err)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pw"
	cfg.Server.APIKey = "key"
	cfg.Escrow.SeedBalances = map[string]string{"alice": "1"}

	out := RedactedConfig(&cfg)
	if out.Postgres.Password != redacted || out.Server.APIKey != redacted {
		t.Fatalf("secrets not redacted: %+v", out)
	}
	if out.S3.SecretKey != "" {
		t.Fatal("empty secret should stay empty")
	}

	out.Escrow.SeedBalances["alice"] = "999"
	out.Server.CORSOrigins[0] = "mutated"
	if cfg.Escrow.SeedBalances["alice"] != "1" || cfg.Server.CORSOrigins[0] == "mutated" {
		t.Fatal("redacted copy aliases the original")
	}
	if cfg.Postgres.Password != "pw" {
		t.Fatal("original modified")
	}
}
