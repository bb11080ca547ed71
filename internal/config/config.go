// Package config defines the top-level configuration for the market service
// and provides validation helpers.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/parimarket/internal/amount"
	"github.com/alanyoungcy/parimarket/internal/settlement"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PARIMARKET_* environment variables.
type Config struct {
	Storage  string         `toml:"storage"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Escrow   EscrowConfig   `toml:"escrow"`
	Engine   EngineConfig   `toml:"engine"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Archive  ArchiveConfig  `toml:"archive"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. When disabled, locks, the
// event bus, and rate limiting run in-process and the market cache is off.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// EscrowConfig describes the asset held in escrow.
type EscrowConfig struct {
	// Program is the address custody accounts are derived under.
	Program       string `toml:"program"`
	AssetDecimals int32  `toml:"asset_decimals"`
	// SeedBalances funds accounts at startup when storage is "memory".
	// Values are base-unit decimal strings.
	SeedBalances map[string]string `toml:"seed_balances"`
}

// EngineConfig holds market engine parameters.
type EngineConfig struct {
	RebetPolicy string   `toml:"rebet_policy"`
	LockTTL     duration `toml:"lock_ttl"`
	LockWait    duration `toml:"lock_wait"`
	CacheTTL    duration `toml:"cache_ttl"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port              int      `toml:"port"`
	CORSOrigins       []string `toml:"cors_origins"`
	APIKey            string   `toml:"api_key"`
	RequireSignatures bool     `toml:"require_signatures"`
	SignatureMaxAge   duration `toml:"signature_max_age"`
	RateLimit         int      `toml:"rate_limit"`
	RateWindow        duration `toml:"rate_window"`
	TrustProxy        bool     `toml:"trust_proxy"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ArchiveConfig controls the archive mode.
type ArchiveConfig struct {
	// OlderThan archives markets settled at least this long ago.
	OlderThan duration `toml:"older_than"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Storage: "postgres",
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "parimarket",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "parimarket",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "parimarket-archive",
			ForcePathStyle: true,
		},
		Escrow: EscrowConfig{
			AssetDecimals: 6,
		},
		Engine: EngineConfig{
			RebetPolicy: string(settlement.RebetAccumulate),
			LockTTL:     duration{10 * time.Second},
			LockWait:    duration{2 * time.Second},
			CacheTTL:    duration{30 * time.Second},
		},
		Server: ServerConfig{
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			SignatureMaxAge: duration{5 * time.Minute},
			RateLimit:       60,
			RateWindow:      duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"market_settled"},
		},
		Archive: ArchiveConfig{
			OlderThan: duration{30 * 24 * time.Hour},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"server":  true,
	"archive": true,
}

var validStorage = map[string]bool{
	"postgres": true,
	"memory":   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for invalid or missing values and returns every
// problem found joined into one error.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if !validModes[strings.ToLower(c.Mode)] {
		fail("unknown mode %q (valid: server, archive)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		fail("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}
	if !validStorage[strings.ToLower(c.Storage)] {
		fail("unknown storage %q (valid: postgres, memory)", c.Storage)
	}

	// Postgres
	if strings.EqualFold(c.Storage, "postgres") {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				fail("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				fail("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				fail("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			fail("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			fail("postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}
	if strings.EqualFold(c.Mode, "archive") && strings.EqualFold(c.Storage, "memory") {
		fail("archive mode needs storage = \"postgres\"")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			fail("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			fail("redis: pool_size must be >= 1")
		}
	}

	// S3 is only needed by the archive mode.
	if strings.EqualFold(c.Mode, "archive") {
		if c.S3.Bucket == "" {
			fail("s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			fail("s3: region must not be empty")
		}
		if c.Archive.OlderThan.Duration <= 0 {
			fail("archive: older_than must be > 0")
		}
	}

	// Escrow
	if p := strings.TrimSpace(c.Escrow.Program); p != "" && !common.IsHexAddress(p) {
		fail("escrow: program %q is not a hex address", p)
	}
	if c.Escrow.AssetDecimals < 0 || c.Escrow.AssetDecimals > 18 {
		fail("escrow: asset_decimals must be 0-18, got %d", c.Escrow.AssetDecimals)
	}
	for account, v := range c.Escrow.SeedBalances {
		if _, err := amount.Parse(v); err != nil {
			fail("escrow: seed_balances[%s]: %v", account, err)
		}
	}

	// Engine
	if _, err := settlement.ParseRebetPolicy(c.Engine.RebetPolicy); err != nil {
		fail("engine: %v", err)
	}
	if c.Engine.LockTTL.Duration <= 0 {
		fail("engine: lock_ttl must be > 0")
	}
	if c.Engine.LockWait.Duration < 0 {
		fail("engine: lock_wait must be >= 0")
	}

	// Server
	if strings.EqualFold(c.Mode, "server") {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			fail("server: port must be 1-65535, got %d", c.Server.Port)
		}
		if c.Server.RateLimit < 0 {
			fail("server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			fail("server: rate_window must be > 0 when rate_limit is set")
		}
		if c.Server.RequireSignatures && c.Server.SignatureMaxAge.Duration <= 0 {
			fail("server: signature_max_age must be > 0 when require_signatures is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %w", errors.Join(errs...))
	}
	return nil
}
