package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PARIMARKET_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PARIMARKET_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Storage, "PARIMARKET_STORAGE")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PARIMARKET_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // platform convention
	setStr(&cfg.Postgres.Host, "PARIMARKET_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PARIMARKET_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PARIMARKET_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PARIMARKET_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PARIMARKET_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PARIMARKET_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PARIMARKET_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PARIMARKET_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PARIMARKET_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "PARIMARKET_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PARIMARKET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PARIMARKET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PARIMARKET_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PARIMARKET_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PARIMARKET_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PARIMARKET_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "PARIMARKET_REDIS_KEY_PREFIX")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "PARIMARKET_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PARIMARKET_S3_REGION")
	setStr(&cfg.S3.Bucket, "PARIMARKET_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PARIMARKET_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PARIMARKET_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PARIMARKET_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PARIMARKET_S3_FORCE_PATH_STYLE")

	// ── Escrow ──
	setStr(&cfg.Escrow.Program, "PARIMARKET_ESCROW_PROGRAM")
	setInt32(&cfg.Escrow.AssetDecimals, "PARIMARKET_ESCROW_ASSET_DECIMALS")

	// ── Engine ──
	setStr(&cfg.Engine.RebetPolicy, "PARIMARKET_ENGINE_REBET_POLICY")
	setDuration(&cfg.Engine.LockTTL, "PARIMARKET_ENGINE_LOCK_TTL")
	setDuration(&cfg.Engine.LockWait, "PARIMARKET_ENGINE_LOCK_WAIT")
	setDuration(&cfg.Engine.CacheTTL, "PARIMARKET_ENGINE_CACHE_TTL")

	// ── Server ──
	setInt(&cfg.Server.Port, "PARIMARKET_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PARIMARKET_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "PARIMARKET_SERVER_API_KEY")
	setBool(&cfg.Server.RequireSignatures, "PARIMARKET_SERVER_REQUIRE_SIGNATURES")
	setDuration(&cfg.Server.SignatureMaxAge, "PARIMARKET_SERVER_SIGNATURE_MAX_AGE")
	setInt(&cfg.Server.RateLimit, "PARIMARKET_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "PARIMARKET_SERVER_RATE_WINDOW")
	setBool(&cfg.Server.TrustProxy, "PARIMARKET_SERVER_TRUST_PROXY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PARIMARKET_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PARIMARKET_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PARIMARKET_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PARIMARKET_NOTIFY_EVENTS")

	// ── Archive ──
	setDuration(&cfg.Archive.OlderThan, "PARIMARKET_ARCHIVE_OLDER_THAN")

	// ── Top-level ──
	setStr(&cfg.Mode, "PARIMARKET_MODE")
	setStr(&cfg.LogLevel, "PARIMARKET_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
