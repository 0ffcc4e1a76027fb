package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MOLTNBA_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
//
// A missing file is not an error: defaults plus environment are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MOLTNBA_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "MOLTNBA_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "MOLTNBA_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MOLTNBA_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MOLTNBA_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MOLTNBA_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MOLTNBA_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MOLTNBA_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "MOLTNBA_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "MOLTNBA_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "MOLTNBA_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "MOLTNBA_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "MOLTNBA_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MOLTNBA_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MOLTNBA_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MOLTNBA_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "MOLTNBA_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "MOLTNBA_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "MOLTNBA_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MOLTNBA_S3_REGION")
	setStr(&cfg.S3.Bucket, "MOLTNBA_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MOLTNBA_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MOLTNBA_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "MOLTNBA_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "MOLTNBA_S3_FORCE_PATH_STYLE")

	// ── Providers ──
	setStr(&cfg.BallDontLie.BaseURL, "MOLTNBA_BALLDONTLIE_BASE_URL")
	setStr(&cfg.BallDontLie.APIKey, "MOLTNBA_BALLDONTLIE_API_KEY")
	setStr(&cfg.BallDontLie.APIKey, "BALLDONTLIE_API_KEY") // compatibility alias
	setInt(&cfg.BallDontLie.RequestsPerMinute, "MOLTNBA_BALLDONTLIE_REQUESTS_PER_MINUTE")
	setStr(&cfg.Polymarket.GammaHost, "MOLTNBA_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "MOLTNBA_POLYMARKET_WS_HOST")
	setFloat64(&cfg.Polymarket.RequestsPerSecond, "MOLTNBA_POLYMARKET_REQUESTS_PER_SECOND")

	// ── Settlement ──
	setBool(&cfg.Settlement.Enabled, "MOLTNBA_SETTLEMENT_ENABLED")
	setDuration(&cfg.Settlement.Interval, "MOLTNBA_SETTLEMENT_INTERVAL")
	setDuration(&cfg.Settlement.SafetyMargin, "MOLTNBA_SETTLEMENT_SAFETY_MARGIN")
	setInt(&cfg.Settlement.BatchSize, "MOLTNBA_SETTLEMENT_BATCH_SIZE")
	setStr(&cfg.Settlement.GameTimezone, "MOLTNBA_SETTLEMENT_GAME_TIMEZONE")
	setBool(&cfg.Settlement.UseLock, "MOLTNBA_SETTLEMENT_USE_LOCK")
	setStr(&cfg.Settlement.CleanupCron, "MOLTNBA_SETTLEMENT_CLEANUP_CRON")
	setInt(&cfg.Settlement.RetentionDays, "MOLTNBA_SETTLEMENT_RETENTION_DAYS")

	// ── Odds ──
	setBool(&cfg.Odds.Enabled, "MOLTNBA_ODDS_ENABLED")
	setStr(&cfg.Odds.CollectCron, "MOLTNBA_ODDS_COLLECT_CRON")
	setStr(&cfg.Odds.PruneCron, "MOLTNBA_ODDS_PRUNE_CRON")
	setInt(&cfg.Odds.RetentionHours, "MOLTNBA_ODDS_RETENTION_HOURS")
	setBool(&cfg.Odds.ArchivePruned, "MOLTNBA_ODDS_ARCHIVE_PRUNED")

	// ── Stream ──
	setBool(&cfg.Stream.Enabled, "MOLTNBA_STREAM_ENABLED")
	setDuration(&cfg.Stream.BackoffBase, "MOLTNBA_STREAM_BACKOFF_BASE")
	setFloat64(&cfg.Stream.BackoffFactor, "MOLTNBA_STREAM_BACKOFF_FACTOR")
	setInt(&cfg.Stream.MaxAttempts, "MOLTNBA_STREAM_MAX_ATTEMPTS")
	setDuration(&cfg.Stream.PingInterval, "MOLTNBA_STREAM_PING_INTERVAL")
	setStringSlice(&cfg.Stream.AssetIDs, "MOLTNBA_STREAM_ASSET_IDS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "MOLTNBA_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "MOLTNBA_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "MOLTNBA_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "MOLTNBA_SERVER_CORS_ORIGINS")
	setStringSlice(&cfg.Server.CORSMethods, "MOLTNBA_SERVER_CORS_METHODS")
	setStringSlice(&cfg.Server.CORSHeaders, "MOLTNBA_SERVER_CORS_HEADERS")
	setDuration(&cfg.Server.CORSMaxAge, "MOLTNBA_SERVER_CORS_MAX_AGE")
	setFloat64(&cfg.Server.RateLimitRPS, "MOLTNBA_SERVER_RATE_LIMIT_RPS")
	setInt(&cfg.Server.RateLimitBurst, "MOLTNBA_SERVER_RATE_LIMIT_BURST")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "MOLTNBA_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MOLTNBA_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "MOLTNBA_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "MOLTNBA_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "MOLTNBA_MODE")
	setStr(&cfg.LogLevel, "MOLTNBA_LOG_LEVEL")
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
