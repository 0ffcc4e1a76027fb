// Package config defines the top-level configuration for the settlement and
// odds pipeline and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MOLTNBA_* environment variables.
type Config struct {
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	BallDontLie BallDontLieConfig `toml:"balldontlie"`
	Polymarket  PolymarketConfig  `toml:"polymarket"`
	Settlement  SettlementConfig  `toml:"settlement"`
	Odds        OddsConfig        `toml:"odds"`
	Stream      StreamConfig      `toml:"stream"`
	Server      ServerConfig      `toml:"server"`
	Notify      NotifyConfig      `toml:"notify"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
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

// RedisConfig holds Redis connection parameters. Redis is optional; when
// Enabled is false the settlement lock, price mirror and signal bus are off.
type RedisConfig struct {
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters used for archiving
// rows before they are pruned.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// BallDontLieConfig configures the game results provider.
type BallDontLieConfig struct {
	BaseURL           string   `toml:"base_url"`
	APIKey            string   `toml:"api_key"`
	RequestsPerMinute int      `toml:"requests_per_minute"`
	Timeout           duration `toml:"timeout"`
}

// PolymarketConfig configures the odds provider and its realtime feed.
type PolymarketConfig struct {
	GammaHost         string   `toml:"gamma_host"`
	WsHost            string   `toml:"ws_host"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	Timeout           duration `toml:"timeout"`
}

// SettlementConfig controls the settlement scheduler.
type SettlementConfig struct {
	Enabled      bool     `toml:"enabled"`
	Interval     duration `toml:"interval"`
	SafetyMargin duration `toml:"safety_margin"`
	BatchSize    int      `toml:"batch_size"`
	GameTimezone string   `toml:"game_timezone"`
	UseLock      bool     `toml:"use_lock"`
	LockTTL      duration `toml:"lock_ttl"`
	// CleanupCron schedules removal of settled predictions older than
	// RetentionDays. Empty disables the job.
	CleanupCron   string `toml:"cleanup_cron"`
	RetentionDays int    `toml:"retention_days"`
}

// OddsConfig controls the odds collector.
type OddsConfig struct {
	Enabled        bool     `toml:"enabled"`
	CollectCron    string   `toml:"collect_cron"`
	PruneCron      string   `toml:"prune_cron"`
	RetentionHours int      `toml:"retention_hours"`
	InitialDelay   duration `toml:"initial_delay"`
	ArchivePruned  bool     `toml:"archive_pruned"`
}

// StreamConfig controls the realtime price stream client.
type StreamConfig struct {
	Enabled       bool     `toml:"enabled"`
	BackoffBase   duration `toml:"backoff_base"`
	BackoffFactor float64  `toml:"backoff_factor"`
	MaxAttempts   int      `toml:"max_attempts"`
	PingInterval  duration `toml:"ping_interval"`
	AssetIDs      []string `toml:"asset_ids"`
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

// ServerConfig holds ops HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	CORSMethods []string `toml:"cors_methods"`
	CORSHeaders []string `toml:"cors_headers"`
	CORSMaxAge  duration `toml:"cors_max_age"`

	// Per-client request budget. Zero disables rate limiting.
	RateLimitRPS   float64 `toml:"rate_limit_rps"`
	RateLimitBurst int     `toml:"rate_limit_burst"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "moltnba",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:      false,
			Addr:         "localhost:6379",
			PoolSize:     10,
			MaxRetries:   3,
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "moltnba-archive",
			ForcePathStyle: true,
		},
		BallDontLie: BallDontLieConfig{
			BaseURL:           "https://api.balldontlie.io/nba/v1",
			RequestsPerMinute: 30,
			Timeout:           duration{15 * time.Second},
		},
		Polymarket: PolymarketConfig{
			GammaHost:         "https://gamma-api.polymarket.com",
			WsHost:            "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			RequestsPerSecond: 5,
			Timeout:           duration{30 * time.Second},
		},
		Settlement: SettlementConfig{
			Enabled:       true,
			Interval:      duration{time.Hour},
			SafetyMargin:  duration{3 * time.Hour},
			BatchSize:     50,
			GameTimezone:  "America/New_York",
			UseLock:       false,
			LockTTL:       duration{10 * time.Minute},
			CleanupCron:   "0 30 4 * * *",
			RetentionDays: 30,
		},
		Odds: OddsConfig{
			Enabled:        true,
			CollectCron:    "0 */2 * * * *",
			PruneCron:      "0 0 * * * *",
			RetentionHours: 48,
			InitialDelay:   duration{5 * time.Second},
		},
		Stream: StreamConfig{
			Enabled:       true,
			BackoffBase:   duration{5 * time.Second},
			BackoffFactor: 1.5,
			MaxAttempts:   10,
			PingInterval:  duration{30 * time.Second},
		},
		Server: ServerConfig{
			Enabled:        true,
			Port:           8080,
			CORSOrigins:    []string{"http://localhost:3000"},
			CORSMethods:    []string{"GET", "POST", "OPTIONS"},
			CORSHeaders:    []string{"Content-Type", "Authorization", "X-API-Key", "X-Request-ID"},
			CORSMaxAge:     duration{24 * time.Hour},
			RateLimitRPS:   10,
			RateLimitBurst: 20,
		},
		Notify: NotifyConfig{
			Events: []string{"stream_failed", "settlement_failed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"settle":  true,
	"collect": true,
	"stream":  true,
	"server":  true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// cronParser matches the parser used by the pipeline cron runner.
var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: settle, collect, stream, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Providers
	if c.BallDontLie.BaseURL == "" {
		errs = append(errs, "balldontlie: base_url must not be empty")
	}
	if c.BallDontLie.RequestsPerMinute < 1 {
		errs = append(errs, "balldontlie: requests_per_minute must be >= 1")
	}
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.RequestsPerSecond <= 0 {
		errs = append(errs, "polymarket: requests_per_second must be > 0")
	}

	// Settlement
	if c.Settlement.Enabled {
		if c.Settlement.Interval.Duration <= 0 {
			errs = append(errs, "settlement: interval must be > 0")
		}
		if c.Settlement.SafetyMargin.Duration < 0 {
			errs = append(errs, "settlement: safety_margin must be >= 0")
		}
		if c.Settlement.BatchSize < 1 {
			errs = append(errs, "settlement: batch_size must be >= 1")
		}
		if _, err := time.LoadLocation(c.Settlement.GameTimezone); err != nil {
			errs = append(errs, fmt.Sprintf("settlement: game_timezone %q: %v", c.Settlement.GameTimezone, err))
		}
		if c.Settlement.UseLock && !c.Redis.Enabled {
			errs = append(errs, "settlement: use_lock requires redis.enabled")
		}
		if c.Settlement.CleanupCron != "" {
			if _, err := cronParser.Parse(c.Settlement.CleanupCron); err != nil {
				errs = append(errs, fmt.Sprintf("settlement: cleanup_cron %q: %v", c.Settlement.CleanupCron, err))
			}
			if c.Settlement.RetentionDays < 1 {
				errs = append(errs, "settlement: retention_days must be >= 1 when cleanup_cron is set")
			}
		}
	}

	// Odds
	if c.Odds.Enabled {
		if _, err := cronParser.Parse(c.Odds.CollectCron); err != nil {
			errs = append(errs, fmt.Sprintf("odds: collect_cron %q: %v", c.Odds.CollectCron, err))
		}
		if _, err := cronParser.Parse(c.Odds.PruneCron); err != nil {
			errs = append(errs, fmt.Sprintf("odds: prune_cron %q: %v", c.Odds.PruneCron, err))
		}
		if c.Odds.RetentionHours < 1 {
			errs = append(errs, "odds: retention_hours must be >= 1")
		}
		if c.Odds.ArchivePruned && !c.S3.Enabled {
			errs = append(errs, "odds: archive_pruned requires s3.enabled")
		}
	}

	// Stream
	if c.Stream.Enabled {
		if c.Polymarket.WsHost == "" {
			errs = append(errs, "polymarket: ws_host must not be empty when stream is enabled")
		}
		if c.Stream.BackoffBase.Duration <= 0 {
			errs = append(errs, "stream: backoff_base must be > 0")
		}
		if c.Stream.BackoffFactor <= 1 {
			errs = append(errs, "stream: backoff_factor must be > 1")
		}
		if c.Stream.MaxAttempts < 1 {
			errs = append(errs, "stream: max_attempts must be >= 1")
		}
		if c.Stream.PingInterval.Duration <= 0 {
			errs = append(errs, "stream: ping_interval must be > 0")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.CORSMaxAge.Duration < 0 {
			errs = append(errs, "server: cors_max_age must not be negative")
		}
		if c.Server.RateLimitRPS < 0 || c.Server.RateLimitBurst < 0 {
			errs = append(errs, "server: rate limit values must not be negative")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// GameLocation returns the configured game timezone, falling back to UTC.
func (c *Config) GameLocation() *time.Location {
	loc, err := time.LoadLocation(c.Settlement.GameTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
