package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/equitra/swingscan-go/internal/utils"
)

type Config struct {
	Environment string          `mapstructure:"environment"`
	LogLevel    string          `mapstructure:"log_level"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Telegram    TelegramConfig  `mapstructure:"telegram"`
	Telemetry   TelemetryConfig `mapstructure:"telemetry"`
	Screener    ScreenerConfig  `mapstructure:"screener"`
	Retention   RetentionConfig `mapstructure:"retention"`
	Admin       AdminConfig     `mapstructure:"admin"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	DatabaseURL     string `mapstructure:"database_url"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime string `mapstructure:"conn_max_idle_time"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token" json:"-" yaml:"-"`
	ChatID   int64  `mapstructure:"chat_id"`
}

type TelemetryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
	LogLevel       string `mapstructure:"log_level"`
}

type AdminConfig struct {
	APIKey string `mapstructure:"api_key" json:"-" yaml:"-"`
}

// ScreenerConfig holds the run-start constants of the screening pipeline.
// All values are fixed for the lifetime of a run; there is no runtime
// mutation surface.
type ScreenerConfig struct {
	// MinHistory is the minimum number of daily bars an instrument needs
	// before any indicator is computed for it.
	MinHistory int `mapstructure:"min_history"`
	// LookbackDays is how many daily bars are requested per instrument.
	LookbackDays int `mapstructure:"lookback_days"`
	// MinTradingValue is the liquidity floor in currency units per day.
	MinTradingValue float64 `mapstructure:"min_trading_value"`
	// MinScore is the composite-score floor for admission.
	MinScore int `mapstructure:"min_score"`
	// TopN is the size of the overall recommendation list.
	TopN int `mapstructure:"top_n"`
	// LeaderboardSize is the per-indicator leaderboard length.
	LeaderboardSize int `mapstructure:"leaderboard_size"`
	// ProfileSize is the per-profile group length.
	ProfileSize int `mapstructure:"profile_size"`
	// Workers bounds the scan worker pool. Zero selects an automatic
	// size derived from host resources.
	Workers int `mapstructure:"workers"`
	// CacheTTLSeconds is how long the latest result is cached for reads.
	CacheTTLSeconds int        `mapstructure:"cache_ttl_seconds"`
	Risk            RiskConfig `mapstructure:"risk"`
	Tiers           TierConfig `mapstructure:"tiers"`
}

// RetentionConfig bounds how long persisted scan runs stay queryable
// and how often expired blacklist entries are swept.
type RetentionConfig struct {
	ScanRetentionDays    int `mapstructure:"scan_retention_days"`
	SweepIntervalMinutes int `mapstructure:"sweep_interval_minutes"`
}

// RiskConfig holds thresholds for the independent risk predicates.
type RiskConfig struct {
	SmallCapFloor  int64   `mapstructure:"small_cap_floor"`
	LowPriceFloor  float64 `mapstructure:"low_price_floor"`
	SurgeThreshold float64 `mapstructure:"surge_threshold"`
	LiquidityFloor float64 `mapstructure:"liquidity_floor"`
}

// TierConfig holds the risk-tag-count cut lines between tiers. A count of
// at least HighMin is high risk and at least MediumMin is medium; anything
// below is low.
type TierConfig struct {
	MediumMin int `mapstructure:"medium_min"`
	HighMin   int `mapstructure:"high_min"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	// SCREENER_MIN_SCORE style variables override any file value
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Bind secrets that only ever arrive via environment
	if err := viper.BindEnv("telegram.bot_token", "TELEGRAM_BOT_TOKEN"); err != nil {
		return nil, fmt.Errorf("failed to bind TELEGRAM_BOT_TOKEN environment variable: %w", err)
	}
	if err := viper.BindEnv("admin.api_key", "ADMIN_API_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind ADMIN_API_KEY environment variable: %w", err)
	}

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine, defaults and environment cover everything
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	// ENVIRONMENT=Production and =production mean the same thing
	config.Environment = strings.ToLower(config.Environment)

	if config.Environment != "development" && config.Admin.APIKey == "" {
		return nil, utils.NewValidationError("ADMIN_API_KEY", "environment variable is required in non-development environments")
	}

	if err := config.Screener.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects screener constants that would make a run undefined.
// It runs once at load time so a bad value aborts before any instrument
// is processed.
func (c ScreenerConfig) Validate() error {
	if c.TopN <= 0 {
		return utils.NewValidationErrorf("screener.top_n", "must be positive, got %d", c.TopN)
	}
	if c.LeaderboardSize <= 0 {
		return utils.NewValidationErrorf("screener.leaderboard_size", "must be positive, got %d", c.LeaderboardSize)
	}
	if c.ProfileSize <= 0 {
		return utils.NewValidationErrorf("screener.profile_size", "must be positive, got %d", c.ProfileSize)
	}
	if c.Workers < 0 {
		return utils.NewValidationErrorf("screener.workers", "must not be negative, got %d", c.Workers)
	}
	if c.MinScore < 0 || c.MinScore > 100 {
		return utils.NewValidationErrorf("screener.min_score", "must be within 0..100, got %d", c.MinScore)
	}
	if c.MinTradingValue < 0 {
		return utils.NewValidationErrorf("screener.min_trading_value", "must not be negative, got %f", c.MinTradingValue)
	}
	if c.MinHistory < 15 {
		return utils.NewValidationErrorf("screener.min_history", "must cover the longest indicator window, got %d", c.MinHistory)
	}
	if c.LookbackDays < c.MinHistory {
		return utils.NewValidationErrorf("screener.lookback_days", "%d is shorter than min_history %d", c.LookbackDays, c.MinHistory)
	}
	if c.Tiers.MediumMin <= 0 || c.Tiers.HighMin <= c.Tiers.MediumMin {
		return utils.NewValidationErrorf("screener.tiers", "must satisfy 0 < medium_min < high_min, got %d/%d",
			c.Tiers.MediumMin, c.Tiers.HighMin)
	}
	if c.Risk.SurgeThreshold <= 0 {
		return utils.NewValidationErrorf("screener.risk.surge_threshold", "must be positive, got %f", c.Risk.SurgeThreshold)
	}
	return nil
}

func setDefaults() {
	// Environment
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	// Server
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	// Database
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "swingscan")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.database_url", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "300s")
	viper.SetDefault("database.conn_max_idle_time", "60s")

	// Redis
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Telegram
	viper.SetDefault("telegram.bot_token", "")
	viper.SetDefault("telegram.chat_id", 0)

	// Telemetry
	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.otlp_endpoint", "http://localhost:4318")
	viper.SetDefault("telemetry.service_name", "swingscan")
	viper.SetDefault("telemetry.service_version", "1.0.0")
	viper.SetDefault("telemetry.log_level", "info")

	// Admin
	viper.SetDefault("admin.api_key", "")

	// Screener
	viper.SetDefault("screener.min_history", 25)
	viper.SetDefault("screener.lookback_days", 120)
	viper.SetDefault("screener.min_trading_value", 500_000_000)
	viper.SetDefault("screener.min_score", 40)
	viper.SetDefault("screener.top_n", 30)
	viper.SetDefault("screener.leaderboard_size", 5)
	viper.SetDefault("screener.profile_size", 8)
	viper.SetDefault("screener.workers", 0)
	viper.SetDefault("screener.cache_ttl_seconds", 300)
	viper.SetDefault("screener.risk.small_cap_floor", 100_000_000_000)
	viper.SetDefault("screener.risk.low_price_floor", 5000)
	viper.SetDefault("screener.risk.surge_threshold", 0.5)
	viper.SetDefault("screener.risk.liquidity_floor", 1_000_000_000)
	viper.SetDefault("screener.tiers.medium_min", 1)
	viper.SetDefault("screener.tiers.high_min", 3)

	// Retention
	viper.SetDefault("retention.scan_retention_days", 90)
	viper.SetDefault("retention.sweep_interval_minutes", 60)
}
