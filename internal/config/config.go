package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"token-watch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Market    MarketConfig    `mapstructure:"market"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs the tick cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// MarketConfig covers the market-data snapshot API.
type MarketConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// EngineConfig tunes batch evaluation and retention.
type EngineConfig struct {
	BatchSize            int           `mapstructure:"batch_size"`
	RetentionDays        int           `mapstructure:"retention_days"`
	CleanupEveryTicks    int           `mapstructure:"cleanup_every_ticks"`
	ErrorSuppressWindow  time.Duration `mapstructure:"error_suppress_window"`
	ConfirmationNeed     int           `mapstructure:"confirmation_need"`
	ConfirmationCooldown time.Duration `mapstructure:"confirmation_cooldown"`
}

// DispatchConfig defines event fan-out routing.
type DispatchConfig struct {
	Live     LiveConfig     `mapstructure:"live"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// LiveConfig describes the websocket live-subscription listener.
type LiveConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// TelegramConfig describes push notification delivery.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TOKENWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "tokenwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "1m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x746b7763))

	v.SetDefault("market.base_url", "https://api.tokenwatch.dev/v1")
	v.SetDefault("market.request_timeout", "10s")
	v.SetDefault("market.user_agent", "tokenwatch/1.0")

	v.SetDefault("engine.batch_size", 200)
	v.SetDefault("engine.retention_days", 30)
	v.SetDefault("engine.cleanup_every_ticks", 60)
	v.SetDefault("engine.error_suppress_window", "10m")
	v.SetDefault("engine.confirmation_need", 2)
	v.SetDefault("engine.confirmation_cooldown", "30m")

	v.SetDefault("dispatch.live.enabled", false)
	v.SetDefault("dispatch.live.listen_addr", ":8787")
	v.SetDefault("dispatch.telegram.enabled", false)
	v.SetDefault("dispatch.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Engine.BatchSize <= 0 {
		return fmt.Errorf("engine.batch_size must be greater than zero")
	}
	if c.Engine.RetentionDays <= 0 {
		return fmt.Errorf("engine.retention_days must be greater than zero")
	}
	if c.Engine.CleanupEveryTicks <= 0 {
		return fmt.Errorf("engine.cleanup_every_ticks must be greater than zero")
	}
	if c.Engine.ErrorSuppressWindow < 0 {
		return fmt.Errorf("engine.error_suppress_window cannot be negative")
	}
	if c.Engine.ConfirmationNeed <= 0 {
		return fmt.Errorf("engine.confirmation_need must be greater than zero")
	}
	if c.Dispatch.Telegram.Enabled {
		if c.Dispatch.Telegram.BotToken == "" {
			return fmt.Errorf("dispatch.telegram.bot_token is required when telegram is enabled")
		}
		if c.Dispatch.Telegram.ChatID == "" {
			return fmt.Errorf("dispatch.telegram.chat_id is required when telegram is enabled")
		}
	}
	if c.Dispatch.Live.Enabled && c.Dispatch.Live.ListenAddr == "" {
		return fmt.Errorf("dispatch.live.listen_addr is required when live is enabled")
	}
	return nil
}
