package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"price-pulse/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Watchlist WatchlistConfig `mapstructure:"watchlist"`
	Realtime  RealtimeConfig  `mapstructure:"realtime"`
	Export    ExportConfig    `mapstructure:"export"`
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

// SchedulerConfig governs detection cycle cadence. Interval is the delay
// between the end of one cycle and the start of the next.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// AlertingConfig tunes the user alert engine.
type AlertingConfig struct {
	UserCooldown     time.Duration `mapstructure:"user_cooldown"`
	ReachesTolerance float64       `mapstructure:"reaches_tolerance_pct"`
}

// WatchlistConfig tunes the watchlist heuristic engine.
type WatchlistConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	MomentumPct   float64 `mapstructure:"momentum_pct"`
	TargetOffset  float64 `mapstructure:"target_offset_pct"`
	RoundMinDrift float64 `mapstructure:"round_min_drift_pct"`
}

// RealtimeConfig configures the websocket push server.
type RealtimeConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PRICEPULSE")
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
	v.SetDefault("app.name", "pricepulse")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.service", "pricepulse")

	v.SetDefault("scheduler.interval", "1m")
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_on_start", false)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x70726c73))

	v.SetDefault("alerting.user_cooldown", "5m")
	v.SetDefault("alerting.reaches_tolerance_pct", 0.1)

	v.SetDefault("watchlist.enabled", true)
	v.SetDefault("watchlist.momentum_pct", 5.0)
	v.SetDefault("watchlist.target_offset_pct", 5.0)
	v.SetDefault("watchlist.round_min_drift_pct", 1.0)

	v.SetDefault("realtime.enabled", true)
	v.SetDefault("realtime.listen_addr", ":8090")

	v.SetDefault("export.max_data_points", 100000)

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
	if c.Alerting.UserCooldown < 0 {
		return fmt.Errorf("alerting.user_cooldown cannot be negative")
	}
	if c.Alerting.ReachesTolerance <= 0 {
		return fmt.Errorf("alerting.reaches_tolerance_pct must be greater than zero")
	}
	if c.Watchlist.MomentumPct <= 0 {
		return fmt.Errorf("watchlist.momentum_pct must be greater than zero")
	}
	if c.Watchlist.TargetOffset <= 0 {
		return fmt.Errorf("watchlist.target_offset_pct must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Realtime.Enabled && c.Realtime.ListenAddr == "" {
		return fmt.Errorf("realtime.listen_addr must be set when realtime.enabled")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
