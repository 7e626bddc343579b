// Package config provides configuration management using viper.
// It supports loading from YAML files, a local .env file and environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
// It is built once at process start and handed to each component constructor.
type Config struct {
	Bot       BotConfig       `mapstructure:"bot"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Log       LogConfig       `mapstructure:"log"`
	Game      GameConfig      `mapstructure:"game"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// BotConfig holds Telegram bot configuration.
type BotConfig struct {
	Token     string `mapstructure:"token"`
	Username  string `mapstructure:"username"`
	WebAppURL string `mapstructure:"webapp_url"`
	Enabled   bool   `mapstructure:"enabled"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// RedisConfig holds the Redis connection used for cross-replica job locks.
// An empty Addr disables Redis and leaves only the in-process job mutex.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// HTTPConfig holds the API listener configuration.
// An empty AdminToken disables the job trigger endpoint.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	Mode            string        `mapstructure:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AdminToken      string        `mapstructure:"admin_token"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// GameConfig holds the economy constants.
type GameConfig struct {
	EnergyLimit          int64   `mapstructure:"energy_limit"`
	EnterprisesMinSlots  int     `mapstructure:"enterprises_min_slots"`
	EnterprisesMaxSlots  int     `mapstructure:"enterprises_max_slots"`
	ReferralMaxDepth     int     `mapstructure:"referral_max_depth"`
	StarterEnterprises   []int64 `mapstructure:"starter_enterprises"`
	CountryChangePenalty bool    `mapstructure:"country_change_penalty"`
}

// SchedulerConfig holds cron specs for the periodic economy jobs.
type SchedulerConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	Timezone           string        `mapstructure:"timezone"`
	RechargeEnergy     string        `mapstructure:"recharge_energy"`
	AccrueCapacity     string        `mapstructure:"accrue_capacity"`
	RefreshRatings     string        `mapstructure:"refresh_ratings"`
	ComputeCommissions string        `mapstructure:"compute_commissions"`
	LockTTL            time.Duration `mapstructure:"lock_ttl"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Location resolves the scheduler timezone, falling back to UTC.
func (s *SchedulerConfig) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	// A missing .env is normal outside local development
	_ = godotenv.Load()

	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// e.g. BOT_TOKEN, DATABASE_HOST, GAME_ENERGY_LIMIT
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects economy settings that would break the user invariants.
func (c *Config) Validate() error {
	g := c.Game
	if g.EnergyLimit <= 0 {
		return fmt.Errorf("invalid config: game.energy_limit must be positive, got %d", g.EnergyLimit)
	}
	if g.EnterprisesMinSlots < 0 || g.EnterprisesMinSlots > g.EnterprisesMaxSlots {
		return fmt.Errorf("invalid config: enterprise slots range [%d, %d]", g.EnterprisesMinSlots, g.EnterprisesMaxSlots)
	}
	if g.ReferralMaxDepth < 1 || g.ReferralMaxDepth > 10 {
		return fmt.Errorf("invalid config: game.referral_max_depth must be within 1..10, got %d", g.ReferralMaxDepth)
	}
	return nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("bot.enabled", true)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "countryballs")
	v.SetDefault("database.name", "countryballs")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	v.SetDefault("redis.db", 0)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.mode", "release")
	v.SetDefault("http.shutdown_timeout", "10s")
	v.SetDefault("http.admin_token", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	// Economy defaults
	v.SetDefault("game.energy_limit", 500)
	v.SetDefault("game.enterprises_min_slots", 10)
	v.SetDefault("game.enterprises_max_slots", 15)
	v.SetDefault("game.referral_max_depth", 10)
	v.SetDefault("game.starter_enterprises", []int64{1, 2, 3})
	v.SetDefault("game.country_change_penalty", true)

	// Scheduler defaults
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.timezone", "UTC")
	v.SetDefault("scheduler.recharge_energy", "0 0 * * *")
	v.SetDefault("scheduler.accrue_capacity", "0 * * * *")
	v.SetDefault("scheduler.refresh_ratings", "0 * * * *")
	v.SetDefault("scheduler.compute_commissions", "0 0 * * *")
	v.SetDefault("scheduler.lock_ttl", "10m")
}
