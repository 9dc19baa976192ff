// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig       `mapstructure:"server"`
	Database DatabaseConfig     `mapstructure:"database"`
	Redis    RedisConfig        `mapstructure:"redis"`
	Events   EventsConfig       `mapstructure:"events"`
	Bot      BotConfig          `mapstructure:"bot"`
	Admin    AdminConfig        `mapstructure:"admin"`
	Log      LogConfig          `mapstructure:"log"`
	Drop     DropConfig         `mapstructure:"drop"`
	Market   MarketConfig       `mapstructure:"market"`
	Packs    []PackConfig       `mapstructure:"packs"`
	Catalog  []CollectionConfig `mapstructure:"catalog"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the listen address.
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
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
	LockTimeout     time.Duration `mapstructure:"lock_timeout"`
	TxRetries       uint64        `mapstructure:"tx_retries"`
}

// RedisConfig holds Redis configuration. An empty Addr disables the cache.
type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	ScarcityTTL time.Duration `mapstructure:"scarcity_ttl"`
}

// Enabled reports whether a Redis address is configured.
func (r *RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// EventsConfig holds notification publishing configuration.
type EventsConfig struct {
	Driver         string      `mapstructure:"driver"`
	Workers        int         `mapstructure:"workers"`
	QueueSize      int         `mapstructure:"queue_size"`
	PublishRetries uint64      `mapstructure:"publish_retries"`
	Kafka          KafkaConfig `mapstructure:"kafka"`
	NATS           NATSConfig  `mapstructure:"nats"`
}

// KafkaConfig holds Kafka producer configuration.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// NATSConfig holds NATS JetStream configuration.
type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	Stream         string        `mapstructure:"stream"`
	ConnectionName string        `mapstructure:"connection_name"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
}

// BotConfig holds Telegram bot configuration. An empty token disables the bot.
type BotConfig struct {
	Token string `mapstructure:"token"`
}

// AdminConfig holds admin user configuration.
type AdminConfig struct {
	IDs []int64 `mapstructure:"ids"`
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DropConfig holds pack opening configuration.
type DropConfig struct {
	MaxClaimAttempts int `mapstructure:"max_claim_attempts"`
}

// MarketConfig holds marketplace economics and rule seeding.
type MarketConfig struct {
	FeeRate       float64      `mapstructure:"fee_rate"`
	AutoSellRate  float64      `mapstructure:"autosell_rate"`
	RiskThreshold int          `mapstructure:"risk_threshold"`
	DefaultRules  []RuleConfig `mapstructure:"default_rules"`
}

// RuleConfig describes a marketplace rule seeded at startup.
type RuleConfig struct {
	Name     string         `mapstructure:"name"`
	Category string         `mapstructure:"category"`
	Priority int            `mapstructure:"priority"`
	Active   bool           `mapstructure:"active"`
	Config   map[string]any `mapstructure:"config"`
}

// PackConfig describes a pack tier seeded at startup.
// Weights are basis points per rarity and must sum to 10000.
type PackConfig struct {
	ID         string         `mapstructure:"id"`
	Name       string         `mapstructure:"name"`
	Collection string         `mapstructure:"collection"`
	Price      int64          `mapstructure:"price"`
	Weights    map[string]int `mapstructure:"weights"`
	Active     bool           `mapstructure:"active"`
}

// CollectionConfig describes a collection and its item definitions.
type CollectionConfig struct {
	ID    string       `mapstructure:"id"`
	Name  string       `mapstructure:"name"`
	Items []ItemConfig `mapstructure:"items"`
}

// ItemConfig describes one item definition of a collection.
type ItemConfig struct {
	Number      int    `mapstructure:"number"`
	Name        string `mapstructure:"name"`
	Rarity      string `mapstructure:"rarity"`
	BaseValue   int64  `mapstructure:"base_value"`
	Scarcity    string `mapstructure:"scarcity"`
	MaxEditions int    `mapstructure:"max_editions"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// e.g. DATABASE_HOST, MARKET_FEE_RATE, EVENTS_DRIVER
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
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

// Validate checks values that would otherwise fail deep inside a request.
func (c *Config) Validate() error {
	if c.Market.FeeRate < 0 || c.Market.FeeRate >= 1 {
		return fmt.Errorf("market.fee_rate must be in [0, 1), got %v", c.Market.FeeRate)
	}
	if c.Market.AutoSellRate < 0 || c.Market.AutoSellRate > 1 {
		return fmt.Errorf("market.autosell_rate must be in [0, 1], got %v", c.Market.AutoSellRate)
	}
	if c.Drop.MaxClaimAttempts < 1 {
		return fmt.Errorf("drop.max_claim_attempts must be positive, got %d", c.Drop.MaxClaimAttempts)
	}
	switch c.Events.Driver {
	case "kafka", "nats", "log":
	default:
		return fmt.Errorf("events.driver must be one of kafka, nats, log; got %q", c.Events.Driver)
	}
	return nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "market")
	v.SetDefault("database.name", "market")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.lock_timeout", "5s")
	v.SetDefault("database.tx_retries", 3)

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.scarcity_ttl", "5s")

	v.SetDefault("events.driver", "log")
	v.SetDefault("events.workers", 4)
	v.SetDefault("events.queue_size", 1000)
	v.SetDefault("events.publish_retries", 3)
	v.SetDefault("events.kafka.topic", "market-events")
	v.SetDefault("events.nats.stream", "MARKET")
	v.SetDefault("events.nats.connection_name", "collectible-market")
	v.SetDefault("events.nats.max_reconnects", 10)
	v.SetDefault("events.nats.reconnect_wait", "2s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("drop.max_claim_attempts", 5)

	v.SetDefault("market.fee_rate", 0.05)
	v.SetDefault("market.autosell_rate", 0.5)
	v.SetDefault("market.risk_threshold", 50)
}

// IsAdmin checks if a user ID is in the admin list.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Admin.IDs {
		if id == userID {
			return true
		}
	}
	return false
}
