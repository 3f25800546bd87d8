package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config global configuration structure
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Business BusinessConfig `mapstructure:"business"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DatabaseConfig selects the storage driver. "mysql" is the production
// driver, "sqlite" is meant for local runs.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	LogLevel string `mapstructure:"log_level"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	TransactionCompleted   string `mapstructure:"transaction_completed"`
	RefundProcessed        string `mapstructure:"refund_processed"`
	SettlementInconsistent string `mapstructure:"settlement_inconsistent"`
}

type BusinessConfig struct {
	Currency               string `mapstructure:"currency"`
	PlatformUserID         string `mapstructure:"platform_user_id"`
	MaxRetryCount          int    `mapstructure:"max_retry_count"`
	MaxConflictRetries     int    `mapstructure:"max_conflict_retries"`
	RefundWorkers          int    `mapstructure:"refund_workers"`
	LockTTLSeconds         int    `mapstructure:"lock_ttl_seconds"`
	LockWaitMillis         int    `mapstructure:"lock_wait_ms"`
	LockMaxRetries         int    `mapstructure:"lock_max_retries"`
	SettlementStaleMinutes int    `mapstructure:"settlement_stale_minutes"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// LoadConfig reads the yaml file at configPath. Any key can be overridden
// through the environment, e.g. WALLET_MYSQL_PASSWORD.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("WALLET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config file: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Kafka.Topic.TransactionCompleted == "" {
		c.Kafka.Topic.TransactionCompleted = "wallet.transaction.completed"
	}
	if c.Kafka.Topic.RefundProcessed == "" {
		c.Kafka.Topic.RefundProcessed = "wallet.refund.processed"
	}
	if c.Kafka.Topic.SettlementInconsistent == "" {
		c.Kafka.Topic.SettlementInconsistent = "settlement.inconsistent"
	}

	b := &c.Business
	if b.Currency == "" {
		b.Currency = "USD"
	}
	if b.PlatformUserID == "" {
		b.PlatformUserID = "platform"
	}
	if b.MaxRetryCount <= 0 {
		b.MaxRetryCount = 5
	}
	if b.MaxConflictRetries <= 0 {
		b.MaxConflictRetries = 3
	}
	if b.RefundWorkers <= 0 {
		b.RefundWorkers = 8
	}
	if b.LockTTLSeconds <= 0 {
		b.LockTTLSeconds = 30
	}
	if b.LockWaitMillis <= 0 {
		b.LockWaitMillis = 100
	}
	if b.LockMaxRetries <= 0 {
		b.LockMaxRetries = 30
	}
	if b.SettlementStaleMinutes <= 0 {
		b.SettlementStaleMinutes = 5
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Default returns a configuration with every default applied. Used by
// tests and by tooling that runs without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
