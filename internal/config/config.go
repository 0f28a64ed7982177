package config

import (
	"fmt"
	"strings"

	"payledger/pkg/idgen"

	"github.com/spf13/viper"
)

// Config is the root configuration tree.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	MySQL     MySQLConfig     `mapstructure:"mysql"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Events    EventsConfig    `mapstructure:"events"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Business  BusinessConfig  `mapstructure:"business"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	WorkerID int64  `mapstructure:"worker_id"` // WorkerIDAuto leases one from redis
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
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
	Group   KafkaGroupConfig `mapstructure:"group"`
}

type KafkaTopicConfig struct {
	TransactionEvents string `mapstructure:"transaction_events"`
}

type KafkaGroupConfig struct {
	Summary string `mapstructure:"summary"`
}

// LedgerConfig tunes the core write path.
type LedgerConfig struct {
	MaxAttempts     int    `mapstructure:"max_attempts"`
	CreditKeySuffix string `mapstructure:"credit_key_suffix"`
	Isolation       string `mapstructure:"isolation"` // read_committed | repeatable_read | serializable
}

type CacheConfig struct {
	BalanceTTLSeconds int `mapstructure:"balance_ttl_seconds"`
}

type EventsConfig struct {
	Mode string `mapstructure:"mode"` // outbox | direct
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerWindow int  `mapstructure:"requests_per_window"`
	WindowSeconds     int  `mapstructure:"window_seconds"`
}

type BusinessConfig struct {
	MaxRetryCount        int `mapstructure:"max_retry_count"`
	MaxRedriveCount      int `mapstructure:"max_redrive_count"`
	RedriveAfterMinutes  int `mapstructure:"redrive_after_minutes"`
	OutboxIntervalMillis int `mapstructure:"outbox_interval_millis"`
}

const (
	EventsModeOutbox = "outbox"
	EventsModeDirect = "direct"

	// WorkerIDAuto asks the server to lease a free snowflake worker id at
	// startup instead of using a fixed one.
	WorkerIDAuto = -1
)

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.worker_id", WorkerIDAuto)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("mysql.host", "localhost")
	v.SetDefault("mysql.port", 3306)
	v.SetDefault("mysql.user", "root")
	v.SetDefault("mysql.database", "payledger")
	v.SetDefault("mysql.max_open_conns", 50)
	v.SetDefault("mysql.max_idle_conns", 10)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic.transaction_events", "transaction-events")
	v.SetDefault("kafka.group.summary", "payledger-summary")

	v.SetDefault("ledger.max_attempts", 3)
	v.SetDefault("ledger.credit_key_suffix", ":C")
	v.SetDefault("ledger.isolation", "read_committed")

	v.SetDefault("cache.balance_ttl_seconds", 300)

	v.SetDefault("events.mode", EventsModeOutbox)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_window", 100)
	v.SetDefault("rate_limit.window_seconds", 60)

	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.max_redrive_count", 3)
	v.SetDefault("business.redrive_after_minutes", 10)
	v.SetDefault("business.outbox_interval_millis", 100)
}

// Load reads the YAML file at configPath (optional when empty) and applies
// PAYLEDGER_* environment overrides, e.g. PAYLEDGER_MYSQL_HOST.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("PAYLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the ledger cannot run with.
func (c *Config) Validate() error {
	if c.Server.WorkerID < WorkerIDAuto || c.Server.WorkerID > idgen.MaxWorkerID {
		return fmt.Errorf("server.worker_id must be %d (auto) or in [0, %d], got %d",
			WorkerIDAuto, idgen.MaxWorkerID, c.Server.WorkerID)
	}
	if c.Ledger.MaxAttempts < 1 {
		return fmt.Errorf("ledger.max_attempts must be >= 1, got %d", c.Ledger.MaxAttempts)
	}
	if c.Ledger.CreditKeySuffix == "" {
		return fmt.Errorf("ledger.credit_key_suffix must not be empty")
	}
	switch c.Ledger.Isolation {
	case "read_committed", "repeatable_read", "serializable":
	default:
		return fmt.Errorf("ledger.isolation %q is not supported", c.Ledger.Isolation)
	}
	switch c.Events.Mode {
	case EventsModeOutbox, EventsModeDirect:
	default:
		return fmt.Errorf("events.mode %q is not supported", c.Events.Mode)
	}
	return nil
}
