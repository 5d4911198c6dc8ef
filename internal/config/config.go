package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration, loaded from a YAML file with
// environment variable overrides (TOPUP_ prefix, dots become underscores).
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Provider ProviderConfig `mapstructure:"provider"`
	Business BusinessConfig `mapstructure:"business"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port        string `mapstructure:"port"`
	MetricsPort string `mapstructure:"metrics_port"`
}

type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

type KafkaConfig struct {
	Brokers     []string      `mapstructure:"brokers"`
	TopicPrefix string        `mapstructure:"topic_prefix"`
	Interval    time.Duration `mapstructure:"outbox_interval"`
	BatchSize   int32         `mapstructure:"outbox_batch_size"`
	MaxRetries  int           `mapstructure:"outbox_max_retries"`
}

type ProviderConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type BusinessConfig struct {
	// ReserveFirst holds wallet funds in reservation until the provider
	// confirms, instead of deducting optimistically and refunding on
	// failure
	ReserveFirst bool `mapstructure:"reserve_first"`
}

type LogConfig struct {
	// Level: development or production
	Mode string `mapstructure:"mode"`
}

// Load reads configuration from the given path (directory or file),
// applying defaults and TOPUP_* environment overrides
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetEnvPrefix("TOPUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional when every value comes from env
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("database.url is required")
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.metrics_port", "9090")

	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.min_conns", 5)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", "30s")

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_prefix", "topup")
	v.SetDefault("kafka.outbox_interval", "2s")
	v.SetDefault("kafka.outbox_batch_size", 50)
	v.SetDefault("kafka.outbox_max_retries", 5)

	v.SetDefault("provider.timeout", "30s")

	v.SetDefault("business.reserve_first", false)

	v.SetDefault("log.mode", "production")
}
