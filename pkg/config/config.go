package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logger     LoggerConfig     `mapstructure:"logger"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Processor  ProcessorConfig  `mapstructure:"processor"`
	Generator  GeneratorConfig  `mapstructure:"generator"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Feed       FeedConfig       `mapstructure:"feed"`
	Continuity ContinuityConfig `mapstructure:"continuity"`
	Trading    TradingConfig    `mapstructure:"trading"`
}

type AppConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"` // e.g., "local", "prod"
}

type LoggerConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"` // "json" or "console"
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers    []string `mapstructure:"brokers"`
	Topic      string   `mapstructure:"topic"`
	GroupID    string   `mapstructure:"group_id"`
	Partitions int      `mapstructure:"partitions"`
}

type ProcessorConfig struct {
	NumWorkers  int           `mapstructure:"num_workers"`
	SnapshotTTL time.Duration `mapstructure:"snapshot_ttl"`
}

type GeneratorConfig struct {
	Symbols  []string      `mapstructure:"symbols"`
	Interval time.Duration `mapstructure:"interval"`
}

type GatewayConfig struct {
	ValidTickers []string `mapstructure:"valid_tickers"`
}

// FeedConfig selects where the gateway opens per-symbol price streams.
type FeedConfig struct {
	Source      string        `mapstructure:"source"` // "http" or "redis"
	BaseURL     string        `mapstructure:"base_url"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type ContinuityConfig struct {
	Capacity  int           `mapstructure:"capacity"`
	Heartbeat time.Duration `mapstructure:"heartbeat"`
}

type TradingConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Token          string        `mapstructure:"token"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MinOrder       float64       `mapstructure:"min_order"`
	MaxOrder       float64       `mapstructure:"max_order"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	HistoryLimit   int           `mapstructure:"history_limit"`
}

// LoadConfig reads configuration from .env file, environment variables, and defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// Load .env into the process environment so APP_PORT style keys resolve.
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}

	setDefaults(v)

	// "app.port" -> "APP_PORT"
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Flat env vars only reach nested structs through explicit binds.
	bindEnv(v, "app.port", "app.env")
	bindEnv(v, "logger.level", "logger.encoding")
	bindEnv(v, "redis.addr", "redis.password", "redis.db")
	bindEnv(v, "kafka.brokers", "kafka.topic", "kafka.group_id", "kafka.partitions")
	bindEnv(v, "processor.num_workers", "processor.snapshot_ttl")
	bindEnv(v, "generator.symbols", "generator.interval")
	bindEnv(v, "gateway.valid_tickers")
	bindEnv(v, "feed.source", "feed.base_url", "feed.dial_timeout")
	bindEnv(v, "continuity.capacity", "continuity.heartbeat")
	bindEnv(v, "trading.base_url", "trading.token", "trading.request_timeout",
		"trading.min_order", "trading.max_order", "trading.poll_interval",
		"trading.max_attempts", "trading.history_limit")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", ":8080")
	v.SetDefault("app.env", "local")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "json")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "bullion_ticks")
	v.SetDefault("kafka.group_id", "bullion-processor-group")
	v.SetDefault("kafka.partitions", 4)

	v.SetDefault("processor.num_workers", 4)
	v.SetDefault("processor.snapshot_ttl", time.Hour)

	v.SetDefault("generator.symbols", []string{"spot", "gold96"})
	v.SetDefault("generator.interval", 500*time.Millisecond)

	v.SetDefault("gateway.valid_tickers", []string{"spot", "gold96"})

	v.SetDefault("feed.source", "redis")
	v.SetDefault("feed.base_url", "http://localhost:8000")
	v.SetDefault("feed.dial_timeout", 10*time.Second)

	v.SetDefault("continuity.capacity", 200)
	v.SetDefault("continuity.heartbeat", time.Second)

	v.SetDefault("trading.base_url", "http://localhost:8000")
	v.SetDefault("trading.token", "")
	v.SetDefault("trading.request_timeout", 10*time.Second)
	v.SetDefault("trading.min_order", 1000)
	v.SetDefault("trading.max_order", 1000000)
	v.SetDefault("trading.poll_interval", 3*time.Second)
	v.SetDefault("trading.max_attempts", 20)
	v.SetDefault("trading.history_limit", 1000)
}

// Validate rejects configurations the services cannot start with.
func (c *Config) Validate() error {
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers cannot be empty")
	}
	if c.Feed.Source != "http" && c.Feed.Source != "redis" {
		return fmt.Errorf("feed source must be http or redis, got %q", c.Feed.Source)
	}
	if c.Continuity.Capacity <= 0 {
		return fmt.Errorf("continuity capacity must be positive")
	}
	if c.Continuity.Heartbeat <= 0 {
		return fmt.Errorf("continuity heartbeat must be positive")
	}
	if c.Trading.MinOrder <= 0 || c.Trading.MinOrder > c.Trading.MaxOrder {
		return fmt.Errorf("invalid order bounds [%v, %v]", c.Trading.MinOrder, c.Trading.MaxOrder)
	}
	if c.Trading.MaxAttempts <= 0 {
		return fmt.Errorf("trading max attempts must be positive")
	}
	return nil
}

// bindEnv is a helper to bind multiple keys at once
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}
}
