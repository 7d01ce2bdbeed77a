package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type KafkaTopics struct {
	Commands   string `mapstructure:"commands"`
	Responses  string `mapstructure:"responses"`
	Changelog  string `mapstructure:"changelog"`
	DeadLetter string `mapstructure:"dead_letter"`
}

type KafkaConfig struct {
	Enabled       bool        `mapstructure:"enabled"`
	Brokers       []string    `mapstructure:"brokers"`
	ConsumerGroup string      `mapstructure:"consumer_group"`
	Topics        KafkaTopics `mapstructure:"topics"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type IdempotencyConfig struct {
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
	Prefix     string        `mapstructure:"prefix"`
}

type PipelineConfig struct {
	Shards       int    `mapstructure:"shards"`
	QueueDepth   int    `mapstructure:"queue_depth"`
	MakerFeeBps  int64  `mapstructure:"maker_fee_bps"`
	TakerFeeBps  int64  `mapstructure:"taker_fee_bps"`
	FeeAccountID uint64 `mapstructure:"fee_account_id"`
}

type ChangelogConfig struct {
	Buffer int `mapstructure:"buffer"`
}

type AppConfig struct {
	ServiceName string            `mapstructure:"service_name"`
	Env         string            `mapstructure:"env"`
	LogLevel    string            `mapstructure:"log_level"`
	MetricsPath string            `mapstructure:"metrics_path"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	Changelog   ChangelogConfig   `mapstructure:"changelog"`
}

func Load(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("EXC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path == "" {
		path = "config.yaml"
	}

	// The file is optional; env vars and defaults carry a bare deployment.
	// With SetConfigFile a missing file surfaces as a path error rather
	// than viper's ConfigFileNotFoundError.
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *AppConfig) validate() error {
	if c.Pipeline.FeeAccountID == 0 && (c.Pipeline.MakerFeeBps > 0 || c.Pipeline.TakerFeeBps > 0) {
		return fmt.Errorf("pipeline: fee bps configured without fee_account_id")
	}
	if c.Pipeline.MakerFeeBps < 0 || c.Pipeline.TakerFeeBps < 0 {
		return fmt.Errorf("pipeline: fee bps must not be negative")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "tradecore")
	v.SetDefault("env", "dev")
	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_path", "/metrics")
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", "5s")
	v.SetDefault("http.write_timeout", "10s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.consumer_group", "tradecore")
	v.SetDefault("kafka.topics.commands", "core.commands")
	v.SetDefault("kafka.topics.responses", "core.responses")
	v.SetDefault("kafka.topics.changelog", "core.changelog")
	v.SetDefault("kafka.topics.dead_letter", "core.dlq")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("idempotency.ttl", "24h")
	v.SetDefault("idempotency.max_entries", 1000000)
	v.SetDefault("idempotency.prefix", "core:idem:")
	v.SetDefault("pipeline.shards", 4)
	v.SetDefault("pipeline.queue_depth", 1024)
	v.SetDefault("pipeline.maker_fee_bps", 0)
	v.SetDefault("pipeline.taker_fee_bps", 0)
	v.SetDefault("pipeline.fee_account_id", 0)
	v.SetDefault("changelog.buffer", 4096)
}
