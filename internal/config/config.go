// Package config loads application configuration from the environment.
//
// Values come from process environment variables, optionally seeded by a
// local .env file. Environment variables always win over .env entries.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrMissingRedisURL is returned when the cache backend address is not
// configured. Running without a store is a deployment error, not a
// runtime condition to mask.
var ErrMissingRedisURL = errors.New("config: REDIS_URL is required")

// Config holds every recognized option.
type Config struct {
	Env      string
	HTTPAddr string
	LogLevel string

	DatabaseURL string

	RedisURL         string
	RedisDialTimeout time.Duration
	RedisReadTimeout time.Duration
	RedisPoolSize    int
	RedisMaxRetries  int

	CacheTTL time.Duration

	BusBackend   string // memory, redis, nats or kafka
	NATSURL      string
	KafkaBrokers []string
}

// Load reads configuration from .env files and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault("ENV", "dev")
	v.SetDefault("HTTP_ADDR", ":8000")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "5s")
	v.SetDefault("REDIS_POOL_SIZE", 20)
	v.SetDefault("REDIS_MAX_RETRIES", 2)
	v.SetDefault("CACHE_TTL", "5m")
	v.SetDefault("BUS_BACKEND", "memory")
	v.SetDefault("NATS_URL", "nats://127.0.0.1:4222")
	v.SetDefault("KAFKA_BROKERS", "127.0.0.1:9092")

	cfg := &Config{
		Env:              v.GetString("ENV"),
		HTTPAddr:         v.GetString("HTTP_ADDR"),
		LogLevel:         v.GetString("LOG_LEVEL"),
		DatabaseURL:      v.GetString("DATABASE_URL"),
		RedisURL:         v.GetString("REDIS_URL"),
		RedisDialTimeout: v.GetDuration("REDIS_DIAL_TIMEOUT"),
		RedisReadTimeout: v.GetDuration("REDIS_READ_TIMEOUT"),
		RedisPoolSize:    v.GetInt("REDIS_POOL_SIZE"),
		RedisMaxRetries:  v.GetInt("REDIS_MAX_RETRIES"),
		CacheTTL:         v.GetDuration("CACHE_TTL"),
		BusBackend:       v.GetString("BUS_BACKEND"),
		NATSURL:          v.GetString("NATS_URL"),
		KafkaBrokers:     strings.Split(v.GetString("KAFKA_BROKERS"), ","),
	}

	if cfg.RedisURL == "" {
		return nil, ErrMissingRedisURL
	}
	return cfg, nil
}
