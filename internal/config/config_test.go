package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoadRequiresRedisURL(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	if _, err := Load(); !errors.Is(err, ErrMissingRedisURL) {
		t.Fatalf("expected ErrMissingRedisURL, got %v", err)
	}
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://127.0.0.1:6379/0")
	t.Setenv("CACHE_TTL", "90s")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8000" || cfg.LogLevel != "info" || cfg.BusBackend != "memory" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.RedisPoolSize != 20 {
		t.Fatalf("expected default pool size 20, got %d", cfg.RedisPoolSize)
	}
	if cfg.CacheTTL != 90*time.Second {
		t.Fatalf("expected 90s ttl, got %s", cfg.CacheTTL)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("broker list not split: %v", cfg.KafkaBrokers)
	}
}
