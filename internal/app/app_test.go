package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/userforge/userhub/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	t.Cleanup(mr.Close)
	return &config.Config{
		Env:         "test",
		HTTPAddr:    "127.0.0.1:0",
		LogLevel:    "error",
		DatabaseURL: "sqlite://:memory:",
		RedisURL:    "redis://" + mr.Addr(),
		CacheTTL:    time.Minute,
		BusBackend:  "memory",
	}
}

func TestInitAndShutdown(t *testing.T) {
	a := New(testConfig(t))
	ctx := context.Background()

	if err := a.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	// Init is once-guarded
	if err := a.Init(ctx); err != nil {
		t.Fatalf("second init: %v", err)
	}
	if err := a.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if a.Service == nil || a.Cache == nil || a.Bus == nil || a.Server == nil {
		t.Fatal("init left components unbuilt")
	}

	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	// and so is Shutdown
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}

func TestInitRejectsUnknownBusBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.BusBackend = "carrier-pigeon"
	a := New(cfg)
	if err := a.Init(context.Background()); err == nil {
		t.Fatal("expected error for unknown bus backend")
	}
}
