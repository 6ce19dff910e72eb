package statuscache

import (
	"context"
	"testing"
	"time"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
)

func TestKey(t *testing.T) {
	if got := Key("run-1"); got != "sf:run:run-1:status" {
		t.Fatalf("key = %s", got)
	}
}

func TestOpenWithoutAddrIsNoop(t *testing.T) {
	cache, closeFn, err := Open(context.Background(), Config{TTL: time.Second})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer closeFn()
	if _, ok := cache.(Noop); !ok {
		t.Fatalf("expected Noop, got %T", cache)
	}
	if err := cache.Set(context.Background(), "run-1", domain.RunStatusRunning); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, hit, _ := cache.Get(context.Background(), "run-1"); hit {
		t.Fatalf("noop cache must always miss")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("STATUS_CACHE_TTL", "5s")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.Addr != "localhost:6379" || cfg.DB != 2 || cfg.TTL != 5*time.Second {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	t.Setenv("STATUS_CACHE_TTL", "0s")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("zero ttl must fail")
	}
}
