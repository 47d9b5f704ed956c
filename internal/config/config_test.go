package config

import (
	"testing"
	"time"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "OPERATION_TIMEOUT", "LOCK_TTL", "SESSION_TTL_MINUTES", "MIGRATE_ON_START", "LOG_FORMAT"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("unexpected address %q", cfg.Address())
	}
	if cfg.OperationTimeout != 5*time.Second || cfg.LockTTL != 10*time.Second {
		t.Fatalf("unexpected timeouts %s / %s", cfg.OperationTimeout, cfg.LockTTL)
	}
	if cfg.SessionTTL() != 8*time.Hour {
		t.Fatalf("unexpected session ttl %s", cfg.SessionTTL())
	}
	if cfg.MigrateOnStart || cfg.LogFormat != "json" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("OPERATION_TIMEOUT", "750ms")
	t.Setenv("MIGRATE_ON_START", "true")
	t.Setenv("REDIS_DB", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.OperationTimeout != 750*time.Millisecond || !cfg.MigrateOnStart || cfg.RedisDB != 3 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestLoadRejectsMalformedTimeout(t *testing.T) {
	t.Setenv("OPERATION_TIMEOUT", "soon")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for malformed OPERATION_TIMEOUT")
	}
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	cases := map[string]string{
		"REDIS_DB":         "three",
		"LOCK_TTL":         "-1s",
		"MIGRATE_ON_START": "maybe",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", key, value)
			}
		})
	}
}

func TestLoadTrimsAndLowercases(t *testing.T) {
	t.Setenv("LOG_LEVEL", " DEBUG ")
	t.Setenv("SESSION_TTL_MINUTES", "0")
	t.Setenv("LOCK_TTL", "1m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.SessionTTLMinutes != 480 || cfg.LockTTL != time.Minute {
		t.Fatalf("unexpected config %+v", cfg)
	}
}
