package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	for _, key := range []string{"SERVER_PORT", "PORT", "RATE_CACHE_TTL_SECONDS", "RECEIPT_MAX_BYTES", "RECEIPT_ALLOWED_TYPES", "AUDIT_EXCHANGE"} {
		unsetEnvWithCleanup(t, key)
	}

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.ServerPort)
	}
	if cfg.RateCacheTTL() != time.Minute {
		t.Fatalf("expected 60s rate cache ttl, got %s", cfg.RateCacheTTL())
	}
	if cfg.ReceiptMaxBytes != 5<<20 {
		t.Fatalf("expected 5 MiB receipt limit, got %d", cfg.ReceiptMaxBytes)
	}
	if got := cfg.AllowedReceiptTypes(); len(got) != 3 || got[2] != "application/pdf" {
		t.Fatalf("unexpected allowed receipt types %v", got)
	}
	if cfg.AuditExchange != "remittance.audit" {
		t.Fatalf("expected default audit exchange, got %q", cfg.AuditExchange)
	}
}

func TestLoadConfig_PortEnvOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "9000")
	setEnvWithCleanup(t, "PORT", "9100")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9100" {
		t.Fatalf("expected PORT to win, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_CoercesInvalidValues(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "RATE_CACHE_TTL_SECONDS", "-5")
	setEnvWithCleanup(t, "RECEIPT_MAX_BYTES", "0")
	setEnvWithCleanup(t, "RATE_CACHE_PREFIX", "   ")
	setEnvWithCleanup(t, "OUTBOX_POLL_INTERVAL_MS", "5")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.RateCacheTTLSeconds != 60 {
		t.Fatalf("expected ttl coerced to 60, got %d", cfg.RateCacheTTLSeconds)
	}
	if cfg.ReceiptMaxBytes != 5<<20 {
		t.Fatalf("expected receipt limit coerced to default, got %d", cfg.ReceiptMaxBytes)
	}
	if cfg.RateCachePrefix != "remittance:rate" {
		t.Fatalf("expected default cache prefix, got %q", cfg.RateCachePrefix)
	}
	if cfg.OutboxPollInterval() != 1500*time.Millisecond {
		t.Fatalf("expected poll interval coerced, got %s", cfg.OutboxPollInterval())
	}
}

func TestLoadConfig_ReadsDotEnvFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "JWT_SECRET")
	unsetEnvWithCleanup(t, "CORS_ALLOWED_ORIGINS")

	dir := t.TempDir()
	content := "JWT_SECRET=from-file\nCORS_ALLOWED_ORIGINS=https://a.example, https://b.example\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.JWTSecret != "from-file" {
		t.Fatalf("expected JWT secret from .env, got %q", cfg.JWTSecret)
	}
	if origins := cfg.AllowedOrigins(); len(origins) != 2 || origins[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", origins)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
		}
	})
}
