package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/credgate/credgate/internal/domain"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "127.0.0.1")
	}
	if cfg.API.Port != 8090 {
		t.Errorf("API.Port = %d, want %d", cfg.API.Port, 8090)
	}
	if cfg.Trial.Mode != string(domain.ModeClaim) {
		t.Errorf("Trial.Mode = %q, want claim by default", cfg.Trial.Mode)
	}
	if cfg.Trial.ClaimAmount != 5 {
		t.Errorf("Trial.ClaimAmount = %d, want 5", cfg.Trial.ClaimAmount)
	}
	if cfg.Abuse.SubnetHourlyThreshold != 10 {
		t.Errorf("Abuse.SubnetHourlyThreshold = %d, want 10", cfg.Abuse.SubnetHourlyThreshold)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled should be true by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("missing file should fall back to defaults, got %v", err)
	}
	if cfg.API.Port != 8090 {
		t.Errorf("API.Port = %d, want default 8090", cfg.API.Port)
	}
}

func TestLoadFile_Overlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[api]
host = "0.0.0.0"
port = 9000

[trial]
mode = "promo"
promo_amount = 5
base_amount = 1
promo_start = "2025-12-28T00:00:00Z"
promo_end = "2026-01-15T00:00:00Z"

[abuse]
max_accounts_per_ip = 5
retention = "48h"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if cfg.API.Host != "0.0.0.0" || cfg.API.Port != 9000 {
		t.Errorf("API = %+v, want overlay applied", cfg.API)
	}
	// Untouched sections keep their defaults.
	if cfg.Trial.ClaimAmount != 5 {
		t.Errorf("Trial.ClaimAmount = %d, want default 5", cfg.Trial.ClaimAmount)
	}

	policy, err := cfg.TrialPolicy()
	if err != nil {
		t.Fatal(err)
	}
	if policy.Mode != domain.ModePromo {
		t.Errorf("policy mode = %q, want promo", policy.Mode)
	}
	want := time.Date(2025, 12, 28, 0, 0, 0, 0, time.UTC)
	if !policy.PromoStart.Equal(want) {
		t.Errorf("PromoStart = %v, want %v", policy.PromoStart, want)
	}

	scorer, err := cfg.ScorerConfig()
	if err != nil {
		t.Fatal(err)
	}
	if scorer.MaxAccountsPerIP != 5 {
		t.Errorf("MaxAccountsPerIP = %d, want 5", scorer.MaxAccountsPerIP)
	}
	if scorer.Retention != 48*time.Hour {
		t.Errorf("Retention = %v, want 48h", scorer.Retention)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port out of range", func(c *Config) { c.API.Port = 0 }},
		{"unknown trial mode", func(c *Config) { c.Trial.Mode = "freebie" }},
		{"inverted promo window", func(c *Config) {
			c.Trial.Mode = string(domain.ModePromo)
			c.Trial.PromoStart = "2026-01-15T00:00:00Z"
			c.Trial.PromoEnd = "2025-12-28T00:00:00Z"
		}},
		{"bad promo timestamp", func(c *Config) {
			c.Trial.Mode = string(domain.ModePromo)
			c.Trial.PromoStart = "yesterday"
		}},
		{"bad retention", func(c *Config) { c.Abuse.Retention = "fortnight" }},
		{"bad purge interval", func(c *Config) { c.Abuse.PurgeInterval = "soonish" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() should have failed")
			}
		})
	}
}

func TestHome_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CREDGATE_HOME", dir)

	if got := Home(); got != dir {
		t.Errorf("Home() = %q, want %q", got, dir)
	}
	if got := ConfigPath(); got != filepath.Join(dir, "config.toml") {
		t.Errorf("ConfigPath() = %q", got)
	}
}

func TestDatabasePath(t *testing.T) {
	t.Setenv("CREDGATE_HOME", "/tmp/cg-home")

	cfg := DefaultConfig()
	if got := cfg.DatabasePath(); got != filepath.Join("/tmp/cg-home", "credgate.db") {
		t.Errorf("DatabasePath() = %q", got)
	}

	cfg.Database.Path = "/data/ledger.db"
	if got := cfg.DatabasePath(); got != "/data/ledger.db" {
		t.Errorf("DatabasePath() = %q, want explicit path", got)
	}
}
