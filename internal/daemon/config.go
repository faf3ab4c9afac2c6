// Package daemon wires the credit service together: configuration, the
// SQLite store, the abuse scorer, the trial policy engine, and the HTTP
// API, plus the background purge loop.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/credgate/credgate/internal/app/trial"
	"github.com/credgate/credgate/internal/domain"
	"github.com/credgate/credgate/internal/infra/abuse"
)

// ─── Configuration ──────────────────────────────────────────────────────────

// Config is the daemon configuration, loaded from ~/.credgate/config.toml.
type Config struct {
	API      APIConfig      `toml:"api"`
	Database DatabaseConfig `toml:"database"`
	Trial    TrialConfig    `toml:"trial"`
	Abuse    AbuseConfig    `toml:"abuse"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

// APIConfig configures the HTTP listener.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// DatabaseConfig configures the SQLite store. An empty path resolves to
// credgate.db inside the credgate home directory.
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// TrialConfig configures the trial policy. PromoStart and PromoEnd are
// RFC 3339 timestamps; the window is start-inclusive, end-exclusive.
type TrialConfig struct {
	Mode        string `toml:"mode"`
	ClaimAmount int64  `toml:"claim_amount"`
	PromoAmount int64  `toml:"promo_amount"`
	BaseAmount  int64  `toml:"base_amount"`
	PromoStart  string `toml:"promo_start"`
	PromoEnd    string `toml:"promo_end"`
}

// AbuseConfig configures the risk scorer. Durations are Go duration
// strings ("1h", "24h").
type AbuseConfig struct {
	MaxAccountsPerFingerprint int64    `toml:"max_accounts_per_fingerprint"`
	MaxAccountsPerIP          int64    `toml:"max_accounts_per_ip"`
	SubnetHourlyThreshold     int64    `toml:"subnet_hourly_threshold"`
	BucketDuration            string   `toml:"bucket_duration"`
	Retention                 string   `toml:"retention"`
	PurgeInterval             string   `toml:"purge_interval"`
	ExtraDisposableDomains    []string `toml:"extra_disposable_domains"`
}

// MetricsConfig toggles the Prometheus /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// DefaultConfig returns the configuration used when no config file exists.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8090,
		},
		Trial: TrialConfig{
			Mode:        string(domain.ModeClaim),
			ClaimAmount: 5,
			PromoAmount: 5,
			BaseAmount:  1,
		},
		Abuse: AbuseConfig{
			MaxAccountsPerFingerprint: 3,
			MaxAccountsPerIP:          3,
			SubnetHourlyThreshold:     10,
			BucketDuration:            "1h",
			Retention:                 "24h",
			PurgeInterval:             "1h",
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Home returns the credgate home directory: $CREDGATE_HOME if set,
// ~/.credgate otherwise.
func Home() string {
	if dir := os.Getenv("CREDGATE_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".credgate"
	}
	return filepath.Join(home, ".credgate")
}

// ConfigPath returns the config file location inside the home directory.
func ConfigPath() string { return filepath.Join(Home(), "config.toml") }

// Load reads the config file, overlaying it onto the defaults. A missing
// file is not an error — defaults apply.
func Load() (Config, error) {
	return LoadFile(ConfigPath())
}

// LoadFile reads a specific config file, overlaying it onto the defaults.
func LoadFile(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration before the daemon boots with it.
func (c Config) Validate() error {
	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("api.port %d out of range", c.API.Port)
	}
	if _, err := c.TrialPolicy(); err != nil {
		return err
	}
	if _, err := c.ScorerConfig(); err != nil {
		return err
	}
	if _, err := c.PurgeInterval(); err != nil {
		return err
	}
	return nil
}

// DatabasePath resolves the SQLite file location.
func (c Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(Home(), "credgate.db")
}

// TrialPolicy converts the TOML section into a policy config.
func (c Config) TrialPolicy() (trial.Config, error) {
	cfg := trial.Config{
		Mode:        domain.TrialPolicyMode(c.Trial.Mode),
		ClaimAmount: c.Trial.ClaimAmount,
		PromoAmount: c.Trial.PromoAmount,
		BaseAmount:  c.Trial.BaseAmount,
	}
	var err error
	if c.Trial.PromoStart != "" {
		if cfg.PromoStart, err = time.Parse(time.RFC3339, c.Trial.PromoStart); err != nil {
			return cfg, fmt.Errorf("trial.promo_start: %w", err)
		}
	}
	if c.Trial.PromoEnd != "" {
		if cfg.PromoEnd, err = time.Parse(time.RFC3339, c.Trial.PromoEnd); err != nil {
			return cfg, fmt.Errorf("trial.promo_end: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ScorerConfig converts the TOML section into a scorer config.
func (c Config) ScorerConfig() (abuse.Config, error) {
	cfg := abuse.DefaultConfig()
	cfg.MaxAccountsPerFingerprint = c.Abuse.MaxAccountsPerFingerprint
	cfg.MaxAccountsPerIP = c.Abuse.MaxAccountsPerIP
	cfg.SubnetHourlyThreshold = c.Abuse.SubnetHourlyThreshold
	cfg.ExtraDisposableDomains = c.Abuse.ExtraDisposableDomains

	var err error
	if c.Abuse.BucketDuration != "" {
		if cfg.BucketDuration, err = time.ParseDuration(c.Abuse.BucketDuration); err != nil {
			return cfg, fmt.Errorf("abuse.bucket_duration: %w", err)
		}
	}
	if c.Abuse.Retention != "" {
		if cfg.Retention, err = time.ParseDuration(c.Abuse.Retention); err != nil {
			return cfg, fmt.Errorf("abuse.retention: %w", err)
		}
	}
	return cfg, nil
}

// PurgeInterval returns how often expired velocity counters are dropped.
func (c Config) PurgeInterval() (time.Duration, error) {
	if c.Abuse.PurgeInterval == "" {
		return time.Hour, nil
	}
	d, err := time.ParseDuration(c.Abuse.PurgeInterval)
	if err != nil {
		return 0, fmt.Errorf("abuse.purge_interval: %w", err)
	}
	return d, nil
}
