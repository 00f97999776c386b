package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultListen = ":8446"

// Config captures the runtime settings for the ledger daemon. Ledger
// parameters live in the TOML file named by LedgerConfig.
type Config struct {
	ListenAddress string              `yaml:"listen"`
	LedgerConfig  string              `yaml:"ledger_config"`
	ReadTimeout   time.Duration       `yaml:"read_timeout"`
	WriteTimeout  time.Duration       `yaml:"write_timeout"`
	IdleTimeout   time.Duration       `yaml:"idle_timeout"`
	TLS           TLSConfig           `yaml:"tls"`
	Auth          AuthConfig          `yaml:"auth"`
	RateLimits    map[string]Limit    `yaml:"rate_limits"`
	Journal       JournalConfig       `yaml:"journal"`
	CORS          CORSConfig          `yaml:"cors"`
	Observability ObservabilityConfig `yaml:"observability"`
	Log           LogConfig           `yaml:"log"`
}

// TLSConfig describes the TLS material for the HTTP server.
type TLSConfig struct {
	CertPath      string `yaml:"cert"`
	KeyPath       string `yaml:"key"`
	ClientCAPath  string `yaml:"client_ca"`
	AllowInsecure bool   `yaml:"allow_insecure"`
}

// AuthConfig configures bearer token validation. The token subject is the
// caller's account address.
type AuthConfig struct {
	Enabled       bool          `yaml:"enabled"`
	HMACSecret    string        `yaml:"hmac_secret"`
	Issuer        string        `yaml:"issuer"`
	Audience      string        `yaml:"audience"`
	ScopeClaim    string        `yaml:"scope_claim"`
	OptionalPaths []string      `yaml:"optional_paths"`
	ClockSkew     time.Duration `yaml:"clock_skew"`
}

// Limit is a token bucket for one route group.
type Limit struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// JournalConfig selects the event journal database. DSNs starting with
// postgres:// use PostgreSQL, anything else is a sqlite path or URI.
type JournalConfig struct {
	DSN string `yaml:"dsn"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type ObservabilityConfig struct {
	LogRequests bool    `yaml:"log_requests"`
	Metrics     bool    `yaml:"metrics"`
	Tracing     bool    `yaml:"tracing"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Default returns the settings used for keys absent from the file.
func Default() Config {
	return Config{
		ListenAddress: defaultListen,
		LedgerConfig:  "ledger.toml",
		ReadTimeout:   15 * time.Second,
		WriteTimeout:  15 * time.Second,
		IdleTimeout:   60 * time.Second,
		RateLimits: map[string]Limit{
			"mutations": {RequestsPerMinute: 120, Burst: 20},
			"admin":     {RequestsPerMinute: 30, Burst: 5},
		},
		Journal: JournalConfig{DSN: "ledger-journal.db"},
		Observability: ObservabilityConfig{
			LogRequests: true,
			Metrics:     true,
			Tracing:     true,
			SampleRatio: 1,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.LedgerConfig = strings.TrimSpace(cfg.LedgerConfig)
	cfg.Journal.DSN = strings.TrimSpace(cfg.Journal.DSN)
	cfg.TLS.normalize()
	cfg.Auth.HMACSecret = strings.TrimSpace(cfg.Auth.HMACSecret)
	cfg.Auth.OptionalPaths = trimAll(cfg.Auth.OptionalPaths)
	cfg.CORS.AllowedOrigins = trimAll(cfg.CORS.AllowedOrigins)
}

// Validate checks cross-field constraints.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if cfg.LedgerConfig == "" {
		return fmt.Errorf("ledger_config is required")
	}
	if err := cfg.TLS.validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if cfg.Auth.Enabled && cfg.Auth.HMACSecret == "" {
		return fmt.Errorf("auth: hmac_secret is required when auth is enabled")
	}
	for name, limit := range cfg.RateLimits {
		if limit.RequestsPerMinute <= 0 || limit.Burst <= 0 {
			return fmt.Errorf("rate_limits.%s: requests_per_minute and burst must be positive", name)
		}
	}
	if cfg.Observability.SampleRatio < 0 || cfg.Observability.SampleRatio > 1 {
		return fmt.Errorf("observability: sample_ratio must be within [0,1]")
	}
	return nil
}

func (cfg *TLSConfig) normalize() {
	cfg.CertPath = strings.TrimSpace(cfg.CertPath)
	cfg.KeyPath = strings.TrimSpace(cfg.KeyPath)
	cfg.ClientCAPath = strings.TrimSpace(cfg.ClientCAPath)
}

func (cfg TLSConfig) validate() error {
	hasCert := cfg.CertPath != ""
	hasKey := cfg.KeyPath != ""
	if hasCert != hasKey {
		return fmt.Errorf("cert and key must either both be provided or both be empty")
	}
	if !cfg.AllowInsecure && !hasCert {
		return fmt.Errorf("cert and key are required unless allow_insecure=true")
	}
	if cfg.ClientCAPath != "" && !hasCert {
		return fmt.Errorf("client_ca requires a server certificate and key")
	}
	return nil
}

// Enabled reports whether the server should terminate TLS.
func (cfg TLSConfig) Enabled() bool {
	return cfg.CertPath != "" && cfg.KeyPath != ""
}

// MTLSEnabled reports whether mutual TLS verification is configured.
func (cfg TLSConfig) MTLSEnabled() bool {
	return strings.TrimSpace(cfg.ClientCAPath) != ""
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
