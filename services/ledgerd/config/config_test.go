package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ledgerd.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: " :6000 "
ledger_config: " ledger.toml "
tls:
  allow_insecure: true
auth:
  enabled: true
  hmac_secret: " secret "
  clock_skew: 30s
cors:
  allowed_origins: [" https://app.example ", " "]
rate_limits:
  queries:
    requests_per_minute: 600
    burst: 50
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddress != ":6000" || cfg.LedgerConfig != "ledger.toml" {
		t.Fatalf("unexpected addresses: %q %q", cfg.ListenAddress, cfg.LedgerConfig)
	}
	if cfg.Auth.HMACSecret != "secret" || cfg.Auth.ClockSkew != 30*time.Second {
		t.Fatalf("auth not normalized: %+v", cfg.Auth)
	}
	if len(cfg.CORS.AllowedOrigins) != 1 {
		t.Fatalf("expected one origin, got %v", cfg.CORS.AllowedOrigins)
	}
	if _, ok := cfg.RateLimits["mutations"]; !ok {
		t.Fatalf("default mutation limit dropped")
	}
	if cfg.RateLimits["queries"].Burst != 50 {
		t.Fatalf("query limit not decoded: %+v", cfg.RateLimits)
	}
	if cfg.Journal.DSN != "ledger-journal.db" || cfg.ReadTimeout != 15*time.Second {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestLoadConfigRejects(t *testing.T) {
	cases := map[string]string{
		"unknown field": `
tls:
  allow_insecure: true
bogus: 1
`,
		"plaintext without opt-in": `
listen: ":8446"
`,
		"half keypair": `
tls:
  cert: "server.crt"
`,
		"client ca without cert": `
tls:
  allow_insecure: true
  client_ca: "ca.pem"
`,
		"auth without secret": `
tls:
  allow_insecure: true
auth:
  enabled: true
`,
		"bad rate limit": `
tls:
  allow_insecure: true
rate_limits:
  admin:
    requests_per_minute: 0
    burst: 1
`,
		"sample ratio": `
tls:
  allow_insecure: true
observability:
  sample_ratio: 2
`,
	}
	for name, contents := range cases {
		if _, err := Load(writeConfig(t, contents)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadConfigRequiresPath(t *testing.T) {
	if _, err := Load(" "); err == nil {
		t.Fatal("expected error for empty path")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestTLSHelpers(t *testing.T) {
	tls := TLSConfig{CertPath: "a", KeyPath: "b", ClientCAPath: "c"}
	if !tls.Enabled() || !tls.MTLSEnabled() {
		t.Fatalf("expected tls and mtls enabled")
	}
	if (TLSConfig{AllowInsecure: true}).Enabled() {
		t.Fatalf("plaintext reported as tls")
	}
}
