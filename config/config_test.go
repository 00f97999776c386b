package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Agihtaws/arbminidefi/native/lending"
)

const testOwner = "0x00000000000000000000000000000000000000Aa"

func TestLoadParsesLedgerSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.toml")
	contents := `Owner = "` + testOwner + `"
DataDir = "./data"

[oracle]
Reference = "chainlink:0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419"
MaxAgeSeconds = 3600
RPCURL = "https://rpc.example"

[ledger]
CollateralRatioPct = 160
LiquidationThresholdPPM = 1100000
CollateralMode = "Isolated"

[ledger.rates]
LendNativePPM = 10000
BorrowNativePPM = 20000
LendStablePPM = 30000
BorrowStablePPM = 40000

[[genesis]]
Account = "0x00000000000000000000000000000000000000a1"
Asset = "usdc"
Amount = "2500.5"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DataDir != "./data" {
		t.Fatalf("unexpected data dir %q", cfg.DataDir)
	}
	if cfg.Oracle.MaxAge() != time.Hour {
		t.Fatalf("unexpected max age %s", cfg.Oracle.MaxAge())
	}
	params := cfg.Params()
	if params.CollateralRatioPct != 160 || params.Rates.BorrowStable != 40_000 || params.CollateralMode != lending.CollateralIsolated {
		t.Fatalf("unexpected params %+v", params)
	}
	owner, err := cfg.OwnerAddress()
	if err != nil || !strings.EqualFold(owner.Hex(), testOwner) {
		t.Fatalf("unexpected owner %s (err %v)", owner.Hex(), err)
	}
	credits, err := cfg.GenesisCredits()
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}
	if len(credits) != 1 || credits[0].Asset != lending.AssetStable || credits[0].Amount.Int64() != 2_500_500_000 {
		t.Fatalf("unexpected credits %+v", credits)
	}
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load default: %v", err)
	}
	if cfg.Oracle.Reference != "manual" || cfg.Ledger.CollateralRatioPct != 150 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	// The written file has no owner yet, so a second load refuses to start.
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "owner") {
		t.Fatalf("expected missing owner error, got %v", err)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.toml")
	contents := `Owner = "` + testOwner + `"
Bootnodes = ["x"]
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "Bootnodes") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := Default()
		cfg.Owner = testOwner
		return cfg
	}
	if err := base().Validate(); err != nil {
		t.Fatalf("defaults with owner should validate: %v", err)
	}

	cases := map[string]func(*Config){
		"zero owner":     func(c *Config) { c.Owner = "0x0000000000000000000000000000000000000000" },
		"low ratio":      func(c *Config) { c.Ledger.CollateralRatioPct = 50 },
		"bad mode":       func(c *Config) { c.Ledger.CollateralMode = "pooled" },
		"bad price":      func(c *Config) { c.Oracle.ManualPrice = "cheap" },
		"bad genesis":    func(c *Config) { c.Genesis = []GenesisBalance{{Account: "alice", Asset: "eth", Amount: "1"}} },
		"genesis asset":  func(c *Config) { c.Genesis = []GenesisBalance{{Account: testOwner, Asset: "btc", Amount: "1"}} },
		"genesis amount": func(c *Config) { c.Genesis = []GenesisBalance{{Account: testOwner, Asset: "usdc", Amount: "0.0000001"}} },
	}
	for name, mutate := range cases {
		cfg := base()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}
