package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config holds the ledger's deployment parameters.
type Config struct {
	Owner   string           `toml:"Owner"`
	DataDir string           `toml:"DataDir"`
	Oracle  Oracle           `toml:"oracle"`
	Ledger  Ledger           `toml:"ledger"`
	Genesis []GenesisBalance `toml:"genesis,omitempty"`
}

// Load loads the configuration from the given path, writing a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown field %s", path, undecoded[0])
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Owner = strings.TrimSpace(c.Owner)
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./ledger-data"
	}
	c.Oracle.Reference = strings.TrimSpace(c.Oracle.Reference)
	if c.Oracle.Reference == "" {
		c.Oracle.Reference = "manual"
	}
	c.Ledger.CollateralMode = strings.ToLower(strings.TrimSpace(c.Ledger.CollateralMode))
	if c.Ledger.CollateralMode == "" {
		c.Ledger.CollateralMode = "shared"
	}
}

// createDefault creates and saves a default configuration file. The owner is
// left empty and must be filled in before the ledger will start.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
