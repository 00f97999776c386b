package config

import (
	"time"

	"github.com/Agihtaws/arbminidefi/native/lending"
	"github.com/Agihtaws/arbminidefi/native/oracle"
)

// Oracle selects the price source the ledger starts with. A reference
// persisted by a later rotation takes precedence over this value.
type Oracle struct {
	// Reference is "manual", "chainlink:<feed>" or "coingecko:<asset id>".
	Reference     string `toml:"Reference"`
	MaxAgeSeconds uint64 `toml:"MaxAgeSeconds"`
	// ManualPrice seeds the manual source, in USD.
	ManualPrice  string `toml:"ManualPrice"`
	RPCURL       string `toml:"RPCURL"`
	CoinGeckoURL string `toml:"CoinGeckoURL"`
}

// MaxAge returns the staleness window.
func (o Oracle) MaxAge() time.Duration {
	if o.MaxAgeSeconds == 0 {
		return oracle.DefaultMaxAge
	}
	return time.Duration(o.MaxAgeSeconds) * time.Second
}

// Ledger carries the fixed economic parameters.
type Ledger struct {
	Rates                   lending.Rates `toml:"rates"`
	CollateralRatioPct      uint64        `toml:"CollateralRatioPct"`
	LiquidationThresholdPPM uint64        `toml:"LiquidationThresholdPPM"`
	CollateralMode          string        `toml:"CollateralMode"`
}

// GenesisBalance credits a custody wallet when the data directory is new.
type GenesisBalance struct {
	Account string `toml:"Account"`
	Asset   string `toml:"Asset"`
	// Amount is in whole asset units, e.g. "2.5".
	Amount string `toml:"Amount"`
}

// Default returns the configuration written for a fresh installation.
func Default() *Config {
	params := lending.DefaultParams()
	return &Config{
		DataDir: "./ledger-data",
		Oracle: Oracle{
			Reference:     "manual",
			MaxAgeSeconds: uint64(oracle.DefaultMaxAge / time.Second),
			ManualPrice:   "3000",
		},
		Ledger: Ledger{
			Rates:                   params.Rates,
			CollateralRatioPct:      params.CollateralRatioPct,
			LiquidationThresholdPPM: params.LiquidationThresholdPPM,
			CollateralMode:          string(params.CollateralMode),
		},
	}
}
