package config

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Agihtaws/arbminidefi/native/lending"
)

// Validate checks the configuration for values the ledger cannot run with.
func (c *Config) Validate() error {
	if _, err := c.OwnerAddress(); err != nil {
		return err
	}
	if err := c.Params().Validate(); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	if c.Oracle.ManualPrice != "" {
		if _, err := lending.ParseAmount(lending.AssetStable, c.Oracle.ManualPrice); err != nil {
			return fmt.Errorf("oracle: manual price: %w", err)
		}
	}
	if _, err := c.GenesisCredits(); err != nil {
		return err
	}
	return nil
}

// OwnerAddress parses the administrative account.
func (c *Config) OwnerAddress() (common.Address, error) {
	if !common.IsHexAddress(c.Owner) {
		return common.Address{}, fmt.Errorf("owner must be a hex address, got %q", c.Owner)
	}
	owner := common.HexToAddress(c.Owner)
	if owner == (common.Address{}) {
		return common.Address{}, fmt.Errorf("owner must not be the zero address")
	}
	return owner, nil
}

// Params converts the ledger section to engine parameters.
func (c *Config) Params() lending.Params {
	return lending.Params{
		Rates:                   c.Ledger.Rates,
		CollateralRatioPct:      c.Ledger.CollateralRatioPct,
		LiquidationThresholdPPM: c.Ledger.LiquidationThresholdPPM,
		CollateralMode:          lending.CollateralMode(c.Ledger.CollateralMode),
	}
}

// Credit is a parsed genesis balance.
type Credit struct {
	Account common.Address
	Asset   lending.Asset
	Amount  *big.Int
}

// GenesisCredits parses the genesis section.
func (c *Config) GenesisCredits() ([]Credit, error) {
	credits := make([]Credit, 0, len(c.Genesis))
	for i, entry := range c.Genesis {
		if !common.IsHexAddress(entry.Account) {
			return nil, fmt.Errorf("genesis[%d]: invalid account %q", i, entry.Account)
		}
		asset, err := lending.ParseAsset(entry.Asset)
		if err != nil {
			return nil, fmt.Errorf("genesis[%d]: %w", i, err)
		}
		amount, err := lending.ParseAmount(asset, entry.Amount)
		if err != nil {
			return nil, fmt.Errorf("genesis[%d]: %w", i, err)
		}
		credits = append(credits, Credit{Account: common.HexToAddress(entry.Account), Asset: asset, Amount: amount})
	}
	return credits, nil
}
