package lending

import (
	"fmt"
	"strings"
)

// CollateralMode selects how collateral is attributed to loans.
type CollateralMode string

const (
	// CollateralShared keeps one collateral field per asset for the account.
	// A borrow overwrites the field and any repay releases both fields.
	CollateralShared CollateralMode = "shared"
	// CollateralIsolated attributes collateral to the loan that posted it.
	CollateralIsolated CollateralMode = "isolated"
)

// Rates holds the four fixed annual rates in parts per million.
type Rates struct {
	LendNative   uint64 `toml:"LendNativePPM" yaml:"lend_native_ppm"`
	BorrowNative uint64 `toml:"BorrowNativePPM" yaml:"borrow_native_ppm"`
	LendStable   uint64 `toml:"LendStablePPM" yaml:"lend_stable_ppm"`
	BorrowStable uint64 `toml:"BorrowStablePPM" yaml:"borrow_stable_ppm"`
}

// Lend returns the lender rate for the asset.
func (r Rates) Lend(asset Asset) uint64 {
	if asset == AssetNative {
		return r.LendNative
	}
	return r.LendStable
}

// Borrow returns the borrower rate for the asset.
func (r Rates) Borrow(asset Asset) uint64 {
	if asset == AssetNative {
		return r.BorrowNative
	}
	return r.BorrowStable
}

// Params groups the per-deployment constants of the ledger.
type Params struct {
	Rates Rates
	// CollateralRatioPct is the minimum collateral value at origination as a
	// percentage of the borrowed value.
	CollateralRatioPct uint64
	// LiquidationThresholdPPM marks positions whose health factor falls below
	// it as liquidatable. Reporting only.
	LiquidationThresholdPPM uint64
	CollateralMode          CollateralMode
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		Rates: Rates{
			LendNative:   30_000,
			BorrowNative: 50_000,
			LendStable:   40_000,
			BorrowStable: 60_000,
		},
		CollateralRatioPct:      150,
		LiquidationThresholdPPM: 1_200_000,
		CollateralMode:          CollateralShared,
	}
}

// Validate checks the parameters for consistency.
func (p Params) Validate() error {
	if p.CollateralRatioPct < 100 {
		return fmt.Errorf("collateral ratio must be at least 100%%, got %d", p.CollateralRatioPct)
	}
	for name, rate := range map[string]uint64{
		"lend native":   p.Rates.LendNative,
		"borrow native": p.Rates.BorrowNative,
		"lend stable":   p.Rates.LendStable,
		"borrow stable": p.Rates.BorrowStable,
	} {
		if rate > RatePrecision {
			return fmt.Errorf("%s rate %d ppm exceeds 100%%", name, rate)
		}
	}
	switch CollateralMode(strings.ToLower(string(p.CollateralMode))) {
	case CollateralShared, CollateralIsolated, "":
	default:
		return fmt.Errorf("unknown collateral mode %q", p.CollateralMode)
	}
	return nil
}

func (p Params) normalised() Params {
	mode := CollateralMode(strings.ToLower(strings.TrimSpace(string(p.CollateralMode))))
	if mode == "" {
		mode = CollateralShared
	}
	p.CollateralMode = mode
	return p
}
