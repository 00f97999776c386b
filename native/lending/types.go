package lending

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Asset selects one of the two pooled assets.
type Asset uint8

const (
	// AssetNative is the chain's native unit (ETH, 18 decimals).
	AssetNative Asset = iota
	// AssetStable is the USD stable unit (USDC, 6 decimals).
	AssetStable
)

// noAsset labels operations that are not tied to an asset.
const noAsset Asset = 0xff

// Assets lists every supported asset in storage order.
var Assets = [...]Asset{AssetNative, AssetStable}

func (a Asset) Valid() bool { return a == AssetNative || a == AssetStable }

// Symbol returns the ticker used in reasons, logs and metrics.
func (a Asset) Symbol() string {
	switch a {
	case AssetNative:
		return "ETH"
	case AssetStable:
		return "USDC"
	case noAsset:
		return ""
	default:
		return fmt.Sprintf("ASSET(%d)", uint8(a))
	}
}

// Decimals returns the fixed-point precision of the asset's base unit.
func (a Asset) Decimals() int32 {
	if a == AssetNative {
		return 18
	}
	return 6
}

func (a Asset) String() string { return a.Symbol() }

// ParseAsset accepts tickers and role names in any case.
func ParseAsset(value string) (Asset, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "eth", "native":
		return AssetNative, nil
	case "usdc", "stable":
		return AssetStable, nil
	}
	return 0, fmt.Errorf("%w: unknown asset %q", ErrValidation, value)
}

// LenderPosition tracks one account's deposit of one asset. Interest accrues
// into its own bucket and never earns further interest.
type LenderPosition struct {
	Principal   *big.Int
	Interest    *big.Int
	LastAccrual uint64
	LastDeposit uint64
}

// Clone returns a deep copy of the position.
func (p *LenderPosition) Clone() *LenderPosition {
	if p == nil {
		return nil
	}
	return &LenderPosition{
		Principal:   cloneBig(p.Principal),
		Interest:    cloneBig(p.Interest),
		LastAccrual: p.LastAccrual,
		LastDeposit: p.LastDeposit,
	}
}

// Balance returns principal plus booked interest.
func (p *LenderPosition) Balance() *big.Int {
	if p == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Add(valueOrZero(p.Principal), valueOrZero(p.Interest))
}

func (p *LenderPosition) isEmpty() bool {
	return p == nil || (valueOrZero(p.Principal).Sign() == 0 && valueOrZero(p.Interest).Sign() == 0)
}

// Loan is one asset's borrow. Interest compounds into Principal.
type Loan struct {
	Principal   *big.Int
	Active      bool
	LastAccrual uint64
	BorrowedAt  uint64
	// CollateralAsset and CollateralAmount record what was posted when the
	// loan was opened. In isolated mode they own the loan's collateral; in
	// shared mode they are informational only.
	CollateralAsset  Asset
	CollateralAmount *big.Int
}

func (l Loan) clone() Loan {
	l.Principal = cloneBig(l.Principal)
	l.CollateralAmount = cloneBig(l.CollateralAmount)
	return l
}

// BorrowerPosition holds both loans of an account and the collateral fields
// shared between them.
type BorrowerPosition struct {
	Loans      [2]Loan
	Collateral [2]*big.Int
}

// Clone returns a deep copy of the position.
func (p *BorrowerPosition) Clone() *BorrowerPosition {
	if p == nil {
		return nil
	}
	clone := &BorrowerPosition{}
	for _, asset := range Assets {
		clone.Loans[asset] = p.Loans[asset].clone()
		clone.Collateral[asset] = cloneBig(p.Collateral[asset])
	}
	return clone
}

// HasActiveLoan reports whether any loan is open.
func (p *BorrowerPosition) HasActiveLoan() bool {
	if p == nil {
		return false
	}
	return p.Loans[AssetNative].Active || p.Loans[AssetStable].Active
}

func (p *BorrowerPosition) isEmpty() bool {
	if p == nil {
		return true
	}
	for _, asset := range Assets {
		if p.Loans[asset].Active || valueOrZero(p.Loans[asset].Principal).Sign() != 0 {
			return false
		}
		if valueOrZero(p.Collateral[asset]).Sign() != 0 {
			return false
		}
	}
	return true
}

// PoolTotals aggregates the six pool-wide counters.
type PoolTotals struct {
	Deposited  [2]*big.Int
	Borrowed   [2]*big.Int
	Collateral [2]*big.Int
}

// Clone returns a deep copy of the totals with nil counters replaced by zero.
func (p *PoolTotals) Clone() *PoolTotals {
	clone := &PoolTotals{}
	for _, asset := range Assets {
		if p == nil {
			clone.Deposited[asset] = big.NewInt(0)
			clone.Borrowed[asset] = big.NewInt(0)
			clone.Collateral[asset] = big.NewInt(0)
			continue
		}
		clone.Deposited[asset] = new(big.Int).Set(valueOrZero(p.Deposited[asset]))
		clone.Borrowed[asset] = new(big.Int).Set(valueOrZero(p.Borrowed[asset]))
		clone.Collateral[asset] = new(big.Int).Set(valueOrZero(p.Collateral[asset]))
	}
	return clone
}

// Capacity returns max(0, deposited - borrowed) for the asset.
func (p *PoolTotals) Capacity(asset Asset) *big.Int {
	if p == nil {
		return big.NewInt(0)
	}
	return floorZero(new(big.Int).Sub(valueOrZero(p.Deposited[asset]), valueOrZero(p.Borrowed[asset])))
}

// Account aliases the 20 byte account identifier used throughout the ledger.
type Account = common.Address
