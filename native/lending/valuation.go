package lending

import (
	"context"
	"math/big"

	"github.com/Agihtaws/arbminidefi/native/oracle"
)

// PriceOracle supplies validated native asset prices.
type PriceOracle interface {
	CurrentPrice(ctx context.Context) (oracle.PriceSnapshot, error)
}

// ValueInUSD converts an asset amount to USD with six decimals. The stable
// asset is already USD denominated; native amounts are priced with price,
// the USD value of one whole native unit.
func ValueInUSD(amount *big.Int, asset Asset, price *big.Int) *big.Int {
	if asset == AssetStable {
		return new(big.Int).Set(valueOrZero(amount))
	}
	return mulDiv(amount, price, nativeUnit)
}

// AmountForUSDValue is the inverse of ValueInUSD, truncating toward zero.
func AmountForUSDValue(usd *big.Int, asset Asset, price *big.Int) *big.Int {
	if asset == AssetStable {
		return new(big.Int).Set(valueOrZero(usd))
	}
	if !isPositive(price) {
		return big.NewInt(0)
	}
	return mulDiv(usd, nativeUnit, price)
}

// RequiredCollateral returns the collateral amount, in collateralAsset base
// units, needed to open a borrow of borrowAmount at ratioPct percent. Every
// step rounds up, so the collateral is never worth less than the ratio.
func RequiredCollateral(borrowAmount *big.Int, borrowAsset, collateralAsset Asset, ratioPct uint64, price *big.Int) *big.Int {
	borrowUSD := new(big.Int).Set(valueOrZero(borrowAmount))
	if borrowAsset == AssetNative {
		borrowUSD = mulDivUp(borrowAmount, price, nativeUnit)
	}
	requiredUSD := mulDivUp(borrowUSD, new(big.Int).SetUint64(ratioPct), big.NewInt(percent))
	if collateralAsset == AssetStable {
		return requiredUSD
	}
	if !isPositive(price) {
		return big.NewInt(0)
	}
	return mulDivUp(requiredUSD, nativeUnit, price)
}

func needsPrice(assets ...Asset) bool {
	for _, asset := range assets {
		if asset == AssetNative {
			return true
		}
	}
	return false
}

// valuer fetches the price lazily, at most once per operation. A stable-only
// valuation never reaches the oracle.
type valuer struct {
	ctx      context.Context
	oracle   PriceOracle
	snapshot *oracle.PriceSnapshot
}

func newValuer(ctx context.Context, o PriceOracle) *valuer {
	return &valuer{ctx: ctx, oracle: o}
}

func (v *valuer) price(assets ...Asset) (*big.Int, error) {
	if !needsPrice(assets...) {
		return nil, nil
	}
	if v.snapshot != nil {
		return v.snapshot.Price, nil
	}
	if v.oracle == nil {
		return nil, errNilOracle
	}
	snapshot, err := v.oracle.CurrentPrice(v.ctx)
	if err != nil {
		return nil, err
	}
	v.snapshot = &snapshot
	return snapshot.Price, nil
}

func (v *valuer) valueInUSD(amount *big.Int, asset Asset) (*big.Int, error) {
	price, err := v.price(asset)
	if err != nil {
		return nil, err
	}
	return ValueInUSD(amount, asset, price), nil
}

func (v *valuer) requiredCollateral(amount *big.Int, borrowAsset, collateralAsset Asset, ratioPct uint64) (*big.Int, error) {
	price, err := v.price(borrowAsset, collateralAsset)
	if err != nil {
		return nil, err
	}
	return RequiredCollateral(amount, borrowAsset, collateralAsset, ratioPct, price), nil
}
