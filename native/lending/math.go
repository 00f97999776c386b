package lending

import "math/big"

const (
	// RatePrecision is the denominator of ppm rates and health factors.
	RatePrecision = 1_000_000
	// SecondsPerYear is the accrual year length.
	SecondsPerYear = 31_536_000

	percent = 100
)

var (
	ratePrecision   = big.NewInt(RatePrecision)
	// nativeUnit is one whole native asset in base units.
	nativeUnit      = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	yearDenominator = new(big.Int).Mul(big.NewInt(RatePrecision), big.NewInt(SecondsPerYear))
)

func valueOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func floorZero(v *big.Int) *big.Int {
	if v.Sign() < 0 {
		return v.SetInt64(0)
	}
	return v
}

func minBig(values ...*big.Int) *big.Int {
	var out *big.Int
	for _, v := range values {
		if out == nil || v.Cmp(out) < 0 {
			out = v
		}
	}
	return new(big.Int).Set(valueOrZero(out))
}

func mulDiv(a, b, denominator *big.Int) *big.Int {
	if denominator.Sign() == 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(valueOrZero(a), valueOrZero(b))
	return product.Quo(product, denominator)
}

// mulDivUp is mulDiv rounded away from zero for non-negative inputs.
func mulDivUp(a, b, denominator *big.Int) *big.Int {
	if denominator.Sign() == 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(valueOrZero(a), valueOrZero(b))
	quo, rem := new(big.Int).QuoRem(product, denominator, new(big.Int))
	if rem.Sign() > 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return quo
}

func isPositive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}
