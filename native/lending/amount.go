package lending

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// maxAmountInput bounds the raw string accepted from callers.
	maxAmountInput = 96
	// maxAmountExponent bounds scientific notation before scaling.
	maxAmountExponent = 80
	// maxAmountBits matches the widest amount a uint256 token balance can hold.
	maxAmountBits = 256
)

// ParseAmount converts a human amount such as "1.5" into base units of the
// asset. Amounts with more fractional digits than the asset carries are
// rejected rather than rounded.
func ParseAmount(asset Asset, value string) (*big.Int, error) {
	if !asset.Valid() {
		return nil, errInvalidAsset
	}
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: amount required", ErrValidation)
	}
	if len(trimmed) > maxAmountInput {
		return nil, fmt.Errorf("%w: amount longer than %d characters", ErrValidation, maxAmountInput)
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid amount %q", ErrValidation, value)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: negative amount %q", ErrValidation, value)
	}
	if exp := d.Exponent(); exp > maxAmountExponent || exp < -maxAmountExponent {
		return nil, fmt.Errorf("%w: amount %q out of range", ErrValidation, value)
	}
	scaled := d.Shift(asset.Decimals())
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("%w: %q has more than %d decimals for %s", ErrValidation, value, asset.Decimals(), asset)
	}
	amount := scaled.BigInt()
	if amount.BitLen() > maxAmountBits {
		return nil, fmt.Errorf("%w: amount %q out of range", ErrValidation, value)
	}
	return amount, nil
}

// FormatAmount renders base units as a decimal string in whole asset units.
func FormatAmount(asset Asset, amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -asset.Decimals()).String()
}
