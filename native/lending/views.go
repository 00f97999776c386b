package lending

import (
	"context"
	"errors"
	"math/big"

	"github.com/Agihtaws/arbminidefi/native/oracle"
)

// LenderAssetInfo is one asset's deposit including interest accrued up to
// the time of the query.
type LenderAssetInfo struct {
	Principal *big.Int
	Interest  *big.Int
	Total     *big.Int
}

type LenderInfo struct {
	Assets [2]LenderAssetInfo
}

// LoanInfo is one asset's loan with the amount owed at query time.
type LoanInfo struct {
	Principal        *big.Int
	Owed             *big.Int
	Active           bool
	BorrowedAt       uint64
	CollateralAsset  Asset
	CollateralAmount *big.Int
}

type BorrowerInfo struct {
	Loans      [2]LoanInfo
	Collateral [2]*big.Int
	// HealthFactor is collateral value over owed value in ppm, nil without
	// debt.
	HealthFactor *big.Int
	Liquidatable bool
}

type UserLimits struct {
	MaxBorrow   [2]*big.Int
	MaxWithdraw [2]*big.Int
	// RequiredCollateralAtMax is indexed [borrow asset][collateral asset] and
	// priced against MaxBorrow, not against any smaller request.
	RequiredCollateralAtMax [2][2]*big.Int
	CanBorrow               [2]bool
	CanWithdraw             [2]bool
}

type PoolAssetStats struct {
	Deposited      *big.Int
	Borrowed       *big.Int
	Collateral     *big.Int
	Liquidity      *big.Int
	UtilizationPPM uint64
	LendRatePPM    uint64
	BorrowRatePPM  uint64
}

type PoolStats struct {
	Assets          [2]PoolAssetStats
	Paused          bool
	OracleReference string
	CollateralMode  CollateralMode
}

// read runs fn against a throwaway transaction under the read lock. Nothing
// staged by fn is ever applied.
func (e *Engine) read(fn func(tx *txn) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.ready(); err != nil {
		return err
	}
	return fn(newTxn(e.state, e.timestamp()))
}

// LenderInfo reports the account's deposits with pending interest included.
func (e *Engine) LenderInfo(account Account) (*LenderInfo, error) {
	info := &LenderInfo{}
	err := e.read(func(tx *txn) error {
		for _, asset := range Assets {
			pos, err := e.accruedLender(tx, account, asset)
			if err != nil {
				return err
			}
			if pos == nil {
				pos = &LenderPosition{Principal: big.NewInt(0), Interest: big.NewInt(0)}
			}
			info.Assets[asset] = LenderAssetInfo{
				Principal: new(big.Int).Set(valueOrZero(pos.Principal)),
				Interest:  new(big.Int).Set(valueOrZero(pos.Interest)),
				Total:     pos.Balance(),
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// BorrowerInfo reports the account's loans, collateral and health factor.
// The oracle is consulted only when a native amount needs valuing.
func (e *Engine) BorrowerInfo(ctx context.Context, account Account) (*BorrowerInfo, error) {
	info := &BorrowerInfo{}
	err := e.read(func(tx *txn) error {
		bp, err := tx.borrower(account)
		if err != nil {
			return err
		}
		v := newValuer(ctx, e.feed)
		collateralUSD := big.NewInt(0)
		owedUSD := big.NewInt(0)
		for _, asset := range Assets {
			loan := bp.Loans[asset].clone()
			if loan.Active {
				accrueBorrower(&loan, e.params.Rates.Borrow(asset), tx.now)
			}
			info.Loans[asset] = LoanInfo{
				Principal:        new(big.Int).Set(bp.Loans[asset].Principal),
				Owed:             new(big.Int).Set(loan.Principal),
				Active:           loan.Active,
				BorrowedAt:       loan.BorrowedAt,
				CollateralAsset:  loan.CollateralAsset,
				CollateralAmount: new(big.Int).Set(loan.CollateralAmount),
			}
			info.Collateral[asset] = new(big.Int).Set(bp.Collateral[asset])
		}
		if !bp.HasActiveLoan() {
			return nil
		}
		for _, asset := range Assets {
			if amount := info.Collateral[asset]; amount.Sign() > 0 {
				usd, err := v.valueInUSD(amount, asset)
				if err != nil {
					return err
				}
				collateralUSD.Add(collateralUSD, usd)
			}
			if loan := info.Loans[asset]; loan.Active && loan.Owed.Sign() > 0 {
				usd, err := v.valueInUSD(loan.Owed, asset)
				if err != nil {
					return err
				}
				owedUSD.Add(owedUSD, usd)
			}
		}
		if owedUSD.Sign() == 0 {
			return nil
		}
		info.HealthFactor = mulDiv(collateralUSD, ratePrecision, owedUSD)
		threshold := new(big.Int).SetUint64(e.params.LiquidationThresholdPPM)
		info.Liquidatable = info.HealthFactor.Cmp(threshold) < 0
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// MaxBorrowable is zero while a loan of asset is active, otherwise the lesser
// of pool liquidity and lending capacity.
func (e *Engine) MaxBorrowable(account Account, asset Asset) (*big.Int, error) {
	if !asset.Valid() {
		return nil, errInvalidAsset
	}
	var out *big.Int
	err := e.read(func(tx *txn) error {
		var err error
		out, err = e.maxBorrowable(tx, account, asset)
		return err
	})
	return out, err
}

// MaxWithdrawable is zero without a deposit, otherwise the least of the
// account balance with pending interest, pool liquidity and lending capacity.
func (e *Engine) MaxWithdrawable(account Account, asset Asset) (*big.Int, error) {
	if !asset.Valid() {
		return nil, errInvalidAsset
	}
	var out *big.Int
	err := e.read(func(tx *txn) error {
		var err error
		out, err = e.maxWithdrawable(tx, account, asset)
		return err
	})
	return out, err
}

// RequiredCollateralForMax prices the collateral for a borrow of exactly
// MaxBorrowable. It is a display figure; smaller borrows need less.
func (e *Engine) RequiredCollateralForMax(ctx context.Context, account Account, asset, collateralAsset Asset) (*big.Int, error) {
	if !asset.Valid() || !collateralAsset.Valid() {
		return nil, errInvalidAsset
	}
	var out *big.Int
	err := e.read(func(tx *txn) error {
		maxBorrow, err := e.maxBorrowable(tx, account, asset)
		if err != nil {
			return err
		}
		out, err = newValuer(ctx, e.feed).requiredCollateral(maxBorrow, asset, collateralAsset, e.params.CollateralRatioPct)
		return err
	})
	return out, err
}

// UserLimits reports every bound and capability for the account.
func (e *Engine) UserLimits(ctx context.Context, account Account) (*UserLimits, error) {
	limits := &UserLimits{}
	err := e.read(func(tx *txn) error {
		v := newValuer(ctx, e.feed)
		for _, asset := range Assets {
			maxBorrow, err := e.maxBorrowable(tx, account, asset)
			if err != nil {
				return err
			}
			maxWithdraw, err := e.maxWithdrawable(tx, account, asset)
			if err != nil {
				return err
			}
			limits.MaxBorrow[asset] = maxBorrow
			limits.MaxWithdraw[asset] = maxWithdraw
			limits.CanBorrow[asset] = maxBorrow.Sign() > 0
			limits.CanWithdraw[asset] = maxWithdraw.Sign() > 0
			for _, collateralAsset := range Assets {
				required, err := v.requiredCollateral(maxBorrow, asset, collateralAsset, e.params.CollateralRatioPct)
				if err != nil {
					return err
				}
				limits.RequiredCollateralAtMax[asset][collateralAsset] = required
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return limits, nil
}

// CanBorrow runs the borrow preconditions without mutating anything. A
// failed check returns false with its reason; err is reserved for failures
// that prevented the check from running, such as an oracle error.
func (e *Engine) CanBorrow(ctx context.Context, account Account, amount *big.Int, asset, collateralAsset Asset, collateralAmount *big.Int) (bool, string, error) {
	var ok bool
	var reason string
	err := e.read(func(tx *txn) error {
		_, err := e.checkBorrow(tx, newValuer(ctx, e.feed), account, amount, asset, collateralAsset, collateralAmount)
		ok, reason, err = verdict(err)
		return err
	})
	return ok, reason, err
}

// CanWithdraw runs the withdraw preconditions without mutating anything.
func (e *Engine) CanWithdraw(account Account, amount *big.Int, asset Asset) (bool, string, error) {
	var ok bool
	var reason string
	err := e.read(func(tx *txn) error {
		_, err := e.checkWithdraw(tx, account, amount, asset)
		ok, reason, err = verdict(err)
		return err
	})
	return ok, reason, err
}

func verdict(err error) (bool, string, error) {
	if err == nil {
		return true, "", nil
	}
	var r *rejection
	if errors.As(err, &r) {
		return false, r.reason, nil
	}
	return false, "", err
}

// PoolStats reports pool counters, liquidity, utilisation and rates.
func (e *Engine) PoolStats() (*PoolStats, error) {
	stats := &PoolStats{
		Paused:         e.Paused(),
		CollateralMode: e.params.CollateralMode,
	}
	if e.feed != nil {
		stats.OracleReference = e.feed.Reference()
	}
	err := e.read(func(tx *txn) error {
		pool, err := tx.poolTotals()
		if err != nil {
			return err
		}
		for _, asset := range Assets {
			liquidity, err := e.poolLiquidity(tx, asset)
			if err != nil {
				return err
			}
			s := PoolAssetStats{
				Deposited:     new(big.Int).Set(pool.Deposited[asset]),
				Borrowed:      new(big.Int).Set(pool.Borrowed[asset]),
				Collateral:    new(big.Int).Set(pool.Collateral[asset]),
				Liquidity:     liquidity,
				LendRatePPM:   e.params.Rates.Lend(asset),
				BorrowRatePPM: e.params.Rates.Borrow(asset),
			}
			if s.Deposited.Sign() > 0 {
				s.UtilizationPPM = mulDiv(s.Borrowed, ratePrecision, s.Deposited).Uint64()
			}
			stats.Assets[asset] = s
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// Price returns the current validated oracle price.
func (e *Engine) Price(ctx context.Context) (oracle.PriceSnapshot, error) {
	if e.feed == nil {
		return oracle.PriceSnapshot{}, errNilOracle
	}
	return e.feed.CurrentPrice(ctx)
}
