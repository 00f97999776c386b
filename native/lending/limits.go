package lending

import (
	"fmt"
	"math/big"
)

// poolLiquidity is the custody balance of asset not held as collateral.
func (e *Engine) poolLiquidity(tx *txn, asset Asset) (*big.Int, error) {
	pool, err := tx.poolTotals()
	if err != nil {
		return nil, err
	}
	balance, err := e.custody.Balance(asset)
	if err != nil {
		return nil, fmt.Errorf("custody balance %s: %w", asset, err)
	}
	liquidity := new(big.Int).Sub(valueOrZero(balance), pool.Collateral[asset])
	return floorZero(liquidity), nil
}

// borrowBounds returns the two limits a new borrow is held to.
func (e *Engine) borrowBounds(tx *txn, asset Asset) (liquidity, capacity *big.Int, err error) {
	liquidity, err = e.poolLiquidity(tx, asset)
	if err != nil {
		return nil, nil, err
	}
	pool, err := tx.poolTotals()
	if err != nil {
		return nil, nil, err
	}
	return liquidity, pool.Capacity(asset), nil
}

func (e *Engine) maxBorrowable(tx *txn, account Account, asset Asset) (*big.Int, error) {
	bp, err := tx.borrower(account)
	if err != nil {
		return nil, err
	}
	if bp.Loans[asset].Active {
		return big.NewInt(0), nil
	}
	liquidity, capacity, err := e.borrowBounds(tx, asset)
	if err != nil {
		return nil, err
	}
	return minBig(liquidity, capacity), nil
}

// accruedLender returns a copy of the lender position with pending interest
// booked, or nil when the account has no deposit.
func (e *Engine) accruedLender(tx *txn, account Account, asset Asset) (*LenderPosition, error) {
	pos, err := tx.lender(account, asset)
	if err != nil || pos == nil {
		return nil, err
	}
	accrueLender(pos, e.params.Rates.Lend(asset), tx.now)
	return pos, nil
}

func (e *Engine) maxWithdrawable(tx *txn, account Account, asset Asset) (*big.Int, error) {
	pos, err := e.accruedLender(tx, account, asset)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return big.NewInt(0), nil
	}
	liquidity, capacity, err := e.borrowBounds(tx, asset)
	if err != nil {
		return nil, err
	}
	return minBig(pos.Balance(), liquidity, capacity), nil
}

// checkWithdraw applies every withdraw precondition and returns the accrued
// position the withdrawal will debit.
func (e *Engine) checkWithdraw(tx *txn, account Account, amount *big.Int, asset Asset) (*LenderPosition, error) {
	if !asset.Valid() {
		return nil, errInvalidAsset
	}
	if !isPositive(amount) {
		return nil, reject(errInvalidAmount, ReasonZeroAmount)
	}
	reason := reasonExceedsWithdrawable(asset)
	pos, err := e.accruedLender(tx, account, asset)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return nil, reject(errNoDeposit, reason)
	}
	if amount.Cmp(pos.Balance()) > 0 {
		return nil, reject(errInsufficientFund, reason)
	}
	liquidity, capacity, err := e.borrowBounds(tx, asset)
	if err != nil {
		return nil, err
	}
	if amount.Cmp(liquidity) > 0 {
		return nil, reject(ErrInsufficientLiquidity, reason)
	}
	if amount.Cmp(capacity) > 0 {
		return nil, reject(ErrSolvencyViolation, reason)
	}
	return pos, nil
}

// checkBorrow applies every borrow precondition in the order CanBorrow
// reports them and returns the required collateral.
func (e *Engine) checkBorrow(tx *txn, v *valuer, account Account, amount *big.Int, asset, collateralAsset Asset, collateralAmount *big.Int) (*big.Int, error) {
	if !asset.Valid() || !collateralAsset.Valid() {
		return nil, errInvalidAsset
	}
	if !isPositive(amount) {
		return nil, reject(errInvalidAmount, ReasonZeroAmount)
	}
	bp, err := tx.borrower(account)
	if err != nil {
		return nil, err
	}
	if bp.Loans[asset].Active {
		return nil, reject(errActiveLoan, reasonActiveLoan(asset))
	}
	liquidity, capacity, err := e.borrowBounds(tx, asset)
	if err != nil {
		return nil, err
	}
	if amount.Cmp(liquidity) > 0 {
		return nil, reject(ErrInsufficientLiquidity, reasonExceedsBorrowable(asset))
	}
	if amount.Cmp(capacity) > 0 {
		return nil, reject(ErrSolvencyViolation, reasonExceedsBorrowable(asset))
	}
	required, err := v.requiredCollateral(amount, asset, collateralAsset, e.params.CollateralRatioPct)
	if err != nil {
		return nil, err
	}
	if !isPositive(collateralAmount) || collateralAmount.Cmp(required) < 0 {
		return nil, reject(ErrInsufficientCollateral, ReasonInsufficientCollateral)
	}
	return required, nil
}
