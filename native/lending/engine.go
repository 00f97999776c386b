package lending

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	nativecommon "github.com/Agihtaws/arbminidefi/native/common"
	"github.com/Agihtaws/arbminidefi/native/oracle"
)

const moduleName = "lending"

// ModuleName is the pause registry key guarding mutating operations.
const ModuleName = moduleName

// PriceFeed is the oracle adapter the engine values collateral with. It can
// be rotated to a new source by the owner.
type PriceFeed interface {
	PriceOracle
	Swap(source oracle.Source, reference string)
	Reference() string
}

// OracleResolver turns an oracle reference into a source.
type OracleResolver interface {
	Resolve(reference string) (oracle.Source, string, error)
}

// PauseSwitch is a pause registry that can also be toggled.
type PauseSwitch interface {
	nativecommon.PauseView
	Set(module string, paused bool) bool
}

// Observer receives operation metrics.
type Observer interface {
	ObserveOperation(operation, asset, outcome string, duration time.Duration)
	RecordPool(asset string, deposited, borrowed, collateral *big.Int)
	SetPause(engaged bool)
}

// Engine owns the ledger: lender and borrower records, pool totals and the
// custody movements that go with them. Mutating operations are serialised by
// a single lock and each commits atomically or not at all.
type Engine struct {
	mu      sync.RWMutex
	owner   Account
	params  Params
	state   engineState
	custody Custody
	feed    PriceFeed
	resolve OracleResolver
	pauses  PauseSwitch
	events  EventSink
	metrics Observer
	logger  *slog.Logger
	now     func() time.Time

	flightMu sync.Mutex
	inFlight map[Account]struct{}
}

// NewEngine constructs an engine owned by owner. Collaborators are wired with
// the Set* methods before use.
func NewEngine(owner Account, params Params) *Engine {
	return &Engine{
		owner:    owner,
		params:   params.normalised(),
		pauses:   nativecommon.NewPauses(),
		events:   NoopSink{},
		logger:   slog.Default(),
		now:      time.Now,
		inFlight: make(map[Account]struct{}),
	}
}

// SetState wires the engine to the persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetCustody wires the asset custody.
func (e *Engine) SetCustody(custody Custody) { e.custody = custody }

// SetPriceFeed wires the oracle adapter and the resolver used to rotate it.
func (e *Engine) SetPriceFeed(feed PriceFeed, resolver OracleResolver) {
	e.feed = feed
	e.resolve = resolver
}

func (e *Engine) SetPauses(p PauseSwitch) {
	if p == nil {
		return
	}
	e.pauses = p
}

func (e *Engine) SetEventSink(sink EventSink) {
	if sink == nil {
		sink = NoopSink{}
	}
	e.events = sink
}

func (e *Engine) SetObserver(observer Observer) { e.metrics = observer }

func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	e.logger = logger.With(slog.String("component", moduleName))
}

// SetClock overrides the time source used for accrual timestamps.
func (e *Engine) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	e.now = now
}

// Params returns the engine's constants.
func (e *Engine) Params() Params { return e.params }

// Owner returns the administrative account.
func (e *Engine) Owner() Account { return e.owner }

// DepositResult reports the lender position after a deposit.
type DepositResult struct {
	Position *LenderPosition
	Accrued  *big.Int
}

// WithdrawResult splits a payout into the interest and principal debited.
type WithdrawResult struct {
	Position      *LenderPosition
	InterestPaid  *big.Int
	PrincipalPaid *big.Int
}

// BorrowResult reports the opened loan.
type BorrowResult struct {
	Loan               Loan
	RequiredCollateral *big.Int
}

// RepayResult reports the settled debt and everything returned to the caller.
type RepayResult struct {
	Owed     *big.Int
	Interest *big.Int
	Refund   *big.Int
	Released [2]*big.Int
}

// Deposit credits amount of asset to the caller's lender position.
func (e *Engine) Deposit(ctx context.Context, caller Account, asset Asset, amount *big.Int) (*DepositResult, error) {
	var result *DepositResult
	err := e.mutate(ctx, "deposit", caller, asset, func(tx *txn, _ *valuer) error {
		if !asset.Valid() {
			return errInvalidAsset
		}
		if !isPositive(amount) {
			return reject(errInvalidAmount, ReasonZeroAmount)
		}
		pos, err := tx.lender(caller, asset)
		if err != nil {
			return err
		}
		accrued := big.NewInt(0)
		if pos == nil {
			pos = &LenderPosition{Principal: big.NewInt(0), Interest: big.NewInt(0), LastAccrual: tx.now}
		} else {
			accrued = accrueLender(pos, e.params.Rates.Lend(asset), tx.now)
		}
		pos.Principal = new(big.Int).Add(valueOrZero(pos.Principal), amount)
		pos.LastDeposit = tx.now
		tx.setLender(caller, asset, pos)

		pool, err := tx.poolTotals()
		if err != nil {
			return err
		}
		pool.Deposited[asset].Add(pool.Deposited[asset], amount)
		tx.markPool()

		tx.pull(caller, asset, amount)
		tx.emit(newEvent(EventDeposit, caller, asset, e.now()).
			with("amount", amount).
			with("accruedInterest", accrued).
			with("principal", pos.Principal))
		result = &DepositResult{Position: pos.Clone(), Accrued: accrued}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Withdraw pays out amount of asset, debiting accrued interest before
// principal. The pool's deposit counter only drops by the principal part.
func (e *Engine) Withdraw(ctx context.Context, caller Account, asset Asset, amount *big.Int) (*WithdrawResult, error) {
	var result *WithdrawResult
	err := e.mutate(ctx, "withdraw", caller, asset, func(tx *txn, _ *valuer) error {
		pos, err := e.checkWithdraw(tx, caller, amount, asset)
		if err != nil {
			return err
		}
		interestPaid := minBig(amount, pos.Interest)
		principalPaid := new(big.Int).Sub(amount, interestPaid)
		pos.Interest = new(big.Int).Sub(pos.Interest, interestPaid)
		pos.Principal = new(big.Int).Sub(pos.Principal, principalPaid)
		tx.setLender(caller, asset, pos)

		pool, err := tx.poolTotals()
		if err != nil {
			return err
		}
		pool.Deposited[asset].Sub(pool.Deposited[asset], principalPaid)
		tx.markPool()

		tx.push(caller, asset, amount)
		tx.emit(newEvent(EventWithdraw, caller, asset, e.now()).
			with("amount", amount).
			with("interestPaid", interestPaid).
			with("principalPaid", principalPaid))
		result = &WithdrawResult{Position: pos.Clone(), InterestPaid: interestPaid, PrincipalPaid: principalPaid}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Borrow opens a loan of amount in asset secured by collateralAmount of
// collateralAsset.
func (e *Engine) Borrow(ctx context.Context, caller Account, asset Asset, amount *big.Int, collateralAsset Asset, collateralAmount *big.Int) (*BorrowResult, error) {
	var result *BorrowResult
	err := e.mutate(ctx, "borrow", caller, asset, func(tx *txn, v *valuer) error {
		required, err := e.checkBorrow(tx, v, caller, amount, asset, collateralAsset, collateralAmount)
		if err != nil {
			return err
		}
		bp, err := tx.borrower(caller)
		if err != nil {
			return err
		}
		loan := Loan{
			Principal:        new(big.Int).Set(amount),
			Active:           true,
			LastAccrual:      tx.now,
			BorrowedAt:       tx.now,
			CollateralAsset:  collateralAsset,
			CollateralAmount: new(big.Int).Set(collateralAmount),
		}
		bp.Loans[asset] = loan
		switch e.params.CollateralMode {
		case CollateralIsolated:
			bp.Collateral[collateralAsset] = new(big.Int).Add(bp.Collateral[collateralAsset], collateralAmount)
		default:
			// Shared fields are overwritten, not summed.
			bp.Collateral[collateralAsset] = new(big.Int).Set(collateralAmount)
		}
		tx.setBorrower(caller, bp)

		pool, err := tx.poolTotals()
		if err != nil {
			return err
		}
		pool.Borrowed[asset].Add(pool.Borrowed[asset], amount)
		pool.Collateral[collateralAsset].Add(pool.Collateral[collateralAsset], collateralAmount)
		tx.markPool()

		tx.pull(caller, collateralAsset, collateralAmount)
		tx.push(caller, asset, amount)
		ev := newEvent(EventBorrow, caller, asset, e.now()).
			with("amount", amount).
			with("collateralAmount", collateralAmount).
			with("requiredCollateral", required)
		ev.Attributes["collateralAsset"] = collateralAsset.Symbol()
		tx.emit(ev)
		result = &BorrowResult{Loan: loan.clone(), RequiredCollateral: required}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Repay settles the caller's loan of asset in full. Payments below the
// total owed are rejected and any excess is refunded.
func (e *Engine) Repay(ctx context.Context, caller Account, asset Asset, payment *big.Int) (*RepayResult, error) {
	var result *RepayResult
	err := e.mutate(ctx, "repay", caller, asset, func(tx *txn, _ *valuer) error {
		if !asset.Valid() {
			return errInvalidAsset
		}
		if !isPositive(payment) {
			return reject(errInvalidAmount, ReasonZeroAmount)
		}
		bp, err := tx.borrower(caller)
		if err != nil {
			return err
		}
		loan := bp.Loans[asset]
		if !loan.Active {
			return fmt.Errorf("%w: %s", errNoActiveLoan, asset)
		}
		borrowed := new(big.Int).Set(loan.Principal)
		interest := accrueBorrower(&loan, e.params.Rates.Borrow(asset), tx.now)
		owed := new(big.Int).Set(loan.Principal)
		if payment.Cmp(owed) < 0 {
			return fmt.Errorf("%w: owed %s %s, paid %s", errPartialRepay, owed, asset, payment)
		}
		refund := new(big.Int).Sub(payment, owed)

		pool, err := tx.poolTotals()
		if err != nil {
			return err
		}
		pool.Borrowed[asset].Sub(pool.Borrowed[asset], borrowed)

		var released [2]*big.Int
		for _, a := range Assets {
			released[a] = big.NewInt(0)
		}
		switch e.params.CollateralMode {
		case CollateralIsolated:
			ca := loan.CollateralAsset
			released[ca] = minBig(valueOrZero(loan.CollateralAmount), bp.Collateral[ca])
			bp.Collateral[ca] = new(big.Int).Sub(bp.Collateral[ca], released[ca])
		default:
			// Repaying either loan releases both shared collateral fields.
			for _, a := range Assets {
				released[a] = new(big.Int).Set(bp.Collateral[a])
				bp.Collateral[a] = big.NewInt(0)
			}
		}
		for _, a := range Assets {
			pool.Collateral[a].Sub(pool.Collateral[a], released[a])
		}
		tx.markPool()

		loan.Principal = big.NewInt(0)
		loan.Active = false
		loan.CollateralAmount = big.NewInt(0)
		bp.Loans[asset] = loan
		tx.setBorrower(caller, bp)

		tx.pull(caller, asset, payment)
		tx.push(caller, asset, refund)
		for _, a := range Assets {
			tx.push(caller, a, released[a])
		}

		ev := newEvent(EventRepay, caller, asset, e.now()).
			with("payment", payment).
			with("owed", owed).
			with("interest", interest).
			with("refund", refund)
		tx.emit(ev)
		for _, a := range Assets {
			if released[a].Sign() > 0 {
				tx.emit(newEvent(EventCollateralFreed, caller, a, e.now()).with("amount", released[a]))
			}
		}
		result = &RepayResult{Owed: owed, Interest: interest, Refund: refund, Released: released}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// mutate runs fn inside a staged transaction. The per-account in-flight
// marker is taken before the ledger lock so a nested call for the same
// account fails instead of deadlocking.
func (e *Engine) mutate(ctx context.Context, op string, caller Account, asset Asset, fn func(tx *txn, v *valuer) error) error {
	started := time.Now()
	events, err := e.mutateLocked(ctx, caller, fn)
	e.observe(op, caller, asset, started, err)
	if err != nil {
		return err
	}
	for _, ev := range events {
		e.events.Emit(ev)
	}
	return nil
}

func (e *Engine) mutateLocked(ctx context.Context, caller Account, fn func(tx *txn, v *valuer) error) ([]Event, error) {
	if err := e.begin(caller); err != nil {
		return nil, err
	}
	defer e.end(caller)

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx := newTxn(e.state, e.timestamp())
	if err := fn(tx, newValuer(ctx, e.feed)); err != nil {
		return nil, err
	}
	if err := tx.apply(e.custody); err != nil {
		return nil, err
	}
	if tx.pool != nil && tx.dirtyPool {
		e.recordPool(tx.pool)
	}
	return tx.events, nil
}

func (e *Engine) begin(account Account) error {
	e.flightMu.Lock()
	defer e.flightMu.Unlock()
	if _, busy := e.inFlight[account]; busy {
		return ErrOperationInProgress
	}
	e.inFlight[account] = struct{}{}
	return nil
}

func (e *Engine) end(account Account) {
	e.flightMu.Lock()
	delete(e.inFlight, account)
	e.flightMu.Unlock()
}

func (e *Engine) ready() error {
	if e.state == nil {
		return errNilState
	}
	if e.custody == nil {
		return errNilCustody
	}
	return nil
}

func (e *Engine) timestamp() uint64 {
	ts := e.now().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func (e *Engine) observe(op string, caller Account, asset Asset, started time.Time, err error) {
	outcome := ErrorClass(err)
	if e.metrics != nil {
		e.metrics.ObserveOperation(op, asset.Symbol(), outcome, time.Since(started))
	}
	attrs := []any{
		slog.String("operation", op),
		slog.String("account", caller.Hex()),
		slog.String("asset", asset.Symbol()),
	}
	switch {
	case err == nil:
		e.logger.Info("ledger operation committed", attrs...)
	case errors.Is(err, ErrOracle):
		e.logger.Warn("ledger operation blocked by oracle", append(attrs, slog.Any("error", err))...)
	case outcome == "internal":
		e.logger.Error("ledger operation failed", append(attrs, slog.Any("error", err))...)
	default:
		e.logger.Debug("ledger operation rejected", append(attrs, slog.String("reason", outcome), slog.Any("error", err))...)
	}
}

func (e *Engine) recordPool(pool *PoolTotals) {
	if e.metrics == nil || pool == nil {
		return
	}
	for _, asset := range Assets {
		e.metrics.RecordPool(asset.Symbol(), pool.Deposited[asset], pool.Borrowed[asset], pool.Collateral[asset])
	}
}
