package lending

import (
	"context"
	"errors"
	"math/big"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/Agihtaws/arbminidefi/native/oracle"
)

func TestDepositWithdrawRoundTrip(t *testing.T) {
	f := newFixture(t, DefaultParams())
	f.deposit(alice, AssetNative, eth(2))

	res, err := f.engine.Withdraw(ctxBG, alice, AssetNative, eth(2))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if res.InterestPaid.Sign() != 0 || res.PrincipalPaid.Cmp(eth(2)) != 0 {
		t.Fatalf("unexpected split interest=%s principal=%s", res.InterestPaid, res.PrincipalPaid)
	}
	if got := f.custody.wallet(alice, AssetNative); got.Cmp(eth(2)) != 0 {
		t.Fatalf("wallet not restored: %s", got)
	}
	pos, err := f.store.GetLender(alice, AssetNative)
	if err != nil {
		t.Fatalf("load lender: %v", err)
	}
	if pos != nil {
		t.Fatalf("emptied lender record should be deleted, got %+v", pos)
	}
	if pool := f.pool(); pool.Deposited[AssetNative].Sign() != 0 {
		t.Fatalf("pool deposits not cleared: %s", pool.Deposited[AssetNative])
	}
	want := []string{EventDeposit, EventWithdraw}
	if got := f.sink.types(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestWithdrawDebitsInterestFirst(t *testing.T) {
	f := newFixture(t, DefaultParams())
	f.deposit(alice, AssetStable, usdc(10))
	f.deposit(bob, AssetStable, usdc(10))
	f.clock.advance(time.Duration(SecondsPerYear) * time.Second)

	res, err := f.engine.Withdraw(ctxBG, alice, AssetStable, usdc(1))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if res.InterestPaid.Cmp(big.NewInt(400_000)) != 0 {
		t.Fatalf("expected all 0.4 USDC interest paid first, got %s", res.InterestPaid)
	}
	if res.PrincipalPaid.Cmp(big.NewInt(600_000)) != 0 {
		t.Fatalf("expected 0.6 USDC principal, got %s", res.PrincipalPaid)
	}
	pool := f.pool()
	if want := big.NewInt(19_400_000); pool.Deposited[AssetStable].Cmp(want) != 0 {
		t.Fatalf("pool deposits should drop by principal only: got %s want %s", pool.Deposited[AssetStable], want)
	}
	audit, err := f.store.Audit()
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if !audit.DepositsBalance {
		t.Fatalf("lender principal no longer matches pool: %+v", audit)
	}
}

func TestDepositRejectsInvalidInput(t *testing.T) {
	f := newFixture(t, DefaultParams())
	if _, err := f.engine.Deposit(ctxBG, alice, AssetNative, big.NewInt(0)); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for zero amount, got %v", err)
	}
	if _, err := f.engine.Deposit(ctxBG, alice, Asset(7), eth(1)); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for unknown asset, got %v", err)
	}
	// Custody refuses: nothing in the wallet.
	if _, err := f.engine.Deposit(ctxBG, alice, AssetNative, eth(1)); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for unfunded wallet, got %v", err)
	}
	if pool := f.pool(); pool.Deposited[AssetNative].Sign() != 0 {
		t.Fatalf("failed deposit changed pool: %s", pool.Deposited[AssetNative])
	}
}

func TestBorrowOpensLoan(t *testing.T) {
	f := newFixture(t, DefaultParams())
	f.deposit(bob, AssetNative, eth(10))
	f.custody.fund(alice, AssetStable, usdc(10_000))

	res, err := f.engine.Borrow(ctxBG, alice, AssetNative, eth(1), AssetStable, usdc(4500))
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if res.RequiredCollateral.Cmp(usdc(4500)) != 0 {
		t.Fatalf("expected 4500 USDC required, got %s", res.RequiredCollateral)
	}
	if got := f.custody.wallet(alice, AssetNative); got.Cmp(eth(1)) != 0 {
		t.Fatalf("borrowed ETH not delivered: %s", got)
	}
	if got := f.custody.wallet(alice, AssetStable); got.Cmp(usdc(5500)) != 0 {
		t.Fatalf("collateral not pulled: %s", got)
	}
	pool := f.pool()
	if pool.Borrowed[AssetNative].Cmp(eth(1)) != 0 || pool.Collateral[AssetStable].Cmp(usdc(4500)) != 0 {
		t.Fatalf("unexpected pool %+v", pool)
	}

	// A second loan of the same asset is refused regardless of collateral.
	_, err = f.engine.Borrow(ctxBG, alice, AssetNative, big.NewInt(1), AssetStable, usdc(5000))
	if !errors.Is(err, ErrState) || Reason(err) != "Active ETH loan exists" {
		t.Fatalf("expected active loan rejection, got %v", err)
	}
	ok, reason, err := f.engine.CanBorrow(ctxBG, alice, big.NewInt(1), AssetNative, AssetStable, usdc(5000))
	if err != nil || ok || reason != "Active ETH loan exists" {
		t.Fatalf("CanBorrow disagreed: ok=%v reason=%q err=%v", ok, reason, err)
	}
}

func TestBorrowRejectsShortCollateral(t *testing.T) {
	f := newFixture(t, DefaultParams())
	f.deposit(bob, AssetNative, eth(10))
	f.custody.fund(alice, AssetStable, usdc(10_000))

	short := plus(usdc(4500), -1)
	_, err := f.engine.Borrow(ctxBG, alice, AssetNative, eth(1), AssetStable, short)
	if !errors.Is(err, ErrInsufficientCollateral) || Reason(err) != ReasonInsufficientCollateral {
		t.Fatalf("expected insufficient collateral, got %v", err)
	}
	_, err = f.engine.Borrow(ctxBG, alice, AssetNative, eth(1), AssetStable, big.NewInt(0))
	if !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("expected zero collateral rejected, got %v", err)
	}
	if got := f.custody.wallet(alice, AssetStable); got.Cmp(usdc(10_000)) != 0 {
		t.Fatalf("rejected borrow moved funds: %s", got)
	}
}

func TestRepayExactOwed(t *testing.T) {
	f := newFixture(t, DefaultParams())
	f.deposit(bob, AssetNative, eth(10))
	f.custody.fund(alice, AssetStable, usdc(10_000))
	f.custody.fund(alice, AssetNative, eth(1))

	if _, err := f.engine.Borrow(ctxBG, alice, AssetNative, eth(1), AssetStable, usdc(4500)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	f.clock.advance(30 * 24 * time.Hour)
	f.setPrice("3000")

	info, err := f.engine.BorrowerInfo(ctxBG, alice)
	if err != nil {
		t.Fatalf("borrower info: %v", err)
	}
	owed := info.Loans[AssetNative].Owed
	if owed.Cmp(eth(1)) <= 0 {
		t.Fatalf("expected interest after 30 days, owed %s", owed)
	}

	_, err = f.engine.Repay(ctxBG, alice, AssetNative, plus(owed, -1))
	if !errors.Is(err, ErrState) {
		t.Fatalf("expected partial repayment rejected, got %v", err)
	}

	res, err := f.engine.Repay(ctxBG, alice, AssetNative, owed)
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if res.Refund.Sign() != 0 {
		t.Fatalf("exact repayment refunded %s", res.Refund)
	}
	if res.Owed.Cmp(owed) != 0 {
		t.Fatalf("owed changed between view and repay: %s vs %s", res.Owed, owed)
	}
	if res.Released[AssetStable].Cmp(usdc(4500)) != 0 {
		t.Fatalf("collateral not released: %s", res.Released[AssetStable])
	}
	if got := f.custody.wallet(alice, AssetStable); got.Cmp(usdc(10_000)) != 0 {
		t.Fatalf("collateral not returned to wallet: %s", got)
	}
	pool := f.pool()
	if pool.Borrowed[AssetNative].Sign() != 0 || pool.Collateral[AssetStable].Sign() != 0 {
		t.Fatalf("pool not cleared after repay: %+v", pool)
	}
	bp, err := f.store.GetBorrower(alice)
	if err != nil {
		t.Fatalf("load borrower: %v", err)
	}
	if bp != nil {
		t.Fatalf("settled borrower record should be deleted, got %+v", bp)
	}
}

func TestRepayOverpaymentRefunds(t *testing.T) {
	f := newFixture(t, DefaultParams())
	f.deposit(bob, AssetStable, usdc(5000))
	f.custody.fund(alice, AssetNative, eth(1))
	f.custody.fund(alice, AssetStable, usdc(1))

	if _, err := f.engine.Borrow(ctxBG, alice, AssetStable, usdc(1000), AssetNative, eth(1)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	res, err := f.engine.Repay(ctxBG, alice, AssetStable, plus(usdc(1000), 1))
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if res.Refund.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("expected refund of one unit, got %s", res.Refund)
	}
	if got := f.custody.wallet(alice, AssetStable); got.Cmp(usdc(1)) != 0 {
		t.Fatalf("refund not returned: %s", got)
	}
}

func TestRepayWithoutLoan(t *testing.T) {
	f := newFixture(t, DefaultParams())
	f.custody.fund(alice, AssetNative, eth(1))
	if _, err := f.engine.Repay(ctxBG, alice, AssetNative, eth(1)); !errors.Is(err, ErrState) {
		t.Fatalf("expected no active loan error, got %v", err)
	}
}

func TestBorrowerCompoundingAcrossRepayWindow(t *testing.T) {
	f := newFixture(t, DefaultParams())
	f.deposit(bob, AssetStable, usdc(5000))
	f.custody.fund(alice, AssetStable, usdc(10_000))

	if _, err := f.engine.Borrow(ctxBG, alice, AssetStable, usdc(100), AssetStable, usdc(150)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	f.clock.advance(time.Duration(SecondsPerYear) * time.Second)
	info, err := f.engine.BorrowerInfo(ctxBG, alice)
	if err != nil {
		t.Fatalf("borrower info: %v", err)
	}
	if got := info.Loans[AssetStable].Owed; got.Cmp(usdc(106)) != 0 {
		t.Fatalf("expected 106 USDC owed after a year, got %s", got)
	}
}

func TestSharedCollateralReleasedByEitherRepay(t *testing.T) {
	f := newFixture(t, DefaultParams())
	f.deposit(bob, AssetNative, eth(10))
	f.deposit(bob, AssetStable, usdc(10_000))
	f.custody.fund(alice, AssetStable, usdc(4500))
	f.custody.fund(alice, AssetNative, big.NewInt(500_000_000_000_000_000))

	if _, err := f.engine.Borrow(ctxBG, alice, AssetNative, eth(1), AssetStable, usdc(4500)); err != nil {
		t.Fatalf("borrow eth: %v", err)
	}
	if _, err := f.engine.Borrow(ctxBG, alice, AssetStable, usdc(1000), AssetNative, big.NewInt(500_000_000_000_000_000)); err != nil {
		t.Fatalf("borrow usdc: %v", err)
	}
	res, err := f.engine.Repay(ctxBG, alice, AssetNative, eth(1))
	if err != nil {
		t.Fatalf("repay eth: %v", err)
	}
	if res.Released[AssetStable].Cmp(usdc(4500)) != 0 || res.Released[AssetNative].Cmp(big.NewInt(500_000_000_000_000_000)) != 0 {
		t.Fatalf("shared mode should release both fields, got %v", res.Released)
	}
	info, err := f.engine.BorrowerInfo(ctxBG, alice)
	if err != nil {
		t.Fatalf("borrower info: %v", err)
	}
	if !info.Loans[AssetStable].Active {
		t.Fatalf("USDC loan should remain active")
	}
	if info.Collateral[AssetNative].Sign() != 0 || info.Collateral[AssetStable].Sign() != 0 {
		t.Fatalf("shared collateral not cleared: %v", info.Collateral)
	}
	f.assertSolvent()
}

func TestIsolatedCollateralReleasesOnlyOwnLoan(t *testing.T) {
	params := DefaultParams()
	params.CollateralMode = CollateralIsolated
	f := newFixture(t, params)
	f.deposit(bob, AssetNative, eth(10))
	f.deposit(bob, AssetStable, usdc(10_000))
	f.custody.fund(alice, AssetStable, usdc(4500))
	f.custody.fund(alice, AssetNative, big.NewInt(500_000_000_000_000_000))

	if _, err := f.engine.Borrow(ctxBG, alice, AssetNative, eth(1), AssetStable, usdc(4500)); err != nil {
		t.Fatalf("borrow eth: %v", err)
	}
	if _, err := f.engine.Borrow(ctxBG, alice, AssetStable, usdc(1000), AssetNative, big.NewInt(500_000_000_000_000_000)); err != nil {
		t.Fatalf("borrow usdc: %v", err)
	}
	res, err := f.engine.Repay(ctxBG, alice, AssetNative, eth(1))
	if err != nil {
		t.Fatalf("repay eth: %v", err)
	}
	if res.Released[AssetStable].Cmp(usdc(4500)) != 0 || res.Released[AssetNative].Sign() != 0 {
		t.Fatalf("isolated mode released %v", res.Released)
	}
	info, err := f.engine.BorrowerInfo(ctxBG, alice)
	if err != nil {
		t.Fatalf("borrower info: %v", err)
	}
	if info.Collateral[AssetNative].Cmp(big.NewInt(500_000_000_000_000_000)) != 0 {
		t.Fatalf("USDC loan collateral was released: %s", info.Collateral[AssetNative])
	}
	if pool := f.pool(); pool.Collateral[AssetNative].Cmp(big.NewInt(500_000_000_000_000_000)) != 0 {
		t.Fatalf("pool collateral out of step: %s", pool.Collateral[AssetNative])
	}
}

func TestFailedPushRollsBackBorrow(t *testing.T) {
	f := newFixture(t, DefaultParams())
	f.deposit(bob, AssetNative, eth(10))
	f.custody.fund(alice, AssetStable, usdc(4500))
	before := f.pool()

	f.custody.failNextPush = true
	_, err := f.engine.Borrow(ctxBG, alice, AssetNative, eth(1), AssetStable, usdc(4500))
	if !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected push failure surfaced as liquidity error, got %v", err)
	}
	if got := f.custody.wallet(alice, AssetStable); got.Cmp(usdc(4500)) != 0 {
		t.Fatalf("collateral pull not compensated: %s", got)
	}
	after := f.pool()
	for _, asset := range Assets {
		if after.Borrowed[asset].Cmp(before.Borrowed[asset]) != 0 || after.Collateral[asset].Cmp(before.Collateral[asset]) != 0 {
			t.Fatalf("pool changed by failed borrow: before %+v after %+v", before, after)
		}
	}
	bp, err := f.store.GetBorrower(alice)
	if err != nil || bp != nil {
		t.Fatalf("failed borrow persisted borrower %+v (err %v)", bp, err)
	}
	if len(f.sink.events) != 1 {
		t.Fatalf("failed borrow emitted events: %v", f.sink.types())
	}
}

type failingCommit struct {
	*Store
	err error
}

func (f *failingCommit) Commit(cs *Changeset) error {
	if f.err != nil {
		return f.err
	}
	return f.Store.Commit(cs)
}

func TestCommitFailureCompensatesCustody(t *testing.T) {
	f := newFixture(t, DefaultParams())
	state := &failingCommit{Store: f.store, err: errors.New("disk full")}
	f.engine.SetState(state)
	f.custody.fund(alice, AssetNative, eth(1))

	if _, err := f.engine.Deposit(ctxBG, alice, AssetNative, eth(1)); err == nil {
		t.Fatalf("expected commit failure")
	}
	if got := f.custody.wallet(alice, AssetNative); got.Cmp(eth(1)) != 0 {
		t.Fatalf("deposit pull not compensated: %s", got)
	}
	if bal, _ := f.custody.Balance(AssetNative); bal.Sign() != 0 {
		t.Fatalf("custody retained funds: %s", bal)
	}

	state.err = nil
	if _, err := f.engine.Deposit(ctxBG, alice, AssetNative, eth(1)); err != nil {
		t.Fatalf("deposit after recovery: %v", err)
	}
}

func TestEngineRequiresCollaborators(t *testing.T) {
	e := NewEngine(ownerAddr, DefaultParams())
	if _, err := e.Deposit(ctxBG, alice, AssetNative, eth(1)); err == nil {
		t.Fatalf("expected error without state")
	}
	if _, err := e.LenderInfo(alice); err == nil {
		t.Fatalf("expected view error without state")
	}
}

func TestCanceledContextRejected(t *testing.T) {
	f := newFixture(t, DefaultParams())
	f.custody.fund(alice, AssetNative, eth(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.engine.Deposit(ctx, alice, AssetNative, eth(1)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

// reentrantSource calls back into the engine for the account that is
// currently borrowing.
type reentrantSource struct {
	engine  *Engine
	account Account
	inner   oracle.Source
	nested  error
}

func (r *reentrantSource) LatestRound(ctx context.Context) (oracle.Round, error) {
	_, r.nested = r.engine.Deposit(ctx, r.account, AssetStable, big.NewInt(1))
	return r.inner.LatestRound(ctx)
}

func TestNestedCallForSameAccountRejected(t *testing.T) {
	f := newFixture(t, DefaultParams())
	f.deposit(bob, AssetNative, eth(10))
	f.custody.fund(alice, AssetStable, usdc(5000))

	source := &reentrantSource{engine: f.engine, account: alice, inner: f.manual}
	f.adapter.Swap(source, "manual")

	if _, err := f.engine.Borrow(ctxBG, alice, AssetNative, eth(1), AssetStable, usdc(4500)); err != nil {
		t.Fatalf("outer borrow: %v", err)
	}
	if !errors.Is(source.nested, ErrOperationInProgress) || !errors.Is(source.nested, ErrState) {
		t.Fatalf("expected nested call rejected as in progress, got %v", source.nested)
	}
	if got := f.custody.wallet(alice, AssetStable); got.Cmp(usdc(500)) != 0 {
		t.Fatalf("nested deposit moved funds: %s", got)
	}
}

func TestPoolSolvencyUnderRandomOperations(t *testing.T) {
	f := newFixture(t, DefaultParams())
	accounts := []Account{alice, bob, carol}
	for _, account := range accounts {
		f.custody.fund(account, AssetNative, eth(1_000))
		f.custody.fund(account, AssetStable, usdc(10_000_000))
	}
	rng := rand.New(rand.NewSource(7))
	randomAmount := func(asset Asset) *big.Int {
		if asset == AssetNative {
			return new(big.Int).Mul(big.NewInt(rng.Int63n(5_000)+1), big.NewInt(1_000_000_000_000_000))
		}
		return new(big.Int).Mul(big.NewInt(rng.Int63n(20_000)+1), big.NewInt(1_000_000))
	}

	for i := 0; i < 400; i++ {
		account := accounts[rng.Intn(len(accounts))]
		asset := Assets[rng.Intn(len(Assets))]
		var err error
		switch rng.Intn(4) {
		case 0:
			_, err = f.engine.Deposit(ctxBG, account, asset, randomAmount(asset))
		case 1:
			_, err = f.engine.Withdraw(ctxBG, account, asset, randomAmount(asset))
		case 2:
			collateral := Assets[rng.Intn(len(Assets))]
			amount := randomAmount(asset)
			required, reqErr := f.engine.RequiredCollateralForMax(ctxBG, account, asset, collateral)
			if reqErr != nil {
				t.Fatalf("required collateral: %v", reqErr)
			}
			_, err = f.engine.Borrow(ctxBG, account, asset, amount, collateral, plus(required, 1))
		case 3:
			info, infoErr := f.engine.BorrowerInfo(ctxBG, account)
			if infoErr != nil {
				t.Fatalf("borrower info: %v", infoErr)
			}
			if info.Loans[asset].Active {
				_, err = f.engine.Repay(ctxBG, account, asset, info.Loans[asset].Owed)
			}
		}
		if ErrorClass(err) == "internal" {
			t.Fatalf("operation %d failed unexpectedly: %v", i, err)
		}
		f.assertSolvent()
		f.clock.advance(time.Duration(rng.Intn(7*86_400)) * time.Second)
		f.setPrice([]string{"2500", "3000", "3500"}[rng.Intn(3)])
	}

	audit, err := f.store.Audit()
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if !audit.DepositsBalance {
		t.Fatalf("lender principal diverged from pool deposits: %+v", audit)
	}
}
