package lending

import (
	"math/big"
	"testing"
)

func TestHealthFactor(t *testing.T) {
	f := newFixture(t, DefaultParams())
	f.deposit(bob, AssetNative, eth(10))
	f.custody.fund(alice, AssetStable, usdc(4500))

	info, err := f.engine.BorrowerInfo(ctxBG, alice)
	if err != nil {
		t.Fatalf("borrower info: %v", err)
	}
	if info.HealthFactor != nil || info.Liquidatable {
		t.Fatalf("no debt should report no health factor, got %v", info.HealthFactor)
	}

	if _, err := f.engine.Borrow(ctxBG, alice, AssetNative, eth(1), AssetStable, usdc(4500)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	info, err = f.engine.BorrowerInfo(ctxBG, alice)
	if err != nil {
		t.Fatalf("borrower info: %v", err)
	}
	if info.HealthFactor.Cmp(big.NewInt(1_500_000)) != 0 || info.Liquidatable {
		t.Fatalf("expected 1.5 health factor, got %s liquidatable=%v", info.HealthFactor, info.Liquidatable)
	}

	f.setPrice("4000")
	info, err = f.engine.BorrowerInfo(ctxBG, alice)
	if err != nil {
		t.Fatalf("borrower info: %v", err)
	}
	if info.HealthFactor.Cmp(big.NewInt(1_125_000)) != 0 || !info.Liquidatable {
		t.Fatalf("expected liquidatable at 1.125, got %s liquidatable=%v", info.HealthFactor, info.Liquidatable)
	}
}

func TestPoolStats(t *testing.T) {
	f := newFixture(t, DefaultParams())
	f.deposit(bob, AssetNative, eth(10))
	f.custody.fund(alice, AssetStable, usdc(4500))
	if _, err := f.engine.Borrow(ctxBG, alice, AssetNative, eth(1), AssetStable, usdc(4500)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	stats, err := f.engine.PoolStats()
	if err != nil {
		t.Fatalf("pool stats: %v", err)
	}
	native := stats.Assets[AssetNative]
	if native.UtilizationPPM != 100_000 {
		t.Fatalf("expected 10%% utilisation, got %d ppm", native.UtilizationPPM)
	}
	if native.Liquidity.Cmp(eth(9)) != 0 {
		t.Fatalf("expected 9 ETH liquidity, got %s", native.Liquidity)
	}
	if native.LendRatePPM != 30_000 || native.BorrowRatePPM != 50_000 {
		t.Fatalf("unexpected rates %d/%d", native.LendRatePPM, native.BorrowRatePPM)
	}
	stable := stats.Assets[AssetStable]
	if stable.Collateral.Cmp(usdc(4500)) != 0 || stable.Liquidity.Sign() != 0 || stable.UtilizationPPM != 0 {
		t.Fatalf("unexpected stable stats %+v", stable)
	}
	if stats.OracleReference != "manual" || stats.CollateralMode != CollateralShared {
		t.Fatalf("unexpected config in stats %+v", stats)
	}
}

func TestRequiredCollateralForMax(t *testing.T) {
	f := newFixture(t, DefaultParams())
	f.deposit(bob, AssetStable, usdc(600))

	got, err := f.engine.RequiredCollateralForMax(ctxBG, alice, AssetStable, AssetNative)
	if err != nil {
		t.Fatalf("required collateral: %v", err)
	}
	// 600 USDC at 150% is 900 USD, 0.3 ETH at 3000.
	if got.Cmp(big.NewInt(300_000_000_000_000_000)) != 0 {
		t.Fatalf("expected 0.3 ETH, got %s", got)
	}
}

func TestViewsRejectUnknownAsset(t *testing.T) {
	f := newFixture(t, DefaultParams())
	if _, err := f.engine.MaxBorrowable(alice, Asset(9)); err == nil {
		t.Fatalf("expected unknown asset rejected")
	}
	if _, err := f.engine.MaxWithdrawable(alice, Asset(9)); err == nil {
		t.Fatalf("expected unknown asset rejected")
	}
}
