package lending

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/Agihtaws/arbminidefi/native/oracle"
)

func (e *Engine) requireOwner(caller Account) error {
	if caller != e.owner {
		return fmt.Errorf("%w: %s", ErrAccessControl, caller.Hex())
	}
	return nil
}

// Paused reports whether mutating operations are currently rejected.
func (e *Engine) Paused() bool {
	return e.pauses != nil && e.pauses.IsPaused(moduleName)
}

// Pause rejects every subsequent deposit, withdraw, borrow and repay until
// Unpause. The flag lives in memory only.
func (e *Engine) Pause(caller Account) error {
	return e.setPaused(caller, true)
}

// Unpause re-enables mutating operations.
func (e *Engine) Unpause(caller Account) error {
	return e.setPaused(caller, false)
}

func (e *Engine) setPaused(caller Account, paused bool) error {
	started := time.Now()
	op := "unpause"
	kind := EventUnpaused
	if paused {
		op = "pause"
		kind = EventPaused
	}
	err := func() error {
		if err := e.requireOwner(caller); err != nil {
			return err
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		if !e.pauses.Set(moduleName, paused) {
			if paused {
				return fmt.Errorf("%w: already paused", ErrState)
			}
			return fmt.Errorf("%w: not paused", ErrState)
		}
		return nil
	}()
	e.observe(op, caller, noAsset, started, err)
	if err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.SetPause(paused)
	}
	e.events.Emit(newEvent(kind, caller, noAsset, e.now()))
	return nil
}

// SetPriceOracle points the engine at a new price source. The reference is
// resolved and persisted before the running adapter is swapped.
func (e *Engine) SetPriceOracle(ctx context.Context, caller Account, reference string) (string, error) {
	started := time.Now()
	canonical, err := e.setPriceOracle(ctx, caller, reference)
	e.observe("set_oracle", caller, noAsset, started, err)
	if err != nil {
		return "", err
	}
	ev := newEvent(EventOracleUpdated, caller, noAsset, e.now())
	ev.Attributes["reference"] = canonical
	e.events.Emit(ev)
	return canonical, nil
}

func (e *Engine) setPriceOracle(ctx context.Context, caller Account, reference string) (string, error) {
	if err := e.requireOwner(caller); err != nil {
		return "", err
	}
	if e.feed == nil || e.resolve == nil {
		return "", errNilOracle
	}
	source, canonical, err := e.resolve.Resolve(reference)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tx := newTxn(e.state, e.timestamp())
	tx.setOracleReference(canonical)
	if err := tx.apply(e.custody); err != nil {
		return "", err
	}
	previous := e.feed.Reference()
	e.feed.Swap(source, canonical)
	e.logger.Info("price oracle rotated",
		slog.String("previous", previous),
		slog.String("reference", canonical))
	return canonical, nil
}

// ManualPricer accepts operator published prices. The manual oracle source
// implements it.
type ManualPricer interface {
	SetDecimal(price string, updatedAt time.Time) error
}

// PublishPrice records a new USD price for the native asset on the manual
// oracle and returns the snapshot the ledger now values collateral with. It
// is only accepted while the manual source is the active oracle.
func (e *Engine) PublishPrice(ctx context.Context, caller Account, price string) (oracle.PriceSnapshot, error) {
	started := time.Now()
	snapshot, err := e.publishPrice(ctx, caller, price)
	e.observe("publish_price", caller, AssetNative, started, err)
	if err != nil {
		return oracle.PriceSnapshot{}, err
	}
	ev := newEvent(EventPricePublished, caller, AssetNative, e.now())
	ev.Attributes["price"] = snapshot.Price.String()
	ev.Attributes["round"] = fmt.Sprintf("%d", snapshot.RoundID)
	e.events.Emit(ev)
	return snapshot, nil
}

func (e *Engine) publishPrice(ctx context.Context, caller Account, price string) (oracle.PriceSnapshot, error) {
	if err := e.requireOwner(caller); err != nil {
		return oracle.PriceSnapshot{}, err
	}
	if e.feed == nil || e.resolve == nil {
		return oracle.PriceSnapshot{}, errNilOracle
	}
	if ref := e.feed.Reference(); ref != oracle.KindManual {
		return oracle.PriceSnapshot{}, fmt.Errorf("%w: active oracle %q does not accept published prices", ErrState, ref)
	}
	source, _, err := e.resolve.Resolve(oracle.KindManual)
	if err != nil {
		return oracle.PriceSnapshot{}, fmt.Errorf("%w: %v", ErrOracle, err)
	}
	pricer, ok := source.(ManualPricer)
	if !ok {
		return oracle.PriceSnapshot{}, errNilOracle
	}
	if err := ctx.Err(); err != nil {
		return oracle.PriceSnapshot{}, err
	}
	e.mu.Lock()
	err = pricer.SetDecimal(price, e.now())
	e.mu.Unlock()
	if err != nil {
		return oracle.PriceSnapshot{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	snapshot, err := e.feed.CurrentPrice(ctx)
	if err != nil {
		return oracle.PriceSnapshot{}, err
	}
	e.logger.Info("manual price published",
		slog.String("price", snapshot.Price.String()),
		slog.Uint64("round", snapshot.RoundID))
	return snapshot, nil
}

// EmergencySweep moves amount of asset out of custody to the given account
// without touching any ledger record. It is only available while paused and
// is meant for recovering stranded balances.
func (e *Engine) EmergencySweep(ctx context.Context, caller Account, asset Asset, amount *big.Int, to Account) error {
	started := time.Now()
	err := e.sweep(ctx, caller, asset, amount, to)
	e.observe("emergency_sweep", caller, asset, started, err)
	if err != nil {
		return err
	}
	ev := newEvent(EventEmergencySweep, caller, asset, e.now()).with("amount", amount)
	ev.Attributes["to"] = to.Hex()
	e.events.Emit(ev)
	return nil
}

func (e *Engine) sweep(ctx context.Context, caller Account, asset Asset, amount *big.Int, to Account) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if !asset.Valid() {
		return errInvalidAsset
	}
	if !isPositive(amount) {
		return errInvalidAmount
	}
	if to == (Account{}) {
		return fmt.Errorf("%w: sweep recipient required", ErrValidation)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return err
	}
	if !e.Paused() {
		return errNotPaused
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	balance, err := e.custody.Balance(asset)
	if err != nil {
		return fmt.Errorf("custody balance %s: %w", asset, err)
	}
	if amount.Cmp(valueOrZero(balance)) > 0 {
		return fmt.Errorf("%w: sweep %s exceeds custody balance %s", ErrInsufficientLiquidity, amount, balance)
	}
	tx := newTxn(e.state, e.timestamp())
	tx.push(to, asset, amount)
	return tx.apply(e.custody)
}
