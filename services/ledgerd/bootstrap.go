package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	ledgerconfig "github.com/Agihtaws/arbminidefi/config"
	"github.com/Agihtaws/arbminidefi/native/custody"
	"github.com/Agihtaws/arbminidefi/native/lending"
	"github.com/Agihtaws/arbminidefi/native/oracle"
	"github.com/Agihtaws/arbminidefi/observability"
	"github.com/Agihtaws/arbminidefi/storage"
)

var genesisMarker = []byte("ledgerd/genesis")

// ledger bundles the engine with the resources that must be released on
// shutdown.
type ledger struct {
	engine  *lending.Engine
	store   *lending.Store
	vault   *custody.Vault
	adapter *oracle.Adapter
	closers []func() error
}

func (l *ledger) Close() error {
	var errs []error
	for i := len(l.closers) - 1; i >= 0; i-- {
		if err := l.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openLedger opens the data directory and wires the engine's collaborators.
// Genesis balances are credited only the first time a data directory is
// opened.
func openLedger(ctx context.Context, cfg *ledgerconfig.Config, sink lending.EventSink, logger *slog.Logger) (*ledger, error) {
	owner, err := cfg.OwnerAddress()
	if err != nil {
		return nil, err
	}
	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	l := &ledger{closers: []func() error{db.Close}}
	fail := func(err error) (*ledger, error) {
		_ = l.Close()
		return nil, err
	}

	l.store = lending.NewStore(db)
	l.vault = custody.NewVault(db)
	if err := applyGenesis(db, l.vault, cfg, logger); err != nil {
		return fail(err)
	}

	resolver, err := newResolver(ctx, cfg.Oracle, l)
	if err != nil {
		return fail(err)
	}
	reference := cfg.Oracle.Reference
	persisted, err := l.store.GetOracleReference()
	if err != nil {
		return fail(fmt.Errorf("load oracle reference: %w", err))
	}
	if persisted != "" {
		reference = persisted
	}
	source, canonical, err := resolver.Resolve(reference)
	if err != nil {
		return fail(fmt.Errorf("resolve oracle %q: %w", reference, err))
	}
	l.adapter = oracle.NewAdapter(source, canonical, cfg.Oracle.MaxAge())
	l.adapter.SetObserver(observability.Ledger())

	engine := lending.NewEngine(owner, cfg.Params())
	engine.SetState(l.store)
	engine.SetCustody(l.vault)
	engine.SetPriceFeed(l.adapter, resolver)
	if sink != nil {
		engine.SetEventSink(sink)
	}
	engine.SetObserver(observability.Ledger())
	engine.SetLogger(logger)
	l.engine = engine

	report, err := l.store.Audit()
	if err != nil {
		return fail(fmt.Errorf("audit ledger: %w", err))
	}
	if !report.DepositsBalance {
		logger.Warn("pool deposits disagree with lender records",
			slog.Int("lenders", report.Lenders),
			slog.String("principal_eth", lending.FormatAmount(lending.AssetNative, report.PrincipalSum[lending.AssetNative])),
			slog.String("deposited_eth", lending.FormatAmount(lending.AssetNative, report.Deposited[lending.AssetNative])),
			slog.String("principal_usdc", lending.FormatAmount(lending.AssetStable, report.PrincipalSum[lending.AssetStable])),
			slog.String("deposited_usdc", lending.FormatAmount(lending.AssetStable, report.Deposited[lending.AssetStable])))
	}
	logger.Info("ledger opened",
		slog.String("owner", owner.Hex()),
		slog.String("oracle", canonical),
		slog.String("collateral_mode", cfg.Ledger.CollateralMode),
		slog.Int("lenders", report.Lenders))
	return l, nil
}

func applyGenesis(db storage.Database, vault *custody.Vault, cfg *ledgerconfig.Config, logger *slog.Logger) error {
	if _, err := db.Get(genesisMarker); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("read genesis marker: %w", err)
	}
	credits, err := cfg.GenesisCredits()
	if err != nil {
		return err
	}
	for _, credit := range credits {
		if err := vault.Credit(credit.Account, credit.Asset, credit.Amount); err != nil {
			return fmt.Errorf("genesis credit %s: %w", credit.Account.Hex(), err)
		}
		logger.Info("genesis balance credited",
			slog.String("account", credit.Account.Hex()),
			slog.String("asset", credit.Asset.Symbol()),
			slog.String("amount", lending.FormatAmount(credit.Asset, credit.Amount)))
	}
	return db.Put(genesisMarker, []byte(time.Now().UTC().Format(time.RFC3339)))
}

func newResolver(ctx context.Context, cfg ledgerconfig.Oracle, l *ledger) (*oracle.Resolver, error) {
	manual := oracle.NewManualSource()
	if price := strings.TrimSpace(cfg.ManualPrice); price != "" {
		if err := manual.SetDecimal(price, time.Now()); err != nil {
			return nil, fmt.Errorf("manual price: %w", err)
		}
	}
	resolver := &oracle.Resolver{
		Manual:       manual,
		HTTPClient:   &http.Client{Timeout: 10 * time.Second},
		CoinGeckoURL: cfg.CoinGeckoURL,
	}
	if rpcURL := strings.TrimSpace(cfg.RPCURL); rpcURL != "" {
		client, err := ethclient.DialContext(ctx, rpcURL)
		if err != nil {
			return nil, fmt.Errorf("dial rpc: %w", err)
		}
		l.closers = append(l.closers, func() error {
			client.Close()
			return nil
		})
		resolver.Caller = client
	}
	return resolver, nil
}
