package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/Agihtaws/arbminidefi/gateway/middleware"
	"github.com/Agihtaws/arbminidefi/native/lending"
	"github.com/Agihtaws/arbminidefi/native/oracle"
	"github.com/Agihtaws/arbminidefi/services/ledgerd/api"
	"github.com/Agihtaws/arbminidefi/services/ledgerd/journal"
)

const requestLimit = 64 << 10

func decodeRequest(r *http.Request, out interface{}) error {
	if r.Body == nil {
		return fmt.Errorf("%w: missing request body", lending.ErrValidation)
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(io.LimitReader(r.Body, requestLimit))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: missing request body", lending.ErrValidation)
		}
		return fmt.Errorf("%w: decode request: %v", lending.ErrValidation, err)
	}
	return nil
}

func callerFrom(r *http.Request) (lending.Account, error) {
	caller, ok := middleware.Caller(r.Context())
	if !ok || caller == (common.Address{}) {
		return lending.Account{}, errNoCaller
	}
	return caller, nil
}

func parseAccount(value string) (lending.Account, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return lending.Account{}, fmt.Errorf("%w: %q", errBadAccount, value)
	}
	return common.HexToAddress(trimmed), nil
}

func pathAccount(r *http.Request) (lending.Account, error) {
	return parseAccount(chi.URLParam(r, "account"))
}

// checkedAccount resolves an explicit account, falling back to the caller.
func checkedAccount(r *http.Request, explicit string) (lending.Account, error) {
	if strings.TrimSpace(explicit) != "" {
		return parseAccount(explicit)
	}
	return callerFrom(r)
}

func parseAssetAmount(assetValue, amountValue string) (lending.Asset, *big.Int, error) {
	asset, err := lending.ParseAsset(assetValue)
	if err != nil {
		return 0, nil, err
	}
	amount, err := lending.ParseAmount(asset, amountValue)
	if err != nil {
		return 0, nil, err
	}
	return asset, amount, nil
}

type borrowArgs struct {
	asset            lending.Asset
	amount           *big.Int
	collateralAsset  lending.Asset
	collateralAmount *big.Int
}

func parseBorrow(req api.BorrowRequest) (borrowArgs, error) {
	asset, amount, err := parseAssetAmount(req.Asset, req.Amount)
	if err != nil {
		return borrowArgs{}, err
	}
	collateralAsset, collateralAmount, err := parseAssetAmount(req.CollateralAsset, req.CollateralAmount)
	if err != nil {
		return borrowArgs{}, fmt.Errorf("collateral: %w", err)
	}
	return borrowArgs{asset: asset, amount: amount, collateralAsset: collateralAsset, collateralAmount: collateralAmount}, nil
}

func lenderBalance(asset lending.Asset, pos *lending.LenderPosition) api.LenderBalance {
	if pos == nil {
		pos = &lending.LenderPosition{}
	}
	return api.LenderBalance{
		Asset:     asset.Symbol(),
		Principal: lending.FormatAmount(asset, pos.Principal),
		Interest:  lending.FormatAmount(asset, pos.Interest),
		Total:     lending.FormatAmount(asset, pos.Balance()),
	}
}

func loanView(asset lending.Asset, loan lending.Loan) api.Loan {
	view := api.Loan{
		Asset:      asset.Symbol(),
		Principal:  lending.FormatAmount(asset, loan.Principal),
		Active:     loan.Active,
		BorrowedAt: loan.BorrowedAt,
	}
	if loan.CollateralAmount != nil && loan.CollateralAmount.Sign() > 0 {
		view.CollateralAsset = loan.CollateralAsset.Symbol()
		view.CollateralAmount = lending.FormatAmount(loan.CollateralAsset, loan.CollateralAmount)
	}
	return view
}

func assetMap(values [2]*big.Int) map[string]string {
	out := make(map[string]string, len(lending.Assets))
	for _, asset := range lending.Assets {
		out[asset.Symbol()] = lending.FormatAmount(asset, values[asset])
	}
	return out
}

func borrowerView(account lending.Account, info *lending.BorrowerInfo) api.BorrowerResponse {
	resp := api.BorrowerResponse{
		Account:      account.Hex(),
		Collateral:   assetMap(info.Collateral),
		Liquidatable: info.Liquidatable,
	}
	for _, asset := range lending.Assets {
		loan := info.Loans[asset]
		view := api.Loan{
			Asset:      asset.Symbol(),
			Principal:  lending.FormatAmount(asset, loan.Principal),
			Owed:       lending.FormatAmount(asset, loan.Owed),
			Active:     loan.Active,
			BorrowedAt: loan.BorrowedAt,
		}
		if loan.CollateralAmount != nil && loan.CollateralAmount.Sign() > 0 {
			view.CollateralAsset = loan.CollateralAsset.Symbol()
			view.CollateralAmount = lending.FormatAmount(loan.CollateralAsset, loan.CollateralAmount)
		}
		resp.Loans = append(resp.Loans, view)
	}
	if info.HealthFactor != nil {
		resp.HealthFactorPPM = info.HealthFactor.String()
	}
	return resp
}

func limitsView(account lending.Account, limits *lending.UserLimits) api.LimitsResponse {
	resp := api.LimitsResponse{Account: account.Hex()}
	for _, asset := range lending.Assets {
		required := make(map[string]string, len(lending.Assets))
		for _, collateral := range lending.Assets {
			required[collateral.Symbol()] = lending.FormatAmount(collateral, limits.RequiredCollateralAtMax[asset][collateral])
		}
		resp.Assets = append(resp.Assets, api.AssetLimits{
			Asset:                   asset.Symbol(),
			MaxBorrow:               lending.FormatAmount(asset, limits.MaxBorrow[asset]),
			MaxWithdraw:             lending.FormatAmount(asset, limits.MaxWithdraw[asset]),
			CanBorrow:               limits.CanBorrow[asset],
			CanWithdraw:             limits.CanWithdraw[asset],
			RequiredCollateralAtMax: required,
		})
	}
	return resp
}

func poolView(stats *lending.PoolStats) api.PoolResponse {
	resp := api.PoolResponse{
		Paused:          stats.Paused,
		OracleReference: stats.OracleReference,
		CollateralMode:  string(stats.CollateralMode),
	}
	for _, asset := range lending.Assets {
		s := stats.Assets[asset]
		resp.Assets = append(resp.Assets, api.PoolAsset{
			Asset:          asset.Symbol(),
			Deposited:      lending.FormatAmount(asset, s.Deposited),
			Borrowed:       lending.FormatAmount(asset, s.Borrowed),
			Collateral:     lending.FormatAmount(asset, s.Collateral),
			Liquidity:      lending.FormatAmount(asset, s.Liquidity),
			UtilizationPPM: s.UtilizationPPM,
			LendRatePPM:    s.LendRatePPM,
			BorrowRatePPM:  s.BorrowRatePPM,
		})
	}
	return resp
}

func priceView(snapshot oracle.PriceSnapshot) api.PriceResponse {
	price := "0"
	if snapshot.Price != nil {
		price = decimal.NewFromBigInt(snapshot.Price, -oracle.PriceDecimals).String()
	}
	return api.PriceResponse{Price: price, RoundID: snapshot.RoundID, AsOf: snapshot.AsOf.UTC()}
}

func historyView(account lending.Account, entries []journal.Entry) api.HistoryResponse {
	resp := api.HistoryResponse{Account: account.Hex(), Entries: make([]api.HistoryEntry, 0, len(entries))}
	for _, entry := range entries {
		resp.Entries = append(resp.Entries, api.HistoryEntry{
			ID:         entry.ID.String(),
			Type:       entry.Type,
			Account:    entry.Account,
			Asset:      entry.Asset,
			Attributes: entry.Attributes,
			OccurredAt: entry.OccurredAt.UTC(),
		})
	}
	return resp
}
