package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Agihtaws/arbminidefi/native/lending"
	"github.com/Agihtaws/arbminidefi/native/oracle"
	"github.com/Agihtaws/arbminidefi/services/ledgerd/api"
	"github.com/Agihtaws/arbminidefi/services/ledgerd/journal"
)

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req api.AmountRequest
	if err := decodeRequest(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	asset, amount, err := parseAssetAmount(req.Asset, req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	result, err := s.ledger.Deposit(ctx, caller, asset, amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.DepositResponse{
		Position: lenderBalance(asset, result.Position),
		Accrued:  lending.FormatAmount(asset, result.Accrued),
	})
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req api.AmountRequest
	if err := decodeRequest(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	asset, amount, err := parseAssetAmount(req.Asset, req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	result, err := s.ledger.Withdraw(ctx, caller, asset, amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.WithdrawResponse{
		Position:      lenderBalance(asset, result.Position),
		InterestPaid:  lending.FormatAmount(asset, result.InterestPaid),
		PrincipalPaid: lending.FormatAmount(asset, result.PrincipalPaid),
	})
}

func (s *Server) borrow(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req api.BorrowRequest
	if err := decodeRequest(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	args, err := parseBorrow(req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	result, err := s.ledger.Borrow(ctx, caller, args.asset, args.amount, args.collateralAsset, args.collateralAmount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.BorrowResponse{
		Loan:               loanView(args.asset, result.Loan),
		RequiredCollateral: lending.FormatAmount(args.collateralAsset, result.RequiredCollateral),
	})
}

func (s *Server) repay(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req api.AmountRequest
	if err := decodeRequest(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	asset, amount, err := parseAssetAmount(req.Asset, req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	result, err := s.ledger.Repay(ctx, caller, asset, amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.RepayResponse{
		Owed:     lending.FormatAmount(asset, result.Owed),
		Interest: lending.FormatAmount(asset, result.Interest),
		Refund:   lending.FormatAmount(asset, result.Refund),
		Released: assetMap(result.Released),
	})
}

func (s *Server) lender(w http.ResponseWriter, r *http.Request) {
	account, err := pathAccount(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	info, err := s.ledger.LenderInfo(account)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := api.LenderResponse{Account: account.Hex()}
	for _, asset := range lending.Assets {
		entry := info.Assets[asset]
		resp.Assets = append(resp.Assets, api.LenderBalance{
			Asset:     asset.Symbol(),
			Principal: lending.FormatAmount(asset, entry.Principal),
			Interest:  lending.FormatAmount(asset, entry.Interest),
			Total:     lending.FormatAmount(asset, entry.Total),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) borrower(w http.ResponseWriter, r *http.Request) {
	account, err := pathAccount(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	info, err := s.ledger.BorrowerInfo(ctx, account)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, borrowerView(account, info))
}

func (s *Server) limits(w http.ResponseWriter, r *http.Request) {
	account, err := pathAccount(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	limits, err := s.ledger.UserLimits(ctx, account)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, limitsView(account, limits))
}

func (s *Server) accountHistory(w http.ResponseWriter, r *http.Request) {
	account, err := pathAccount(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.history == nil {
		s.writeError(w, r, errNoHistory)
		return
	}
	query := journal.Query{Account: account, Type: strings.TrimSpace(r.URL.Query().Get("type"))}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.writeError(w, r, badQuery("limit", raw))
			return
		}
		query.Limit = limit
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, r, badQuery("since", raw))
			return
		}
		query.Since = since
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	entries, err := s.history.History(ctx, query)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, historyView(account, entries))
}

func (s *Server) canBorrow(w http.ResponseWriter, r *http.Request) {
	var req api.CanBorrowRequest
	if err := decodeRequest(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	account, err := checkedAccount(r, req.Account)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	args, err := parseBorrow(req.BorrowRequest)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	ok, reason, err := s.ledger.CanBorrow(ctx, account, args.amount, args.asset, args.collateralAsset, args.collateralAmount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.CheckResponse{Allowed: ok, Reason: reason})
}

func (s *Server) canWithdraw(w http.ResponseWriter, r *http.Request) {
	var req api.CanWithdrawRequest
	if err := decodeRequest(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	account, err := checkedAccount(r, req.Account)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	asset, amount, err := parseAssetAmount(req.Asset, req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ok, reason, err := s.ledger.CanWithdraw(account, amount, asset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.CheckResponse{Allowed: ok, Reason: reason})
}

func (s *Server) pool(w http.ResponseWriter, r *http.Request) {
	stats, err := s.ledger.PoolStats()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, poolView(stats))
}

func (s *Server) price(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r.Context())
	defer cancel()
	snapshot, err := s.ledger.Price(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := priceView(snapshot)
	if stats, err := s.ledger.PoolStats(); err == nil {
		resp.Reference = stats.OracleReference
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) pause(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.ledger.Pause(caller); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.StatusResponse{Status: "paused"})
}

func (s *Server) unpause(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.ledger.Unpause(caller); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.StatusResponse{Status: "active"})
}

func (s *Server) setOracle(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req api.OracleRequest
	if err := decodeRequest(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	canonical, err := s.ledger.SetPriceOracle(ctx, caller, req.Reference)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.StatusResponse{Status: "updated", Reference: canonical})
}

func (s *Server) publishPrice(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req api.PublishPriceRequest
	if err := decodeRequest(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	snapshot, err := s.ledger.PublishPrice(ctx, caller, req.Price)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := priceView(snapshot)
	resp.Reference = oracle.KindManual
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) sweep(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req api.SweepRequest
	if err := decodeRequest(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	asset, amount, err := parseAssetAmount(req.Asset, req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := parseAccount(req.To)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	if err := s.ledger.EmergencySweep(ctx, caller, asset, amount, to); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.StatusResponse{Status: "swept"})
}
