// Package api holds the JSON bodies exchanged by ledgerd and its clients.
// Amounts are decimal strings in asset units ("1.5" ETH, "250" USDC).
package api

import "time"

type AmountRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type BorrowRequest struct {
	Asset            string `json:"asset"`
	Amount           string `json:"amount"`
	CollateralAsset  string `json:"collateral_asset"`
	CollateralAmount string `json:"collateral_amount"`
}

// CanBorrowRequest checks a prospective borrow. Account defaults to the
// caller.
type CanBorrowRequest struct {
	Account string `json:"account,omitempty"`
	BorrowRequest
}

type CanWithdrawRequest struct {
	Account string `json:"account,omitempty"`
	AmountRequest
}

type OracleRequest struct {
	Reference string `json:"reference"`
}

// PublishPriceRequest carries a USD price for one ETH, e.g. "3012.5".
type PublishPriceRequest struct {
	Price string `json:"price"`
}

type SweepRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
	To     string `json:"to"`
}

type ErrorResponse struct {
	Error  string `json:"error"`
	Class  string `json:"class,omitempty"`
	Reason string `json:"reason,omitempty"`
	// Retryable marks a request rejected before it touched the ledger because
	// another operation for the same account was still running.
	Retryable bool `json:"retryable,omitempty"`
}

type LenderBalance struct {
	Asset     string `json:"asset"`
	Principal string `json:"principal"`
	Interest  string `json:"interest"`
	Total     string `json:"total"`
}

type DepositResponse struct {
	Position LenderBalance `json:"position"`
	Accrued  string        `json:"accrued"`
}

type WithdrawResponse struct {
	Position      LenderBalance `json:"position"`
	InterestPaid  string        `json:"interest_paid"`
	PrincipalPaid string        `json:"principal_paid"`
}

type Loan struct {
	Asset            string `json:"asset"`
	Principal        string `json:"principal"`
	Owed             string `json:"owed,omitempty"`
	Active           bool   `json:"active"`
	BorrowedAt       uint64 `json:"borrowed_at"`
	CollateralAsset  string `json:"collateral_asset,omitempty"`
	CollateralAmount string `json:"collateral_amount,omitempty"`
}

type BorrowResponse struct {
	Loan               Loan   `json:"loan"`
	RequiredCollateral string `json:"required_collateral"`
}

type RepayResponse struct {
	Owed     string            `json:"owed"`
	Interest string            `json:"interest"`
	Refund   string            `json:"refund"`
	Released map[string]string `json:"released"`
}

type LenderResponse struct {
	Account string          `json:"account"`
	Assets  []LenderBalance `json:"assets"`
}

type BorrowerResponse struct {
	Account    string            `json:"account"`
	Loans      []Loan            `json:"loans"`
	Collateral map[string]string `json:"collateral"`
	// HealthFactorPPM is empty when the account has no debt.
	HealthFactorPPM string `json:"health_factor_ppm,omitempty"`
	Liquidatable    bool   `json:"liquidatable"`
}

type AssetLimits struct {
	Asset       string `json:"asset"`
	MaxBorrow   string `json:"max_borrow"`
	MaxWithdraw string `json:"max_withdraw"`
	CanBorrow   bool   `json:"can_borrow"`
	CanWithdraw bool   `json:"can_withdraw"`
	// RequiredCollateralAtMax is keyed by collateral asset.
	RequiredCollateralAtMax map[string]string `json:"required_collateral_at_max"`
}

type LimitsResponse struct {
	Account string        `json:"account"`
	Assets  []AssetLimits `json:"assets"`
}

type CheckResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

type PoolAsset struct {
	Asset          string `json:"asset"`
	Deposited      string `json:"deposited"`
	Borrowed       string `json:"borrowed"`
	Collateral     string `json:"collateral"`
	Liquidity      string `json:"liquidity"`
	UtilizationPPM uint64 `json:"utilization_ppm"`
	LendRatePPM    uint64 `json:"lend_rate_ppm"`
	BorrowRatePPM  uint64 `json:"borrow_rate_ppm"`
}

type PoolResponse struct {
	Assets          []PoolAsset `json:"assets"`
	Paused          bool        `json:"paused"`
	OracleReference string      `json:"oracle_reference"`
	CollateralMode  string      `json:"collateral_mode"`
}

type PriceResponse struct {
	// Price is USD per ETH.
	Price     string    `json:"price"`
	RoundID   uint64    `json:"round_id"`
	AsOf      time.Time `json:"as_of"`
	Reference string    `json:"reference"`
}

type HistoryEntry struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Account    string            `json:"account,omitempty"`
	Asset      string            `json:"asset,omitempty"`
	Attributes map[string]string `json:"attributes"`
	OccurredAt time.Time         `json:"occurred_at"`
}

type HistoryResponse struct {
	Account string         `json:"account"`
	Entries []HistoryEntry `json:"entries"`
}

type StatusResponse struct {
	Status    string `json:"status"`
	Reference string `json:"reference,omitempty"`
}
