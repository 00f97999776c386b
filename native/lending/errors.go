package lending

import (
	"errors"
	"fmt"

	nativecommon "github.com/Agihtaws/arbminidefi/native/common"
	"github.com/Agihtaws/arbminidefi/native/oracle"
)

// Error classes. Every failure returned by the engine wraps exactly one of
// these so callers can branch with errors.Is.
var (
	ErrValidation             = errors.New("lending engine: validation failed")
	ErrInsufficientCollateral = errors.New("lending engine: insufficient collateral")
	ErrInsufficientLiquidity  = errors.New("lending engine: insufficient liquidity")
	ErrSolvencyViolation      = errors.New("lending engine: solvency violation")
	ErrState                  = errors.New("lending engine: invalid state")
	ErrAccessControl          = errors.New("lending engine: caller is not the owner")
	ErrPaused                 = nativecommon.ErrModulePaused
	ErrOracle                 = oracle.ErrOracle
)

var (
	errNilState         = errors.New("lending engine: state not configured")
	errNilCustody       = errors.New("lending engine: custody not configured")
	errNilOracle        = fmt.Errorf("%w: price oracle not configured", ErrOracle)
	errInvalidAmount    = fmt.Errorf("%w: amount must be positive", ErrValidation)
	errInvalidAsset     = fmt.Errorf("%w: unknown asset", ErrValidation)
	errInsufficientFund = fmt.Errorf("%w: insufficient balance", ErrValidation)
	errNoDeposit        = fmt.Errorf("%w: no deposit", ErrState)
	errActiveLoan       = fmt.Errorf("%w: active loan exists", ErrState)
	errNoActiveLoan     = fmt.Errorf("%w: no active loan", ErrState)
	errPartialRepay     = fmt.Errorf("%w: payment below total owed", ErrState)
	errNotPaused        = fmt.Errorf("%w: emergency sweep requires the ledger to be paused", ErrState)
)

// ErrOperationInProgress rejects a mutating call for an account that already
// has one running, including calls re-entering from an oracle source.
var ErrOperationInProgress = fmt.Errorf("%w: operation already in progress for account", ErrState)

// Reason strings reported by CanBorrow and CanWithdraw.
const (
	ReasonZeroAmount             = "Amount must be greater than zero"
	ReasonInsufficientCollateral = "Insufficient collateral provided"
)

func reasonActiveLoan(asset Asset) string {
	return fmt.Sprintf("Active %s loan exists", asset.Symbol())
}

func reasonExceedsBorrowable(asset Asset) string {
	return fmt.Sprintf("Exceeds maximum borrowable %s", asset.Symbol())
}

func reasonExceedsWithdrawable(asset Asset) string {
	return fmt.Sprintf("Exceeds maximum withdrawable %s", asset.Symbol())
}

// rejection carries the human readable reason alongside the error class.
type rejection struct {
	class  error
	reason string
}

func (r *rejection) Error() string { return r.class.Error() + ": " + r.reason }

func (r *rejection) Unwrap() error { return r.class }

func reject(class error, reason string) error {
	return &rejection{class: class, reason: reason}
}

// Reason extracts the check reason from an engine error, or "" when the error
// did not originate from a limit check.
func Reason(err error) string {
	var r *rejection
	if errors.As(err, &r) {
		return r.reason
	}
	return ""
}

// ErrorClass returns a stable label for metrics and API responses.
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrPaused):
		return "paused"
	case errors.Is(err, ErrAccessControl):
		return "access_control"
	case errors.Is(err, ErrOracle):
		return "oracle"
	case errors.Is(err, ErrInsufficientCollateral):
		return "insufficient_collateral"
	case errors.Is(err, ErrInsufficientLiquidity):
		return "insufficient_liquidity"
	case errors.Is(err, ErrSolvencyViolation):
		return "solvency_violation"
	case errors.Is(err, ErrState):
		return "state"
	case errors.Is(err, ErrValidation):
		return "validation"
	default:
		return "internal"
	}
}
