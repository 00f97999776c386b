package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Agihtaws/arbminidefi/native/lending"
	"github.com/Agihtaws/arbminidefi/services/ledgerd/api"
)

var (
	errNoCaller   = fmt.Errorf("%w: caller identity required", lending.ErrAccessControl)
	errNoHistory  = errors.New("history journal not configured")
	errBadAccount = fmt.Errorf("%w: invalid account address", lending.ErrValidation)
)

// statusFor maps engine error classes onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errNoCaller):
		return http.StatusUnauthorized
	case errors.Is(err, errNoHistory):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, lending.ErrPaused):
		return http.StatusLocked
	case errors.Is(err, lending.ErrAccessControl):
		return http.StatusForbidden
	case errors.Is(err, lending.ErrOracle):
		return http.StatusServiceUnavailable
	case errors.Is(err, lending.ErrInsufficientCollateral),
		errors.Is(err, lending.ErrInsufficientLiquidity),
		errors.Is(err, lending.ErrSolvencyViolation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, lending.ErrState):
		return http.StatusConflict
	case errors.Is(err, lending.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := api.ErrorResponse{
		Error:  err.Error(),
		Class:  lending.ErrorClass(err),
		Reason: lending.Reason(err),
	}
	if errors.Is(err, lending.ErrOperationInProgress) {
		w.Header().Set("Retry-After", "1")
		body.Retryable = true
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		body.Error = http.StatusText(status)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func badQuery(name, value string) error {
	return fmt.Errorf("%w: invalid %s %q", lending.ErrValidation, name, value)
}
