package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"floorlend/core"
	"floorlend/native/amm"
	nativecommon "floorlend/native/common"
	"floorlend/native/fixed"
	"floorlend/native/lending"
	"floorlend/native/token"
)

// apiError carries a stable machine readable code next to the message.
type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// statusFor maps protocol errors onto HTTP statuses and stable codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, fixed.ErrInvalidNumber),
		errors.Is(err, amm.ErrInvalidAmount),
		errors.Is(err, lending.ErrInvalidAmount),
		errors.Is(err, token.ErrInvalidAmount),
		errors.Is(err, core.ErrUnknownAsset):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, errUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, lending.ErrUnauthorized),
		errors.Is(err, amm.ErrRestrictedTransfer),
		errors.Is(err, core.ErrReservedAccount):
		return http.StatusForbidden, "permission_denied"
	case errors.Is(err, lending.ErrAlreadyMarked),
		errors.Is(err, lending.ErrGracePeriodActive),
		errors.Is(err, lending.ErrNotMarked),
		errors.Is(err, lending.ErrPositionHealthy),
		errors.Is(err, lending.ErrOutstandingDebt),
		errors.Is(err, nativecommon.ErrReentrant):
		return http.StatusConflict, "failed_precondition"
	case errors.Is(err, token.ErrInsufficientBalance),
		errors.Is(err, token.ErrSupplyCapExceeded),
		errors.Is(err, lending.ErrInsufficientCollateral),
		errors.Is(err, lending.ErrExceedsFloorValue),
		errors.Is(err, lending.ErrNoDebt),
		errors.Is(err, lending.ErrZeroShares),
		errors.Is(err, lending.ErrInsufficientShares),
		errors.Is(err, lending.ErrInsufficientLiquidity),
		errors.Is(err, lending.ErrInsolvent),
		errors.Is(err, amm.ErrInsufficientInput),
		errors.Is(err, amm.ErrInsufficientOutput),
		errors.Is(err, amm.ErrInsufficientLiquidity),
		errors.Is(err, amm.ErrInsufficientShares),
		errors.Is(err, amm.ErrSlippage),
		errors.Is(err, amm.ErrInvariant),
		errors.Is(err, fixed.ErrOverflow),
		errors.Is(err, fixed.ErrUnderflow):
		return http.StatusUnprocessableEntity, "rejected"
	case errors.Is(err, nativecommon.ErrModulePaused),
		errors.Is(err, amm.ErrNotInitialised),
		errors.Is(err, errEventsDisabled):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

var (
	errBadRequest      = errors.New("bad request")
	errUnauthenticated = errors.New("caller not authenticated")
	errEventsDisabled  = errors.New("event journal disabled")
)

func badRequest(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	message := strings.TrimSpace(err.Error())
	if status == http.StatusInternalServerError {
		message = http.StatusText(status)
	}
	writeJSON(w, status, apiError{Error: message, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
