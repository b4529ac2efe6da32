package usecase

import (
	"errors"
	"fmt"

	"voice-booking/internal/domain"
)

type ErrorCode string

const (
	ErrorInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrorInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrorSlotUnavailable   ErrorCode = "SLOT_UNAVAILABLE"
	ErrorNotFound          ErrorCode = "NOT_FOUND"
	ErrorUpstream          ErrorCode = "UPSTREAM_ERROR"
	ErrorInternal          ErrorCode = "INTERNAL_ERROR"
)

// ErrUnparseableArguments marks tool-call arguments that are neither a JSON
// object nor a string holding one.
var ErrUnparseableArguments = errors.New("usecase: unparseable tool arguments")

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// AsError returns err as a usecase *Error, classifying anything else as internal.
func AsError(err error) *Error {
	var ue *Error
	if errors.As(err, &ue) {
		return ue
	}
	return newError(ErrorInternal, "unexpected_error", err)
}

// callStateError classifies call state machine failures.
func callStateError(err error) *Error {
	switch {
	case errors.Is(err, domain.ErrInvalidCallID):
		return newError(ErrorInvalidInput, "missing_call_id", err)
	case errors.Is(err, domain.ErrUnknownState):
		return newError(ErrorInvalidInput, "unknown_state", err)
	case errors.Is(err, domain.ErrInvalidTransition):
		return newError(ErrorInvalidTransition, "invalid_transition", err)
	case errors.Is(err, domain.ErrCallNotFound):
		return newError(ErrorNotFound, "call_not_found", err)
	case errors.Is(err, domain.ErrConcurrentUpdate):
		return newError(ErrorInternal, "concurrent_update", err)
	default:
		return newError(ErrorInternal, "state_store_error", err)
	}
}
