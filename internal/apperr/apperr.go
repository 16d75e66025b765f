// README: Closed error enum for the scheduling/routing core. Capacity,
// feasibility, and state errors are returned as values — never panics —
// per the "dynamic records -> explicit sum types" design note.
package apperr

import (
	"errors"
	"fmt"
)

// Kind groups related error Codes.
type Kind string

const (
	KindCapacity    Kind = "CAPACITY"
	KindFeasibility Kind = "FEASIBILITY"
	KindState       Kind = "STATE"
	KindExternal    Kind = "EXTERNAL"
	KindInternal    Kind = "INTERNAL"
)

// Code is a specific, closed error value within a Kind.
type Code string

const (
	// Capacity
	CodeNoCapacity         Code = "NO_CAPACITY"
	CodePeakClosed         Code = "PEAK_CLOSED"
	CodeFragileSlot        Code = "FRAGILE_SLOT"
	CodeWindowFull         Code = "WINDOW_FULL"
	CodeTripFull           Code = "TRIP_FULL"
	CodeHourlyCapExceeded  Code = "HOURLY_CAP_EXCEEDED"
	CodeDailyCapExceeded   Code = "DAILY_CAP_EXCEEDED"

	// Feasibility
	CodeCandidateLate       Code = "CANDIDATE_LATE"
	CodeWouldDelayPremium   Code = "WOULD_DELAY_PREMIUM"
	CodeWouldDelayOther     Code = "WOULD_DELAY_OTHER"
	CodeDetourTooLarge      Code = "DETOUR_TOO_LARGE"
	CodeTooFarFromAnchor    Code = "TOO_FAR_FROM_ANCHOR"
	CodeCannotMeetTargetTime Code = "CANNOT_MEET_TARGET_TIME"

	// State
	CodeNotFound        Code = "NOT_FOUND"
	CodeWrongStatus     Code = "WRONG_STATUS"
	CodeExpired         Code = "EXPIRED"
	CodeDupActiveHold   Code = "DUP_ACTIVE_HOLD"
	CodeRiderConflict   Code = "RIDER_CONFLICT"
	CodePlanChangedRetry Code = "PLAN_CHANGED_RETRY"

	// External
	CodeRoutingProviderTimeout Code = "ROUTING_PROVIDER_TIMEOUT"
	CodeRoutingProviderError   Code = "ROUTING_PROVIDER_ERROR"

	// Internal
	CodeInternal Code = "INTERNAL"
)

var codeKind = map[Code]Kind{
	CodeNoCapacity:        KindCapacity,
	CodePeakClosed:        KindCapacity,
	CodeFragileSlot:       KindCapacity,
	CodeWindowFull:        KindCapacity,
	CodeTripFull:          KindCapacity,
	CodeHourlyCapExceeded: KindCapacity,
	CodeDailyCapExceeded:  KindCapacity,

	CodeCandidateLate:        KindFeasibility,
	CodeWouldDelayPremium:    KindFeasibility,
	CodeWouldDelayOther:      KindFeasibility,
	CodeDetourTooLarge:       KindFeasibility,
	CodeTooFarFromAnchor:     KindFeasibility,
	CodeCannotMeetTargetTime: KindFeasibility,

	CodeNotFound:         KindState,
	CodeWrongStatus:      KindState,
	CodeExpired:          KindState,
	CodeDupActiveHold:    KindState,
	CodeRiderConflict:    KindState,
	CodePlanChangedRetry: KindState,

	CodeRoutingProviderTimeout: KindExternal,
	CodeRoutingProviderError:   KindExternal,

	CodeInternal: KindInternal,
}

// Error is the structured error value returned by every core operation.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return string(e.Code)
}

// Is reports whether target is an *Error with the same Code, so callers can
// use errors.Is(err, apperr.New(apperr.CodeNoCapacity, "", nil)) or compare codes directly.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New constructs an Error for code, inferring its Kind from the closed table.
func New(code Code, message string, details map[string]any) *Error {
	kind, ok := codeKind[code]
	if !ok {
		kind = KindInternal
	}
	return &Error{Kind: kind, Code: code, Message: message, Details: details}
}

// CodeOf extracts the Code from err if it is (or wraps) an *Error, else "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
