// Package apperr defines the typed failures returned by the ride, wallet and
// geo services. Callers match on kind with errors.Is against the sentinels.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation            Kind = "ValidationError"
	KindInsufficientBalance   Kind = "InsufficientBalance"
	KindInsufficientFunds     Kind = "InsufficientFunds"
	KindInvalidTransition     Kind = "InvalidTransition"
	KindNotFound              Kind = "NotFound"
	KindUnauthorized          Kind = "Unauthorized"
	KindAlreadyRated          Kind = "AlreadyRated"
	KindRideNoLongerAvailable Kind = "RideNoLongerAvailable"
	KindInvalidCoordinate     Kind = "InvalidCoordinate"
)

// Error is a core failure. Required/Available are set for balance failures.
type Error struct {
	Kind      Kind
	Message   string
	Required  int64
	Available int64
	Err       error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so errors.Is(err, ErrNotFound) matches any NotFound.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrValidation            = &Error{Kind: KindValidation}
	ErrInsufficientBalance   = &Error{Kind: KindInsufficientBalance}
	ErrInsufficientFunds     = &Error{Kind: KindInsufficientFunds}
	ErrInvalidTransition     = &Error{Kind: KindInvalidTransition}
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrUnauthorized          = &Error{Kind: KindUnauthorized}
	ErrAlreadyRated          = &Error{Kind: KindAlreadyRated}
	ErrRideNoLongerAvailable = &Error{Kind: KindRideNoLongerAvailable}
	ErrInvalidCoordinate     = &Error{Kind: KindInvalidCoordinate}
)

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error {
	return newf(KindValidation, format, args...)
}

func InvalidTransition(format string, args ...any) *Error {
	return newf(KindInvalidTransition, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return newf(KindNotFound, format, args...)
}

func Unauthorized(format string, args ...any) *Error {
	return newf(KindUnauthorized, format, args...)
}

func AlreadyRated(format string, args ...any) *Error {
	return newf(KindAlreadyRated, format, args...)
}

func RideNoLongerAvailable(rideID string) *Error {
	return newf(KindRideNoLongerAvailable, "ride %s is no longer available", rideID)
}

func InvalidCoordinate(lat, lng float64) *Error {
	return newf(KindInvalidCoordinate, "lat=%v lng=%v out of range", lat, lng)
}

func InsufficientFunds(accountID string, required, available int64) *Error {
	return &Error{
		Kind:      KindInsufficientFunds,
		Message:   fmt.Sprintf("account %s: required %d, available %d", accountID, required, available),
		Required:  required,
		Available: available,
	}
}

func InsufficientBalance(required, available int64) *Error {
	return &Error{
		Kind:      KindInsufficientBalance,
		Message:   fmt.Sprintf("wallet balance %d does not cover fare %d", available, required),
		Required:  required,
		Available: available,
	}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
