package domain

import "errors"

var (
	ErrInvalidQuantity         = errors.New("quantity must be positive")
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrInsufficientReservation = errors.New("insufficient reservation")
	ErrAlreadyExists           = errors.New("record already exists")
	ErrNotFound                = errors.New("record not found")
	ErrInvalidTransition       = errors.New("invalid state transition")
	ErrContention              = errors.New("too much contention, retry later")
	ErrDuplicateEvent          = errors.New("event already processed")
	ErrInvariantViolation      = errors.New("stock invariant violated")
	ErrResultingNegative       = errors.New("adjustment would drop quantity below reservations")
	ErrUpstreamUnavailable     = errors.New("upstream service unavailable")
)
