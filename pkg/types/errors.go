package types

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrorKind classifies venue failures for retry and propagation decisions.
type ErrorKind string

const (
	ErrKindValidation          ErrorKind = "validation"
	ErrKindConnection          ErrorKind = "connection"
	ErrKindTimeout             ErrorKind = "timeout"
	ErrKindExecution           ErrorKind = "execution"
	ErrKindProvider            ErrorKind = "provider"
	ErrKindInsufficientBalance ErrorKind = "insufficient_balance"
	ErrKindUnsupported         ErrorKind = "unsupported"
)

// VenueError tags a failure with the originating venue and its kind so the
// routing engine can decide whether to fail over.
type VenueError struct {
	Venue   string    `json:"venue"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`

	// Populated for insufficient_balance errors.
	Required  decimal.Decimal `json:"required,omitempty"`
	Available decimal.Decimal `json:"available,omitempty"`

	Err error `json:"-"`
}

func (e *VenueError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Venue, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Venue, e.Kind, e.Message)
}

func (e *VenueError) Unwrap() error { return e.Err }

// Retryable reports whether the failure class permits the single bounded
// routing failover. Validation and execution failures are never retried.
func (e *VenueError) Retryable() bool {
	return e.Kind == ErrKindConnection || e.Kind == ErrKindTimeout
}

// NewVenueError builds a tagged venue error.
func NewVenueError(venue string, kind ErrorKind, msg string) *VenueError {
	return &VenueError{Venue: venue, Kind: kind, Message: msg}
}

// WrapVenueError tags an underlying error with venue and kind.
func WrapVenueError(venue string, kind ErrorKind, msg string, err error) *VenueError {
	return &VenueError{Venue: venue, Kind: kind, Message: msg, Err: err}
}

// NewInsufficientBalanceError carries required vs available amounts.
func NewInsufficientBalanceError(venue string, required, available decimal.Decimal) *VenueError {
	return &VenueError{
		Venue:     venue,
		Kind:      ErrKindInsufficientBalance,
		Message:   fmt.Sprintf("insufficient balance: need %s, have %s", required, available),
		Required:  required,
		Available: available,
	}
}

// AsVenueError unwraps err into a *VenueError when possible.
func AsVenueError(err error) (*VenueError, bool) {
	var ve *VenueError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// IsRetryable reports whether err is a venue error in a retryable class.
func IsRetryable(err error) bool {
	ve, ok := AsVenueError(err)
	return ok && ve.Retryable()
}
