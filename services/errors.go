package services

import (
	"errors"
	"fmt"
)

var (
	ErrCapExceeded       = errors.New("daily cap exceeded")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrDuplicateReward   = errors.New("reward already issued for this activity")
	ErrAlreadyReviewed   = errors.New("risk record already reviewed")
	ErrRecordNotFound    = errors.New("record not found")

	errVersionConflict = errors.New("balance version conflict")
)

// ValidationError is malformed or out-of-range input. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err wraps a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
