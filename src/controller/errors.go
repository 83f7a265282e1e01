package controller

import (
	"errors"
	"fmt"

	"autotrader/src/connectors"
)

// ErrConfiguration marks an account that cannot be traded as configured:
// missing or undecryptable credentials, unknown account. The account is
// skipped and the sweep continues.
var ErrConfiguration = errors.New("account configuration error")

// InsufficientFundsError aborts a buy before any order row is written.
type InsufficientFundsError struct {
	Available float64
	Required  float64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: available %.8f, required %.8f", e.Available, e.Required)
}

// ConstraintViolation aborts a sell before submission: the quantity does
// not satisfy the symbol's step size or minimum notional.
type ConstraintViolation struct {
	Reason string
}

func (e *ConstraintViolation) Error() string {
	return "constraint violation: " + e.Reason
}

// failureReason is the text stored on a REJECTED order. Exchange rejections
// keep the exchange message verbatim.
func failureReason(err error) string {
	if err == nil {
		return "unknown failure"
	}
	var exErr *connectors.ExchangeError
	if errors.As(err, &exErr) && exErr.Msg != "" {
		return exErr.Msg
	}
	return err.Error()
}

// IsConstraintViolation reports whether err aborted a sell before submission.
func IsConstraintViolation(err error) bool {
	var cv *ConstraintViolation
	return errors.As(err, &cv)
}
