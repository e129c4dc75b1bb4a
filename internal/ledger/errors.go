package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Sentinel errors returned by the engine. Invariant violations are always
// reported synchronously to the caller and never silently corrected.
var (
	ErrPeriodLocked         = errors.New("period is locked")
	ErrCrossTenantReference = errors.New("line references account outside tenant")
	ErrAlreadyVoid          = errors.New("transaction already void")
	ErrNotFound             = errors.New("not found")
	ErrNoLines              = errors.New("transaction has no lines")
	ErrInactiveAccount      = errors.New("account is inactive")
	ErrNonPositiveAmount    = errors.New("line amount must be positive")
	ErrAmountScale          = errors.New("line amount exceeds 2 decimal places")
)

// UnbalancedEntryError reports a double-entry violation with the exact
// debit and credit totals that failed to match.
type UnbalancedEntryError struct {
	Debits  decimal.Decimal
	Credits decimal.Decimal
}

func (e *UnbalancedEntryError) Error() string {
	return fmt.Sprintf("unbalanced entry: debits %s != credits %s",
		e.Debits.String(), e.Credits.String())
}

// IsUnbalanced reports whether err is an UnbalancedEntryError.
func IsUnbalanced(err error) bool {
	var ub *UnbalancedEntryError
	return errors.As(err, &ub)
}
